// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package train drives the per-step train cycle over the pipeline and
// reports end-of-run statistics.
package train

import (
	"io"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	progressbar "github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/samflow/samflow/engine"
	"github.com/samflow/samflow/ml/losses"
	"github.com/samflow/samflow/ml/models"
	"github.com/samflow/samflow/ml/optimizers"
	"github.com/samflow/samflow/pipeline"
	"github.com/samflow/samflow/telemetry"
)

// Summary holds the end-of-run per-epoch averages. Warm-up epochs are
// executed but excluded from every average.
type Summary struct {
	// Epochs counted into the averages (excludes warm-up).
	Epochs int

	AvgEpochTime   float64
	AvgSampleTime  float64
	AvgCopyTime    float64
	AvgConvertTime float64
	AvgTrainTime   float64

	// AvgLoss is the mean per-step loss over the counted epochs.
	AvgLoss float64
}

// Loop owns one training run: the model, the optimizer, the pipeline
// coordinator and the telemetry sink.
type Loop struct {
	cfg   *engine.RunConfig
	rt    engine.Runtime
	tel   *telemetry.Aggregator
	model *models.PinSAGE
	opt   optimizers.Interface
	coord *pipeline.Coordinator

	// TraceWriter, when set, receives the run's trace spans as JSON
	// lines when the run finishes or aborts.
	TraceWriter io.Writer

	// ShowProgress renders a progress bar on stderr.
	ShowProgress bool
}

// NewLoop configures the runtime and assembles the model, optimizer and
// coordinator for one run. cfg must be resolved.
func NewLoop(cfg *engine.RunConfig, rt engine.Runtime, tel *telemetry.Aggregator) (*Loop, error) {
	if err := rt.Configure(cfg); err != nil {
		return nil, errors.WithMessage(err, "configuring runtime")
	}
	model, err := models.NewPinSAGE(rt.FeatureDim(), cfg.NumHidden, rt.NumClasses(), cfg.NumLayer, cfg.Dropout, cfg.Seed)
	if err != nil {
		return nil, errors.WithMessage(err, "building model")
	}
	return &Loop{
		cfg:   cfg,
		rt:    rt,
		tel:   tel,
		model: model,
		opt:   optimizers.Adam().LearningRate(cfg.LearningRate).Done(),
		coord: pipeline.New(cfg, rt, tel),
	}, nil
}

// Model exposes the trained model, for evaluation after the run.
func (l *Loop) Model() *models.PinSAGE { return l.model }

// Run executes all epochs (warm-up included) and returns the averages
// over the non-warm-up epochs. On a step failure the run aborts at that
// step; the trace of the completed steps is still flushed.
func (l *Loop) Run() (Summary, error) {
	stepsPerEpoch := l.rt.StepsPerEpoch()
	totalSteps := l.cfg.TotalEpochs() * stepsPerEpoch
	klog.Infof("training %s steps (%d epochs + %d warm-up, %d steps/epoch) with %s, pipeline=%v",
		humanize.Comma(int64(totalSteps)), l.cfg.NumEpoch, l.cfg.WarmupEpochs, stepsPerEpoch,
		l.opt.Name(), l.cfg.Pipeline)

	var bar *progressbar.ProgressBar
	if l.ShowProgress {
		bar = progressbar.Default(int64(totalSteps), "training")
	}

	l.model.SetTraining(true)
	params := l.model.Params()
	defer l.finish()

	for epoch := 0; epoch < l.cfg.TotalEpochs(); epoch++ {
		for step := 0; step < stepsPerEpoch; step++ {
			if err := l.step(epoch, step, params); err != nil {
				return Summary{}, errors.WithMessagef(err, "aborting at epoch %d step %d", epoch, step)
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}
	summary := l.summarize(stepsPerEpoch)
	l.report(summary)
	return summary, nil
}

// step runs one full train cycle: request, materialize (convert), train.
func (l *Loop) step(epoch, step int, params []optimizers.Param) error {
	t0 := time.Now()
	key, err := l.coord.NextBatch(epoch, step)
	if err != nil {
		return err
	}
	l.tel.BeginTrace(uint64(key), telemetry.L0TrainStep)

	l.tel.BeginTrace(uint64(key), telemetry.L1Convert)
	tConvert := time.Now()
	batch, err := l.coord.Materialize(key)
	l.tel.RecordStep(epoch, step, telemetry.MetricConvertTime, time.Since(tConvert).Seconds())
	l.tel.EndTrace(uint64(key), telemetry.L1Convert)
	if err != nil {
		return err
	}

	l.tel.BeginTrace(uint64(key), telemetry.L1Train)
	tTrain := time.Now()
	logits, err := l.model.Forward(batch.Blocks, batch.Features)
	if err != nil {
		return errors.WithMessagef(err, "forward pass of batch %d", batch.Key)
	}
	loss, grad := losses.SparseCategoricalCrossEntropyLogits(logits, batch.Labels)
	l.model.ZeroGrad()
	l.model.Backward(batch.Blocks, grad)
	l.opt.Step(params)
	l.tel.RecordStep(epoch, step, telemetry.MetricTrainTime, time.Since(tTrain).Seconds())
	l.tel.EndTrace(uint64(key), telemetry.L1Train)

	l.tel.RecordStep(epoch, step, telemetry.MetricLoss, float64(loss))
	l.tel.RecordStep(epoch, step, telemetry.MetricTotalTime, time.Since(t0).Seconds())
	l.tel.EndTrace(uint64(key), telemetry.L0TrainStep)

	for _, m := range []telemetry.Metric{
		telemetry.MetricSampleTime, telemetry.MetricCopyTime,
		telemetry.MetricConvertTime, telemetry.MetricTrainTime,
		telemetry.MetricTotalTime, telemetry.MetricLoss,
	} {
		l.tel.AddToEpoch(epoch, m, l.tel.StepValue(epoch, step, m))
	}
	l.tel.ReportStep(epoch, step)
	return nil
}

// summarize averages the per-epoch totals over the non-warm-up epochs.
func (l *Loop) summarize(stepsPerEpoch int) Summary {
	epochMeans := func(m telemetry.Metric) float64 {
		totals := make([]float64, 0, l.cfg.NumEpoch)
		for epoch := l.cfg.WarmupEpochs; epoch < l.cfg.TotalEpochs(); epoch++ {
			totals = append(totals, l.tel.EpochValue(epoch, m))
		}
		return stat.Mean(totals, nil)
	}
	return Summary{
		Epochs:         l.cfg.NumEpoch,
		AvgEpochTime:   epochMeans(telemetry.MetricTotalTime),
		AvgSampleTime:  epochMeans(telemetry.MetricSampleTime),
		AvgCopyTime:    epochMeans(telemetry.MetricCopyTime),
		AvgConvertTime: epochMeans(telemetry.MetricConvertTime),
		AvgTrainTime:   epochMeans(telemetry.MetricTrainTime),
		AvgLoss:        epochMeans(telemetry.MetricLoss) / float64(stepsPerEpoch),
	}
}

func (l *Loop) report(s Summary) {
	klog.Infof("run %s finished: %d epochs averaged (%d warm-up excluded)",
		l.tel.RunID(), s.Epochs, l.cfg.WarmupEpochs)
	klog.Infof("avg epoch %.4fs | sample %.4fs copy %.4fs convert %.4fs train %.4fs | loss %.4f",
		s.AvgEpochTime, s.AvgSampleTime, s.AvgCopyTime, s.AvgConvertTime, s.AvgTrainTime, s.AvgLoss)
	klog.Infof("runtime: %s", l.rt.NodeAccessReport())
}

// finish tears the run down in order: pipeline first (so no stage is
// still using the runtime), then the trace flush, then the runtime.
func (l *Loop) finish() {
	l.coord.Close()
	if l.TraceWriter != nil {
		if err := l.tel.FlushTrace(l.TraceWriter); err != nil {
			klog.Errorf("flushing trace: %v", err)
		}
	}
	l.rt.Shutdown()
}
