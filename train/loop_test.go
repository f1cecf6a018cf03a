package train

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samflow/samflow/engine"
	"github.com/samflow/samflow/engine/memengine"
	"github.com/samflow/samflow/telemetry"
)

func smallConfig(t *testing.T, pipelined bool) *engine.RunConfig {
	t.Helper()
	cfg := engine.DefaultRunConfig()
	cfg.Pipeline = pipelined
	cfg.NumLayer = 2
	cfg.NumEpoch = 2
	cfg.WarmupEpochs = 1
	cfg.BatchSize = 8
	cfg.NumHidden = 16
	cfg.MaxSamplingJobs = 3
	cfg.MaxCopyingJobs = 2
	cfg.Dataset = engine.DatasetConfig{
		NumNodes:   64,
		AvgDegree:  6,
		FeatureDim: 8,
		NumClasses: 3,
	}
	require.NoError(t, cfg.Resolve())
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	for name, pipelined := range map[string]bool{"sync": false, "pipelined": true} {
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig(t, pipelined)
			tel := telemetry.NewAggregator()
			loop, err := NewLoop(cfg, memengine.New(), tel)
			require.NoError(t, err)
			var trace bytes.Buffer
			loop.TraceWriter = &trace

			summary, err := loop.Run()
			require.NoError(t, err)

			steps := cfg.Dataset.NumNodes / cfg.BatchSize
			assert.Equal(t, 2, summary.Epochs)
			assert.Greater(t, summary.AvgEpochTime, 0.0)
			assert.Greater(t, summary.AvgTrainTime, 0.0)
			assert.Greater(t, summary.AvgLoss, 0.0)
			assert.False(t, math.IsNaN(summary.AvgLoss))

			// Every step of every epoch (warm-up included) trained.
			for epoch := 0; epoch < cfg.TotalEpochs(); epoch++ {
				for step := 0; step < steps; step++ {
					assert.Greater(t, tel.StepValue(epoch, step, telemetry.MetricLoss), 0.0,
						"epoch %d step %d has no loss", epoch, step)
					assert.Greater(t, tel.StepValue(epoch, step, telemetry.MetricNumNodes), 0.0)
				}
			}

			// Averages cover only the epochs after warm-up.
			wantLoss := (tel.EpochValue(1, telemetry.MetricLoss) +
				tel.EpochValue(2, telemetry.MetricLoss)) / 2 / float64(steps)
			assert.InDelta(t, wantLoss, summary.AvgLoss, 1e-9)

			assert.Contains(t, trace.String(), "L0_train_step")
			assert.Contains(t, trace.String(), "L1_train")
			// One JSON line per closed span; at least the L0 span per step.
			lines := strings.Count(strings.TrimSpace(trace.String()), "\n") + 1
			assert.GreaterOrEqual(t, lines, cfg.TotalEpochs()*steps)
		})
	}
}

func TestLossTrendsDownward(t *testing.T) {
	cfg := smallConfig(t, false)
	cfg.NumEpoch = 6
	cfg.WarmupEpochs = 0
	cfg.Dropout = 0
	tel := telemetry.NewAggregator()
	loop, err := NewLoop(cfg, memengine.New(), tel)
	require.NoError(t, err)
	_, err = loop.Run()
	require.NoError(t, err)

	first := tel.EpochValue(0, telemetry.MetricLoss) + tel.EpochValue(1, telemetry.MetricLoss)
	last := tel.EpochValue(cfg.NumEpoch-2, telemetry.MetricLoss) + tel.EpochValue(cfg.NumEpoch-1, telemetry.MetricLoss)
	assert.Less(t, last, first, "optimization made no progress: %.4f -> %.4f", first, last)
}

func TestNewLoopRejectsBadModelDims(t *testing.T) {
	cfg := smallConfig(t, false)
	cfg.Dataset.NumClasses = 1
	tel := telemetry.NewAggregator()
	_, err := NewLoop(cfg, memengine.New(), tel)
	assert.Error(t, err)
}
