// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type stepKey struct {
	Epoch, Step int
}

type spanKey struct {
	ID    uint64
	Level EventLevel
}

// TraceSpan is one closed begin/end region. Timestamps are the caller's:
// the aggregator never computes latencies itself.
type TraceSpan struct {
	Run   string     `json:"run"`
	ID    uint64     `json:"id"`
	Level EventLevel `json:"-"`
	Name  string     `json:"event"`
	Begin int64      `json:"begin_us"`
	End   int64      `json:"end_us"`
}

// Aggregator accumulates step and epoch metric cells and trace spans
// for one run. Accumulation is monotonic within a run; there is no
// per-epoch reset.
//
// All methods are safe for concurrent use; the pipeline's background
// stages and the training loop write disjoint cells.
type Aggregator struct {
	mu    sync.Mutex
	runID string

	steps  map[stepKey]map[Metric]float64
	epochs map[int]map[Metric]float64

	open  map[spanKey]time.Time
	spans []TraceSpan
}

// NewAggregator returns an empty Aggregator with a fresh run id.
func NewAggregator() *Aggregator {
	return &Aggregator{
		runID:  uuid.NewString(),
		steps:  make(map[stepKey]map[Metric]float64),
		epochs: make(map[int]map[Metric]float64),
		open:   make(map[spanKey]time.Time),
	}
}

// RunID returns the unique id stamped on every trace record of this run.
func (a *Aggregator) RunID() string { return a.runID }

// RecordStep sets the value of a per-step metric cell, overwriting any
// previous value for the same (epoch, step, metric).
func (a *Aggregator) RecordStep(epoch, step int, m Metric, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := stepKey{epoch, step}
	cell := a.steps[k]
	if cell == nil {
		cell = make(map[Metric]float64)
		a.steps[k] = cell
	}
	cell[m] = value
}

// StepValue reads a per-step metric cell; missing cells read as 0.
func (a *Aggregator) StepValue(epoch, step int, m Metric) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.steps[stepKey{epoch, step}][m]
}

// AddToEpoch accumulates value into a per-epoch running total.
func (a *Aggregator) AddToEpoch(epoch int, m Metric, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cell := a.epochs[epoch]
	if cell == nil {
		cell = make(map[Metric]float64)
		a.epochs[epoch] = cell
	}
	cell[m] += value
}

// EpochValue reads back a per-epoch running total; missing cells read as 0.
func (a *Aggregator) EpochValue(epoch int, m Metric) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epochs[epoch][m]
}

// BeginTrace opens a region for (id, level) at the current time.
// Opening an already-open region restarts it.
func (a *Aggregator) BeginTrace(id uint64, level EventLevel) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open[spanKey{id, level}] = now
}

// EndTrace closes the region for (id, level). An unmatched end is
// logged and dropped: tracing must never interfere with training.
func (a *Aggregator) EndTrace(id uint64, level EventLevel) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	k := spanKey{id, level}
	begin, ok := a.open[k]
	if !ok {
		klog.Warningf("telemetry: EndTrace(%d, %s) without matching BeginTrace, dropped", id, level)
		return
	}
	delete(a.open, k)
	a.spans = append(a.spans, TraceSpan{
		Run:   a.runID,
		ID:    id,
		Level: level,
		Name:  level.String(),
		Begin: begin.UnixMicro(),
		End:   now.UnixMicro(),
	})
}

// Spans returns a copy of the closed trace spans recorded so far.
func (a *Aggregator) Spans() []TraceSpan {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TraceSpan, len(a.spans))
	copy(out, a.spans)
	return out
}

// FlushTrace writes all closed spans as JSON lines to w.
func (a *Aggregator) FlushTrace(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, span := range a.Spans() {
		if err := enc.Encode(span); err != nil {
			return errors.Wrapf(err, "flushing trace span (%d, %s)", span.ID, span.Name)
		}
	}
	return nil
}

// ReportStep logs the recorded cells of one step at verbosity 1.
func (a *Aggregator) ReportStep(epoch, step int) {
	if !klog.V(1).Enabled() {
		return
	}
	a.mu.Lock()
	cell := a.steps[stepKey{epoch, step}]
	values := make(map[Metric]float64, len(cell))
	for m, v := range cell {
		values[m] = v
	}
	a.mu.Unlock()
	klog.V(1).Infof(
		"epoch %3d step %5d | nodes %6.0f samples %8.0f | sample %.4fs copy %.4fs convert %.4fs train %.4fs total %.4fs | loss %.4f",
		epoch, step,
		values[MetricNumNodes], values[MetricNumSamples],
		values[MetricSampleTime], values[MetricCopyTime], values[MetricConvertTime],
		values[MetricTrainTime], values[MetricTotalTime], values[MetricLoss])
}
