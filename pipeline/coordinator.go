// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline coordinates the sample -> copy/convert -> train
// stages of a run.
//
// In non-pipelined mode every step runs one synchronous cycle. In
// pipelined mode two background stages (sampling, copying) run ahead of
// training, communicating only through two bounded queues; the queue
// capacities are the backpressure bounding in-flight work, so peak
// memory is O(queue depth x batch size) no matter how far sampling
// could otherwise run ahead.
package pipeline

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/samflow/samflow/engine"
	"github.com/samflow/samflow/graph"
	"github.com/samflow/samflow/telemetry"
	"github.com/samflow/samflow/types/xsync"
)

// BatchKey correlates one minibatch across stages and telemetry.
// Keys are assigned monotonically: epoch*stepsPerEpoch + step.
type BatchKey uint64

// sampled is what flows through the sampling queue.
type sampled struct {
	task *engine.SampleTask
	key  BatchKey
	err  error
}

// ready is what flows through the ready queue.
type ready struct {
	batch *graph.Batch
	key   BatchKey
	err   error
}

// Coordinator implements the batch pipeline over an engine.Runtime.
// It is driven from a single training goroutine; the background stages
// are internal.
type Coordinator struct {
	cfg           *engine.RunConfig
	rt            engine.Runtime
	tel           *telemetry.Aggregator
	stepsPerEpoch int

	// Non-pipelined mode keeps the synchronously produced batches
	// here until Materialize collects them.
	pending map[BatchKey]*graph.Batch

	// Pipelined mode state.
	started  bool
	sampleQ  *xsync.BoundedQueue[sampled]
	readyQ   *xsync.BoundedQueue[ready]
	stop     *xsync.Latch
	done     sync.WaitGroup
	closeOne sync.Once
}

// New returns a Coordinator for one run. The runtime must already be
// configured; cfg must be resolved.
func New(cfg *engine.RunConfig, rt engine.Runtime, tel *telemetry.Aggregator) *Coordinator {
	return &Coordinator{
		cfg:           cfg,
		rt:            rt,
		tel:           tel,
		stepsPerEpoch: rt.StepsPerEpoch(),
		pending:       make(map[BatchKey]*graph.Batch),
		stop:          xsync.NewLatch(),
	}
}

// Key returns the batch key of (epoch, step): unique and stable for the
// whole run.
func (c *Coordinator) Key(epoch, step int) BatchKey {
	return BatchKey(uint64(epoch)*uint64(c.stepsPerEpoch) + uint64(step))
}

// NextBatch requests the batch of (epoch, step) and returns its key.
//
// Non-pipelined: runs one full sample+copy cycle synchronously; nothing
// is prefetched. Pipelined: lazily starts the background stages on the
// first call of the run; later calls only hand out the key.
//
// A runtime error for this step's sample surfaces here in non-pipelined
// mode, and at Materialize in pipelined mode; either way it is
// synchronous to the step that requested the failing key and the run
// aborts rather than skip a batch.
func (c *Coordinator) NextBatch(epoch, step int) (BatchKey, error) {
	key := c.Key(epoch, step)
	if !c.cfg.Pipeline {
		batch, err := c.cycle(epoch, step, key)
		if err != nil {
			return key, err
		}
		c.pending[key] = batch
		return key, nil
	}
	if !c.started {
		c.start(epoch, step)
	}
	return key, nil
}

// Materialize returns the batch for a key previously handed out by
// NextBatch. Each key can be materialized exactly once.
func (c *Coordinator) Materialize(key BatchKey) (*graph.Batch, error) {
	if !c.cfg.Pipeline {
		batch, ok := c.pending[key]
		if !ok {
			return nil, errors.Errorf("no pending batch for key %d: NextBatch not called, or materialized twice", key)
		}
		delete(c.pending, key)
		return batch, nil
	}
	r, ok := c.readyQ.Pop()
	if !ok {
		return nil, errors.Errorf("pipeline closed before batch %d was produced", key)
	}
	if r.err != nil {
		return nil, errors.WithMessagef(r.err, "pipelined batch %d", r.key)
	}
	if r.key != key {
		// The single-producer stages preserve order, so this can only
		// mean the training loop skipped or repeated a step.
		return nil, errors.Errorf("pipeline delivered batch %d but step requested %d", r.key, key)
	}
	return r.batch, nil
}

// cycle is the synchronous sample+copy of non-pipelined mode.
func (c *Coordinator) cycle(epoch, step int, key BatchKey) (*graph.Batch, error) {
	c.tel.BeginTrace(uint64(key), telemetry.L1Sample)
	start := time.Now()
	task, err := c.rt.Sample(epoch, step)
	c.tel.RecordStep(epoch, step, telemetry.MetricSampleTime, time.Since(start).Seconds())
	c.tel.EndTrace(uint64(key), telemetry.L1Sample)
	if err != nil {
		return nil, errors.WithMessagef(err, "sampling step (%d, %d)", epoch, step)
	}
	return c.copyTask(task)
}

// copyTask runs the copy stage for one task and records its telemetry.
func (c *Coordinator) copyTask(task *engine.SampleTask) (*graph.Batch, error) {
	c.tel.BeginTrace(task.Key, telemetry.L1Copy)
	start := time.Now()
	batch, err := c.rt.Copy(task)
	c.tel.RecordStep(task.Epoch, task.Step, telemetry.MetricCopyTime, time.Since(start).Seconds())
	c.tel.EndTrace(task.Key, telemetry.L1Copy)
	if err != nil {
		return nil, errors.WithMessagef(err, "copying batch %d", task.Key)
	}
	c.tel.RecordStep(task.Epoch, task.Step, telemetry.MetricNumNodes, float64(len(task.InputNodes)))
	var numEdges int
	for _, b := range task.Blocks {
		numEdges += b.NumEdges()
	}
	c.tel.RecordStep(task.Epoch, task.Step, telemetry.MetricNumSamples, float64(numEdges))
	return batch, nil
}

// start launches the two background stages, beginning at (epoch, step)
// and running through the end of the run. Called once, lazily, from the
// first NextBatch.
func (c *Coordinator) start(epoch, step int) {
	c.started = true
	c.sampleQ = xsync.NewBoundedQueue[sampled](c.cfg.MaxSamplingJobs)
	c.readyQ = xsync.NewBoundedQueue[ready](c.cfg.MaxCopyingJobs)

	// Sampling stage: produces in strict key order until the end of
	// the run, an error, or Close. A full queue suspends it.
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		defer c.sampleQ.Close()
		for e := epoch; e < c.cfg.TotalEpochs(); e++ {
			s := 0
			if e == epoch {
				s = step
			}
			for ; s < c.stepsPerEpoch; s++ {
				if c.stop.Test() {
					return
				}
				key := c.Key(e, s)
				c.tel.BeginTrace(uint64(key), telemetry.L1Sample)
				start := time.Now()
				task, err := c.rt.Sample(e, s)
				c.tel.RecordStep(e, s, telemetry.MetricSampleTime, time.Since(start).Seconds())
				c.tel.EndTrace(uint64(key), telemetry.L1Sample)
				c.sampleQ.Push(sampled{task: task, key: key, err: err})
				if err != nil {
					return
				}
			}
		}
	}()

	// Copy stage: drains the sampling queue in order, runs each job to
	// completion (no mid-flight cancellation), and fills the ready
	// queue. A full ready queue suspends it.
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		defer c.readyQ.Close()
		failed := false
		for {
			s, ok := c.sampleQ.Pop()
			if !ok {
				return
			}
			if failed || c.stop.Test() {
				// Keep draining so the sampler never deadlocks on a
				// full queue, but do no further work.
				continue
			}
			if s.err != nil {
				c.readyQ.Push(ready{key: s.key, err: s.err})
				failed = true
				continue
			}
			batch, err := c.copyTask(s.task)
			c.readyQ.Push(ready{batch: batch, key: s.key, err: err})
			if err != nil {
				failed = true
			}
		}
	}()
}

// Close shuts the pipeline down: producers stop at the next step
// boundary, in-flight jobs run to completion, queues are drained.
// Safe to call in any mode, multiple times.
func (c *Coordinator) Close() {
	c.closeOne.Do(func() {
		c.stop.Trigger()
		if !c.started {
			return
		}
		// Drain the ready queue so a blocked copy-stage Push can finish;
		// the sampler unblocks the same way through the copy stage.
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for {
				if _, ok := c.readyQ.Pop(); !ok {
					return
				}
			}
		}()
		c.done.Wait()
		<-drained
	})
}
