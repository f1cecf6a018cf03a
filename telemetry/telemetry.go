// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package telemetry aggregates per-step and per-epoch training metrics
// and paired begin/end trace spans. It is strictly observational: no
// training decision may depend on it.
package telemetry

// Metric identifies one of the closed set of quantities the pipeline
// and the training loop record. Using an enum instead of ad hoc string
// keys makes the accumulation contract statically checkable.
type Metric int

//go:generate go run github.com/dmarkham/enumer -type=Metric -trimprefix=Metric

const (
	// MetricSampleTime is the wall time of the sampling stage, seconds.
	MetricSampleTime Metric = iota
	// MetricCopyTime is the wall time of the feature gather / transfer
	// stage, seconds.
	MetricCopyTime
	// MetricConvertTime is the wall time of block materialization into
	// model inputs, seconds.
	MetricConvertTime
	// MetricTrainTime is the wall time of forward/backward/update, seconds.
	MetricTrainTime
	// MetricTotalTime is the whole-step wall time, seconds.
	MetricTotalTime
	// MetricNumNodes counts the nodes gathered for a batch.
	MetricNumNodes
	// MetricNumSamples counts the sampled edges of a batch.
	MetricNumSamples
	// MetricLoss is the training loss of a step.
	MetricLoss
)

// EventLevel names a traced region. L0 spans cover a whole training
// step; L1 spans cover one stage inside it.
type EventLevel int

const (
	L0TrainStep EventLevel = iota
	L1Sample
	L1Copy
	L1Convert
	L1Train
)

// String implements fmt.Stringer.
func (l EventLevel) String() string {
	switch l {
	case L0TrainStep:
		return "L0_train_step"
	case L1Sample:
		return "L1_sample"
	case L1Copy:
		return "L1_copy"
	case L1Convert:
		return "L1_convert"
	case L1Train:
		return "L1_train"
	}
	return "unknown_event_level"
}
