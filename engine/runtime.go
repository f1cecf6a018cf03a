// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/samflow/samflow/graph"
)

// SampleTask is the raw product of the sampling stage: block topology
// and the node id sets needed by the copy stage to gather features and
// labels. It carries no feature data; device memory stays with the
// runtime until Copy.
type SampleTask struct {
	Key         uint64
	Epoch, Step int

	// Blocks in model order: layer 0 (widest source set) first.
	Blocks []*graph.BlockDescriptor

	// InputNodes are the global ids of layer 0's source nodes, in
	// block order; SeedNodes those of the last block's destinations.
	InputNodes []int32
	SeedNodes  []int32
}

// Runtime is the sampling-caching runtime boundary the pipeline
// consumes. Implementations own the graph storage, the random-walk
// sampling algorithm, the feature cache, and any device transfers; the
// pipeline owns the overlap and the queue bounds.
//
// Configure must be called exactly once before any other method.
// Sample and Copy may be called from different goroutines, but each is
// called sequentially in (epoch, step) order.
type Runtime interface {
	// Configure performs one-time setup from the resolved run config.
	Configure(cfg *RunConfig) error

	// StepsPerEpoch reports how many minibatches one epoch yields.
	StepsPerEpoch() int

	// FeatureDim reports the input feature width.
	FeatureDim() int

	// NumClasses reports the label cardinality.
	NumClasses() int

	// Sample produces the sampled topology for one minibatch, in the
	// sampler context.
	Sample(epoch, step int) (*SampleTask, error)

	// Copy gathers features and labels for a sampled task and
	// assembles the Batch in the trainer context.
	Copy(task *SampleTask) (*graph.Batch, error)

	// NodeAccessReport summarizes feature access and cache statistics
	// for end-of-run reporting.
	NodeAccessReport() string

	// Shutdown releases the runtime's resources. No other method may
	// be called afterwards.
	Shutdown()
}
