// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package graph defines the minibatch structures flowing through the
// pipeline: bipartite blocks (one per model layer) and the assembled
// Batch the model consumes.
package graph

import (
	"github.com/pkg/errors"

	"github.com/samflow/samflow/types/mat32"
)

// BlockDescriptor is one layer's bipartite subgraph: NumSrc source
// nodes, NumDst destination nodes reachable from them, and weighted
// edges between the two sets.
//
// Destination nodes are always a prefix of the source ordering -- edge
// destination indices address the same node ordering as the sources.
// The model relies on this to slice the destination embeddings out of
// the working embedding without any gather.
type BlockDescriptor struct {
	NumSrc, NumDst int

	// EdgeSrc[i], EdgeDst[i] and EdgeWeight[i] describe edge i.
	// Weights are aggregated random-walk visit counts.
	EdgeSrc    []int32
	EdgeDst    []int32
	EdgeWeight []float32
}

// NumEdges returns the number of edges in the block.
func (b *BlockDescriptor) NumEdges() int { return len(b.EdgeSrc) }

// Validate checks the block's internal invariants.
func (b *BlockDescriptor) Validate() error {
	if b.NumDst > b.NumSrc {
		return errors.Errorf("block has %d destination nodes but only %d source nodes: destinations must be a subset (prefix) of sources",
			b.NumDst, b.NumSrc)
	}
	if b.NumDst < 1 {
		return errors.Errorf("block has no destination nodes")
	}
	if len(b.EdgeDst) != len(b.EdgeSrc) || len(b.EdgeWeight) != len(b.EdgeSrc) {
		return errors.Errorf("block edge arrays disagree: %d sources, %d destinations, %d weights",
			len(b.EdgeSrc), len(b.EdgeDst), len(b.EdgeWeight))
	}
	for i, s := range b.EdgeSrc {
		if s < 0 || int(s) >= b.NumSrc {
			return errors.Errorf("edge %d: source index %d out of range [0, %d)", i, s, b.NumSrc)
		}
		if d := b.EdgeDst[i]; d < 0 || int(d) >= b.NumDst {
			return errors.Errorf("edge %d: destination index %d out of range [0, %d)", i, d, b.NumDst)
		}
		if w := b.EdgeWeight[i]; w < 0 {
			return errors.Errorf("edge %d: negative weight %g", i, w)
		}
	}
	return nil
}

// Batch is one minibatch: an ordered sequence of blocks (layer 0 first,
// with the widest source set), input features aligned to layer 0's
// source nodes, and labels aligned to the last block's destination
// (seed) nodes. A batch is produced by the pipeline and consumed by the
// model exactly once.
type Batch struct {
	// Key correlates the batch across the sample, copy, convert and
	// train stages and telemetry.
	Key uint64

	Epoch, Step int

	Blocks   []*BlockDescriptor
	Features *mat32.Matrix
	Labels   []int32
}

// Validate checks the batch-level invariants: per-block validity, the
// layer-to-layer chaining of node sets, the non-increasing destination
// counts, and feature/label alignment.
func (b *Batch) Validate() error {
	if len(b.Blocks) == 0 {
		return errors.Errorf("batch %d has no blocks", b.Key)
	}
	for i, blk := range b.Blocks {
		if err := blk.Validate(); err != nil {
			return errors.WithMessagef(err, "batch %d, block %d", b.Key, i)
		}
		if i > 0 {
			prev := b.Blocks[i-1]
			if prev.NumDst != blk.NumSrc {
				return errors.Errorf("batch %d: block %d has %d source nodes but block %d delivered %d destination nodes",
					b.Key, i, blk.NumSrc, i-1, prev.NumDst)
			}
			if blk.NumDst > prev.NumDst {
				return errors.Errorf("batch %d: destination node count grows from %d to %d at block %d; layers must narrow toward the seed batch",
					b.Key, prev.NumDst, blk.NumDst, i)
			}
		}
	}
	if b.Features == nil || b.Features.Rows != b.Blocks[0].NumSrc {
		var rows int
		if b.Features != nil {
			rows = b.Features.Rows
		}
		return errors.Errorf("batch %d: features have %d rows, want %d (layer-0 source nodes)",
			b.Key, rows, b.Blocks[0].NumSrc)
	}
	last := b.Blocks[len(b.Blocks)-1]
	if len(b.Labels) != last.NumDst {
		return errors.Errorf("batch %d: %d labels for %d seed nodes", b.Key, len(b.Labels), last.NumDst)
	}
	return nil
}
