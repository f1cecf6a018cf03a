// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package models stacks graph-convolution layers into the full model.
package models

import (
	"fmt"

	"github.com/pkg/errors"
	exprand "golang.org/x/exp/rand"

	"github.com/samflow/samflow/graph"
	"github.com/samflow/samflow/ml/layers"
	"github.com/samflow/samflow/ml/optimizers"
	"github.com/samflow/samflow/types/mat32"
)

// PinSAGE stacks WeightedSAGEConv layers over a sequence of narrowing
// blocks. Layer 0 consumes the widest source set; each layer's output
// becomes the next layer's input; the final output holds one row per
// seed node, aligned with the batch labels.
type PinSAGE struct {
	Layers []*layers.WeightedSAGEConv

	InDim, HiddenDim, NumClasses int
}

// NewPinSAGE builds a numLayers-deep model: inFeat -> hidden on the
// first layer, hidden -> hidden in between, hidden -> numClasses on the
// last. With numLayers == 1 the single layer maps inFeat -> numClasses
// directly (through the hidden projection).
func NewPinSAGE(inFeat, hidden, numClasses, numLayers int, dropout float64, seed uint64) (*PinSAGE, error) {
	if numLayers < 1 {
		return nil, errors.Errorf("model needs at least 1 layer, got %d", numLayers)
	}
	if inFeat < 1 || hidden < 1 || numClasses < 2 {
		return nil, errors.Errorf("invalid model dims: in=%d hidden=%d classes=%d", inFeat, hidden, numClasses)
	}
	rng := exprand.New(exprand.NewSource(seed))
	m := &PinSAGE{InDim: inFeat, HiddenDim: hidden, NumClasses: numClasses}
	if numLayers == 1 {
		m.Layers = []*layers.WeightedSAGEConv{
			layers.NewWeightedSAGEConv(inFeat, hidden, numClasses, dropout, rng),
		}
		return m, nil
	}
	m.Layers = append(m.Layers, layers.NewWeightedSAGEConv(inFeat, hidden, hidden, dropout, rng))
	for i := 1; i < numLayers-1; i++ {
		m.Layers = append(m.Layers, layers.NewWeightedSAGEConv(hidden, hidden, hidden, dropout, rng))
	}
	m.Layers = append(m.Layers, layers.NewWeightedSAGEConv(hidden, hidden, numClasses, dropout, rng))
	return m, nil
}

// Forward runs the layer stack over the blocks. A disagreement between
// a block's node counts and the working embedding is a fatal shape
// error: the run must abort rather than silently corrupt gradients.
func (m *PinSAGE) Forward(blocks []*graph.BlockDescriptor, features *mat32.Matrix) (*mat32.Matrix, error) {
	if len(blocks) != len(m.Layers) {
		return nil, errors.Errorf("batch carries %d blocks for a %d-layer model", len(blocks), len(m.Layers))
	}
	h := features
	for i, blk := range blocks {
		if h.Rows != blk.NumSrc {
			return nil, errors.Errorf("layer %d: working embedding has %d rows, block expects %d source nodes",
				i, h.Rows, blk.NumSrc)
		}
		// Destination nodes are a prefix of the current node ordering.
		h = m.Layers[i].Forward(blk, h, h.RowsView(blk.NumDst))
	}
	return h, nil
}

// Backward propagates dOut (gradient w.r.t. the seed-node predictions)
// back through the stack, accumulating parameter gradients. It must
// follow a matching Forward over the same blocks.
func (m *PinSAGE) Backward(blocks []*graph.BlockDescriptor, dOut *mat32.Matrix) {
	d := dOut
	for i := len(blocks) - 1; i >= 0; i-- {
		dHSrc, dHDst := m.Layers[i].Backward(blocks[i], d)
		// The destination embeddings were a prefix view of the source
		// embeddings, so both gradients land on the same rows.
		for r := 0; r < dHDst.Rows; r++ {
			mat32.AddScaled(dHSrc.Row(r), dHDst.Row(r), 1)
		}
		d = dHSrc
	}
}

// Params returns all learnable parameters, layer by layer.
func (m *PinSAGE) Params() []optimizers.Param {
	var params []optimizers.Param
	for i, l := range m.Layers {
		for _, p := range l.Params() {
			p.Name = fmt.Sprintf("layer%d/%s", i, p.Name)
			params = append(params, p)
		}
	}
	return params
}

// ZeroGrad resets all accumulated gradients.
func (m *PinSAGE) ZeroGrad() {
	for _, l := range m.Layers {
		l.ZeroGrad()
	}
}

// SetTraining toggles dropout on every layer.
func (m *PinSAGE) SetTraining(training bool) {
	for _, l := range m.Layers {
		l.Training = training
	}
}
