// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package layers implements the graph-convolution layers of the model.
package layers

import (
	"math"

	. "github.com/gomlx/exceptions"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samflow/samflow/graph"
	"github.com/samflow/samflow/ml/optimizers"
	"github.com/samflow/samflow/types/mat32"
)

// WeightedSAGEConv is one weighted-neighborhood graph convolution:
// source embeddings are projected into message seeds, aggregated per
// destination node as a visit-count-weighted mean, concatenated with
// the destination's own embedding, projected again and row-L2
// normalized.
//
// Numeric degeneracies are handled by substitution, never by failure:
// a destination with zero incoming weight divides by 1 instead of its
// weight sum, and a zero-norm output row is scaled by 1 instead of its
// norm. This keeps the forward pass total and differentiable.
type WeightedSAGEConv struct {
	InDim, HiddenDim, OutDim int
	Dropout                  float32

	// Training enables dropout. Disable for deterministic evaluation.
	Training bool

	// Q projects sources to message seeds (HiddenDim x InDim);
	// W projects [aggregate, destination] pairs (OutDim x (HiddenDim+InDim)).
	Q, W   *mat32.Matrix
	BQ, BW []float32

	GradQ, GradW   *mat32.Matrix
	GradBQ, GradBW []float32

	rng *exprand.Rand

	// Forward intermediates kept for Backward.
	cache *forwardCache
}

type forwardCache struct {
	block         *graph.BlockDescriptor
	hSrcDrop      *mat32.Matrix
	maskSrc       *mat32.Matrix // nil when dropout is inactive
	nSrc          *mat32.Matrix
	wsClamped     []float32
	catDrop       *mat32.Matrix
	maskCat       *mat32.Matrix
	preNorm       *mat32.Matrix // post-relu, pre-normalization rows
	norms         []float32     // with zero-norm substitution applied
	out           *mat32.Matrix
}

// NewWeightedSAGEConv builds a layer with Xavier-uniform weights (relu
// gain) and zero biases, drawing initial values and dropout masks from rng.
func NewWeightedSAGEConv(inDim, hiddenDim, outDim int, dropout float64, rng *exprand.Rand) *WeightedSAGEConv {
	if inDim < 1 || hiddenDim < 1 || outDim < 1 {
		Panicf("WeightedSAGEConv: invalid dims in=%d hidden=%d out=%d", inDim, hiddenDim, outDim)
	}
	if dropout < 0 || dropout >= 1 {
		Panicf("WeightedSAGEConv: dropout must be in [0, 1), got %g", dropout)
	}
	l := &WeightedSAGEConv{
		InDim:     inDim,
		HiddenDim: hiddenDim,
		OutDim:    outDim,
		Dropout:   float32(dropout),
		Training:  true,
		Q:         mat32.New(hiddenDim, inDim),
		W:         mat32.New(outDim, hiddenDim+inDim),
		BQ:        make([]float32, hiddenDim),
		BW:        make([]float32, outDim),
		GradQ:     mat32.New(hiddenDim, inDim),
		GradW:     mat32.New(outDim, hiddenDim+inDim),
		GradBQ:    make([]float32, hiddenDim),
		GradBW:    make([]float32, outDim),
		rng:       rng,
	}
	xavierUniform(l.Q, inDim, hiddenDim, rng)
	xavierUniform(l.W, hiddenDim+inDim, outDim, rng)
	return l
}

// xavierUniform fills m from U(-a, a) with a = gain*sqrt(6/(fanIn+fanOut)),
// gain = sqrt(2) for relu.
func xavierUniform(m *mat32.Matrix, fanIn, fanOut int, rng *exprand.Rand) {
	gain := math.Sqrt(2)
	limit := gain * math.Sqrt(6.0/float64(fanIn+fanOut))
	u := distuv.Uniform{Min: -limit, Max: limit, Src: rng}
	for i := range m.Data {
		m.Data[i] = float32(u.Rand())
	}
}

// dropout returns an inverted-dropout copy of m and the applied mask,
// or (m, nil) when dropout is inactive.
func (l *WeightedSAGEConv) dropout(m *mat32.Matrix) (*mat32.Matrix, *mat32.Matrix) {
	if l.Dropout == 0 || !l.Training {
		return m, nil
	}
	keepScale := 1 / (1 - l.Dropout)
	mask := mat32.New(m.Rows, m.Cols)
	out := mat32.New(m.Rows, m.Cols)
	for i, v := range m.Data {
		if l.rng.Float32() >= l.Dropout {
			mask.Data[i] = keepScale
			out.Data[i] = v * keepScale
		}
	}
	return out, mask
}

// Forward computes the updated destination embeddings for one block.
// hSrc must hold one row per block source node, hDst one row per block
// destination node (in practice a prefix view of hSrc's rows).
func (l *WeightedSAGEConv) Forward(b *graph.BlockDescriptor, hSrc, hDst *mat32.Matrix) *mat32.Matrix {
	if hSrc.Rows != b.NumSrc || hDst.Rows != b.NumDst {
		Panicf("WeightedSAGEConv.Forward: embeddings (%d src, %d dst rows) disagree with block (%d src, %d dst nodes)",
			hSrc.Rows, hDst.Rows, b.NumSrc, b.NumDst)
	}
	if hSrc.Cols != l.InDim {
		Panicf("WeightedSAGEConv.Forward: %d feature columns, layer expects %d", hSrc.Cols, l.InDim)
	}
	c := &forwardCache{block: b}
	l.cache = c

	// Message seeds: n_src = relu(Q(dropout(h_src))).
	c.hSrcDrop, c.maskSrc = l.dropout(hSrc)
	c.nSrc = c.hSrcDrop.MulT(l.Q)
	c.nSrc.AddRowVector(l.BQ)
	reluInPlace(c.nSrc)

	// Weighted aggregation: agg_d = sum_e w_e * n_src[src(e)], normalized
	// by the incoming weight sum floored at 1 (zero-degree substitution).
	agg := mat32.New(b.NumDst, l.HiddenDim)
	ws := make([]float32, b.NumDst)
	for e := 0; e < b.NumEdges(); e++ {
		w := b.EdgeWeight[e]
		mat32.AddScaled(agg.Row(int(b.EdgeDst[e])), c.nSrc.Row(int(b.EdgeSrc[e])), w)
		ws[b.EdgeDst[e]] += w
	}
	c.wsClamped = ws
	for d := 0; d < b.NumDst; d++ {
		if ws[d] < 1 {
			ws[d] = 1
		}
		inv := 1 / ws[d]
		row := agg.Row(d)
		for j := range row {
			row[j] *= inv
		}
	}

	// z = relu(W(dropout([agg/ws, h_dst]))).
	cat := mat32.New(b.NumDst, l.HiddenDim+l.InDim)
	for d := 0; d < b.NumDst; d++ {
		row := cat.Row(d)
		copy(row[:l.HiddenDim], agg.Row(d))
		copy(row[l.HiddenDim:], hDst.Row(d))
	}
	c.catDrop, c.maskCat = l.dropout(cat)
	z := c.catDrop.MulT(l.W)
	z.AddRowVector(l.BW)
	reluInPlace(z)
	c.preNorm = z

	// Row L2-normalize; exact-zero norms are substituted by 1.
	c.norms = make([]float32, b.NumDst)
	out := mat32.New(b.NumDst, l.OutDim)
	for d := 0; d < b.NumDst; d++ {
		n := mat32.L2Norm(z.Row(d))
		if n == 0 {
			n = 1
		}
		c.norms[d] = n
		inv := 1 / n
		zRow := z.Row(d)
		outRow := out.Row(d)
		for j := range outRow {
			outRow[j] = zRow[j] * inv
		}
	}
	c.out = out
	return out
}

// Backward accumulates parameter gradients from dOut (the loss gradient
// w.r.t. this layer's output) and returns the gradients w.r.t. the
// source and destination embeddings passed to the matching Forward.
func (l *WeightedSAGEConv) Backward(b *graph.BlockDescriptor, dOut *mat32.Matrix) (dHSrc, dHDst *mat32.Matrix) {
	c := l.cache
	if c == nil || c.block != b {
		Panicf("WeightedSAGEConv.Backward: no matching Forward for this block")
	}
	l.cache = nil
	if dOut.Rows != b.NumDst || dOut.Cols != l.OutDim {
		Panicf("WeightedSAGEConv.Backward: dOut is (%d, %d), want (%d, %d)", dOut.Rows, dOut.Cols, b.NumDst, l.OutDim)
	}

	// Through the row normalization: dZ = (dOut - out*(dOut.out)) / norm.
	// With a substituted norm the row is all-zero and this reduces to dOut.
	dZ := mat32.New(b.NumDst, l.OutDim)
	for d := 0; d < b.NumDst; d++ {
		dOutRow := dOut.Row(d)
		outRow := c.out.Row(d)
		var dot float32
		for j := range outRow {
			dot += dOutRow[j] * outRow[j]
		}
		inv := 1 / c.norms[d]
		dZRow := dZ.Row(d)
		for j := range dZRow {
			dZRow[j] = (dOutRow[j] - outRow[j]*dot) * inv
		}
	}

	// Through relu at W's output.
	reluBackwardInPlace(dZ, c.preNorm)

	// W, BW gradients and the gradient into the concatenation.
	accumulate(l.GradW, dZ.TMul(c.catDrop))
	addColumnSums(l.GradBW, dZ)
	dCat := dZ.Mul(l.W)
	if c.maskCat != nil {
		hadamardInPlace(dCat, c.maskCat)
	}

	// Split the concatenation: [aggregate | destination embedding].
	dHDst = mat32.New(b.NumDst, l.InDim)
	dAgg := mat32.New(b.NumDst, l.HiddenDim)
	for d := 0; d < b.NumDst; d++ {
		row := dCat.Row(d)
		inv := 1 / c.wsClamped[d]
		dAggRow := dAgg.Row(d)
		for j := 0; j < l.HiddenDim; j++ {
			dAggRow[j] = row[j] * inv
		}
		copy(dHDst.Row(d), row[l.HiddenDim:])
	}

	// Scatter back through the weighted sum to the message seeds.
	dNSrc := mat32.New(b.NumSrc, l.HiddenDim)
	for e := 0; e < b.NumEdges(); e++ {
		mat32.AddScaled(dNSrc.Row(int(b.EdgeSrc[e])), dAgg.Row(int(b.EdgeDst[e])), b.EdgeWeight[e])
	}

	// Through relu at Q's output, then Q, BQ gradients.
	reluBackwardInPlace(dNSrc, c.nSrc)
	accumulate(l.GradQ, dNSrc.TMul(c.hSrcDrop))
	addColumnSums(l.GradBQ, dNSrc)
	dHSrc = dNSrc.Mul(l.Q)
	if c.maskSrc != nil {
		hadamardInPlace(dHSrc, c.maskSrc)
	}
	return dHSrc, dHDst
}

// Params returns the learnable parameters with their gradient buffers.
func (l *WeightedSAGEConv) Params() []optimizers.Param {
	return []optimizers.Param{
		{Name: "Q", Value: l.Q.Data, Grad: l.GradQ.Data},
		{Name: "BQ", Value: l.BQ, Grad: l.GradBQ},
		{Name: "W", Value: l.W.Data, Grad: l.GradW.Data},
		{Name: "BW", Value: l.BW, Grad: l.GradBW},
	}
}

// ZeroGrad resets the accumulated gradients.
func (l *WeightedSAGEConv) ZeroGrad() {
	l.GradQ.Zero()
	l.GradW.Zero()
	clear(l.GradBQ)
	clear(l.GradBW)
}

func reluInPlace(m *mat32.Matrix) {
	for i, v := range m.Data {
		if v < 0 {
			m.Data[i] = 0
		}
	}
}

// reluBackwardInPlace zeroes grad where the relu output was inactive.
func reluBackwardInPlace(grad, activated *mat32.Matrix) {
	for i, v := range activated.Data {
		if v <= 0 {
			grad.Data[i] = 0
		}
	}
}

func hadamardInPlace(m, mask *mat32.Matrix) {
	for i, v := range mask.Data {
		m.Data[i] *= v
	}
}

func accumulate(dst, src *mat32.Matrix) {
	mat32.AddScaled(dst.Data, src.Data, 1)
}

func addColumnSums(dst []float32, m *mat32.Matrix) {
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		for j, v := range row {
			dst[j] += v
		}
	}
}
