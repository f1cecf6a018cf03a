package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samflow/samflow/graph"
	"github.com/samflow/samflow/types/mat32"
)

// 2-layer batch: 5 -> 3 -> 2 nodes.
func testBlocks() []*graph.BlockDescriptor {
	return []*graph.BlockDescriptor{
		{
			NumSrc:     5,
			NumDst:     3,
			EdgeSrc:    []int32{3, 4, 0, 2},
			EdgeDst:    []int32{0, 1, 2, 2},
			EdgeWeight: []float32{1, 2, 1, 1},
		},
		{
			NumSrc:     3,
			NumDst:     2,
			EdgeSrc:    []int32{2, 1},
			EdgeDst:    []int32{0, 1},
			EdgeWeight: []float32{3, 1},
		},
	}
}

func TestForwardShapes(t *testing.T) {
	m, err := NewPinSAGE(4, 8, 3, 2, 0, 42)
	require.NoError(t, err)
	feats := mat32.New(5, 4)
	for i := range feats.Data {
		feats.Data[i] = float32(i%7) * 0.1
	}
	out, err := m.Forward(testBlocks(), feats)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows, "one row per seed node")
	assert.Equal(t, 3, out.Cols, "one column per class")
}

func TestForwardRejectsLayerCountMismatch(t *testing.T) {
	m, err := NewPinSAGE(4, 8, 3, 3, 0, 42)
	require.NoError(t, err)
	_, err = m.Forward(testBlocks(), mat32.New(5, 4))
	assert.ErrorContains(t, err, "blocks")
}

func TestForwardRejectsNodeCountMismatch(t *testing.T) {
	m, err := NewPinSAGE(4, 8, 3, 2, 0, 42)
	require.NoError(t, err)
	_, err = m.Forward(testBlocks(), mat32.New(6, 4))
	assert.ErrorContains(t, err, "source nodes")
}

func TestSingleLayerModel(t *testing.T) {
	m, err := NewPinSAGE(4, 8, 3, 1, 0, 42)
	require.NoError(t, err)
	require.Len(t, m.Layers, 1)
	blocks := testBlocks()[1:]
	out, err := m.Forward(blocks, mat32.New(3, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows)
	assert.Equal(t, 3, out.Cols)
}

func TestBackwardAndParams(t *testing.T) {
	m, err := NewPinSAGE(4, 8, 3, 2, 0, 42)
	require.NoError(t, err)
	feats := mat32.New(5, 4)
	for i := range feats.Data {
		feats.Data[i] = float32(i%5)*0.2 - 0.4
	}
	blocks := testBlocks()
	out, err := m.Forward(blocks, feats)
	require.NoError(t, err)

	m.ZeroGrad()
	dOut := mat32.New(out.Rows, out.Cols)
	for i := range dOut.Data {
		dOut.Data[i] = 0.1
	}
	m.Backward(blocks, dOut)

	params := m.Params()
	assert.Len(t, params, 2*4, "4 params per layer")
	assert.Equal(t, "layer0/Q", params[0].Name)
	var nonZero bool
	for _, p := range params {
		for _, g := range p.Grad {
			if g != 0 {
				nonZero = true
			}
		}
	}
	assert.True(t, nonZero, "backward must accumulate some gradient")

	m.ZeroGrad()
	for _, p := range m.Params() {
		for _, g := range p.Grad {
			require.Equal(t, float32(0), g)
		}
	}
}

func TestNewPinSAGERejectsBadConfig(t *testing.T) {
	_, err := NewPinSAGE(4, 8, 3, 0, 0, 1)
	assert.Error(t, err)
	_, err = NewPinSAGE(4, 8, 1, 2, 0, 1)
	assert.Error(t, err)
}
