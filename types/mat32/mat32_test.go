package mat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulT(t *testing.T) {
	a := FromData(2, 3, []float32{1, 2, 3, 4, 5, 6})
	b := FromData(2, 3, []float32{1, 0, 1, 0, 1, 0})
	got := a.MulT(b)
	require.Equal(t, 2, got.Rows)
	require.Equal(t, 2, got.Cols)
	assert.Equal(t, []float32{4, 2, 10, 5}, got.Data)
}

func TestMulAndTMulAgreeWithTranspose(t *testing.T) {
	a := FromData(3, 2, []float32{1, 2, 3, 4, 5, 6})
	b := FromData(2, 4, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	ab := a.Mul(b)
	require.Equal(t, 3, ab.Rows)
	require.Equal(t, 4, ab.Cols)
	assert.Equal(t, []float32{11, 14, 17, 20, 23, 30, 37, 44, 35, 46, 57, 68}, ab.Data)

	// aᵀ·(a·b) computed directly vs via materialized transpose.
	direct := a.TMul(ab)
	viaT := a.T().Mul(ab)
	assert.Equal(t, viaT.Data, direct.Data)
}

func TestRowsViewSharesData(t *testing.T) {
	m := FromData(3, 2, []float32{1, 2, 3, 4, 5, 6})
	v := m.RowsView(2)
	require.Equal(t, 2, v.Rows)
	v.Set(0, 0, 42)
	assert.Equal(t, float32(42), m.At(0, 0))
}

func TestAddRowVectorAndScaled(t *testing.T) {
	m := FromData(2, 2, []float32{1, 2, 3, 4})
	m.AddRowVector([]float32{10, 20})
	assert.Equal(t, []float32{11, 22, 13, 24}, m.Data)

	dst := []float32{1, 1}
	AddScaled(dst, []float32{2, 3}, 2)
	assert.Equal(t, []float32{5, 7}, dst)
}

func TestL2Norm(t *testing.T) {
	assert.InDelta(t, 5.0, L2Norm([]float32{3, 4}), 1e-6)
	assert.Equal(t, float32(0), L2Norm([]float32{0, 0, 0}))
}
