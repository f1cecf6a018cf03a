// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package mat32 implements small dense row-major float32 matrices, the
// working dtype of the training core.
//
// It is deliberately minimal: the layers only need products against a
// transposed operand (weights are stored row-major per output unit, so
// `x·Wᵀ` maps to row-by-row inner products), transposes, and a few
// per-row helpers. Inner products go through vek (SIMD accelerated).
package mat32

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/viterin/vek/vek32"
)

// Matrix is a dense row-major float32 matrix.
// Data is owned by the matrix unless it was created with FromData.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

// New returns a zero-initialized Matrix of the given shape.
func New(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		Panicf("mat32.New: invalid shape (%d, %d)", rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromData wraps an existing slice as a rows x cols matrix. The slice is
// not copied; len(data) must be exactly rows*cols.
func FromData(rows, cols int, data []float32) *Matrix {
	if len(data) != rows*cols {
		Panicf("mat32.FromData: len(data)=%d, want %d (%d x %d)", len(data), rows*cols, rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}
}

// Row returns a mutable view of row i.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// At returns the element at (i, j).
func (m *Matrix) At(i, j int) float32 { return m.Data[i*m.Cols+j] }

// Set assigns the element at (i, j).
func (m *Matrix) Set(i, j int, v float32) { m.Data[i*m.Cols+j] = v }

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := New(m.Rows, m.Cols)
	copy(c.Data, m.Data)
	return c
}

// Zero resets all elements to 0.
func (m *Matrix) Zero() {
	clear(m.Data)
}

// RowsView returns a view of the first n rows, sharing the underlying data.
func (m *Matrix) RowsView(n int) *Matrix {
	if n < 0 || n > m.Rows {
		Panicf("mat32.RowsView: n=%d out of range for %d rows", n, m.Rows)
	}
	return &Matrix{Rows: n, Cols: m.Cols, Data: m.Data[:n*m.Cols]}
}

// T returns a newly allocated transpose.
func (m *Matrix) T() *Matrix {
	t := New(m.Cols, m.Rows)
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		for j, v := range row {
			t.Data[j*m.Rows+i] = v
		}
	}
	return t
}

// MulT returns m · bᵀ. Both operands are read row-wise, so every output
// element is a single contiguous inner product.
func (m *Matrix) MulT(b *Matrix) *Matrix {
	if m.Cols != b.Cols {
		Panicf("mat32.MulT: shape mismatch (%d, %d) x (%d, %d)ᵀ", m.Rows, m.Cols, b.Rows, b.Cols)
	}
	out := New(m.Rows, b.Rows)
	for i := 0; i < m.Rows; i++ {
		mRow := m.Row(i)
		outRow := out.Row(i)
		for j := 0; j < b.Rows; j++ {
			outRow[j] = vek32.Dot(mRow, b.Row(j))
		}
	}
	return out
}

// Mul returns m · b.
func (m *Matrix) Mul(b *Matrix) *Matrix {
	if m.Cols != b.Rows {
		Panicf("mat32.Mul: shape mismatch (%d, %d) x (%d, %d)", m.Rows, m.Cols, b.Rows, b.Cols)
	}
	return m.MulT(b.T())
}

// TMul returns mᵀ · b, accumulating scaled rows of b. It avoids
// materializing mᵀ, which would be needed to keep the inner products
// contiguous.
func (m *Matrix) TMul(b *Matrix) *Matrix {
	if m.Rows != b.Rows {
		Panicf("mat32.TMul: shape mismatch (%d, %d)ᵀ x (%d, %d)", m.Rows, m.Cols, b.Rows, b.Cols)
	}
	out := New(m.Cols, b.Cols)
	for i := 0; i < m.Rows; i++ {
		mRow := m.Row(i)
		bRow := b.Row(i)
		for k, v := range mRow {
			if v == 0 {
				continue
			}
			AddScaled(out.Row(k), bRow, v)
		}
	}
	return out
}

// AddRowVector adds v to every row of m, in place.
func (m *Matrix) AddRowVector(v []float32) {
	if len(v) != m.Cols {
		Panicf("mat32.AddRowVector: len(v)=%d, want %d", len(v), m.Cols)
	}
	for i := 0; i < m.Rows; i++ {
		vek32.Add_Inplace(m.Row(i), v)
	}
}

// AddScaled computes dst += a*src element-wise.
// vek has no fused axpy, and composing MulNumber+Add would allocate on
// every call -- this sits in the per-edge aggregation inner loop.
func AddScaled(dst, src []float32, a float32) {
	if len(dst) != len(src) {
		Panicf("mat32.AddScaled: len(dst)=%d != len(src)=%d", len(dst), len(src))
	}
	for i, v := range src {
		dst[i] += a * v
	}
}

// L2Norm returns the Euclidean norm of v.
func L2Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(vek32.Dot(v, v))))
}
