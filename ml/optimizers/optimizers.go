// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers applies gradient-descent updates to model
// parameters. The training loop treats the update arithmetic as opaque:
// it only zeroes gradients, runs backward, and calls Interface.Step.
package optimizers

// Param is one flat learnable parameter with its accumulated gradient.
// Matrices are registered as their flattened backing slice.
type Param struct {
	Name  string
	Value []float32
	Grad  []float32
}

// Interface is implemented by all optimizers.
type Interface interface {
	// Step applies one update to every parameter from its gradient.
	// The params slice must be the same (same order, same backing
	// slices) on every call, as optimizers keep per-parameter state.
	Step(params []Param)

	// Name of the optimizer.
	Name() string
}

// ZeroGrads resets the gradients of all params.
func ZeroGrads(params []Param) {
	for _, p := range params {
		clear(p.Grad)
	}
}
