// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	. "github.com/gomlx/exceptions"
)

// AdamDefaultLearningRate is used by Adam if no learning rate is set.
const AdamDefaultLearningRate = 0.001

// Adam returns a configuration object for the Adam optimizer
// ([Kingma et al., 2014]). Set its parameters and call Done to get an
// optimizer Interface.
//
// [Kingma et al., 2014]: http://arxiv.org/abs/1412.6980
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
	}
}

// AdamConfig holds the configuration for an Adam optimizer, created with
// Adam(). Once configured, call Done.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
}

// LearningRate sets the base learning rate. Default is 0.001.
// It returns the config, so calls can be cascaded.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the exponential decay rates of the two moment estimates.
// Defaults are 0.9 and 0.999.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon sets the denominator fuzz factor. Default is 1e-8.
func (c *AdamConfig) Epsilon(value float64) *AdamConfig {
	c.epsilon = value
	return c
}

// Done builds the optimizer from the configuration.
func (c *AdamConfig) Done() Interface {
	if c.learningRate <= 0 {
		Panicf("Adam: learning rate must be > 0, got %g", c.learningRate)
	}
	return &adam{config: *c}
}

type adam struct {
	config AdamConfig
	step   int
	m, v   [][]float32 // First and second moment estimates, per param.
}

// Name implements Interface.
func (o *adam) Name() string { return "Adam" }

// Step implements Interface.
func (o *adam) Step(params []Param) {
	if o.m == nil {
		o.m = make([][]float32, len(params))
		o.v = make([][]float32, len(params))
		for i, p := range params {
			o.m[i] = make([]float32, len(p.Value))
			o.v[i] = make([]float32, len(p.Value))
		}
	}
	if len(params) != len(o.m) {
		Panicf("Adam.Step: %d params, but optimizer state was built for %d", len(params), len(o.m))
	}
	o.step++
	beta1 := o.config.beta1
	beta2 := o.config.beta2
	// Bias-corrected step size.
	lr := o.config.learningRate *
		math.Sqrt(1-math.Pow(beta2, float64(o.step))) /
		(1 - math.Pow(beta1, float64(o.step)))
	for i, p := range params {
		if len(p.Value) != len(o.m[i]) {
			Panicf("Adam.Step: param %q changed size from %d to %d", p.Name, len(o.m[i]), len(p.Value))
		}
		m, v := o.m[i], o.v[i]
		for j, g := range p.Grad {
			g64 := float64(g)
			m64 := beta1*float64(m[j]) + (1-beta1)*g64
			v64 := beta2*float64(v[j]) + (1-beta2)*g64*g64
			m[j] = float32(m64)
			v[j] = float32(v64)
			p.Value[j] -= float32(lr * m64 / (math.Sqrt(v64) + o.config.epsilon))
		}
	}
}
