// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package engine defines the run configuration and the contract of the
// sampling-caching runtime the pipeline consumes.
package engine

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ArchType selects the device placement of the sampling and training
// stages. Arch1 (host-side sampling) does not support pipelining.
type ArchType int

const (
	// Arch0 samples and trains on the same accelerator.
	Arch0 ArchType = iota
	// Arch1 samples on the host and trains on an accelerator; the
	// host sampler cannot overlap with training, so pipelining is
	// forced off.
	Arch1
	// Arch2 samples and trains on the same accelerator on separate
	// streams.
	Arch2
	// Arch3 samples on one accelerator and trains on another.
	Arch3
)

var archNames = map[string]ArchType{
	"arch0": Arch0,
	"arch1": Arch1,
	"arch2": Arch2,
	"arch3": Arch3,
}

// String implements fmt.Stringer.
func (a ArchType) String() string {
	for name, v := range archNames {
		if v == a {
			return name
		}
	}
	return "arch(invalid)"
}

// ArchTypeString parses an architecture name ("arch0".."arch3").
func ArchTypeString(s string) (ArchType, error) {
	if a, ok := archNames[s]; ok {
		return a, nil
	}
	return 0, errors.Errorf("unknown architecture %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ArchType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ArchTypeString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PipelineSupported reports whether the architecture permits the
// pipelined execution mode.
func (a ArchType) PipelineSupported() bool { return a != Arch1 }

// CachePolicy selects how the feature cache is pre-populated.
type CachePolicy int

const (
	// CacheByDegree warms the cache with the highest-degree nodes.
	CacheByDegree CachePolicy = iota
	// CacheByHeuristic warms the cache with the nodes most likely to
	// be touched by random walks (degree-weighted heuristic).
	CacheByHeuristic
	// CacheRandom leaves the cache cold and relies on recency.
	CacheRandom
)

var cachePolicyNames = map[string]CachePolicy{
	"degree":    CacheByDegree,
	"heuristic": CacheByHeuristic,
	"random":    CacheRandom,
}

// String implements fmt.Stringer.
func (p CachePolicy) String() string {
	for name, v := range cachePolicyNames {
		if v == p {
			return name
		}
	}
	return "cache_policy(invalid)"
}

// CachePolicyString parses a cache policy name.
func CachePolicyString(s string) (CachePolicy, error) {
	if p, ok := cachePolicyNames[s]; ok {
		return p, nil
	}
	return 0, errors.Errorf("unknown cache policy %q", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *CachePolicy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := CachePolicyString(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DeviceKind distinguishes host and accelerator contexts.
type DeviceKind int

const (
	DeviceCPU DeviceKind = iota
	DeviceCUDA
)

// String implements fmt.Stringer.
func (k DeviceKind) String() string {
	if k == DeviceCPU {
		return "cpu"
	}
	return "cuda"
}

// DeviceContext identifies one compute unit. Sampler and trainer
// contexts may name the same unit.
type DeviceContext struct {
	Kind DeviceKind
	ID   int
}

// String implements fmt.Stringer.
func (d DeviceContext) String() string {
	if d.Kind == DeviceCPU {
		return "cpu"
	}
	return fmt.Sprintf("cuda:%d", d.ID)
}

// DatasetConfig describes the synthetic graph the reference runtime
// builds. Real deployments replace the runtime, not this config.
type DatasetConfig struct {
	NumNodes   int `yaml:"num_nodes"`
	AvgDegree  int `yaml:"avg_degree"`
	FeatureDim int `yaml:"feature_dim"`
	NumClasses int `yaml:"num_classes"`
}

// RunConfig is the immutable configuration of one training run. It is
// resolved once (defaults, then YAML, then flags) and read-only
// thereafter.
type RunConfig struct {
	Arch     ArchType `yaml:"arch"`
	Pipeline bool     `yaml:"pipeline"`

	// SamplerCtx and TrainerCtx are derived from Arch by Resolve.
	SamplerCtx DeviceContext `yaml:"-"`
	TrainerCtx DeviceContext `yaml:"-"`

	CachePolicy     CachePolicy `yaml:"cache_policy"`
	CachePercentage float64     `yaml:"cache_percentage"`

	// Queue-depth bounds of the pipelined mode.
	MaxSamplingJobs int `yaml:"max_sampling_jobs"`
	MaxCopyingJobs  int `yaml:"max_copying_jobs"`

	RandomWalkLength      int     `yaml:"random_walk_length"`
	RandomWalkRestartProb float64 `yaml:"random_walk_restart_prob"`
	NumRandomWalk         int     `yaml:"num_random_walk"`
	NumNeighbor           int     `yaml:"num_neighbor"`
	NumLayer              int     `yaml:"num_layer"`

	NumEpoch     int     `yaml:"num_epoch"`
	BatchSize    int     `yaml:"batch_size"`
	NumHidden    int     `yaml:"num_hidden"`
	LearningRate float64 `yaml:"lr"`
	Dropout      float64 `yaml:"dropout"`

	// WarmupEpochs are executed in addition to NumEpoch and excluded
	// from reported averages. 0 disables the warm-up convention.
	WarmupEpochs int `yaml:"warmup_epochs"`

	Seed uint64 `yaml:"seed"`

	Dataset DatasetConfig `yaml:"dataset"`

	resolved bool
}

// DefaultRunConfig mirrors the reference PinSAGE configuration, scaled
// to the synthetic dataset.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Arch:                  Arch3,
		Pipeline:              false,
		CachePolicy:           CacheByHeuristic,
		CachePercentage:       0.25,
		MaxSamplingJobs:       10,
		MaxCopyingJobs:        2,
		RandomWalkLength:      3,
		RandomWalkRestartProb: 0.5,
		NumRandomWalk:         4,
		NumNeighbor:           5,
		NumLayer:              3,
		NumEpoch:              10,
		BatchSize:             512,
		NumHidden:             256,
		LearningRate:          0.003,
		Dropout:               0.5,
		WarmupEpochs:          1,
		Seed:                  1,
		Dataset: DatasetConfig{
			NumNodes:   20000,
			AvgDegree:  16,
			FeatureDim: 128,
			NumClasses: 32,
		},
	}
}

// LoadRunConfig reads a YAML file over the defaults.
func LoadRunConfig(path string) (*RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading run config %q", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing run config %q", path)
	}
	return cfg, nil
}

// Resolve derives the device contexts from the architecture, applies
// the architecture's pipelining restriction, and validates. It must be
// called exactly once, before the config is handed to any component.
func (c *RunConfig) Resolve() error {
	switch c.Arch {
	case Arch0:
		c.SamplerCtx = DeviceContext{DeviceCUDA, 0}
		c.TrainerCtx = DeviceContext{DeviceCUDA, 0}
	case Arch1:
		c.SamplerCtx = DeviceContext{DeviceCPU, 0}
		c.TrainerCtx = DeviceContext{DeviceCUDA, 0}
	case Arch2:
		c.SamplerCtx = DeviceContext{DeviceCUDA, 0}
		c.TrainerCtx = DeviceContext{DeviceCUDA, 0}
	case Arch3:
		c.SamplerCtx = DeviceContext{DeviceCUDA, 0}
		c.TrainerCtx = DeviceContext{DeviceCUDA, 1}
	default:
		return errors.Errorf("unknown architecture %d", c.Arch)
	}
	if c.Pipeline && !c.Arch.PipelineSupported() {
		c.Pipeline = false
	}
	c.resolved = true
	return c.Validate()
}

// Validate checks the configuration. A failure here is a fatal startup
// error: training must not begin.
func (c *RunConfig) Validate() error {
	if !c.resolved {
		return errors.Errorf("run config used before Resolve")
	}
	if c.CachePercentage < 0 || c.CachePercentage > 1 {
		return errors.Errorf("cache percentage %g outside [0, 1]", c.CachePercentage)
	}
	if c.Pipeline && (c.MaxSamplingJobs < 1 || c.MaxCopyingJobs < 1) {
		return errors.Errorf("pipelined mode needs positive queue depths, got sampling=%d copying=%d",
			c.MaxSamplingJobs, c.MaxCopyingJobs)
	}
	if c.NumLayer < 1 {
		return errors.Errorf("num_layer must be >= 1, got %d", c.NumLayer)
	}
	if c.NumEpoch < 1 || c.BatchSize < 1 || c.NumHidden < 1 {
		return errors.Errorf("invalid training dims: num_epoch=%d batch_size=%d num_hidden=%d",
			c.NumEpoch, c.BatchSize, c.NumHidden)
	}
	if c.WarmupEpochs < 0 {
		return errors.Errorf("warmup_epochs must be >= 0, got %d", c.WarmupEpochs)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be > 0, got %g", c.LearningRate)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}
	if c.RandomWalkLength < 1 || c.NumRandomWalk < 1 || c.NumNeighbor < 1 {
		return errors.Errorf("invalid random-walk parameters: length=%d walks=%d neighbors=%d",
			c.RandomWalkLength, c.NumRandomWalk, c.NumNeighbor)
	}
	if c.RandomWalkRestartProb < 0 || c.RandomWalkRestartProb >= 1 {
		return errors.Errorf("restart probability must be in [0, 1), got %g", c.RandomWalkRestartProb)
	}
	return nil
}

// TotalEpochs returns the number of epochs actually executed,
// warm-up included.
func (c *RunConfig) TotalEpochs() int { return c.NumEpoch + c.WarmupEpochs }
