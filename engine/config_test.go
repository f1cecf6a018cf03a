package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsResolve(t *testing.T) {
	cfg := DefaultRunConfig()
	require.NoError(t, cfg.Resolve())
	assert.Equal(t, DeviceContext{DeviceCUDA, 0}, cfg.SamplerCtx)
	assert.Equal(t, DeviceContext{DeviceCUDA, 1}, cfg.TrainerCtx)
}

func TestArch1ForcesNonPipelined(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Arch = Arch1
	cfg.Pipeline = true
	require.NoError(t, cfg.Resolve())
	assert.False(t, cfg.Pipeline, "arch1 does not support pipelining")
	assert.Equal(t, DeviceCPU, cfg.SamplerCtx.Kind)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	for name, mutate := range map[string]func(*RunConfig){
		"cache_percentage": func(c *RunConfig) { c.CachePercentage = 1.5 },
		"queue_depth":      func(c *RunConfig) { c.Pipeline = true; c.MaxCopyingJobs = 0 },
		"num_layer":        func(c *RunConfig) { c.NumLayer = 0 },
		"learning_rate":    func(c *RunConfig) { c.LearningRate = 0 },
		"dropout":          func(c *RunConfig) { c.Dropout = 1 },
		"restart_prob":     func(c *RunConfig) { c.RandomWalkRestartProb = 1 },
		"warmup":           func(c *RunConfig) { c.WarmupEpochs = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			mutate(cfg)
			assert.Error(t, cfg.Resolve())
		})
	}
}

func TestValidateRequiresResolve(t *testing.T) {
	cfg := DefaultRunConfig()
	assert.ErrorContains(t, cfg.Validate(), "Resolve")
}

func TestLoadRunConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
arch: arch1
pipeline: true
num_layer: 2
batch_size: 64
dataset:
  num_nodes: 1000
`), 0o644))
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Arch1, cfg.Arch)
	assert.Equal(t, 2, cfg.NumLayer)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 1000, cfg.Dataset.NumNodes)
	assert.Equal(t, 256, cfg.NumHidden, "unset fields keep defaults")

	require.NoError(t, cfg.Resolve())
	assert.False(t, cfg.Pipeline)
}

func TestArchTypeString(t *testing.T) {
	a, err := ArchTypeString("arch2")
	require.NoError(t, err)
	assert.Equal(t, Arch2, a)
	_, err = ArchTypeString("arch9")
	assert.Error(t, err)
	assert.Equal(t, "arch3", Arch3.String())
}

func TestTotalEpochs(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.NumEpoch = 4
	cfg.WarmupEpochs = 1
	assert.Equal(t, 5, cfg.TotalEpochs())
}
