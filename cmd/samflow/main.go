// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// samflow trains a PinSAGE classifier over the in-memory reference
// runtime. Configuration layers are defaults, then the optional YAML
// file, then explicitly set flags.
package main

import (
	goflag "flag"
	"os"

	"github.com/janpfeifer/must"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/samflow/samflow/engine"
	"github.com/samflow/samflow/engine/memengine"
	"github.com/samflow/samflow/telemetry"
	"github.com/samflow/samflow/train"
)

var flags = struct {
	config      string
	arch        string
	cachePolicy string
	tracePath   string
	noProgress  bool
}{}

func main() {
	cmd := &cobra.Command{
		Use:           "samflow",
		Short:         "Train a PinSAGE graph neural network with a sampling-caching-pipelining runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cfg := engine.DefaultRunConfig()

	f := cmd.Flags()
	f.StringVar(&flags.config, "config", "", "YAML run configuration file")
	f.StringVar(&flags.arch, "arch", cfg.Arch.String(), "execution architecture (arch0..arch3)")
	f.Bool("pipeline", cfg.Pipeline, "overlap sampling and copying with training")
	f.StringVar(&flags.cachePolicy, "cache-policy", cfg.CachePolicy.String(), "feature cache warm-up policy (degree, heuristic, random)")
	f.Float64("cache-percentage", cfg.CachePercentage, "fraction of nodes held in the feature cache")
	f.Int("max-sampling-jobs", cfg.MaxSamplingJobs, "pipelined mode: sampling queue depth")
	f.Int("max-copying-jobs", cfg.MaxCopyingJobs, "pipelined mode: copying queue depth")
	f.Int("random-walk-length", cfg.RandomWalkLength, "steps per random walk")
	f.Float64("random-walk-restart-prob", cfg.RandomWalkRestartProb, "restart probability per walk step")
	f.Int("num-random-walk", cfg.NumRandomWalk, "walks per destination node")
	f.Int("num-neighbor", cfg.NumNeighbor, "neighbors kept per destination node")
	f.Int("num-layer", cfg.NumLayer, "model depth (and sampled block count)")
	f.Int("num-epoch", cfg.NumEpoch, "training epochs (reported)")
	f.Int("warmup-epochs", cfg.WarmupEpochs, "extra epochs excluded from reported averages")
	f.Int("batch-size", cfg.BatchSize, "seed nodes per minibatch")
	f.Int("num-hidden", cfg.NumHidden, "hidden embedding width")
	f.Float64("lr", cfg.LearningRate, "Adam learning rate")
	f.Float64("dropout", cfg.Dropout, "dropout probability")
	f.Uint64("seed", cfg.Seed, "random seed")
	f.StringVar(&flags.tracePath, "trace", "", "write trace spans (JSON lines) to this file")
	f.BoolVar(&flags.noProgress, "no-progress", false, "disable the progress bar")

	klogFlags := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(klogFlags)
	f.AddGoFlagSet(klogFlags)

	if err := cmd.Execute(); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	tel := telemetry.NewAggregator()
	loop, err := train.NewLoop(cfg, memengine.New(), tel)
	if err != nil {
		return err
	}
	loop.ShowProgress = !flags.noProgress
	if flags.tracePath != "" {
		traceFile := must.M1(os.Create(flags.tracePath))
		defer func() { must.M(traceFile.Close()) }()
		loop.TraceWriter = traceFile
	}

	_, err = loop.Run()
	return err
}

// buildConfig layers defaults, the YAML file and explicitly set flags,
// then resolves.
func buildConfig(cmd *cobra.Command) (*engine.RunConfig, error) {
	cfg := engine.DefaultRunConfig()
	if flags.config != "" {
		loaded, err := engine.LoadRunConfig(flags.config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	var err error
	if f.Changed("arch") {
		if cfg.Arch, err = engine.ArchTypeString(flags.arch); err != nil {
			return nil, err
		}
	}
	if f.Changed("cache-policy") {
		if cfg.CachePolicy, err = engine.CachePolicyString(flags.cachePolicy); err != nil {
			return nil, err
		}
	}
	if f.Changed("pipeline") {
		cfg.Pipeline = must.M1(f.GetBool("pipeline"))
	}
	if f.Changed("cache-percentage") {
		cfg.CachePercentage = must.M1(f.GetFloat64("cache-percentage"))
	}
	if f.Changed("max-sampling-jobs") {
		cfg.MaxSamplingJobs = must.M1(f.GetInt("max-sampling-jobs"))
	}
	if f.Changed("max-copying-jobs") {
		cfg.MaxCopyingJobs = must.M1(f.GetInt("max-copying-jobs"))
	}
	if f.Changed("random-walk-length") {
		cfg.RandomWalkLength = must.M1(f.GetInt("random-walk-length"))
	}
	if f.Changed("random-walk-restart-prob") {
		cfg.RandomWalkRestartProb = must.M1(f.GetFloat64("random-walk-restart-prob"))
	}
	if f.Changed("num-random-walk") {
		cfg.NumRandomWalk = must.M1(f.GetInt("num-random-walk"))
	}
	if f.Changed("num-neighbor") {
		cfg.NumNeighbor = must.M1(f.GetInt("num-neighbor"))
	}
	if f.Changed("num-layer") {
		cfg.NumLayer = must.M1(f.GetInt("num-layer"))
	}
	if f.Changed("num-epoch") {
		cfg.NumEpoch = must.M1(f.GetInt("num-epoch"))
	}
	if f.Changed("warmup-epochs") {
		cfg.WarmupEpochs = must.M1(f.GetInt("warmup-epochs"))
	}
	if f.Changed("batch-size") {
		cfg.BatchSize = must.M1(f.GetInt("batch-size"))
	}
	if f.Changed("num-hidden") {
		cfg.NumHidden = must.M1(f.GetInt("num-hidden"))
	}
	if f.Changed("lr") {
		cfg.LearningRate = must.M1(f.GetFloat64("lr"))
	}
	if f.Changed("dropout") {
		cfg.Dropout = must.M1(f.GetFloat64("dropout"))
	}
	if f.Changed("seed") {
		cfg.Seed = must.M1(f.GetUint64("seed"))
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}
