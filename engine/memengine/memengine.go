// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

// Package memengine is an in-memory reference implementation of the
// sampling-caching runtime: a synthetic CSR graph, random-walk-with-
// restart neighbor sampling with visit-count edge weights, and an LRU
// feature cache in front of a float16-compressed feature store.
//
// It stands in for the device-resident runtime of a real deployment,
// which would implement engine.Runtime over accelerator memory.
package memengine

import (
	"fmt"
	"sort"
	"sync/atomic"

	humanize "github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	exprand "golang.org/x/exp/rand"

	"github.com/samflow/samflow/engine"
	"github.com/samflow/samflow/graph"
	"github.com/samflow/samflow/types/mat32"
)

// Engine implements engine.Runtime over a synthetic in-memory graph.
type Engine struct {
	cfg *engine.RunConfig

	// CSR adjacency.
	indptr  []int64
	indices []int32

	// Features are stored float16-compressed and decoded on gather;
	// the cache holds decoded rows for the hottest nodes.
	featDim int
	featF16 []uint16
	labels  []int32

	cache    *lru.Cache[int32, []float32]
	accesses atomic.Int64
	hits     atomic.Int64

	stepsPerEpoch int
}

var _ engine.Runtime = (*Engine)(nil)

// New returns an unconfigured Engine.
func New() *Engine { return &Engine{} }

// Configure implements engine.Runtime: it synthesizes the graph,
// compresses the feature store and warms the cache per the policy.
func (e *Engine) Configure(cfg *engine.RunConfig) error {
	if e.cfg != nil {
		return errors.Errorf("memengine: Configure called twice")
	}
	if err := cfg.Validate(); err != nil {
		return errors.WithMessage(err, "memengine")
	}
	ds := cfg.Dataset
	if ds.NumNodes < 1 || ds.AvgDegree < 1 || ds.FeatureDim < 1 || ds.NumClasses < 2 {
		return errors.Errorf("memengine: invalid dataset config %+v", ds)
	}
	if ds.NumNodes < cfg.BatchSize {
		return errors.Errorf("memengine: batch size %d exceeds node count %d", cfg.BatchSize, ds.NumNodes)
	}
	e.cfg = cfg
	e.featDim = ds.FeatureDim
	e.stepsPerEpoch = ds.NumNodes / cfg.BatchSize

	rng := exprand.New(exprand.NewSource(cfg.Seed))
	e.indptr = make([]int64, ds.NumNodes+1)
	e.indices = make([]int32, 0, ds.NumNodes*ds.AvgDegree)
	for v := 0; v < ds.NumNodes; v++ {
		degree := 1 + rng.Intn(2*ds.AvgDegree-1)
		for d := 0; d < degree; d++ {
			u := int32(rng.Intn(ds.NumNodes))
			if int(u) == v {
				continue
			}
			e.indices = append(e.indices, u)
		}
		e.indptr[v+1] = int64(len(e.indices))
	}

	e.featF16 = make([]uint16, ds.NumNodes*ds.FeatureDim)
	for i := range e.featF16 {
		e.featF16[i] = float16.Fromfloat32(float32(rng.Float64()*2 - 1)).Bits()
	}
	e.labels = make([]int32, ds.NumNodes)
	for i := range e.labels {
		e.labels[i] = int32(rng.Intn(ds.NumClasses))
	}

	cacheSize := int(cfg.CachePercentage * float64(ds.NumNodes))
	if cacheSize > 0 {
		cache, err := lru.New[int32, []float32](cacheSize)
		if err != nil {
			return errors.Wrap(err, "memengine: building feature cache")
		}
		e.cache = cache
		e.warmCache(cacheSize)
	}
	return nil
}

// warmCache pre-populates the cache with the nodes the policy expects
// to be hottest. CacheRandom leaves it cold.
func (e *Engine) warmCache(size int) {
	if e.cfg.CachePolicy == engine.CacheRandom {
		return
	}
	n := len(e.labels)
	order := make([]int32, n)
	for i := range order {
		order[i] = int32(i)
	}
	score := func(v int32) int64 {
		deg := e.indptr[v+1] - e.indptr[v]
		if e.cfg.CachePolicy == engine.CacheByDegree {
			return deg
		}
		// Heuristic: random walks touch a node roughly in proportion
		// to its degree plus its neighborhood's out-degrees.
		var nbr int64
		for _, u := range e.neighbors(v) {
			nbr += e.indptr[u+1] - e.indptr[u]
		}
		return deg + nbr/int64(max(deg, 1))
	}
	sort.Slice(order, func(i, j int) bool { return score(order[i]) > score(order[j]) })
	for _, v := range order[:size] {
		e.cache.Add(v, e.decodeFeature(v))
	}
}

func (e *Engine) neighbors(v int32) []int32 {
	return e.indices[e.indptr[v]:e.indptr[v+1]]
}

func (e *Engine) decodeFeature(v int32) []float32 {
	row := make([]float32, e.featDim)
	base := int(v) * e.featDim
	for j := range row {
		row[j] = float16.Float16(e.featF16[base+j]).Float32()
	}
	return row
}

// StepsPerEpoch implements engine.Runtime.
func (e *Engine) StepsPerEpoch() int { return e.stepsPerEpoch }

// FeatureDim implements engine.Runtime.
func (e *Engine) FeatureDim() int { return e.featDim }

// NumClasses implements engine.Runtime.
func (e *Engine) NumClasses() int { return e.cfg.Dataset.NumClasses }

// Sample implements engine.Runtime: random-walk-with-restart sampling
// from the step's seed nodes, layer by layer outward. Deterministic for
// a given (config seed, epoch, step).
func (e *Engine) Sample(epoch, step int) (*engine.SampleTask, error) {
	if e.cfg == nil {
		return nil, errors.Errorf("memengine: Sample before Configure")
	}
	if step < 0 || step >= e.stepsPerEpoch {
		return nil, errors.Errorf("memengine: step %d out of range [0, %d)", step, e.stepsPerEpoch)
	}
	key := uint64(epoch)*uint64(e.stepsPerEpoch) + uint64(step)

	seeds := e.seedsFor(epoch, step)
	rng := exprand.New(exprand.NewSource(e.cfg.Seed ^ (key+1)*0x9e3779b97f4a7c15))

	// Build from the seed (last) block outward, then reverse so the
	// widest block comes first.
	blocks := make([]*graph.BlockDescriptor, 0, e.cfg.NumLayer)
	cur := seeds
	for layer := 0; layer < e.cfg.NumLayer; layer++ {
		var b *graph.BlockDescriptor
		b, cur = e.sampleBlock(cur, rng)
		blocks = append(blocks, b)
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return &engine.SampleTask{
		Key:        key,
		Epoch:      epoch,
		Step:       step,
		Blocks:     blocks,
		InputNodes: cur,
		SeedNodes:  seeds,
	}, nil
}

// seedsFor returns the step's seed nodes: one per-epoch deterministic
// permutation of all nodes, chunked by batch size.
func (e *Engine) seedsFor(epoch, step int) []int32 {
	rng := exprand.New(exprand.NewSource(e.cfg.Seed + uint64(epoch)*0x517cc1b7))
	n := len(e.labels)
	perm := rng.Perm(n)
	seeds := make([]int32, e.cfg.BatchSize)
	for i := range seeds {
		seeds[i] = int32(perm[step*e.cfg.BatchSize+i])
	}
	return seeds
}

// sampleBlock samples one bipartite block with dst = the given nodes,
// preserving the destination-prefix ordering of the source set. It also
// returns the source node ids, the next (wider) layer's destinations.
func (e *Engine) sampleBlock(dst []int32, rng *exprand.Rand) (*graph.BlockDescriptor, []int32) {
	nodes := make([]int32, len(dst), len(dst)*(e.cfg.NumNeighbor+1))
	copy(nodes, dst)
	local := make(map[int32]int32, len(dst)*2)
	for i, v := range dst {
		local[v] = int32(i)
	}

	b := &graph.BlockDescriptor{NumDst: len(dst)}
	for d, v := range dst {
		for _, nb := range e.walkNeighbors(v, rng) {
			idx, ok := local[nb.node]
			if !ok {
				idx = int32(len(nodes))
				local[nb.node] = idx
				nodes = append(nodes, nb.node)
			}
			b.EdgeSrc = append(b.EdgeSrc, idx)
			b.EdgeDst = append(b.EdgeDst, int32(d))
			b.EdgeWeight = append(b.EdgeWeight, float32(nb.count))
		}
	}
	b.NumSrc = len(nodes)
	return b, nodes
}

type weightedNeighbor struct {
	node  int32
	count int
}

// walkNeighbors runs the configured random walks with restart from v
// and keeps the top NumNeighbor visited nodes by visit count. A node
// with no outgoing edges yields no neighbors (and so a zero in-degree
// destination downstream).
func (e *Engine) walkNeighbors(v int32, rng *exprand.Rand) []weightedNeighbor {
	counts := make(map[int32]int)
	for w := 0; w < e.cfg.NumRandomWalk; w++ {
		cur := v
		for s := 0; s < e.cfg.RandomWalkLength; s++ {
			if rng.Float64() < e.cfg.RandomWalkRestartProb {
				cur = v
				continue
			}
			adj := e.neighbors(cur)
			if len(adj) == 0 {
				cur = v
				continue
			}
			cur = adj[rng.Intn(len(adj))]
			if cur != v {
				counts[cur]++
			}
		}
	}
	top := make([]weightedNeighbor, 0, len(counts))
	for node, count := range counts {
		top = append(top, weightedNeighbor{node, count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].count != top[j].count {
			return top[i].count > top[j].count
		}
		return top[i].node < top[j].node
	})
	if len(top) > e.cfg.NumNeighbor {
		top = top[:e.cfg.NumNeighbor]
	}
	return top
}

// Copy implements engine.Runtime: it gathers features (through the
// cache) and labels and assembles the validated Batch.
func (e *Engine) Copy(task *engine.SampleTask) (*graph.Batch, error) {
	if e.cfg == nil {
		return nil, errors.Errorf("memengine: Copy before Configure")
	}
	features := mat32.New(len(task.InputNodes), e.featDim)
	for i, v := range task.InputNodes {
		copy(features.Row(i), e.gatherFeature(v))
	}
	labels := make([]int32, len(task.SeedNodes))
	for i, v := range task.SeedNodes {
		labels[i] = e.labels[v]
	}
	batch := &graph.Batch{
		Key:      task.Key,
		Epoch:    task.Epoch,
		Step:     task.Step,
		Blocks:   task.Blocks,
		Features: features,
		Labels:   labels,
	}
	if err := batch.Validate(); err != nil {
		return nil, errors.WithMessage(err, "memengine: assembled an invalid batch")
	}
	return batch, nil
}

func (e *Engine) gatherFeature(v int32) []float32 {
	e.accesses.Add(1)
	if e.cache != nil {
		if row, ok := e.cache.Get(v); ok {
			e.hits.Add(1)
			return row
		}
	}
	row := e.decodeFeature(v)
	if e.cache != nil {
		e.cache.Add(v, row)
	}
	return row
}

// NodeAccessReport implements engine.Runtime.
func (e *Engine) NodeAccessReport() string {
	accesses := e.accesses.Load()
	hits := e.hits.Load()
	rate := 0.0
	if accesses > 0 {
		rate = float64(hits) / float64(accesses)
	}
	return fmt.Sprintf("node accesses %s, cache hits %s (%.1f%% hit rate)",
		humanize.Comma(accesses), humanize.Comma(hits), 100*rate)
}

// Shutdown implements engine.Runtime.
func (e *Engine) Shutdown() {
	if e.cache != nil {
		e.cache.Purge()
	}
	e.indptr, e.indices, e.featF16, e.labels = nil, nil, nil, nil
}
