package pipeline

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samflow/samflow/engine"
	"github.com/samflow/samflow/graph"
	"github.com/samflow/samflow/telemetry"
	"github.com/samflow/samflow/types/mat32"
)

// stubRuntime produces trivial one-block batches with configurable
// latency jitter and failure injection.
type stubRuntime struct {
	steps int

	sampleCalls atomic.Int64
	copyCalls   atomic.Int64

	jitter       bool
	failSampleAt int64 // key whose Sample fails; -1 disables
	failCopyAt   int64 // key whose Copy fails; -1 disables
}

func newStubRuntime(steps int) *stubRuntime {
	return &stubRuntime{steps: steps, failSampleAt: -1, failCopyAt: -1}
}

func (s *stubRuntime) Configure(*engine.RunConfig) error { return nil }
func (s *stubRuntime) StepsPerEpoch() int                { return s.steps }
func (s *stubRuntime) FeatureDim() int                   { return 4 }
func (s *stubRuntime) NumClasses() int                   { return 2 }
func (s *stubRuntime) NodeAccessReport() string          { return "" }
func (s *stubRuntime) Shutdown()                         {}

func (s *stubRuntime) key(epoch, step int) uint64 {
	return uint64(epoch)*uint64(s.steps) + uint64(step)
}

func (s *stubRuntime) Sample(epoch, step int) (*engine.SampleTask, error) {
	s.sampleCalls.Add(1)
	if s.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	key := s.key(epoch, step)
	if int64(key) == s.failSampleAt {
		return nil, errors.Errorf("stub: sampling failed at key %d", key)
	}
	return &engine.SampleTask{
		Key:   key,
		Epoch: epoch,
		Step:  step,
		Blocks: []*graph.BlockDescriptor{{
			NumSrc:     2,
			NumDst:     1,
			EdgeSrc:    []int32{1},
			EdgeDst:    []int32{0},
			EdgeWeight: []float32{1},
		}},
		InputNodes: []int32{0, 1},
		SeedNodes:  []int32{0},
	}, nil
}

func (s *stubRuntime) Copy(task *engine.SampleTask) (*graph.Batch, error) {
	s.copyCalls.Add(1)
	if s.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	if int64(task.Key) == s.failCopyAt {
		return nil, errors.Errorf("stub: copy failed at key %d", task.Key)
	}
	return &graph.Batch{
		Key:      task.Key,
		Epoch:    task.Epoch,
		Step:     task.Step,
		Blocks:   task.Blocks,
		Features: mat32.New(2, 4),
		Labels:   []int32{0},
	}, nil
}

func testCoordinator(t *testing.T, rt *stubRuntime, pipelined bool) *Coordinator {
	t.Helper()
	cfg := engine.DefaultRunConfig()
	cfg.Pipeline = pipelined
	cfg.NumEpoch = 2
	cfg.WarmupEpochs = 0
	cfg.MaxSamplingJobs = 3
	cfg.MaxCopyingJobs = 2
	require.NoError(t, cfg.Resolve())
	c := New(cfg, rt, telemetry.NewAggregator())
	t.Cleanup(c.Close)
	return c
}

func TestKeysAreMonotonic(t *testing.T) {
	rt := newStubRuntime(5)
	c := testCoordinator(t, rt, false)
	var prev BatchKey
	for epoch := 0; epoch < 2; epoch++ {
		for step := 0; step < 5; step++ {
			key := c.Key(epoch, step)
			if epoch+step > 0 {
				assert.Equal(t, prev+1, key)
			}
			prev = key
		}
	}
}

func TestNonPipelinedDoesNotPrefetch(t *testing.T) {
	rt := newStubRuntime(4)
	c := testCoordinator(t, rt, false)
	for step := 0; step < 4; step++ {
		key, err := c.NextBatch(0, step)
		require.NoError(t, err)
		assert.Equal(t, int64(step+1), rt.sampleCalls.Load(),
			"each step samples exactly once, nothing runs ahead")
		batch, err := c.Materialize(key)
		require.NoError(t, err)
		assert.Equal(t, uint64(key), batch.Key)
	}
}

func TestMaterializeIsExactlyOnce(t *testing.T) {
	rt := newStubRuntime(4)
	c := testCoordinator(t, rt, false)
	key, err := c.NextBatch(0, 0)
	require.NoError(t, err)
	_, err = c.Materialize(key)
	require.NoError(t, err)
	_, err = c.Materialize(key)
	assert.Error(t, err)
}

func TestPipelinedDeliversInOrderUnderJitter(t *testing.T) {
	rt := newStubRuntime(6)
	rt.jitter = true
	c := testCoordinator(t, rt, true)
	for epoch := 0; epoch < 2; epoch++ {
		for step := 0; step < 6; step++ {
			key, err := c.NextBatch(epoch, step)
			require.NoError(t, err)
			batch, err := c.Materialize(key)
			require.NoError(t, err)
			assert.Equal(t, uint64(key), batch.Key)
			assert.Equal(t, epoch, batch.Epoch)
			assert.Equal(t, step, batch.Step)
		}
	}
}

func TestPipelinedPrefetchIsBounded(t *testing.T) {
	rt := newStubRuntime(100)
	c := testCoordinator(t, rt, true)
	_, err := c.NextBatch(0, 0)
	require.NoError(t, err)

	// With no consumer the stages must stall once both queues and the
	// two in-flight slots are full.
	bound := int64(c.cfg.MaxSamplingJobs + c.cfg.MaxCopyingJobs + 2)
	require.Eventually(t, func() bool {
		return rt.sampleCalls.Load() >= bound-1
	}, 2*time.Second, time.Millisecond, "pipeline never ramped up")
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, rt.sampleCalls.Load(), bound,
		"prefetch ran past the queue bounds")
}

func TestPipelinedSampleErrorSurfacesAtItsStep(t *testing.T) {
	rt := newStubRuntime(4)
	rt.failSampleAt = 2
	c := testCoordinator(t, rt, true)
	for step := 0; step < 2; step++ {
		key, err := c.NextBatch(0, step)
		require.NoError(t, err)
		_, err = c.Materialize(key)
		require.NoError(t, err)
	}
	key, err := c.NextBatch(0, 2)
	require.NoError(t, err, "pipelined NextBatch only hands out keys")
	_, err = c.Materialize(key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling failed")
}

func TestPipelinedCopyErrorSurfacesAtItsStep(t *testing.T) {
	rt := newStubRuntime(4)
	rt.failCopyAt = 1
	c := testCoordinator(t, rt, true)
	key, err := c.NextBatch(0, 0)
	require.NoError(t, err)
	_, err = c.Materialize(key)
	require.NoError(t, err)
	key, err = c.NextBatch(0, 1)
	require.NoError(t, err)
	_, err = c.Materialize(key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy failed")
}

func TestNonPipelinedSampleErrorSurfacesAtNextBatch(t *testing.T) {
	rt := newStubRuntime(4)
	rt.failSampleAt = 0
	c := testCoordinator(t, rt, false)
	_, err := c.NextBatch(0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling failed")
}

func TestCloseMidRunDoesNotHang(t *testing.T) {
	rt := newStubRuntime(1000)
	c := testCoordinator(t, rt, true)
	key, err := c.NextBatch(0, 0)
	require.NoError(t, err)
	_, err = c.Materialize(key)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close deadlocked with full queues")
	}
	c.Close() // idempotent
}

func TestPipelinedRecordsStageMetrics(t *testing.T) {
	rt := newStubRuntime(3)
	tel := telemetry.NewAggregator()
	cfg := engine.DefaultRunConfig()
	cfg.Pipeline = true
	cfg.NumEpoch = 1
	cfg.WarmupEpochs = 0
	require.NoError(t, cfg.Resolve())
	c := New(cfg, rt, tel)
	t.Cleanup(c.Close)

	key, err := c.NextBatch(0, 0)
	require.NoError(t, err)
	_, err = c.Materialize(key)
	require.NoError(t, err)

	assert.Equal(t, 2.0, tel.StepValue(0, 0, telemetry.MetricNumNodes))
	assert.Equal(t, 1.0, tel.StepValue(0, 0, telemetry.MetricNumSamples))
	assert.GreaterOrEqual(t, tel.StepValue(0, 0, telemetry.MetricSampleTime), 0.0)
}
