package xsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueueFIFO(t *testing.T) {
	q := NewBoundedQueue[int](4)
	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestBoundedQueueBlocksWhenFull(t *testing.T) {
	q := NewBoundedQueue[int](2)
	q.Push(0)
	q.Push(1)
	require.False(t, q.TryPush(2), "queue at capacity must reject TryPush")

	var pushed atomic.Bool
	go func() {
		q.Push(2) // Blocks until a Pop frees capacity.
		pushed.Store(true)
	}()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, pushed.Load(), "Push must block while full")
	assert.Equal(t, 2, q.Len())

	_, ok := q.Pop()
	require.True(t, ok)
	assert.Eventually(t, pushed.Load, time.Second, time.Millisecond)
}

func TestBoundedQueueNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	q := NewBoundedQueue[int](capacity)

	// Flood with producers much faster than the consumer.
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Push(p*50 + i)
			}
		}(p)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := 0
	for seen < 200 {
		assert.LessOrEqual(t, q.Len(), capacity)
		if _, ok := q.TryPop(); ok {
			seen++
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	<-done
}

func TestBoundedQueueCloseDrains(t *testing.T) {
	q := NewBoundedQueue[string](2)
	q.Push("a")
	q.Push("b")
	q.Close()
	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = q.Pop()
	assert.False(t, ok, "closed and drained queue must report ok=false")
}

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())
	l.Trigger()
	l.Trigger() // Idempotent.
	assert.True(t, l.Test())
	l.Wait() // Must not block.
	select {
	case <-l.WaitChan():
	default:
		t.Fatal("WaitChan must be closed after Trigger")
	}
}
