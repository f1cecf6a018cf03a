// Copyright 2026 The Samflow Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	. "github.com/gomlx/exceptions"
)

// BoundedQueue is a FIFO with a hard capacity: Push blocks while the
// queue is full, Pop blocks while it is empty. This blocking is the
// backpressure mechanism bounding in-flight pipeline work.
//
// It is safe for any number of concurrent producers and consumers,
// though the pipeline only ever uses one of each per queue.
type BoundedQueue[T any] struct {
	ch chan T
}

// NewBoundedQueue returns a queue holding at most capacity elements.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		Panicf("xsync.NewBoundedQueue: capacity must be >= 1, got %d", capacity)
	}
	return &BoundedQueue[T]{ch: make(chan T, capacity)}
}

// Push enqueues v, blocking while the queue is at capacity.
// Pushing to a closed queue panics: producers must stop before Close.
func (q *BoundedQueue[T]) Push(v T) {
	q.ch <- v
}

// TryPush enqueues v if there is capacity, returning whether it did.
func (q *BoundedQueue[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Pop dequeues the oldest element, blocking while the queue is empty.
// It returns ok=false only after the queue is closed and drained.
func (q *BoundedQueue[T]) Pop() (v T, ok bool) {
	v, ok = <-q.ch
	return
}

// TryPop dequeues without blocking. ok=false means empty (or closed and
// drained); it does not distinguish the two.
func (q *BoundedQueue[T]) TryPop() (v T, ok bool) {
	select {
	case v, ok = <-q.ch:
	default:
	}
	return
}

// Close marks the queue as finished. Pending and future Pops drain the
// remaining elements and then report ok=false.
func (q *BoundedQueue[T]) Close() {
	close(q.ch)
}

// Len returns the number of queued elements.
func (q *BoundedQueue[T]) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *BoundedQueue[T]) Cap() int { return cap(q.ch) }
