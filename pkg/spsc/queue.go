// Package spsc provides a bounded single-producer/single-consumer queue
// used to hand data from the sampling tick to the main loop.
//
// Push must only be called from the producer and Pop only from the consumer.
// Neither side blocks or allocates.
package spsc

import "sync/atomic"

// Queue is a fixed capacity ring with atomic head and tail.
type Queue[T any] struct {
	buf  []T
	mask uint32
	head atomic.Uint32 // next slot to pop, owned by consumer
	tail atomic.Uint32 // next slot to push, owned by producer

	dropped atomic.Uint32
}

// New creates a Queue holding at least size items, rounded up to a power of 2.
func New[T any](size int) *Queue[T] {
	n := uint32(1)
	for int(n) < size {
		n <<= 1
	}
	return &Queue[T]{buf: make([]T, n), mask: n - 1}
}

// Cap returns the capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Push enqueues v, it returns false and drops v if the queue is full.
func (q *Queue[T]) Push(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() >= uint32(len(q.buf)) {
		q.dropped.Add(1)
		return false
	}
	q.buf[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest item.
func (q *Queue[T]) Pop() (v T, ok bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return
	}
	v, ok = q.buf[head&q.mask], true
	q.head.Store(head + 1)
	return
}

// Dropped returns how many pushes were rejected since creation.
func (q *Queue[T]) Dropped() uint32 {
	return q.dropped.Load()
}
