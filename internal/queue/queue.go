// Package queue implements the bounded multi-producer/multi-consumer
// handoff of buffer handles between the NetRx and FileWriter stages.
package queue

import (
	"sync/atomic"

	"github.com/ioforge/iodme/internal/buffer"
)

type cell struct {
	sequence atomic.Uint64
	data     *buffer.Buffer
}

// Queue is a bounded MPMC ring of buffer handles. Push and Pop never
// block and never allocate on the hot path. Capacity is rounded up to
// the next power of two at construction.
//
// This is Dmitry Vyukov's bounded MPMC queue algorithm: each slot
// carries its own sequence counter, so producers and consumers make
// progress independently without a shared lock.
type Queue struct {
	mask  uint64
	cells []cell

	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
}

// New creates a queue with at least the given capacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	capacity = nextPowerOfTwo(capacity)

	q := &Queue{
		mask:  uint64(capacity - 1),
		cells: make([]cell, capacity),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

func nextPowerOfTwo(n int) int {
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// Push enqueues a buffer handle. Returns false without blocking if the
// queue is at capacity.
func (q *Queue) Push(b *buffer.Buffer) bool {
	pos := q.enqueuePos.Load()
	for {
		c := &q.cells[pos&q.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.data = b
				c.sequence.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
			pos = q.enqueuePos.Load()
		}
	}
}

// Pop dequeues a buffer handle. Returns false without blocking if the
// queue is empty.
func (q *Queue) Pop() (*buffer.Buffer, bool) {
	pos := q.dequeuePos.Load()
	for {
		c := &q.cells[pos&q.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if q.dequeuePos.CompareAndSwap(pos, pos+1) {
				b := c.data
				c.data = nil
				c.sequence.Store(pos + q.mask + 1)
				return b, true
			}
		case diff < 0:
			return nil, false
		default:
			pos = q.dequeuePos.Load()
		}
	}
}

// Cap returns the queue's fixed capacity (rounded up to a power of two).
func (q *Queue) Cap() int { return len(q.cells) }
