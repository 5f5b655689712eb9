// Package ringbuf is a bounded single-producer single-consumer FIFO used to
// hand frames between a medium's I/O goroutines and a device run loop.
package ringbuf

import (
	"sync/atomic"
)

type RingBuf[V any] struct {
	ring []V
	mask uint32

	// read and write count up forever; the slot is the count masked.
	read, write atomic.Uint32

	dropped atomic.Uint64
}

// NewRingBuf returns a buffer holding at least sz entries. The capacity is
// rounded up to a power of two.
func NewRingBuf[V any](sz int) *RingBuf[V] {
	n := uint32(1)
	for int(n) < sz {
		n <<= 1
	}

	return &RingBuf[V]{
		ring: make([]V, n),
		mask: n - 1,
	}
}

func (r *RingBuf[V]) Cap() int { return len(r.ring) }

func (r *RingBuf[V]) Len() int {
	return int(r.write.Load() - r.read.Load())
}

func (r *RingBuf[V]) Empty() bool { return r.Len() == 0 }

func (r *RingBuf[V]) Full() bool { return r.Len() == len(r.ring) }

func (r *RingBuf[V]) Pop() (V, bool) {
	rv := r.read.Load()
	if rv == r.write.Load() {
		var v V
		return v, false
	}

	slot := &r.ring[rv&r.mask]
	val := *slot

	var zero V
	*slot = zero

	r.read.Store(rv + 1)
	return val, true
}

func (r *RingBuf[V]) Front() (V, bool) {
	rv := r.read.Load()
	if rv == r.write.Load() {
		var v V
		return v, false
	}

	return r.ring[rv&r.mask], true
}

// Push appends v. When the buffer is full v is counted as dropped and Push
// reports false.
func (r *RingBuf[V]) Push(v V) bool {
	wv := r.write.Load()
	if wv-r.read.Load() == uint32(len(r.ring)) {
		r.dropped.Add(1)
		return false
	}

	r.ring[wv&r.mask] = v
	r.write.Store(wv + 1)
	return true
}

func (r *RingBuf[V]) Dropped() uint64 { return r.dropped.Load() }
