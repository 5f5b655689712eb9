// Package medium provides the external side of a simulated NIC: the wire a
// device core receives frames from and transmits frames to.
package medium

import (
	"sync"
	"sync/atomic"
)

// Medium is polled by a device run loop and must never block.
type Medium interface {
	// Receive returns the next inbound frame, or false when nothing is
	// waiting. The caller owns the frame and must Discard it.
	Receive() (*Frame, bool)

	// Transmit hands frame to the wire. It returns false when the medium has
	// no transmit token; the caller keeps the frame and retries later.
	Transmit(frame []byte) bool
}

type Frame struct {
	Ref  atomic.Int32
	Data []byte
}

const FrameBufferSize = 2048

var frameBuffers = sync.Pool{
	New: func() any {
		return &Frame{
			Data: make([]byte, 0, FrameBufferSize),
		}
	},
}

// NewFrame copies data into a pooled frame with one reference.
func NewFrame(data []byte) *Frame {
	fb := frameBuffers.Get().(*Frame)
	fb.Data = append(fb.Data[:0], data...)
	fb.Ref.Store(1)
	return fb
}

func (f *Frame) IncRef(cnt int32) {
	f.Ref.Add(cnt)
}

// Discard drops a reference, returning the frame to the pool on the last one.
func (f *Frame) Discard() {
	if f.Ref.Add(-1) == 0 {
		frameBuffers.Put(f)
	}
}
