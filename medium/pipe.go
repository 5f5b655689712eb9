package medium

import (
	ringbuf "github.com/lab47/accelsim/pkg/ring_buf"
)

// Pipe is one end of a point-to-point link. Frames transmitted on one end
// are received on the other. Each direction is a single-producer
// single-consumer queue, so each end must be driven by one goroutine.
type Pipe struct {
	rx *ringbuf.RingBuf[*Frame]
	tx *ringbuf.RingBuf[*Frame]
}

// NewPipe returns both ends of a link that buffers up to sz frames in each
// direction.
func NewPipe(sz int) (*Pipe, *Pipe) {
	ab := ringbuf.NewRingBuf[*Frame](sz)
	ba := ringbuf.NewRingBuf[*Frame](sz)

	return &Pipe{rx: ba, tx: ab}, &Pipe{rx: ab, tx: ba}
}

// NewLoopback returns a medium that receives whatever it transmits.
func NewLoopback(sz int) *Pipe {
	q := ringbuf.NewRingBuf[*Frame](sz)
	return &Pipe{rx: q, tx: q}
}

func (p *Pipe) Receive() (*Frame, bool) {
	return p.rx.Pop()
}

func (p *Pipe) Transmit(frame []byte) bool {
	if p.tx.Full() {
		return false
	}

	fr := NewFrame(frame)
	if !p.tx.Push(fr) {
		fr.Discard()
		return false
	}

	return true
}

// Pending reports how many frames are waiting to be received.
func (p *Pipe) Pending() int {
	return p.rx.Len()
}
