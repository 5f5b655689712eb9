package medium

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	ringbuf "github.com/lab47/accelsim/pkg/ring_buf"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
)

// Device is a blocking frame source and sink, such as a TAP interface or a
// capture file.
type Device interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
}

// Buffered turns a blocking Device into a Medium. One goroutine reads frames
// into a receive queue and another drains the transmit queue to the device.
type Buffered struct {
	log logger.Logger
	dev Device

	txbuf *ringbuf.RingBuf[*Frame]
	rxbuf *ringbuf.RingBuf[*Frame]

	txtick   *time.Ticker
	txcharge chan struct{}

	cancel func()
	rxDone chan struct{}
	rxErr  error

	txframes atomic.Int64
	txbytes  atomic.Int64
	rxframes atomic.Int64
	rxbytes  atomic.Int64
}

type Stats struct {
	TxFrames, TxBytes, TxDropped int64
	RxFrames, RxBytes, RxDropped int64
}

func NewBuffered(ctx context.Context, log logger.Logger, sz int, dev Device) *Buffered {
	ctx, cancel := context.WithCancel(ctx)

	bp := &Buffered{
		log:      log,
		dev:      dev,
		txbuf:    ringbuf.NewRingBuf[*Frame](sz),
		rxbuf:    ringbuf.NewRingBuf[*Frame](sz),
		txtick:   time.NewTicker(10 * time.Millisecond),
		txcharge: make(chan struct{}, 1),
		cancel:   cancel,
		rxDone:   make(chan struct{}),
	}

	go bp.pollTX(ctx)
	go bp.pollRX()

	return bp
}

func (b *Buffered) Receive() (*Frame, bool) {
	return b.rxbuf.Pop()
}

func (b *Buffered) Transmit(frame []byte) bool {
	if b.txbuf.Full() {
		return false
	}

	if !b.txbuf.Push(NewFrame(frame)) {
		return false
	}

	select {
	case b.txcharge <- struct{}{}:
	default:
	}

	return true
}

func (b *Buffered) pollRX() {
	defer close(b.rxDone)

	buf := make([]byte, 0x10000)

	for {
		n, err := b.dev.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.log.Info("medium input exhausted", "frames", b.rxframes.Load())
			} else {
				b.log.Error("error reading frame", "error", err)
				b.rxErr = err
			}
			return
		}

		if b.log.IsTrace() {
			b.log.Trace("received frame", "len", n)
		}

		b.rxframes.Add(1)
		b.rxbytes.Add(int64(n))

		fr := NewFrame(buf[:n])
		if !b.rxbuf.Push(fr) {
			fr.Discard()
		}
	}
}

func (b *Buffered) pollTX(ctx context.Context) {
	defer b.txtick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-b.txtick.C:
			//ok

		case <-b.txcharge:
			//ok
		}

		cnt := 0
		for {
			frame, ok := b.txbuf.Pop()
			if !ok {
				break
			}

			err := b.dev.WriteFrame(frame.Data)
			if err != nil {
				b.log.Error("error transmitting frame", "error", err)
			} else {
				b.txframes.Add(1)
				b.txbytes.Add(int64(len(frame.Data)))
			}

			frame.Discard()
			cnt++
		}

		if cnt > 0 {
			b.log.Trace("transmitted frames", "count", cnt)
		}
	}
}

// InputDone is closed once the device has no more frames to read.
func (b *Buffered) InputDone() <-chan struct{} {
	return b.rxDone
}

func (b *Buffered) Stats() Stats {
	return Stats{
		TxFrames:  b.txframes.Load(),
		TxBytes:   b.txbytes.Load(),
		TxDropped: int64(b.txbuf.Dropped()),
		RxFrames:  b.rxframes.Load(),
		RxBytes:   b.rxbytes.Load(),
		RxDropped: int64(b.rxbuf.Dropped()),
	}
}

// Close stops the transmit loop and closes the device if it can be closed,
// which also ends the receive loop. Frames still queued for transmit are
// lost.
func (b *Buffered) Close() error {
	b.cancel()

	if c, ok := b.dev.(io.Closer); ok {
		return c.Close()
	}

	return b.rxErr
}
