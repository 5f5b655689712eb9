package medium

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/lab47/lsvd/logger"
	"github.com/mdlayher/ethernet"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T, dst, src string, payload string) []byte {
	d, err := net.ParseMAC(dst)
	require.NoError(t, err)
	s, err := net.ParseMAC(src)
	require.NoError(t, err)

	fr := ethernet.Frame{
		Destination: d,
		Source:      s,
		EtherType:   ethernet.EtherType(0xaefe),
		Payload:     []byte(payload),
	}

	data, err := fr.MarshalBinary()
	require.NoError(t, err)
	return data
}

type memDevice struct {
	in  chan []byte
	out chan []byte
}

func (m *memDevice) ReadFrame(buf []byte) (int, error) {
	data, ok := <-m.in
	if !ok {
		return 0, context.Canceled
	}
	return copy(buf, data), nil
}

func (m *memDevice) WriteFrame(frame []byte) error {
	m.out <- append([]byte(nil), frame...)
	return nil
}

func TestPipe(t *testing.T) {
	t.Run("frames cross to the other end", func(t *testing.T) {
		r := require.New(t)

		a, b := NewPipe(4)
		r.True(a.Transmit([]byte("hello")))

		_, ok := a.Receive()
		r.False(ok)

		fr, ok := b.Receive()
		r.True(ok)
		r.Equal("hello", string(fr.Data))
		fr.Discard()
	})

	t.Run("a full pipe has no transmit token", func(t *testing.T) {
		r := require.New(t)

		a, b := NewPipe(2)
		r.True(a.Transmit([]byte("1")))
		r.True(a.Transmit([]byte("2")))
		r.False(a.Transmit([]byte("3")))
		r.Equal(2, b.Pending())

		fr, _ := b.Receive()
		fr.Discard()
		r.True(a.Transmit([]byte("3")))
	})

	t.Run("loopback receives its own frames", func(t *testing.T) {
		r := require.New(t)

		lb := NewLoopback(4)
		r.True(lb.Transmit([]byte("echo")))

		fr, ok := lb.Receive()
		r.True(ok)
		r.Equal("echo", string(fr.Data))
	})

	t.Run("transmit copies the caller's buffer", func(t *testing.T) {
		r := require.New(t)

		lb := NewLoopback(4)
		buf := []byte("abc")
		r.True(lb.Transmit(buf))
		buf[0] = 'z'

		fr, _ := lb.Receive()
		r.Equal("abc", string(fr.Data))
	})
}

func TestBuffered(t *testing.T) {
	log := logger.New(logger.Trace)

	t.Run("moves frames both ways", func(t *testing.T) {
		r := require.New(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dev := &memDevice{in: make(chan []byte, 4), out: make(chan []byte, 4)}
		b := NewBuffered(ctx, log, 8, dev)

		dev.in <- []byte("inbound")

		var fr *Frame
		r.Eventually(func() bool {
			var ok bool
			fr, ok = b.Receive()
			return ok
		}, time.Second, time.Millisecond)
		r.Equal("inbound", string(fr.Data))

		r.True(b.Transmit([]byte("outbound")))

		select {
		case out := <-dev.out:
			r.Equal("outbound", string(out))
		case <-time.After(time.Second):
			r.Fail("frame never written")
		}

		close(dev.in)
		<-b.InputDone()

		st := b.Stats()
		r.Equal(int64(1), st.RxFrames)
		r.Equal(int64(1), st.TxFrames)
	})

	t.Run("replays and records captures", func(t *testing.T) {
		r := require.New(t)

		var capture bytes.Buffer
		rec, err := NewPcapDevice(nil, &capture)
		r.NoError(err)

		f1 := testFrame(t, "02:00:00:00:00:01", "02:00:00:00:00:02", "one")
		f2 := testFrame(t, "02:00:00:00:00:01", "02:00:00:00:00:02", "two")
		r.NoError(rec.WriteFrame(f1))
		r.NoError(rec.WriteFrame(f2))

		play, err := NewPcapDevice(bytes.NewReader(capture.Bytes()), nil)
		r.NoError(err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		b := NewBuffered(ctx, log, 8, play)
		<-b.InputDone()

		var got [][]byte
		for {
			fr, ok := b.Receive()
			if !ok {
				break
			}
			got = append(got, append([]byte(nil), fr.Data...))
			fr.Discard()
		}

		r.Equal([][]byte{f1, f2}, got)

		// transmit without an output capture is a no-op
		r.NoError(play.WriteFrame(f1))
	})
}

func TestSwitch(t *testing.T) {
	log := logger.New(logger.Trace)

	t.Run("floods unknown destinations and learns sources", func(t *testing.T) {
		r := require.New(t)

		sw := NewSwitch(log)
		a := sw.Attach("a", 8)
		b := sw.Attach("b", 8)
		c := sw.Attach("c", 8)

		r.True(a.Transmit(testFrame(t, "02:00:00:00:00:0b", "02:00:00:00:00:0a", "hi")))
		r.Equal(1, sw.Step())

		r.Equal(0, a.Pending())
		r.Equal(1, b.Pending())
		r.Equal(1, c.Pending())

		drain := func(p *Pipe) {
			for {
				fr, ok := p.Receive()
				if !ok {
					return
				}
				fr.Discard()
			}
		}
		drain(b)
		drain(c)

		r.True(b.Transmit(testFrame(t, "02:00:00:00:00:0a", "02:00:00:00:00:0b", "back")))
		sw.Step()

		r.Equal(1, a.Pending())
		r.Equal(0, c.Pending())

		fr, _ := a.Receive()
		var ef ethernet.Frame
		r.NoError(ef.UnmarshalBinary(fr.Data))
		r.Equal("back", string(ef.Payload[:4]))
	})

	t.Run("drops runt frames", func(t *testing.T) {
		r := require.New(t)

		sw := NewSwitch(log)
		a := sw.Attach("a", 8)
		b := sw.Attach("b", 8)

		r.True(a.Transmit([]byte{1, 2, 3}))
		sw.Step()

		r.Equal(0, b.Pending())
		r.Equal(uint64(1), sw.Ports()[0].Dropped)
	})

	t.Run("runs until cancelled", func(t *testing.T) {
		r := require.New(t)

		sw := NewSwitch(log)
		a := sw.Attach("a", 8)
		b := sw.Attach("b", 8)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() { done <- sw.Run(ctx) }()

		r.True(a.Transmit(testFrame(t, "ff:ff:ff:ff:ff:ff", "02:00:00:00:00:0a", "bcast")))
		r.Eventually(func() bool { return b.Pending() == 1 }, time.Second, time.Millisecond)

		cancel()
		r.ErrorIs(<-done, context.Canceled)
	})
}
