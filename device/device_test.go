package device

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/lab47/accelsim/rohc"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	vec   *irq.Vec
	regs  *ring.Regs
	steps atomic.Int64
	fail  int64
}

func newFakeCore() *fakeCore {
	c := &fakeCore{vec: irq.NewVec("fake"), regs: ring.NewRegs(0)}
	c.vec.Alloc("fake0")
	return c
}

func (c *fakeCore) Step() error {
	n := c.steps.Add(1)
	if c.fail > 0 && n >= c.fail {
		return errors.New("boom")
	}
	return nil
}

func (c *fakeCore) IRQs() *irq.Vec { return c.vec }

func (c *fakeCore) Bus() regbus.Bus { return c.regs }

func TestHandle(t *testing.T) {
	log := logger.New(logger.Trace)

	t.Run("steps until aborted", func(t *testing.T) {
		r := require.New(t)

		core := newFakeCore()
		h, err := Simulate(log, core, -1)
		r.NoError(err)

		r.Eventually(func() bool { return core.steps.Load() > 10 }, time.Second, time.Millisecond)

		r.NoError(h.Abort())
		n := core.steps.Load()

		select {
		case <-h.Done():
		default:
			r.Fail("run loop still running after abort")
		}

		time.Sleep(5 * time.Millisecond)
		r.Equal(n, core.steps.Load())
	})

	t.Run("a step error stops the loop and is returned by abort", func(t *testing.T) {
		r := require.New(t)

		core := newFakeCore()
		core.fail = 3

		h, err := Simulate(log, core, -1)
		r.NoError(err)

		<-h.Done()
		r.Equal(int64(3), core.steps.Load())

		_, err = h.RegisterRead(ring.RegStatus)
		r.ErrorIs(err, ErrNotRunning)
		r.ErrorIs(h.RegisterWrite(ring.RegIntMask, 1), ErrNotRunning)
		r.ErrorIs(h.RegisterInterruptHandler(0, func(int) {}), ErrNotRunning)

		r.EqualError(h.Abort(), "boom")
		r.ErrorIs(h.Abort(), ErrNotRunning)
	})

	t.Run("everything reports not running after abort", func(t *testing.T) {
		r := require.New(t)

		h, err := Simulate(log, newFakeCore(), -1)
		r.NoError(err)
		r.NoError(h.Abort())

		r.ErrorIs(h.Abort(), ErrNotRunning)

		_, err = h.RegisterRead(ring.RegStatus)
		r.ErrorIs(err, ErrNotRunning)
		r.ErrorIs(h.RegisterWrite(ring.RegIntMask, 1), ErrNotRunning)
		r.ErrorIs(h.RegisterInterruptHandler(0, func(int) {}), ErrNotRunning)
	})

	t.Run("pins to a cpu", func(t *testing.T) {
		r := require.New(t)

		h, err := Simulate(log, newFakeCore(), 0)
		r.NoError(err)
		r.NoError(h.Abort())

		_, err = Simulate(log, newFakeCore(), 1<<20)
		r.Error(err)
	})

	t.Run("checks interrupt lines and registers", func(t *testing.T) {
		r := require.New(t)

		h, err := Simulate(log, newFakeCore(), -1)
		r.NoError(err)
		defer h.Abort()

		r.Equal([]string{"fake0"}, h.Interrupts())
		r.ErrorIs(h.RegisterInterruptHandler(1, func(int) {}), irq.ErrNoSuchLine)

		_, err = h.RegisterRead(0x40)
		r.ErrorIs(err, regbus.ErrNoSuchRegister)
	})
}

func TestSimulateRohc(t *testing.T) {
	log := logger.New(logger.Trace)

	arena, err := mem.NewArena(0x10000, 1<<18)
	require.NoError(t, err)

	core := rohc.NewCore(rohc.Options{Log: log, Mem: arena})

	h, err := Simulate(log, core, -1)
	require.NoError(t, err)
	defer h.Abort()

	drv := rohc.NewDriver(h, arena)

	q, err := drv.Queue(0, 8)
	require.NoError(t, err)

	t.Run("raises the masked line from the run loop", func(t *testing.T) {
		r := require.New(t)

		var fired atomic.Int64
		r.NoError(h.RegisterInterruptHandler(0, func(line int) {
			fired.Add(1)
		}))
		defer h.RegisterInterruptHandler(0, nil)

		r.NoError(h.RegisterWrite(rohc.QueueAddr(0)+ring.RegIntMask, ring.StatusEmpty))
		r.Eventually(func() bool { return fired.Load() > 0 }, time.Second, time.Millisecond)

		r.NoError(h.RegisterWrite(rohc.QueueAddr(0)+ring.RegIntMask, 0))
	})

	t.Run("compresses and decompresses through the handle", func(t *testing.T) {
		r := require.New(t)

		pkt := []byte{0x45, 0x00, 0x00, 0x1c, 0x00, 0x01, 0x00, 0x00, 0x40, 0x11, 0x00, 0x00,
			0x0a, 0x00, 0x00, 0x01, 0x0a, 0x00, 0x00, 0x02, 0x30, 0x39, 0x30, 0x39, 0x00, 0x08, 0x00, 0x00}

		run := func(src []byte, decomp bool) []byte {
			in, err := drv.Buffer(src)
			r.NoError(err)
			out, err := drv.Buffer(make([]byte, 256))
			r.NoError(err)

			r.NoError(q.Submit(rohc.Op{Src: in, Dst: out, Decomp: decomp}))

			var st []rohc.Status
			r.Eventually(func() bool {
				got, err := q.Collect()
				if err != nil {
					return false
				}
				st = append(st, got...)
				return len(st) == 1
			}, time.Second, time.Millisecond)
			r.False(st[0].Err())

			b, err := out.Bytes(arena)
			r.NoError(err)
			return b[:st[0].Len()]
		}

		for range 6 {
			comp := run(pkt, false)
			r.Equal(pkt, run(comp, true))
		}
	})
}
