package ring

import (
	"testing"

	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPtr(t *testing.T) {
	t.Run("incr flips the round exactly at the wrap", func(t *testing.T) {
		r := require.New(t)

		p := Incr(MakePtr(false, 2), 1, 4)
		r.Equal(MakePtr(false, 3), p)

		p = Incr(p, 1, 4)
		r.Equal(MakePtr(true, 0), p)

		p = Incr(p, 6, 4)
		r.Equal(MakePtr(false, 2), p)
	})

	t.Run("decr undoes incr", func(t *testing.T) {
		r := require.New(t)

		for size := uint32(1); size < 9; size++ {
			for low := uint32(0); low < size; low++ {
				for _, round := range []bool{false, true} {
					for n := uint32(0); n <= size; n++ {
						p := MakePtr(round, low)
						r.Equal(p, Decr(Incr(p, n, size), n, size))
					}
				}
			}
		}
	})
}

func TestState(t *testing.T) {
	t.Run("full and empty are never both true", func(t *testing.T) {
		r := require.New(t)

		for size := uint32(1); size < 9; size++ {
			for c := uint32(0); c < size; c++ {
				for p := uint32(0); p < size; p++ {
					for _, cr := range []bool{false, true} {
						for _, pr := range []bool{false, true} {
							s := State{
								Size:     size,
								Consumer: MakePtr(cr, c),
								Producer: MakePtr(pr, p),
								Enabled:  true,
							}

							// the occupancy formula only holds for reachable states
							if cr != pr && c < p || cr == pr && c > p {
								continue
							}

							r.False(s.Full() && s.Empty())
							r.Equal(size, s.ConsumerValids()+s.ProducerValids())
						}
					}
				}
			}
		}
	})

	t.Run("a disabled ring reports no occupancy", func(t *testing.T) {
		r := require.New(t)

		s := State{Size: 4, Consumer: MakePtr(false, 0), Producer: MakePtr(false, 2)}
		r.Equal(uint32(0), s.ConsumerValids())
		r.Equal(uint32(0), s.ProducerValids())
		r.False(s.Empty())
		r.False(s.Full())
	})
}

func TestRegs(t *testing.T) {
	enabled := func(size uint32) *Regs {
		regs := NewRegs(0)
		regs.WriteReg(RegSize, uint64(size))
		regs.WriteReg(RegCtrl, CtrlEnable)
		return regs
	}

	t.Run("advancing both pointers returns to empty", func(t *testing.T) {
		r := require.New(t)

		regs := enabled(4)
		r.NotZero(regs.Status() & StatusEmpty)

		for n := uint32(1); n <= 4; n++ {
			regs.AdvanceProducer(n)
			r.Zero(regs.Status() & StatusEmpty)
			r.Equal(n, regs.ConsumerValids())

			regs.AdvanceConsumer(n)
			r.NotZero(regs.Status() & StatusEmpty)
			r.Zero(regs.Status() & StatusFull)
		}
	})

	t.Run("filling the ring sets full", func(t *testing.T) {
		r := require.New(t)

		regs := enabled(2)
		regs.AdvanceProducer(2)
		r.Equal(uint32(StatusFull), regs.Status()&(StatusFull|StatusEmpty))
		r.Equal(uint32(0), regs.ProducerValids())
	})

	t.Run("disabled rings ignore advances", func(t *testing.T) {
		r := require.New(t)

		regs := NewRegs(0)
		regs.WriteReg(RegSize, 4)
		regs.AdvanceProducer(1)
		r.Equal(Ptr(0), regs.Producer())
	})

	t.Run("watermarks drive almost full and almost empty", func(t *testing.T) {
		r := require.New(t)

		regs := enabled(8)
		regs.WriteReg(RegHighWater, 3)
		regs.WriteReg(RegLowWater, 1)

		regs.AdvanceProducer(1)
		r.Equal(uint32(StatusAlmostEmpty), regs.Status()&(StatusAlmostEmpty|StatusAlmostFull))

		regs.AdvanceProducer(2)
		r.Equal(uint32(StatusAlmostFull), regs.Status()&(StatusAlmostEmpty|StatusAlmostFull))
	})

	t.Run("interrupts pend only for unmasked bits", func(t *testing.T) {
		r := require.New(t)

		regs := enabled(4)
		r.Zero(regs.IRQPendings())

		regs.WriteReg(RegIntMask, StatusFull)
		r.Zero(regs.IRQPendings())

		regs.AdvanceProducer(4)
		r.Equal(uint32(StatusFull), regs.IRQPendings())
	})

	t.Run("bus access respects read-only words and holes", func(t *testing.T) {
		r := require.New(t)

		regs := enabled(4)
		r.NoError(regs.WriteReg(RegConsumer, 3))
		r.Equal(Ptr(0), regs.Consumer())

		_, err := regs.ReadReg(0xb)
		r.True(errors.Is(err, regbus.ErrNoSuchRegister))

		r.True(errors.Is(regs.WriteReg(0xe, 1), regbus.ErrNoSuchRegister))

		v, err := regs.ReadReg(RegStatus)
		r.NoError(err)
		// zero watermarks make an empty ring both almost empty and almost full
		r.Equal(uint64(StatusEmpty|StatusAlmostEmpty|StatusAlmostFull), v)
	})
}

func TestViews(t *testing.T) {
	setup := func(t *testing.T, size uint32, noResp bool) (*Regs, *Hw, *Sw) {
		arena, err := mem.NewArena(0x10000, 1<<16)
		require.NoError(t, err)

		regs := NewRegs(0)
		sw, err := NewSw(regs, arena, SwConfig{
			Size:        size,
			ReqSize:     8,
			RespSize:    4,
			NoResponses: noResp,
		})
		require.NoError(t, err)

		return regs, NewHw(regs, arena, 8, 4), sw
	}

	t.Run("software pushes are visible to hardware in order", func(t *testing.T) {
		r := require.New(t)

		regs, hw, sw := setup(t, 4, false)

		r.NoError(sw.PushRequests([]byte("aaaaaaaa"), []byte("bbbbbbbb"), []byte("cccccccc")))
		r.Equal(uint32(3), regs.ConsumerValids())

		it := hw.Entries()
		var got []string
		buf := make([]byte, 8)
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			r.True(e.HasResp)
			r.NoError(it.ReadReq(e, buf))
			got = append(got, string(buf))
		}
		r.Equal([]string{"aaaaaaaa", "bbbbbbbb", "cccccccc"}, got)

		r.Error(sw.PushRequests(make([]byte, 8), make([]byte, 8)))
		r.NoError(sw.PushRequests(make([]byte, 8)))
		r.NotZero(regs.Status() & StatusFull)
	})

	t.Run("pushing into a full ring fails", func(t *testing.T) {
		r := require.New(t)

		_, _, sw := setup(t, 2, false)
		r.NoError(sw.PushRequests(make([]byte, 8), make([]byte, 8)))

		err := sw.PushRequests(make([]byte, 8))
		r.True(errors.Is(err, ErrRingFull))
	})

	t.Run("responses land at the consumer slot", func(t *testing.T) {
		r := require.New(t)

		regs, hw, sw := setup(t, 2, false)
		r.NoError(sw.PushRequests(make([]byte, 8)))

		p := regs.Consumer()
		ok, err := hw.WriteResp([]byte{1, 2, 3, 4})
		r.NoError(err)
		r.True(ok)
		regs.AdvanceConsumer(1)

		buf := make([]byte, 4)
		r.NoError(sw.Response(p, buf))
		r.Equal([]byte{1, 2, 3, 4}, buf)
	})

	t.Run("responses are skipped when disabled", func(t *testing.T) {
		r := require.New(t)

		_, hw, sw := setup(t, 2, true)
		r.NoError(sw.PushRequests(make([]byte, 8)))

		ok, err := hw.WriteResp([]byte{1, 2, 3, 4})
		r.NoError(err)
		r.False(ok)
	})

	t.Run("wraps around many times", func(t *testing.T) {
		r := require.New(t)

		regs, hw, sw := setup(t, 3, false)
		buf := make([]byte, 8)

		for i := 0; i < 20; i++ {
			req := []byte{byte(i), 0, 0, 0, 0, 0, 0, 0}
			r.NoError(sw.PushRequests(req))

			r.NoError(hw.ReadReq(buf))
			r.Equal(req, buf)
			regs.AdvanceConsumer(1)

			r.NotZero(regs.Status() & StatusEmpty)
		}
	})
}
