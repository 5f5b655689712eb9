package ring

import (
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/pkg/errors"
)

var ErrRingFull = errors.New("ring has no room for requests")

// Sw is the driver side of a ring. It owns the request and response arrays
// in the arena and only reaches ring state through the register bus.
type Sw struct {
	bus  regbus.Bus
	base uint64
	mem  *mem.Arena

	size     uint32
	reqBase  uint64
	respBase uint64
	reqSize  int
	respSize int
}

type SwConfig struct {
	// Base is the word address of the ring's register block on the bus.
	Base     uint64
	Size     uint32
	ReqSize  int
	RespSize int
	// NoResponses leaves the response base at zero.
	NoResponses bool
	HighWater   uint32
	LowWater    uint32
	IntMask     uint32
	// MemSize, when set, is written to the ring's backing-memory size word.
	MemSize uint32
}

// NewSw allocates the ring arrays, programs the ring registers and enables
// the ring.
func NewSw(bus regbus.Bus, arena *mem.Arena, cfg SwConfig) (*Sw, error) {
	if cfg.Size == 0 || cfg.Size > lowMask {
		return nil, errors.Errorf("invalid ring size %d", cfg.Size)
	}

	s := &Sw{
		bus:      bus,
		base:     cfg.Base,
		mem:      arena,
		size:     cfg.Size,
		reqSize:  cfg.ReqSize,
		respSize: cfg.RespSize,
	}

	var err error
	s.reqBase, err = arena.Alloc(int(cfg.Size)*cfg.ReqSize, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating request array")
	}

	if !cfg.NoResponses {
		s.respBase, err = arena.Alloc(int(cfg.Size)*cfg.RespSize, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "allocating response array")
		}
	}

	writes := []struct {
		off uint64
		val uint64
	}{
		{RegCtrl, 0},
		{RegReqBaseLo, s.reqBase & 0xffffffff},
		{RegReqBaseHi, s.reqBase >> 32},
		{RegRespBaseLo, s.respBase & 0xffffffff},
		{RegRespBaseHi, s.respBase >> 32},
		{RegSize, uint64(cfg.Size)},
		{RegHighWater, uint64(cfg.HighWater)},
		{RegLowWater, uint64(cfg.LowWater)},
		{RegIntMask, uint64(cfg.IntMask)},
	}
	if cfg.MemSize != 0 {
		writes = append(writes, struct {
			off uint64
			val uint64
		}{RegMemSize, uint64(cfg.MemSize)})
	}

	for _, w := range writes {
		if err := bus.WriteReg(s.base+w.off, w.val); err != nil {
			return nil, errors.Wrapf(err, "programming ring at %#x", s.base)
		}
	}

	if err := s.SetEnabled(true); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Sw) read(off uint64) (uint32, error) {
	v, err := s.bus.ReadReg(s.base + off)
	return uint32(v), err
}

func (s *Sw) write(off uint64, v uint32) error {
	return s.bus.WriteReg(s.base+off, uint64(v))
}

func (s *Sw) SetEnabled(v bool) error {
	var ctrl uint32
	if v {
		ctrl = CtrlEnable
	}
	return s.write(RegCtrl, ctrl)
}

func (s *Sw) SetIntMask(mask uint32) error {
	return s.write(RegIntMask, mask)
}

func (s *Sw) Size() uint32 { return s.size }

func (s *Sw) Memory() *mem.Arena { return s.mem }

// State reads the pointers and control word through the bus. The words are
// read one at a time and may not form a consistent snapshot.
func (s *Sw) State() (State, error) {
	var st State
	st.Size = s.size

	c, err := s.read(RegConsumer)
	if err != nil {
		return st, err
	}
	p, err := s.read(RegProducer)
	if err != nil {
		return st, err
	}
	ctrl, err := s.read(RegCtrl)
	if err != nil {
		return st, err
	}

	st.Consumer, st.Producer = Ptr(c), Ptr(p)
	st.Enabled = ctrl&CtrlEnable != 0
	return st, nil
}

func (s *Sw) Status() (uint32, error) {
	return s.read(RegStatus)
}

func (s *Sw) Producer() (Ptr, error) {
	p, err := s.read(RegProducer)
	return Ptr(p), err
}

func (s *Sw) Consumer() (Ptr, error) {
	c, err := s.read(RegConsumer)
	return Ptr(c), err
}

func (s *Sw) ReqAddr(p Ptr) uint64 {
	return s.reqBase + uint64(p.Low())*uint64(s.reqSize)
}

func (s *Sw) RespAddr(p Ptr) (uint64, bool) {
	if s.respBase == 0 {
		return 0, false
	}
	return s.respBase + uint64(p.Low())*uint64(s.respSize), true
}

func (s *Sw) Request(p Ptr, buf []byte) error {
	return s.mem.ReadAt(buf[:s.reqSize], s.ReqAddr(p))
}

func (s *Sw) SetRequest(p Ptr, req []byte) error {
	return s.mem.WriteAt(req[:s.reqSize], s.ReqAddr(p))
}

// Response reads the response slot for p into buf.
func (s *Sw) Response(p Ptr, buf []byte) error {
	addr, ok := s.RespAddr(p)
	if !ok {
		return errors.New("ring has responses disabled")
	}
	return s.mem.ReadAt(buf[:s.respSize], addr)
}

// AdvanceProducer publishes n more entries to the device.
func (s *Sw) AdvanceProducer(n uint32) error {
	p, err := s.Producer()
	if err != nil {
		return err
	}
	return s.write(RegProducer, uint32(Incr(p, n, s.size)))
}

// PushRequests writes reqs at the producer pointer and publishes them.
func (s *Sw) PushRequests(reqs ...[]byte) error {
	st, err := s.State()
	if err != nil {
		return err
	}

	if st.ProducerValids() < uint32(len(reqs)) {
		return errors.Wrapf(ErrRingFull, "%d free, %d requested", st.ProducerValids(), len(reqs))
	}

	for i, req := range reqs {
		if err := s.SetRequest(Incr(st.Producer, uint32(i), s.size), req); err != nil {
			return err
		}
	}

	return s.write(RegProducer, uint32(Incr(st.Producer, uint32(len(reqs)), s.size)))
}
