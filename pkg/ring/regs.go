package ring

import (
	"sync/atomic"

	"github.com/lab47/accelsim/pkg/regbus"
)

// Register word offsets inside one ring block.
const (
	RegReqBaseLo  = 0x0
	RegReqBaseHi  = 0x1
	RegRespBaseLo = 0x2
	RegRespBaseHi = 0x3
	RegSize       = 0x4
	RegHighWater  = 0x5
	RegLowWater   = 0x6
	RegConsumer   = 0x7
	RegProducer   = 0x8
	RegStatus     = 0x9
	RegIntMask    = 0xa
	RegCtrl       = 0xc
	RegMemSize    = 0xd

	RegsSize = 0x10
)

// Status and interrupt mask bits.
const (
	StatusFull        = 0x1
	StatusEmpty       = 0x2
	StatusAlmostFull  = 0x4
	StatusAlmostEmpty = 0x8
)

const (
	CtrlEnable = 0x1

	sizeMask = 0x7fffffff
)

// Regs is one ring's register block. Every word is updated atomically on
// its own; there is no lock across words.
type Regs struct {
	reqBaseLo, reqBaseHi   atomic.Uint32
	respBaseLo, respBaseHi atomic.Uint32

	size      atomic.Uint32
	highWater atomic.Uint32
	lowWater  atomic.Uint32

	consumer atomic.Uint32
	producer atomic.Uint32

	status  atomic.Uint32
	intMask atomic.Uint32
	ctrl    atomic.Uint32
	memSize atomic.Uint32
}

// NewRegs returns a disabled ring with both pointers at zero.
func NewRegs(memSize uint32) *Regs {
	r := &Regs{}
	r.memSize.Store(memSize)
	return r
}

func (r *Regs) Size() uint32 { return r.size.Load() & sizeMask }

func (r *Regs) MemSize() uint32 { return r.memSize.Load() & sizeMask }

func (r *Regs) ReqBase() uint64 {
	return uint64(r.reqBaseLo.Load()) | uint64(r.reqBaseHi.Load())<<32
}

// RespBase returns the response array address; ok is false when responses
// are disabled.
func (r *Regs) RespBase() (uint64, bool) {
	base := uint64(r.respBaseLo.Load()) | uint64(r.respBaseHi.Load())<<32
	return base, base != 0
}

func (r *Regs) Consumer() Ptr { return Ptr(r.consumer.Load()) }

func (r *Regs) Producer() Ptr { return Ptr(r.producer.Load()) }

func (r *Regs) Enabled() bool { return r.ctrl.Load()&CtrlEnable != 0 }

func (r *Regs) SetEnabled(v bool) {
	if v {
		r.ctrl.Store(r.ctrl.Load() | CtrlEnable)
	} else {
		r.ctrl.Store(r.ctrl.Load() &^ CtrlEnable)
	}
}

func (r *Regs) Status() uint32 { return r.status.Load() }

func (r *Regs) State() State {
	return State{
		Size:     r.Size(),
		Consumer: r.Consumer(),
		Producer: r.Producer(),
		Enabled:  r.Enabled(),
	}
}

func (r *Regs) ConsumerValids() uint32 { return r.State().ConsumerValids() }

func (r *Regs) ProducerValids() uint32 { return r.State().ProducerValids() }

func (r *Regs) Incr(p Ptr, n uint32) Ptr { return Incr(p, n, r.Size()) }

func (r *Regs) Next(p Ptr) Ptr { return Next(p, r.Size()) }

// UpdateStatus recomputes all four status bits from the current pointers.
func (r *Regs) UpdateStatus() {
	s := r.State()

	var st uint32
	if s.Full() {
		st |= StatusFull
	}
	if s.Empty() {
		st |= StatusEmpty
	}
	if s.AlmostFull(r.highWater.Load() & sizeMask) {
		st |= StatusAlmostFull
	}
	if s.AlmostEmpty(r.lowWater.Load() & sizeMask) {
		st |= StatusAlmostEmpty
	}

	r.status.Store(st)
}

// AdvanceProducer moves the producer pointer n entries forward. It is a no-op
// on a disabled ring.
func (r *Regs) AdvanceProducer(n uint32) {
	if !r.Enabled() {
		return
	}
	r.producer.Store(uint32(r.Incr(r.Producer(), n)))
	r.UpdateStatus()
}

// AdvanceConsumer moves the consumer pointer n entries forward. It is a no-op
// on a disabled ring.
func (r *Regs) AdvanceConsumer(n uint32) {
	if !r.Enabled() {
		return
	}
	r.consumer.Store(uint32(r.Incr(r.Consumer(), n)))
	r.UpdateStatus()
}

func (r *Regs) IRQPendings() uint32 {
	return r.intMask.Load() & r.status.Load()
}

func (r *Regs) word(off uint64) (*atomic.Uint32, bool, bool) {
	switch off {
	case RegReqBaseLo:
		return &r.reqBaseLo, true, true
	case RegReqBaseHi:
		return &r.reqBaseHi, true, true
	case RegRespBaseLo:
		return &r.respBaseLo, true, true
	case RegRespBaseHi:
		return &r.respBaseHi, true, true
	case RegSize:
		return &r.size, true, true
	case RegHighWater:
		return &r.highWater, true, true
	case RegLowWater:
		return &r.lowWater, true, true
	case RegConsumer:
		return &r.consumer, false, true
	case RegProducer:
		return &r.producer, true, true
	case RegStatus:
		return &r.status, false, true
	case RegIntMask:
		return &r.intMask, true, true
	case RegCtrl:
		return &r.ctrl, true, true
	case RegMemSize:
		return &r.memSize, true, true
	}
	return nil, false, false
}

// ReadReg implements regbus.Bus. Status is refreshed before every read.
func (r *Regs) ReadReg(off uint64) (uint64, error) {
	w, _, ok := r.word(off)
	if !ok {
		return 0, regbus.NoSuchRegister(off)
	}

	r.UpdateStatus()
	return uint64(w.Load()), nil
}

// WriteReg implements regbus.Bus. Writes to read-only words are ignored.
func (r *Regs) WriteReg(off, data uint64) error {
	w, writable, ok := r.word(off)
	if !ok {
		return regbus.NoSuchRegister(off)
	}

	if writable {
		w.Store(uint32(data))
	}

	r.UpdateStatus()
	return nil
}
