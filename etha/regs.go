package etha

import (
	"fmt"
	"sync/atomic"

	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/accelsim/pkg/ring"
)

// Word offsets inside a 5-tuple filter block.
const (
	TP5Src      = 0x0
	TP5V6Src1   = 0x1
	TP5V6Src2   = 0x2
	TP5V6Src3   = 0x3
	TP5Dst      = 0x4
	TP5V6Dst1   = 0x5
	TP5V6Dst2   = 0x6
	TP5V6Dst3   = 0x7
	TP5Port     = 0x8
	TP5CtrlWord = 0x9

	tp5Words  = 10
	TP5Stride = 0x10
)

// Word offsets inside the rx range.
const (
	ETFilterBase = 512
	DefaultQueue = ETFilterBase + ETFilters
)

// Global word offsets.
const (
	GlobalRxEn = 0
	GlobalTxEn = 1
)

// TP5 control word bits.
const (
	tp5IPv6         = 1 << 11
	tp5SrcMask      = 1 << 24
	tp5DstMask      = 1 << 25
	tp5ProtocolMask = 1 << 26
	tp5SrcPortMask  = 1 << 27
	tp5DstPortMask  = 1 << 28
	filterEn        = 1 << 31
)

type wordReg struct {
	v atomic.Uint32
}

func (w *wordReg) Load() uint32 { return w.v.Load() }

func (w *wordReg) ReadReg(addr uint64) (uint64, error) {
	if addr != 0 {
		return 0, regbus.NoSuchRegister(addr)
	}
	return uint64(w.v.Load()), nil
}

func (w *wordReg) WriteReg(addr, data uint64) error {
	if addr != 0 {
		return regbus.NoSuchRegister(addr)
	}
	w.v.Store(uint32(data))
	return nil
}

// TP5Filter is one 5-tuple filter's register block.
type TP5Filter struct {
	w [tp5Words]atomic.Uint32
}

func (f *TP5Filter) ReadReg(addr uint64) (uint64, error) {
	if addr >= tp5Words {
		return 0, regbus.NoSuchRegister(addr)
	}
	return uint64(f.w[addr].Load()), nil
}

func (f *TP5Filter) WriteReg(addr, data uint64) error {
	if addr >= tp5Words {
		return regbus.NoSuchRegister(addr)
	}
	f.w[addr].Store(uint32(data))
	return nil
}

func (f *TP5Filter) Ctrl() TP5Ctrl { return TP5Ctrl(f.w[TP5CtrlWord].Load()) }

func (f *TP5Filter) Src() [4]uint32 {
	return [4]uint32{f.w[TP5Src].Load(), f.w[TP5V6Src1].Load(), f.w[TP5V6Src2].Load(), f.w[TP5V6Src3].Load()}
}

func (f *TP5Filter) Dst() [4]uint32 {
	return [4]uint32{f.w[TP5Dst].Load(), f.w[TP5V6Dst1].Load(), f.w[TP5V6Dst2].Load(), f.w[TP5V6Dst3].Load()}
}

func (f *TP5Filter) Ports() (src, dst uint16) {
	p := f.w[TP5Port].Load()
	return uint16(p), uint16(p >> 16)
}

type TP5Ctrl uint32

func (c TP5Ctrl) Protocol() uint8 { return uint8(c) }
func (c TP5Ctrl) Priority() uint8 { return uint8(c>>8) & 0x7 }
func (c TP5Ctrl) IPv6() bool { return c&tp5IPv6 != 0 }
func (c TP5Ctrl) Queue() int { return int(c>>16) & 0xff }
func (c TP5Ctrl) AnySrc() bool { return c&tp5SrcMask != 0 }
func (c TP5Ctrl) AnyDst() bool { return c&tp5DstMask != 0 }
func (c TP5Ctrl) AnyProtocol() bool { return c&tp5ProtocolMask != 0 }
func (c TP5Ctrl) AnySrcPort() bool { return c&tp5SrcPortMask != 0 }
func (c TP5Ctrl) AnyDstPort() bool { return c&tp5DstPortMask != 0 }
func (c TP5Ctrl) Action() CongestionAction { return congestionAction(uint32(c>>29) & 0x3) }
func (c TP5Ctrl) Enabled() bool { return c&filterEn != 0 }

// ETCtrl is an ethertype filter word.
type ETCtrl uint32

func (c ETCtrl) EtherType() uint16 { return uint16(c) }
func (c ETCtrl) Queue() int { return int(c>>16) & 0xff }
func (c ETCtrl) Action() CongestionAction { return congestionAction(uint32(c>>29) & 0x3) }
func (c ETCtrl) Enabled() bool { return c&filterEn != 0 }

// DefaultCtrl is the default queue word. Its congestion field is one bit
// wide, so Default is not a possible action.
type DefaultCtrl uint32

func (c DefaultCtrl) Queue() int { return int(c>>16) & 0xff }
func (c DefaultCtrl) Enabled() bool { return c&filterEn != 0 }

func (c DefaultCtrl) Action() CongestionAction {
	if c&(1<<29) != 0 {
		return Drop
	}
	return Blocking
}

// FilterRegs is the rx register range.
type FilterRegs struct {
	TP5     [TP5Filters]TP5Filter
	ET      [ETFilters]wordReg
	Default wordReg
}

func (f *FilterRegs) ETFilter(i int) ETCtrl { return ETCtrl(f.ET[i].Load()) }

func (f *FilterRegs) DefaultQueue() DefaultCtrl { return DefaultCtrl(f.Default.Load()) }

func (f *FilterRegs) bus() regbus.Bus {
	tp5 := make([]regbus.Bus, TP5Filters)
	for i := range f.TP5 {
		tp5[i] = &f.TP5[i]
	}

	et := make([]regbus.Bus, ETFilters)
	for i := range f.ET {
		et[i] = &f.ET[i]
	}

	return regbus.Router{
		{Name: "tp5", Start: 0, End: TP5Filters * TP5Stride, Bus: regbus.Array{Stride: TP5Stride, Blocks: tp5}},
		{Name: "et", Start: ETFilterBase, End: ETFilterBase + ETFilters, Bus: regbus.Array{Stride: 1, Blocks: et}},
		{Name: "default_q", Start: DefaultQueue, End: DefaultQueue + 1, Bus: &f.Default},
	}
}

// GlobalRegs holds the rx and tx enable words.
type GlobalRegs struct {
	rxEn, txEn wordReg
}

func (g *GlobalRegs) RxEnabled() bool { return g.rxEn.Load()&1 != 0 }

func (g *GlobalRegs) TxEnabled() bool { return g.txEn.Load()&1 != 0 }

func (g *GlobalRegs) bus() regbus.Bus {
	return regbus.Array{Stride: 1, Blocks: []regbus.Bus{&g.rxEn, &g.txEn}}
}

type QueueRegs struct {
	Rx *ring.Regs
	Tx *ring.Regs
}

// Regs is the device's whole register file.
type Regs struct {
	Rx     FilterRegs
	Queues [Channels]QueueRegs
	Global GlobalRegs

	router regbus.Router
}

func NewRegs() *Regs {
	r := &Regs{}

	queues := make([]regbus.Bus, Channels)
	for i := range r.Queues {
		q := QueueRegs{Rx: ring.NewRegs(0), Tx: ring.NewRegs(0)}
		r.Queues[i] = q

		queues[i] = regbus.Router{
			{Name: fmt.Sprintf("q%d.rx", i), Start: 0, End: ring.RegsSize, Bus: q.Rx},
			{Name: fmt.Sprintf("q%d.tx", i), Start: TxRingOffset, End: TxRingOffset + ring.RegsSize, Bus: q.Tx},
		}
	}

	r.router = regbus.Router{
		{Name: "rx", Start: RxBase, End: TxBase, Bus: r.Rx.bus()},
		{Name: "tx", Start: TxBase, End: QueueBase},
		{Name: "queue", Start: QueueBase, End: GlobalBase, Bus: regbus.Array{Stride: QueueStride, Blocks: queues}},
		{Name: "global", Start: GlobalBase, End: regEnd, Bus: r.Global.bus()},
	}

	return r
}

func (r *Regs) ReadReg(addr uint64) (uint64, error) {
	return r.router.ReadReg(addr)
}

func (r *Regs) WriteReg(addr, data uint64) error {
	return r.router.WriteReg(addr, data)
}

// RxRingAddr and TxRingAddr return the word address of queue q's rings.
func RxRingAddr(q int) uint64 { return QueueBase + uint64(q)*QueueStride }

func TxRingAddr(q int) uint64 { return RxRingAddr(q) + TxRingOffset }
