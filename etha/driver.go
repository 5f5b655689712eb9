package etha

import (
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/lab47/accelsim/pkg/desc"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/pkg/errors"
)

// Driver is the software side of the device: it programs registers over the
// bus and places rings and buffers in the shared arena.
type Driver struct {
	bus   regbus.Bus
	arena *mem.Arena
}

func NewDriver(bus regbus.Bus, arena *mem.Arena) *Driver {
	return &Driver{bus: bus, arena: arena}
}

func boolWord(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func (d *Driver) EnableRx(v bool) error {
	return d.bus.WriteReg(GlobalBase+GlobalRxEn, boolWord(v))
}

func (d *Driver) EnableTx(v bool) error {
	return d.bus.WriteReg(GlobalBase+GlobalTxEn, boolWord(v))
}

type ETRule struct {
	EtherType uint16
	Queue     int
	Action    CongestionAction
	Enabled   bool
}

func (r ETRule) word() uint32 {
	w := uint32(r.EtherType) | uint32(r.Queue&0xff)<<16 | uint32(r.Action&0x3)<<29
	if r.Enabled {
		w |= filterEn
	}
	return w
}

func (d *Driver) SetETFilter(i int, r ETRule) error {
	if i < 0 || i >= ETFilters {
		return errors.Errorf("no ethertype filter %d", i)
	}
	return d.bus.WriteReg(RxBase+ETFilterBase+uint64(i), uint64(r.word()))
}

// TP5Rule matches IPv4 or IPv6 frames on addresses, protocol and ports. The
// Any fields turn the matching field into a wildcard.
type TP5Rule struct {
	Src, Dst         netip.Addr
	Protocol         layers.IPProtocol
	SrcPort, DstPort uint16

	AnySrc, AnyDst         bool
	AnyProtocol            bool
	AnySrcPort, AnyDstPort bool

	// IPv6 selects IPv6 frames. It is implied by an IPv6 address.
	IPv6 bool

	Priority uint8
	Queue    int
	Action   CongestionAction
	Enabled  bool
}

func (r TP5Rule) words() [tp5Words]uint32 {
	var w [tp5Words]uint32

	if r.Src.IsValid() {
		putAddr(w[TP5Src:TP5Src+4], r.Src)
	}
	if r.Dst.IsValid() {
		putAddr(w[TP5Dst:TP5Dst+4], r.Dst)
	}
	w[TP5Port] = uint32(r.SrcPort) | uint32(r.DstPort)<<16

	c := uint32(r.Protocol) | uint32(r.Priority&0x7)<<8 | uint32(r.Queue&0xff)<<16 | uint32(r.Action&0x3)<<29
	if r.IPv6 || r.Src.Is6() || r.Dst.Is6() {
		c |= tp5IPv6
	}
	for _, f := range []struct {
		set bool
		bit uint32
	}{
		{r.AnySrc, tp5SrcMask},
		{r.AnyDst, tp5DstMask},
		{r.AnyProtocol, tp5ProtocolMask},
		{r.AnySrcPort, tp5SrcPortMask},
		{r.AnyDstPort, tp5DstPortMask},
		{r.Enabled, filterEn},
	} {
		if f.set {
			c |= f.bit
		}
	}
	w[TP5CtrlWord] = c

	return w
}

// SetTP5Filter programs filter i. The control word goes last so the rule is
// never live half written.
func (d *Driver) SetTP5Filter(i int, r TP5Rule) error {
	if i < 0 || i >= TP5Filters {
		return errors.Errorf("no 5-tuple filter %d", i)
	}

	base := RxBase + uint64(i)*TP5Stride
	if err := d.bus.WriteReg(base+TP5CtrlWord, 0); err != nil {
		return err
	}

	w := r.words()
	for off, v := range w {
		if err := d.bus.WriteReg(base+uint64(off), uint64(v)); err != nil {
			return err
		}
	}

	return nil
}

type DefaultRule struct {
	Queue   int
	Drop    bool
	Enabled bool
}

func (d *Driver) SetDefaultQueue(r DefaultRule) error {
	w := uint32(r.Queue&0xff) << 16
	if r.Drop {
		w |= 1 << 29
	}
	if r.Enabled {
		w |= filterEn
	}
	return d.bus.WriteReg(RxBase+DefaultQueue, uint64(w))
}

type QueueConfig struct {
	// Size is the ring's entry count.
	Size uint32
	// BufSize is the size of each buffer, one per ring entry.
	BufSize uint32
	// NoResponses leaves the ring's response array out.
	NoResponses bool
	IntMask     uint32
	HighWater   uint32
	LowWater    uint32
}

func (d *Driver) buffers(cfg QueueConfig) ([]uint64, error) {
	bufs := make([]uint64, cfg.Size)
	for i := range bufs {
		addr, err := d.arena.Alloc(int(cfg.BufSize), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "allocating buffer %d", i)
		}
		bufs[i] = addr
	}
	return bufs, nil
}

// RxQueue posts one buffer per ring entry and hands received frames back.
type RxQueue struct {
	sw   *ring.Sw
	mem  *mem.Arena
	bufs []uint64

	// next is the first entry the device completed that has not been read.
	next ring.Ptr
}

// RxFrame is one received frame and the device's result for it.
type RxFrame struct {
	Data   []byte
	Info   RxInfo
	Blocks []desc.FrameDesc
}

// RxQueue sets up queue q's rx ring and posts every buffer.
func (d *Driver) RxQueue(q int, cfg QueueConfig) (*RxQueue, error) {
	if q < 0 || q >= Channels {
		return nil, errors.Errorf("no queue %d", q)
	}

	sw, err := ring.NewSw(d.bus, d.arena, ring.SwConfig{
		Base:      RxRingAddr(q),
		Size:      cfg.Size,
		ReqSize:   RxReqSize,
		RespSize:  RxResultSize,
		HighWater: cfg.HighWater,
		LowWater:  cfg.LowWater,
		IntMask:   cfg.IntMask,
		MemSize:   cfg.BufSize,
	})
	if err != nil {
		return nil, err
	}

	bufs, err := d.buffers(cfg)
	if err != nil {
		return nil, err
	}

	rq := &RxQueue{sw: sw, mem: d.arena, bufs: bufs}

	var req [RxReqSize]byte
	for i, b := range bufs {
		le.PutUint64(req[:], b)
		if err := sw.SetRequest(ring.MakePtr(false, uint32(i)), req[:]); err != nil {
			return nil, err
		}
	}

	if err := sw.AdvanceProducer(cfg.Size); err != nil {
		return nil, err
	}

	return rq, nil
}

// completed is the number of entries the device filled that have not been
// read yet.
func (q *RxQueue) completed() (uint32, error) {
	c, err := q.sw.Consumer()
	if err != nil {
		return 0, err
	}

	st := ring.State{Size: q.sw.Size(), Consumer: q.next, Producer: c, Enabled: true}
	return st.ConsumerValids(), nil
}

// Receive returns the next completed frame and reposts its buffers. It
// reports false when the device has not completed one.
func (q *RxQueue) Receive() (*RxFrame, bool, error) {
	n, err := q.completed()
	if err != nil || n == 0 {
		return nil, false, err
	}

	var (
		raw  [RxResultSize]byte
		head RxResultDesc
	)

	if err := q.sw.Response(q.next, raw[:]); err != nil {
		return nil, false, err
	}
	head.Decode(raw[:])

	blocks := head.Frame().NBlocks() + 1
	if blocks > n {
		return nil, false, errors.Errorf("frame spans %d entries, only %d completed", blocks, n)
	}

	fr := &RxFrame{
		Data: make([]byte, 0, head.Frame().TotalSize()),
		Info: head.Info(),
	}

	p := q.next
	for i := uint32(0); i < blocks; i++ {
		var d RxResultDesc
		if i == 0 {
			d = head
		} else {
			if err := q.sw.Response(p, raw[:]); err != nil {
				return nil, false, err
			}
			d.Decode(raw[:])
		}

		fd := *d.Frame()
		fr.Blocks = append(fr.Blocks, fd)

		chunk := make([]byte, fd.Size())
		if err := q.mem.ReadAt(chunk, fd.Addr()); err != nil {
			return nil, false, err
		}
		fr.Data = append(fr.Data, chunk...)

		p = ring.Next(p, q.sw.Size())
	}

	q.next = p

	if err := q.sw.AdvanceProducer(blocks); err != nil {
		return nil, false, err
	}

	return fr, true, nil
}

func (q *RxQueue) Ring() *ring.Sw { return q.sw }

// TxQueue splits frames into buffer sized fragments, one per ring entry.
type TxQueue struct {
	sw      *ring.Sw
	mem     *mem.Arena
	bufs    []uint64
	bufSize int
	resp    bool

	next    ring.Ptr
	pending []uint32
}

// TxResult is the outcome of one sent frame.
type TxResult struct {
	TooLarge bool
	TooSmall bool
}

func (d *Driver) TxQueue(q int, cfg QueueConfig) (*TxQueue, error) {
	if q < 0 || q >= Channels {
		return nil, errors.Errorf("no queue %d", q)
	}

	sw, err := ring.NewSw(d.bus, d.arena, ring.SwConfig{
		Base:        TxRingAddr(q),
		Size:        cfg.Size,
		ReqSize:     TxReqSize,
		RespSize:    TxResultSize,
		NoResponses: cfg.NoResponses,
		HighWater:   cfg.HighWater,
		LowWater:    cfg.LowWater,
		IntMask:     cfg.IntMask,
	})
	if err != nil {
		return nil, err
	}

	bufs, err := d.buffers(cfg)
	if err != nil {
		return nil, err
	}

	return &TxQueue{
		sw:      sw,
		mem:     d.arena,
		bufs:    bufs,
		bufSize: int(cfg.BufSize),
		resp:    !cfg.NoResponses,
	}, nil
}

// Send queues frame, splitting it across ceil(len/BufSize) entries.
func (q *TxQueue) Send(frame []byte) error {
	n := (len(frame) + q.bufSize - 1) / q.bufSize
	if n == 0 {
		n = 1
	}

	p, err := q.sw.Producer()
	if err != nil {
		return err
	}

	reqs := make([][]byte, n)
	for i := range n {
		slot := ring.Incr(p, uint32(i), q.sw.Size())
		buf := q.bufs[slot.Low()]

		lo := min(i*q.bufSize, len(frame))
		hi := min(lo+q.bufSize, len(frame))
		if err := q.mem.WriteAt(frame[lo:hi], buf); err != nil {
			return err
		}

		var d TxReqDesc
		fd := d.Frame()
		fd.SetAddr(buf)
		fd.SetSize(uint32(hi - lo))
		fd.SetStart(i == 0)
		fd.SetEnd(i == n-1)
		if i == 0 {
			fd.SetTotalSize(uint32(len(frame)))
			fd.SetNBlocks(uint32(n - 1))
		}
		d.SetRespEn(q.resp)

		reqs[i] = make([]byte, TxReqSize)
		d.Encode(reqs[i])
	}

	if err := q.sw.PushRequests(reqs...); err != nil {
		return err
	}

	q.pending = append(q.pending, uint32(n))
	return nil
}

// Collect returns the results of frames the device has finished with, in
// send order. Without responses every result is zero.
func (q *TxQueue) Collect() ([]TxResult, error) {
	c, err := q.sw.Consumer()
	if err != nil {
		return nil, err
	}

	st := ring.State{Size: q.sw.Size(), Consumer: q.next, Producer: c, Enabled: true}
	done := st.ConsumerValids()

	var (
		out []TxResult
		raw [TxResultSize]byte
	)

	for len(q.pending) > 0 && q.pending[0] <= done {
		var r TxResult
		if q.resp {
			if err := q.sw.Response(q.next, raw[:]); err != nil {
				return out, err
			}

			var d TxResultDesc
			d.Decode(raw[:])
			r = TxResult{TooLarge: d.TooLarge(), TooSmall: d.TooSmall()}
		}
		out = append(out, r)

		n := q.pending[0]
		q.pending = q.pending[1:]
		q.next = ring.Incr(q.next, n, q.sw.Size())
		done -= n
	}

	return out, nil
}

func (q *TxQueue) Ring() *ring.Sw { return q.sw }
