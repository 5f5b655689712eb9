package desc

const FrameDescSize = 16

// FrameDesc describes one ring entry's worth of a (possibly multi-entry)
// frame. The head entry of a frame carries the total size and the number of
// extra entries in NBlocks; Start/End mark the first and last entry.
type FrameDesc [FrameDescSize / EntrySize]uint32

func (d *FrameDesc) Addr() uint64 {
	return uint64(d[0]) | uint64(d[1])<<32
}

func (d *FrameDesc) SetAddr(a uint64) {
	d[0] = uint32(a)
	d[1] = uint32(a >> 32)
}

func (d *FrameDesc) TotalSize() uint32 { return uint32(Get(d[:], 87, 64)) }

func (d *FrameDesc) SetTotalSize(v uint32) { Set(d[:], 87, 64, uint64(v)) }

func (d *FrameDesc) NBlocks() uint32 { return uint32(Get(d[:], 95, 88)) }

func (d *FrameDesc) SetNBlocks(v uint32) { Set(d[:], 95, 88, uint64(v)) }

func (d *FrameDesc) Size() uint32 { return uint32(Get(d[:], 119, 96)) }

func (d *FrameDesc) SetSize(v uint32) { Set(d[:], 119, 96, uint64(v)) }

func (d *FrameDesc) Start() bool { return Flag(d[:], 120) }

func (d *FrameDesc) SetStart(v bool) { SetFlag(d[:], 120, v) }

func (d *FrameDesc) End() bool { return Flag(d[:], 121) }

func (d *FrameDesc) SetEnd(v bool) { SetFlag(d[:], 121, v) }

func (d *FrameDesc) Decode(b []byte) { Decode(d[:], b) }

func (d *FrameDesc) Encode(b []byte) { Encode(d[:], b) }
