package desc

import (
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/pkg/errors"
)

const (
	SCFrameDescSize   = 12
	SCBufferEntrySize = 16
)

var (
	ErrSizeMismatch = errors.New("fragment sizes do not add up to total size")
	ErrShortBuffer  = errors.New("buffer too small for frame")
)

// Fragment is a contiguous byte range in shared memory.
type Fragment struct {
	Addr uint64
	Size uint32
}

// SCFrameDesc names a frame that is either linear (NBlocks == 0, Addr points
// at the bytes) or chained (Addr points at NBlocks+1 SCBufferEntry records).
type SCFrameDesc [SCFrameDescSize / EntrySize]uint32

func NewSCFrameDesc(addr uint64, total uint32, nblocks uint32) SCFrameDesc {
	var d SCFrameDesc
	d.SetAddr(addr)
	d.SetTotalSize(total)
	d.SetNBlocks(nblocks)
	return d
}

func (d *SCFrameDesc) Addr() uint64 {
	return uint64(d[0]) | uint64(d[1])<<32
}

func (d *SCFrameDesc) SetAddr(a uint64) {
	d[0] = uint32(a)
	d[1] = uint32(a >> 32)
}

func (d *SCFrameDesc) TotalSize() uint32 { return uint32(Get(d[:], 87, 64)) }

func (d *SCFrameDesc) SetTotalSize(v uint32) { Set(d[:], 87, 64, uint64(v)) }

func (d *SCFrameDesc) NBlocks() uint32 { return uint32(Get(d[:], 95, 88)) }

func (d *SCFrameDesc) SetNBlocks(v uint32) { Set(d[:], 95, 88, uint64(v)) }

func (d *SCFrameDesc) Linear() bool { return d.NBlocks() == 0 }

func (d *SCFrameDesc) Decode(b []byte) { Decode(d[:], b) }

func (d *SCFrameDesc) Encode(b []byte) { Encode(d[:], b) }

// Fragments resolves the descriptor into its memory fragments.
func (d *SCFrameDesc) Fragments(m mem.Memory) ([]Fragment, error) {
	if d.Linear() {
		return []Fragment{{Addr: d.Addr(), Size: d.TotalSize()}}, nil
	}

	n := int(d.NBlocks()) + 1
	raw := make([]byte, n*SCBufferEntrySize)
	if err := m.ReadAt(raw, d.Addr()); err != nil {
		return nil, errors.Wrapf(err, "reading fragment list")
	}

	frags := make([]Fragment, n)
	for i := range frags {
		e := raw[i*SCBufferEntrySize:]
		frags[i] = Fragment{Addr: le.Uint64(e), Size: le.Uint32(e[8:])}
	}

	return frags, nil
}

// Read gathers the frame into buf and returns the byte count.
func (d *SCFrameDesc) Read(m mem.Memory, buf []byte) (int, error) {
	frags, err := d.Fragments(m)
	if err != nil {
		return 0, err
	}

	pos := 0
	for _, f := range frags {
		if pos+int(f.Size) > len(buf) {
			return pos, errors.Wrapf(ErrShortBuffer, "need %d bytes", pos+int(f.Size))
		}

		if err := m.ReadAt(buf[pos:pos+int(f.Size)], f.Addr); err != nil {
			return pos, errors.Wrapf(err, "reading fragment at %#x", f.Addr)
		}

		pos += int(f.Size)
	}

	if pos != int(d.TotalSize()) {
		return pos, errors.Wrapf(ErrSizeMismatch, "got %d, want %d", pos, d.TotalSize())
	}

	return pos, nil
}

// Write scatters data across the fragments in order, stopping once data is
// exhausted.
func (d *SCFrameDesc) Write(m mem.Memory, data []byte) (int, error) {
	frags, err := d.Fragments(m)
	if err != nil {
		return 0, err
	}

	pos := 0
	for _, f := range frags {
		if pos == len(data) {
			break
		}

		n := min(int(f.Size), len(data)-pos)
		if err := m.WriteAt(data[pos:pos+n], f.Addr); err != nil {
			return pos, errors.Wrapf(err, "writing fragment at %#x", f.Addr)
		}

		pos += n
	}

	if pos != len(data) {
		return pos, errors.Wrapf(ErrShortBuffer, "%d of %d bytes written", pos, len(data))
	}

	return pos, nil
}

// WriteFragmentList stores frags as SCBufferEntry records at addr.
func WriteFragmentList(m mem.Memory, addr uint64, frags []Fragment) error {
	raw := make([]byte, len(frags)*SCBufferEntrySize)
	for i, f := range frags {
		e := raw[i*SCBufferEntrySize:]
		le.PutUint64(e, f.Addr)
		le.PutUint32(e[8:], f.Size)
	}

	return m.WriteAt(raw, addr)
}
