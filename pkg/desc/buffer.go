package desc

import (
	"github.com/lab47/accelsim/pkg/mem"
)

// Allocator places bytes in device visible memory.
type Allocator interface {
	mem.Memory
	Alloc(n int, align int) (uint64, error)
}

// Buffer is a frame a driver placed in shared memory.
type Buffer struct {
	Desc  SCFrameDesc
	Frags []Fragment
}

// NewBuffer copies parts into memory from a. A single part is stored
// linear; several become a fragment list with one fragment per part.
func NewBuffer(a Allocator, parts ...[]byte) (*Buffer, error) {
	b := &Buffer{}

	total := 0
	for _, p := range parts {
		addr, err := a.Alloc(max(len(p), 1), 8)
		if err != nil {
			return nil, err
		}
		if err := a.WriteAt(p, addr); err != nil {
			return nil, err
		}
		b.Frags = append(b.Frags, Fragment{Addr: addr, Size: uint32(len(p))})
		total += len(p)
	}

	if len(b.Frags) == 1 {
		b.Desc = NewSCFrameDesc(b.Frags[0].Addr, uint32(total), 0)
		return b, nil
	}

	list, err := a.Alloc(len(b.Frags)*SCBufferEntrySize, 16)
	if err != nil {
		return nil, err
	}
	if err := WriteFragmentList(a, list, b.Frags); err != nil {
		return nil, err
	}

	b.Desc = NewSCFrameDesc(list, uint32(total), uint32(len(b.Frags)-1))
	return b, nil
}

// Bytes reads the whole frame back.
func (b *Buffer) Bytes(m mem.Memory) ([]byte, error) {
	buf := make([]byte, b.Desc.TotalSize())
	n, err := b.Desc.Read(m, buf)
	return buf[:n], err
}
