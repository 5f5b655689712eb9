// Package mem models the memory shared between a simulated device and the
// driver talking to it. Addresses are device addresses; every access is
// bounds checked against the region that contains it.
package mem

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrFault = errors.New("memory fault")

var le = binary.LittleEndian

// Memory is the view a device core has of shared memory.
type Memory interface {
	ReadAt(p []byte, addr uint64) error
	WriteAt(p []byte, addr uint64) error
}

type Region struct {
	Base uint64
	Data []byte

	release func() error
}

func (r *Region) contains(addr uint64, n int) bool {
	return addr >= r.Base && addr+uint64(n) <= r.Base+uint64(len(r.Data)) && addr+uint64(n) >= addr
}

// Map is a set of non-overlapping regions.
type Map struct {
	mu      sync.RWMutex
	regions []*Region
}

func NewMap() *Map {
	return &Map{}
}

func (m *Map) AddRegion(base uint64, data []byte) error {
	return m.add(&Region{Base: base, Data: data})
}

func (m *Map) add(r *Region) error {
	if len(r.Data) == 0 {
		return errors.Errorf("empty region at %#x", r.Base)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	end := r.Base + uint64(len(r.Data))
	for _, e := range m.regions {
		eend := e.Base + uint64(len(e.Data))
		if r.Base < eend && e.Base < end {
			return errors.Errorf("region %#x-%#x overlaps %#x-%#x", r.Base, end, e.Base, eend)
		}
	}

	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool {
		return m.regions[i].Base < m.regions[j].Base
	})

	return nil
}

// Reset drops every region, releasing mapped ones.
func (m *Map) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, r := range m.regions {
		if r.release != nil {
			if err := r.release(); err != nil && first == nil {
				first = err
			}
		}
	}

	m.regions = nil
	return first
}

func (m *Map) slice(addr uint64, n int) ([]byte, error) {
	for _, r := range m.regions {
		if r.contains(addr, n) {
			off := addr - r.Base
			return r.Data[off : off+uint64(n)], nil
		}
	}

	return nil, errors.Wrapf(ErrFault, "addr %#x len %d", addr, n)
}

func (m *Map) ReadAt(p []byte, addr uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.slice(addr, len(p))
	if err != nil {
		return err
	}

	copy(p, b)
	return nil
}

func (m *Map) WriteAt(p []byte, addr uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.slice(addr, len(p))
	if err != nil {
		return err
	}

	copy(b, p)
	return nil
}

func ReadUint64(m Memory, addr uint64) (uint64, error) {
	var buf [8]byte
	if err := m.ReadAt(buf[:], addr); err != nil {
		return 0, err
	}

	return le.Uint64(buf[:]), nil
}

func WriteUint64(m Memory, addr, v uint64) error {
	var buf [8]byte
	le.PutUint64(buf[:], v)
	return m.WriteAt(buf[:], addr)
}
