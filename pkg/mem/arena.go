package mem

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrExhausted = errors.New("arena exhausted")

// Arena is a single-region Map with a bump allocator, used by the driver side
// to place rings, descriptors and packet buffers.
type Arena struct {
	*Map

	mu   sync.Mutex
	base uint64
	size uint64
	next uint64
}

// NewArena allocates size bytes on the heap and exposes them at base. Base
// must be non-zero since a zero address means "absent" in ring registers.
func NewArena(base uint64, size int) (*Arena, error) {
	if base == 0 {
		return nil, errors.New("arena base must not be zero")
	}

	m := NewMap()
	if err := m.AddRegion(base, make([]byte, size)); err != nil {
		return nil, err
	}

	return &Arena{Map: m, base: base, size: uint64(size), next: base}, nil
}

// Alloc returns the address of n zeroed bytes aligned to align.
func (a *Arena) Alloc(n int, align int) (uint64, error) {
	if align <= 0 {
		align = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	addr := (a.next + uint64(align) - 1) &^ (uint64(align) - 1)
	if addr+uint64(n) > a.base+a.size {
		return 0, errors.Wrapf(ErrExhausted, "alloc %d bytes", n)
	}

	a.next = addr + uint64(n)

	if err := a.WriteAt(make([]byte, n), addr); err != nil {
		return 0, err
	}

	return addr, nil
}

// Available reports the bytes left in the arena.
func (a *Arena) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return int(a.base + a.size - a.next)
}

func (a *Arena) Base() uint64 {
	return a.base
}

func (a *Arena) Size() int {
	return int(a.size)
}
