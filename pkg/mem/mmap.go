package mem

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MapFd maps size bytes of fd at offset and exposes them at base. The mapping
// is shared so writes are visible to the process that owns fd.
func (m *Map) MapFd(base uint64, fd int, offset int64, size int) error {
	data, err := unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "mapping fd %d", fd)
	}

	err = m.add(&Region{
		Base: base,
		Data: data,
		release: func() error {
			return unix.Munmap(data)
		},
	})
	if err != nil {
		unix.Munmap(data)
		return err
	}

	return nil
}

// NewSharedArena is like NewArena but backs the memory with a memfd so it can
// be handed to another process. The caller owns the returned fd.
func NewSharedArena(base uint64, size int) (*Arena, int, error) {
	if base == 0 {
		return nil, -1, errors.New("arena base must not be zero")
	}

	fd, err := unix.MemfdCreate("accelsim-arena", 0)
	if err != nil {
		return nil, -1, errors.Wrapf(err, "memfd_create")
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, -1, errors.Wrapf(err, "sizing memfd")
	}

	m := NewMap()
	if err := m.MapFd(base, fd, 0, size); err != nil {
		unix.Close(fd)
		return nil, -1, err
	}

	return &Arena{Map: m, base: base, size: uint64(size), next: base}, fd, nil
}
