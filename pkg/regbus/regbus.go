// Package regbus defines the register bus a device exposes to its driver.
// Addresses are word indexes; every word is 32 bits wide but carried as
// uint64 on the bus.
package regbus

import (
	"github.com/pkg/errors"
)

var (
	ErrNoSuchRegister = errors.New("no such register")
	ErrReadOnly       = errors.New("register is read-only")
)

type Bus interface {
	ReadReg(addr uint64) (uint64, error)
	WriteReg(addr uint64, data uint64) error
}

func NoSuchRegister(addr uint64) error {
	return errors.Wrapf(ErrNoSuchRegister, "addr %#x", addr)
}

// Range is a half-open span of word addresses routed to one Bus.
type Range struct {
	Name  string
	Start uint64
	End   uint64
	Bus   Bus
}

func (r Range) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Router dispatches accesses to the range containing the address, with the
// address rebased to the start of that range.
type Router []Range

func (rt Router) find(addr uint64) (Range, bool) {
	for _, r := range rt {
		if r.Contains(addr) {
			return r, true
		}
	}
	return Range{}, false
}

func (rt Router) ReadReg(addr uint64) (uint64, error) {
	r, ok := rt.find(addr)
	if !ok || r.Bus == nil {
		return 0, NoSuchRegister(addr)
	}

	v, err := r.Bus.ReadReg(addr - r.Start)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", r.Name)
	}

	return v, nil
}

func (rt Router) WriteReg(addr, data uint64) error {
	r, ok := rt.find(addr)
	if !ok || r.Bus == nil {
		return NoSuchRegister(addr)
	}

	return errors.Wrapf(r.Bus.WriteReg(addr-r.Start, data), "%s", r.Name)
}

// Array routes a range made of count identical blocks of stride words.
type Array struct {
	Stride uint64
	Blocks []Bus
}

func (a Array) ReadReg(addr uint64) (uint64, error) {
	idx := addr / a.Stride
	if idx >= uint64(len(a.Blocks)) {
		return 0, NoSuchRegister(addr)
	}

	return a.Blocks[idx].ReadReg(addr % a.Stride)
}

func (a Array) WriteReg(addr, data uint64) error {
	idx := addr / a.Stride
	if idx >= uint64(len(a.Blocks)) {
		return NoSuchRegister(addr)
	}

	return a.Blocks[idx].WriteReg(addr%a.Stride, data)
}
