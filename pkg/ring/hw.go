package ring

import (
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/pkg/errors"
)

// Hw is the device side of a ring: it consumes requests at the consumer
// pointer and produces responses into the matching response slot.
type Hw struct {
	Regs     *Regs
	Mem      mem.Memory
	ReqSize  int
	RespSize int
}

func NewHw(regs *Regs, m mem.Memory, reqSize, respSize int) *Hw {
	return &Hw{Regs: regs, Mem: m, ReqSize: reqSize, RespSize: respSize}
}

func (h *Hw) ReqAddr(p Ptr) uint64 {
	return h.Regs.ReqBase() + uint64(p.Low())*uint64(h.ReqSize)
}

// RespAddr returns the response slot for p; ok is false when the ring has
// responses disabled.
func (h *Hw) RespAddr(p Ptr) (uint64, bool) {
	base, ok := h.Regs.RespBase()
	if !ok {
		return 0, false
	}
	return base + uint64(p.Low())*uint64(h.RespSize), true
}

func (h *Hw) checkIndex(p Ptr) error {
	if size := h.Regs.Size(); p.Low() >= size {
		return errors.Errorf("ring index %d outside ring of %d entries", p.Low(), size)
	}
	return nil
}

// ReadReqAt copies the request at p into buf, which must be ReqSize long.
func (h *Hw) ReadReqAt(p Ptr, buf []byte) error {
	if err := h.checkIndex(p); err != nil {
		return err
	}

	addr := h.ReqAddr(p)
	return errors.Wrapf(h.Mem.ReadAt(buf[:h.ReqSize], addr), "reading request at %#x", addr)
}

// WriteRespAt stores resp into the response slot for p. It reports false
// without error when responses are disabled.
func (h *Hw) WriteRespAt(p Ptr, resp []byte) (bool, error) {
	addr, ok := h.RespAddr(p)
	if !ok {
		return false, nil
	}

	if err := h.checkIndex(p); err != nil {
		return false, err
	}

	return true, errors.Wrapf(h.Mem.WriteAt(resp[:h.RespSize], addr), "writing response at %#x", addr)
}

// ReadReq reads the request at the consumer pointer.
func (h *Hw) ReadReq(buf []byte) error {
	return h.ReadReqAt(h.Regs.Consumer(), buf)
}

// WriteResp writes the response at the consumer pointer.
func (h *Hw) WriteResp(resp []byte) (bool, error) {
	return h.WriteRespAt(h.Regs.Consumer(), resp)
}

// Entries walks every entry between the consumer and producer pointers as
// they are at the time of the call.
func (h *Hw) Entries() *Iter {
	return &Iter{hw: h, ptr: h.Regs.Consumer(), end: h.Regs.Producer()}
}

type Entry struct {
	Ptr      Ptr
	ReqAddr  uint64
	RespAddr uint64
	HasResp  bool
}

type Iter struct {
	hw       *Hw
	ptr, end Ptr
}

func (it *Iter) Next() (Entry, bool) {
	if it.ptr == it.end {
		return Entry{}, false
	}

	e := Entry{Ptr: it.ptr, ReqAddr: it.hw.ReqAddr(it.ptr)}
	e.RespAddr, e.HasResp = it.hw.RespAddr(it.ptr)

	it.ptr = it.hw.Regs.Next(it.ptr)
	return e, true
}

func (it *Iter) ReadReq(e Entry, buf []byte) error {
	return it.hw.ReadReqAt(e.Ptr, buf)
}

func (it *Iter) WriteResp(e Entry, resp []byte) (bool, error) {
	return it.hw.WriteRespAt(e.Ptr, resp)
}
