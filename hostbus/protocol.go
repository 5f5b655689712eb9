// Package hostbus exposes a running device to a driver in another process.
// Messages travel over a unix stream socket: a 12 byte native endian header
// followed by a body, with file descriptors passed as SCM_RIGHTS on the
// header.
package hostbus

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	ReqNone        = 0
	ReqGetInfo     = 1
	ReqSetMemTable = 2
	ReqRegRead     = 3
	ReqRegWrite    = 4
	ReqSetIRQCall  = 5
)

var requestNames = map[uint32]string{
	ReqNone:        "none",
	ReqGetInfo:     "get_info",
	ReqSetMemTable: "set_mem_table",
	ReqRegRead:     "reg_read",
	ReqRegWrite:    "reg_write",
	ReqSetIRQCall:  "set_irq_call",
}

const (
	Version    = 0x1
	FlagReply  = 0x1 << 2
	FlagError  = 0x1 << 3
	headerSize = 12

	// IRQNoFd in a set_irq_call body unbinds the line.
	IRQNoFd = 0x1 << 8
	irqMask = 0xff

	MaxRegions = 8
	regionSize = 24
	maxBody    = 8 + MaxRegions*regionSize
)

// Error codes carried in the value of a reply with FlagError set.
const (
	CodeNoSuchRegister = 1
	CodeNotRunning     = 2
	CodeReadOnly       = 3
	CodeBadRequest     = 4
	CodeInternal       = 255
)

var ErrBadMessage = errors.New("malformed hostbus message")

type Header struct {
	Request uint32
	Flags   uint32
	Size    uint32
}

func (h *Header) encode(b []byte) {
	binary.NativeEndian.PutUint32(b, h.Request)
	binary.NativeEndian.PutUint32(b[4:], h.Flags)
	binary.NativeEndian.PutUint32(b[8:], h.Size)
}

func (h *Header) decode(b []byte) {
	h.Request = binary.NativeEndian.Uint32(b)
	h.Flags = binary.NativeEndian.Uint32(b[4:])
	h.Size = binary.NativeEndian.Uint32(b[8:])
}

type Msg struct {
	Header
	Body []byte
	Fds  []int
}

func (m *Msg) u64(i int) (uint64, error) {
	if len(m.Body) < (i+1)*8 {
		return 0, errors.Wrapf(ErrBadMessage, "%s: body has %d bytes", requestNames[m.Request], len(m.Body))
	}
	return binary.NativeEndian.Uint64(m.Body[i*8:]), nil
}

// Region places Size bytes of a shared memory file, starting at Offset,
// at device address Base.
type Region struct {
	Base   uint64
	Size   uint64
	Offset uint64
}

func encodeRegions(regions []Region) []byte {
	b := make([]byte, 8+len(regions)*regionSize)
	binary.NativeEndian.PutUint32(b, uint32(len(regions)))

	r := b[8:]
	for _, reg := range regions {
		binary.NativeEndian.PutUint64(r, reg.Base)
		binary.NativeEndian.PutUint64(r[8:], reg.Size)
		binary.NativeEndian.PutUint64(r[16:], reg.Offset)
		r = r[regionSize:]
	}

	return b
}

func (m *Msg) regions() ([]Region, error) {
	if len(m.Body) < 8 {
		return nil, errors.Wrapf(ErrBadMessage, "set_mem_table: body has %d bytes", len(m.Body))
	}

	n := int(binary.NativeEndian.Uint32(m.Body))
	if n > MaxRegions || len(m.Body) < 8+n*regionSize {
		return nil, errors.Wrapf(ErrBadMessage, "set_mem_table: %d regions in %d bytes", n, len(m.Body))
	}

	var out []Region
	r := m.Body[8:]
	for range n {
		out = append(out, Region{
			Base:   binary.NativeEndian.Uint64(r),
			Size:   binary.NativeEndian.Uint64(r[8:]),
			Offset: binary.NativeEndian.Uint64(r[16:]),
		})
		r = r[regionSize:]
	}

	return out, nil
}
