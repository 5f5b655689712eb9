package etha

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/lab47/accelsim/pkg/desc"
)

const (
	RxReqSize    = 8
	RxResultSize = 128
	TxReqSize    = 32
	TxResultSize = 8
)

// Word offsets of the sub-records inside an rx result.
const (
	rxL2Word     = 4
	rxL3Word     = 10
	rxL4Word     = 20
	rxStatusWord = 23
)

// TxReqDesc is a frame descriptor followed by a control word.
type TxReqDesc [TxReqSize / desc.EntrySize]uint32

func (d *TxReqDesc) Frame() *desc.FrameDesc {
	return (*desc.FrameDesc)(d[:4])
}

func (d *TxReqDesc) RespEn() bool { return desc.Flag(d[4:5], 0) }

func (d *TxReqDesc) SetRespEn(v bool) { desc.SetFlag(d[4:5], 0, v) }

func (d *TxReqDesc) Decode(b []byte) { desc.Decode(d[:], b) }

func (d *TxReqDesc) Encode(b []byte) { desc.Encode(d[:], b) }

type TxResultDesc [TxResultSize / desc.EntrySize]uint32

func (d *TxResultDesc) TooLarge() bool { return desc.Flag(d[:], 0) }

func (d *TxResultDesc) SetTooLarge(v bool) { desc.SetFlag(d[:], 0, v) }

func (d *TxResultDesc) TooSmall() bool { return desc.Flag(d[:], 1) }

func (d *TxResultDesc) SetTooSmall(v bool) { desc.SetFlag(d[:], 1, v) }

func (d *TxResultDesc) Decode(b []byte) { desc.Decode(d[:], b) }

func (d *TxResultDesc) Encode(b []byte) { desc.Encode(d[:], b) }

// RxResultDesc is a frame descriptor followed by the parser's findings and a
// status word. Only the head entry of a frame carries parser info.
type RxResultDesc [rxStatusWord + 1]uint32

func (d *RxResultDesc) Frame() *desc.FrameDesc {
	return (*desc.FrameDesc)(d[:4])
}

func (d *RxResultDesc) TooLarge() bool { return desc.Flag(d[rxStatusWord:], 0) }

func (d *RxResultDesc) Decode(b []byte) { desc.Decode(d[:], b) }

// Encode writes the descriptor padded to RxResultSize.
func (d *RxResultDesc) Encode(b []byte) { desc.Encode(d[:], b[:RxResultSize]) }

func (d *RxResultDesc) l2() []uint32 { return d[rxL2Word:rxL3Word] }
func (d *RxResultDesc) l3() []uint32 { return d[rxL3Word:rxL4Word] }
func (d *RxResultDesc) l4() []uint32 { return d[rxL4Word:rxStatusWord] }

// SetInfo stores info along with the payload lengths derived from the
// frame's total size.
func (d *RxResultDesc) SetInfo(info ParserInfo) {
	total := int(d.Frame().TotalSize())

	l2Payload := total - info.L2.HeaderLen
	l3Payload := 0
	if info.L3.HeaderLen != 0 {
		l3Payload = l2Payload - info.L3.HeaderLen
	}
	l4Payload := 0
	if info.L4.HeaderLen != 0 && l3Payload != 0 {
		l4Payload = l2Payload - info.L4.HeaderLen
	}

	l2 := d.l2()
	l2[0] = le.Uint32(info.L2.Src[0:4])
	desc.Set(l2, 47, 32, uint64(le.Uint16(info.L2.Src[4:6])))
	if info.L2.VLAN {
		desc.Set(l2, 51, 48, uint64(info.L2.VLANFlags))
		desc.Set(l2, 63, 52, uint64(info.L2.VID))
		desc.SetFlag(l2, 136, true)
	}
	l2[2] = le.Uint32(info.L2.Dst[0:4])
	desc.Set(l2, 111, 96, uint64(le.Uint16(info.L2.Dst[4:6])))
	desc.Set(l2, 127, 112, uint64(info.L2.EtherType))
	desc.Set(l2, 135, 128, uint64(info.L2.HeaderLen))
	desc.Set(l2, 183, 160, uint64(l2Payload))

	l3 := d.l3()
	if info.L3.Src.IsValid() {
		putAddr(l3[0:4], info.L3.Src)
		if info.L3.Src.Is4() {
			desc.Set(l3, 271, 264, 4)
		} else {
			desc.Set(l3, 271, 264, 6)
		}
	}
	if info.L3.Dst.IsValid() {
		putAddr(l3[4:8], info.L3.Dst)
	}
	desc.Set(l3, 263, 256, uint64(info.L3.Protocol))
	desc.Set(l3, 287, 272, uint64(info.L3.HeaderLen))
	desc.Set(l3, 311, 288, uint64(l3Payload))

	l4 := d.l4()
	desc.Set(l4, 15, 0, uint64(info.L4.SrcPort))
	desc.Set(l4, 31, 16, uint64(info.L4.DstPort))
	desc.Set(l4, 47, 32, uint64(info.L4.HeaderLen))
	desc.Set(l4, 87, 64, uint64(l4Payload))
}

// Info decodes the parser info carried by a head entry.
func (d *RxResultDesc) Info() RxInfo {
	var ri RxInfo

	l2 := d.l2()
	le.PutUint32(ri.L2.Src[0:4], l2[0])
	le.PutUint16(ri.L2.Src[4:6], uint16(desc.Get(l2, 47, 32)))
	le.PutUint32(ri.L2.Dst[0:4], l2[2])
	le.PutUint16(ri.L2.Dst[4:6], uint16(desc.Get(l2, 111, 96)))
	ri.L2.EtherType = layers.EthernetType(desc.Get(l2, 127, 112))
	ri.L2.HeaderLen = int(desc.Get(l2, 135, 128))
	ri.L2.VLAN = desc.Flag(l2, 136)
	ri.L2.VLANFlags = uint8(desc.Get(l2, 51, 48))
	ri.L2.VID = uint16(desc.Get(l2, 63, 52))
	ri.L2PayloadLen = int(desc.Get(l2, 183, 160))

	l3 := d.l3()
	switch desc.Get(l3, 271, 264) {
	case 4:
		ri.L3.Src = getAddr4(l3[0])
		ri.L3.Dst = getAddr4(l3[4])
	case 6:
		ri.L3.Src = getAddr16(l3[0:4])
		ri.L3.Dst = getAddr16(l3[4:8])
	}
	ri.L3.Protocol = layers.IPProtocol(desc.Get(l3, 263, 256))
	ri.L3.HeaderLen = int(desc.Get(l3, 287, 272))
	ri.L3PayloadLen = int(desc.Get(l3, 311, 288))

	l4 := d.l4()
	ri.L4.SrcPort = uint16(desc.Get(l4, 15, 0))
	ri.L4.DstPort = uint16(desc.Get(l4, 31, 16))
	ri.L4.HeaderLen = int(desc.Get(l4, 47, 32))
	ri.L4PayloadLen = int(desc.Get(l4, 87, 64))

	return ri
}

// RxInfo is ParserInfo as read back from a result descriptor.
type RxInfo struct {
	ParserInfo

	L2PayloadLen int
	L3PayloadLen int
	L4PayloadLen int
}

var le = binary.LittleEndian

// Addresses are stored as little-endian words of their network-order bytes.
func putAddr(w []uint32, a netip.Addr) {
	if a.Is4() {
		b := a.As4()
		w[0] = le.Uint32(b[:])
		return
	}

	b := a.As16()
	for i := range 4 {
		w[i] = le.Uint32(b[i*4:])
	}
}

func getAddr4(w uint32) netip.Addr {
	var b [4]byte
	le.PutUint32(b[:], w)
	return netip.AddrFrom4(b)
}

func getAddr16(w []uint32) netip.Addr {
	var b [16]byte
	for i := range 4 {
		le.PutUint32(b[i*4:], w[i])
	}
	return netip.AddrFrom16(b)
}
