package ipsec

import (
	"github.com/lab47/accelsim/pkg/desc"
)

const (
	ReqSize    = 64
	ResultSize = 8

	fmtWords = 4
	cfgWords = 2
)

// FmtDesc locates the parts of a frame by byte offset.
type FmtDesc [fmtWords]uint32

func (d *FmtDesc) AADOffset() int { return int(d[0]) }
func (d *FmtDesc) TextOffset() int { return int(d[1]) }
func (d *FmtDesc) IVOffset() int { return int(d[2]) }
func (d *FmtDesc) ICVOffset() int { return int(d[3]) }

func (d *FmtDesc) SetAADOffset(v int) { d[0] = uint32(v) }
func (d *FmtDesc) SetTextOffset(v int) { d[1] = uint32(v) }
func (d *FmtDesc) SetIVOffset(v int) { d[2] = uint32(v) }
func (d *FmtDesc) SetICVOffset(v int) { d[3] = uint32(v) }

// CfgDesc is the per-request transform configuration.
type CfgDesc [cfgWords]uint32

func (d *CfgDesc) AADLen() int { return int(desc.Get(d[:], 23, 0)) }
func (d *CfgDesc) Session() int { return int(desc.Get(d[:], 31, 24)) }
func (d *CfgDesc) TextLen() int { return int(desc.Get(d[:], 55, 32)) }
func (d *CfgDesc) Encrypt() bool { return desc.Flag(d[:], 56) }
func (d *CfgDesc) RespEn() bool { return desc.Flag(d[:], 57) }
func (d *CfgDesc) AADCopy() bool { return desc.Flag(d[:], 58) }
func (d *CfgDesc) IVCopy() bool { return desc.Flag(d[:], 59) }

func (d *CfgDesc) SetAADLen(v int) { desc.Set(d[:], 23, 0, uint64(v)) }
func (d *CfgDesc) SetSession(v int) { desc.Set(d[:], 31, 24, uint64(v)) }
func (d *CfgDesc) SetTextLen(v int) { desc.Set(d[:], 55, 32, uint64(v)) }
func (d *CfgDesc) SetEncrypt(v bool) { desc.SetFlag(d[:], 56, v) }
func (d *CfgDesc) SetRespEn(v bool) { desc.SetFlag(d[:], 57, v) }
func (d *CfgDesc) SetAADCopy(v bool) { desc.SetFlag(d[:], 58, v) }
func (d *CfgDesc) SetIVCopy(v bool) { desc.SetFlag(d[:], 59, v) }

// ReqDesc is one transform request: where the source and destination frames
// are, how each is laid out, and what to do.
type ReqDesc struct {
	Src, Dst       desc.SCFrameDesc
	SrcFmt, DstFmt FmtDesc
	Cfg            CfgDesc
}

const reqWords = 2*desc.SCFrameDescSize/desc.EntrySize + 2*fmtWords + cfgWords

func (r *ReqDesc) words() [reqWords]uint32 {
	var w [reqWords]uint32
	n := copy(w[:], r.Src[:])
	n += copy(w[n:], r.Dst[:])
	n += copy(w[n:], r.SrcFmt[:])
	n += copy(w[n:], r.DstFmt[:])
	copy(w[n:], r.Cfg[:])
	return w
}

func (r *ReqDesc) Decode(b []byte) {
	var w [reqWords]uint32
	desc.Decode(w[:], b)

	n := copy(r.Src[:], w[:])
	n += copy(r.Dst[:], w[n:])
	n += copy(r.SrcFmt[:], w[n:])
	n += copy(r.DstFmt[:], w[n:])
	copy(r.Cfg[:], w[n:])
}

// Encode writes the request padded to ReqSize.
func (r *ReqDesc) Encode(b []byte) {
	w := r.words()
	desc.Encode(w[:], b[:ReqSize])
}

// Status is the result of one request. A zero status is success.
type Status [ResultSize / desc.EntrySize]uint32

const (
	statusSrcErr = iota
	statusDstErr
	statusInvalidSession
	statusCipherErr
	statusAuthFail
)

func (s *Status) SrcErr() bool { return desc.Flag(s[:], statusSrcErr) }
func (s *Status) DstErr() bool { return desc.Flag(s[:], statusDstErr) }
func (s *Status) InvalidSession() bool { return desc.Flag(s[:], statusInvalidSession) }
func (s *Status) CipherErr() bool { return desc.Flag(s[:], statusCipherErr) }
func (s *Status) AuthFail() bool { return desc.Flag(s[:], statusAuthFail) }

func (s *Status) SetSrcErr() { desc.SetFlag(s[:], statusSrcErr, true) }
func (s *Status) SetDstErr() { desc.SetFlag(s[:], statusDstErr, true) }
func (s *Status) SetInvalidSession() { desc.SetFlag(s[:], statusInvalidSession, true) }
func (s *Status) SetCipherErr() { desc.SetFlag(s[:], statusCipherErr, true) }
func (s *Status) SetAuthFail() { desc.SetFlag(s[:], statusAuthFail, true) }

func (s *Status) Err() bool { return s[0]&0x1f != 0 }

func (s *Status) Decode(b []byte) { desc.Decode(s[:], b) }

func (s *Status) Encode(b []byte) { desc.Encode(s[:], b) }
