package rohc

import (
	"github.com/lab47/accelsim/pkg/desc"
)

const (
	ReqSize    = 32
	ResultSize = 4
)

// CfgDesc selects the operation.
type CfgDesc [1]uint32

func (d *CfgDesc) V2() bool { return desc.Flag(d[:], 0) }
func (d *CfgDesc) Decomp() bool { return desc.Flag(d[:], 1) }
func (d *CfgDesc) RespEn() bool { return desc.Flag(d[:], 31) }

func (d *CfgDesc) SetV2(v bool) { desc.SetFlag(d[:], 0, v) }
func (d *CfgDesc) SetDecomp(v bool) { desc.SetFlag(d[:], 1, v) }
func (d *CfgDesc) SetRespEn(v bool) { desc.SetFlag(d[:], 31, v) }

type ReqDesc struct {
	Src, Dst desc.SCFrameDesc
	Cfg      CfgDesc
}

const scWords = desc.SCFrameDescSize / desc.EntrySize

func (r *ReqDesc) Decode(b []byte) {
	var w [ReqSize / desc.EntrySize]uint32
	desc.Decode(w[:], b)

	copy(r.Src[:], w[:scWords])
	copy(r.Dst[:], w[scWords:2*scWords])
	r.Cfg[0] = w[2*scWords]
}

func (r *ReqDesc) Encode(b []byte) {
	var w [ReqSize / desc.EntrySize]uint32
	copy(w[:], r.Src[:])
	copy(w[scWords:], r.Dst[:])
	w[2*scWords] = r.Cfg[0]

	desc.Encode(w[:], b[:ReqSize])
}

// Status is the result of one request. Len is the output length on success.
type Status [ResultSize / desc.EntrySize]uint32

const (
	statusSrcErr = iota
	statusDstErr
	statusTooSmall
	statusBadCRC
	statusNoCtx
	statusBadFmt

	statusErrMask = 1<<(statusBadFmt+1) - 1
)

func (s *Status) SrcErr() bool { return desc.Flag(s[:], statusSrcErr) }
func (s *Status) DstErr() bool { return desc.Flag(s[:], statusDstErr) }
func (s *Status) TooSmall() bool { return desc.Flag(s[:], statusTooSmall) }
func (s *Status) BadCRC() bool { return desc.Flag(s[:], statusBadCRC) }
func (s *Status) NoCtx() bool { return desc.Flag(s[:], statusNoCtx) }
func (s *Status) BadFmt() bool { return desc.Flag(s[:], statusBadFmt) }
func (s *Status) Len() int { return int(desc.Get(s[:], 31, 16)) }

func (s *Status) SetSrcErr() { desc.SetFlag(s[:], statusSrcErr, true) }
func (s *Status) SetDstErr() { desc.SetFlag(s[:], statusDstErr, true) }
func (s *Status) SetTooSmall() { desc.SetFlag(s[:], statusTooSmall, true) }
func (s *Status) SetBadCRC() { desc.SetFlag(s[:], statusBadCRC, true) }
func (s *Status) SetNoCtx() { desc.SetFlag(s[:], statusNoCtx, true) }
func (s *Status) SetBadFmt() { desc.SetFlag(s[:], statusBadFmt, true) }
func (s *Status) SetLen(n int) { desc.Set(s[:], 31, 16, uint64(n)) }

func (s *Status) Err() bool { return s[0]&statusErrMask != 0 }

func (s *Status) Decode(b []byte) { desc.Decode(s[:], b) }

func (s *Status) Encode(b []byte) { desc.Encode(s[:], b) }
