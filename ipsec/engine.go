package ipsec

import (
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/lsvd/logger"
	"github.com/rcrowley/go-metrics"
)

// Transform is the synchronous service the core hands each request to. It
// always completes; failures are reported in the status.
type Transform interface {
	Process(req *ReqDesc) Status
}

// Engine is the built-in Transform. It gathers the source and destination
// frames, applies the session's cipher and HMAC, and scatters the
// destination back when nothing failed.
type Engine struct {
	log      logger.Logger
	mem      mem.Memory
	sessions *SessionCache

	src, dst []byte
}

func NewEngine(log logger.Logger, regs *Regs, m mem.Memory, reg metrics.Registry) *Engine {
	return &Engine{
		log:      log,
		mem:      m,
		sessions: NewSessionCache(regs, m, reg),
		src:      make([]byte, MaxFrameLen),
		dst:      make([]byte, MaxFrameLen),
	}
}

func (e *Engine) Process(req *ReqDesc) Status {
	var st Status

	n, err := req.Src.Read(e.mem, e.src)
	if err != nil {
		e.log.Warn("reading source frame", "error", err)
		st.SetSrcErr()
		return st
	}
	src := e.src[:n]

	// The destination is read first so bytes the transform leaves alone are
	// written back unchanged.
	n, err = req.Dst.Read(e.mem, e.dst)
	if err != nil {
		e.log.Warn("reading destination frame", "error", err)
		st.SetDstErr()
		return st
	}
	dst := e.dst[:n]

	ctx, err := e.sessions.Context(req.Cfg.Session())
	if err != nil {
		e.log.Warn("rejected request", "error", err)
		st.SetInvalidSession()
		return st
	}

	x := &xform{
		log:    e.log,
		ctx:    ctx,
		cfg:    &req.Cfg,
		sf:     &req.SrcFmt,
		df:     &req.DstFmt,
		src:    src,
		dst:    dst,
		status: &st,
	}
	x.run()

	if st.Err() {
		return st
	}

	if _, err := req.Dst.Write(e.mem, dst); err != nil {
		e.log.Warn("writing destination frame", "error", err)
		st.SetDstErr()
	}

	return st
}

// xform is one request in flight.
type xform struct {
	log logger.Logger
	ctx *Context
	cfg *CfgDesc
	sf  *FmtDesc
	df  *FmtDesc

	src, dst []byte
	status   *Status
}

func part(b []byte, off, n int) []byte {
	if n == 0 {
		return nil
	}
	return b[off : off+n]
}

func fits(b []byte, off, n int) bool {
	return n == 0 || off+n <= len(b)
}

func (x *xform) srcAAD() []byte { return part(x.src, x.sf.AADOffset(), x.cfg.AADLen()) }
func (x *xform) srcText() []byte { return part(x.src, x.sf.TextOffset(), x.cfg.TextLen()) }
func (x *xform) srcICV() []byte { return part(x.src, x.sf.ICVOffset(), x.ctx.ICVLen()) }
func (x *xform) dstAAD() []byte { return part(x.dst, x.df.AADOffset(), x.cfg.AADLen()) }
func (x *xform) dstText() []byte { return part(x.dst, x.df.TextOffset(), x.cfg.TextLen()) }

// iv is the session salt followed by the packet's IV.
func (x *xform) iv() []byte {
	iv := append([]byte(nil), x.ctx.Salt...)
	return append(iv, part(x.src, x.sf.IVOffset(), x.ctx.IVLen())...)
}

func (x *xform) setDstText(text []byte) {
	copy(part(x.dst, x.df.TextOffset(), x.cfg.TextLen()), text)
}

func (x *xform) setDstICV(icv []byte) {
	copy(part(x.dst, x.df.ICVOffset(), x.ctx.ICVLen()), icv)
}

func (x *xform) checkSrc() bool {
	switch {
	case !fits(x.src, x.sf.AADOffset(), x.cfg.AADLen()):
		x.log.Warn("aad exceeds source frame", "offset", x.sf.AADOffset(), "len", x.cfg.AADLen(), "frame", len(x.src))
	case !fits(x.src, x.sf.TextOffset(), x.cfg.TextLen()):
		x.log.Warn("text exceeds source frame", "offset", x.sf.TextOffset(), "len", x.cfg.TextLen(), "frame", len(x.src))
	case !fits(x.src, x.sf.IVOffset(), x.ctx.IVLen()):
		x.log.Warn("iv exceeds source frame", "offset", x.sf.IVOffset(), "len", x.ctx.IVLen(), "frame", len(x.src))
	case !x.cfg.Encrypt() && !fits(x.src, x.sf.ICVOffset(), x.ctx.ICVLen()):
		x.log.Warn("icv exceeds source frame", "offset", x.sf.ICVOffset(), "len", x.ctx.ICVLen(), "frame", len(x.src))
	default:
		return true
	}
	return false
}

func (x *xform) checkDst() bool {
	switch {
	case x.digestsDst() && !fits(x.dst, x.df.AADOffset(), x.cfg.AADLen()):
		x.log.Warn("aad exceeds destination frame", "offset", x.df.AADOffset(), "len", x.cfg.AADLen(), "frame", len(x.dst))
	case !fits(x.dst, x.df.TextOffset(), x.cfg.TextLen()):
		x.log.Warn("text exceeds destination frame", "offset", x.df.TextOffset(), "len", x.cfg.TextLen(), "frame", len(x.dst))
	case x.cfg.IVCopy() && !fits(x.dst, x.df.IVOffset(), x.ctx.IVLen()):
		x.log.Warn("iv exceeds destination frame", "offset", x.df.IVOffset(), "len", x.ctx.IVLen(), "frame", len(x.dst))
	case x.cfg.Encrypt() && !fits(x.dst, x.df.ICVOffset(), x.ctx.ICVLen()):
		x.log.Warn("icv exceeds destination frame", "offset", x.df.ICVOffset(), "len", x.ctx.ICVLen(), "frame", len(x.dst))
	default:
		return true
	}
	return false
}

// digestsDst reports whether the destination aad is read back, either
// because it is copied or because the HMAC covers it.
func (x *xform) digestsDst() bool {
	return x.cfg.AADCopy() || x.cfg.Encrypt() && x.ctx.Hmac != HmacNull
}

func (x *xform) run() {
	if !x.checkSrc() {
		x.status.SetSrcErr()
		return
	}
	if !x.checkDst() {
		x.status.SetDstErr()
		return
	}

	if x.cfg.AADCopy() {
		copy(x.dstAAD(), x.srcAAD())
	}
	if x.cfg.IVCopy() {
		copy(part(x.dst, x.df.IVOffset(), x.ctx.IVLen()), part(x.src, x.sf.IVOffset(), x.ctx.IVLen()))
	}

	if x.log.IsTrace() {
		x.log.Trace("transform", "cipher", x.ctx.Cipher, "mode", x.ctx.Mode, "hmac", x.ctx.Hmac,
			"encrypt", x.cfg.Encrypt(), "text", x.cfg.TextLen(), "aad", x.cfg.AADLen())
	}

	switch x.ctx.Cipher {
	case AES128, AES256:
		switch x.ctx.Mode {
		case GCM:
			x.gcm()
		case CCM:
			x.ccm()
		case CBC:
			x.cbc()
		}
	case CipherNull:
		x.null()
	}
}

func (x *xform) null() {
	if x.cfg.Encrypt() {
		x.setDstText(x.srcText())
		x.hmacDigest()
		return
	}

	if x.hmacVerify() {
		x.setDstText(x.srcText())
	}
}

func (x *xform) cipherErr(mode string, err error) {
	x.status.SetCipherErr()
	x.log.Warn("cipher failed", "mode", mode, "error", err)
}
