package rohc

import (
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
)

// Engine runs requests against one codec per ROHC version. The two versions
// never share compression or decompression state.
type Engine struct {
	log logger.Logger
	mem mem.Memory

	v1, v2 Codec

	src, dst []byte
}

func NewEngine(log logger.Logger, m mem.Memory, v1, v2 Codec) *Engine {
	if v1 == nil {
		v1 = NewUncompressed()
	}
	if v2 == nil {
		v2 = NewUncompressed()
	}

	return &Engine{
		log: log,
		mem: m,
		v1:  v1,
		v2:  v2,
		src: make([]byte, MaxFrameLen),
		dst: make([]byte, MaxFrameLen),
	}
}

func (e *Engine) codec(cfg *CfgDesc) Codec {
	if cfg.V2() {
		return e.v2
	}
	return e.v1
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

	out := e.dst[:min(int(req.Dst.TotalSize()), len(e.dst))]

	codec := e.codec(&req.Cfg)
	if req.Cfg.Decomp() {
		n, err = codec.Decompress(src, out)
	} else {
		n, err = codec.Compress(src, out)
	}

	switch {
	case err == nil:
		st.SetLen(n)
	case errors.Is(err, ErrTooSmall):
		st.SetTooSmall()
	case errors.Is(err, ErrBadCRC):
		st.SetBadCRC()
	case errors.Is(err, ErrNoContext):
		st.SetNoCtx()
	default:
		st.SetBadFmt()
	}

	if err != nil {
		e.log.Warn("codec failed", "decomp", req.Cfg.Decomp(), "v2", req.Cfg.V2(), "error", err)
		return st
	}

	if e.log.IsTrace() {
		e.log.Trace("codec done", "decomp", req.Cfg.Decomp(), "v2", req.Cfg.V2(), "in", len(src), "out", n)
	}

	if _, err := req.Dst.Write(e.mem, out[:n]); err != nil {
		e.log.Warn("writing destination frame", "error", err)
		st.SetDstErr()
	}

	return st
}
