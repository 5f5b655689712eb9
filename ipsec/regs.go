package ipsec

import (
	"sync"
	"sync/atomic"

	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/pkg/errors"
)

// Ctx is a session's transform context word.
type Ctx uint32

const ctxValid = 1

func (c Ctx) Valid() bool { return c&ctxValid != 0 }
func (c Ctx) CipherAlg() CipherAlg { return CipherAlg(c>>1) & 0x3 }
func (c Ctx) CipherMode() CipherMode { return CipherMode(c>>3) & 0x3 }
func (c Ctx) HmacAlg() HmacAlg { return HmacAlg(c>>5) & 0x3 }
func (c Ctx) SaltLen() int { return int(c>>7) & 0x7 }
func (c Ctx) IVLen() int { return int(c>>10) & 0x3f }
func (c Ctx) ICVLen() int { return int(c>>16) & 0xfff }

// Check reports why a session cannot be used.
func (c Ctx) Check() error {
	switch {
	case !c.Valid():
		return errors.New("session valid bit is not set")
	case c.CipherAlg() == cipherUnknown:
		return errors.Errorf("unknown cipher algorithm %d", c.CipherAlg())
	case c.CipherMode() == modeUnknown:
		return errors.Errorf("unknown cipher mode %d", c.CipherMode())
	}
	return nil
}

// MakeCtx packs a context word.
func MakeCtx(alg CipherAlg, mode CipherMode, hmac HmacAlg, saltLen, ivLen, icvLen int) Ctx {
	return ctxValid |
		Ctx(alg&0x3)<<1 |
		Ctx(mode&0x3)<<3 |
		Ctx(hmac&0x3)<<5 |
		Ctx(saltLen&0x7)<<7 |
		Ctx(ivLen&0x3f)<<10 |
		Ctx(icvLen&0xfff)<<16
}

// Session is one session's register block.
type Session struct {
	id int
	w  [sessWords]atomic.Uint32

	// onCtx runs after every ctx write.
	onCtx func(id int)
}

func (s *Session) ReadReg(addr uint64) (uint64, error) {
	if addr >= sessWords {
		return 0, regbus.NoSuchRegister(addr)
	}
	return uint64(s.w[addr].Load()), nil
}

func (s *Session) WriteReg(addr, data uint64) error {
	if addr >= sessWords {
		return regbus.NoSuchRegister(addr)
	}

	s.w[addr].Store(uint32(data))
	if addr == SessCtx && s.onCtx != nil {
		s.onCtx(s.id)
	}

	return nil
}

func (s *Session) ID() int { return s.id }

func (s *Session) Ctx() Ctx { return Ctx(s.w[SessCtx].Load()) }

// Salt returns the low SaltLen bytes of the salt word, least significant
// first.
func (s *Session) Salt() []byte {
	n := min(s.Ctx().SaltLen(), 4)
	v := s.w[SessSalt].Load()

	salt := make([]byte, n)
	for i := range salt {
		salt[i] = byte(v >> (8 * i))
	}
	return salt
}

func (s *Session) addr(lo, hi int) uint64 {
	return uint64(s.w[lo].Load()) | uint64(s.w[hi].Load())<<32
}

// CipherKeyAddr returns where the cipher key lives, when the session has a
// cipher.
func (s *Session) CipherKeyAddr() (uint64, bool) {
	switch s.Ctx().CipherAlg() {
	case AES128, AES256:
		return s.addr(SessCipherKeyLo, SessCipherKeyHi), true
	default:
		return 0, false
	}
}

func (s *Session) HashKeyAddr() (uint64, bool) {
	if s.Ctx().HmacAlg() == HmacNull {
		return 0, false
	}
	return s.addr(SessHashKeyLo, SessHashKeyHi), true
}

// Regs is the engine's register file: session blocks followed by one ring
// block per queue.
type Regs struct {
	Sessions [Sessions]Session
	Queues   [Channels]*ring.Regs

	mu       sync.Mutex
	watchers []func(id int)

	router regbus.Router
}

func NewRegs() *Regs {
	r := &Regs{}

	sessions := make([]regbus.Bus, Sessions)
	for i := range r.Sessions {
		r.Sessions[i].id = i
		r.Sessions[i].onCtx = r.ctxWritten
		sessions[i] = &r.Sessions[i]
	}

	queues := make([]regbus.Bus, Channels)
	for i := range r.Queues {
		r.Queues[i] = ring.NewRegs(0)
		queues[i] = r.Queues[i]
	}

	r.router = regbus.Router{
		{Name: "sessions", Start: SessionBase, End: QueueBase, Bus: regbus.Array{Stride: SessionStride, Blocks: sessions}},
		{Name: "queues", Start: QueueBase, End: regEnd, Bus: regbus.Array{Stride: ring.RegsSize, Blocks: queues}},
	}

	return r
}

// OnCtxWrite registers fn to run whenever a session's ctx word is written.
func (r *Regs) OnCtxWrite(fn func(id int)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.watchers = append(r.watchers, fn)
}

func (r *Regs) ctxWritten(id int) {
	r.mu.Lock()
	ws := r.watchers
	r.mu.Unlock()

	for _, fn := range ws {
		fn(id)
	}
}

func (r *Regs) ReadReg(addr uint64) (uint64, error) {
	return r.router.ReadReg(addr)
}

func (r *Regs) WriteReg(addr, data uint64) error {
	return r.router.WriteReg(addr, data)
}

func SessionAddr(id int) uint64 { return SessionBase + uint64(id)*SessionStride }

func QueueAddr(q int) uint64 { return QueueBase + uint64(q)*ring.RegsSize }
