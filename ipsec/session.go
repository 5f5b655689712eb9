package ipsec

import (
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
)

const (
	cipherKeySlot = 32
	hashKeySlot   = 128
)

// Context is everything a transform needs from a session.
type Context struct {
	Cipher CipherAlg
	Mode   CipherMode
	Hmac   HmacAlg
	Salt   []byte

	CipherKey []byte
	HashKey   []byte

	ivLen  int
	icvLen int
}

// IVLen is the per-packet IV length. Zero in the ctx word selects the mode's
// default, and a null cipher has no IV.
func (c *Context) IVLen() int {
	if c.ivLen != 0 {
		return c.ivLen
	}

	if c.Cipher == CipherNull {
		return 0
	}

	switch c.Mode {
	case CCM, GCM:
		return 8
	case CBC:
		return 16
	default:
		return 0
	}
}

// ICVLen is the integrity check value length, defaulting like IVLen.
func (c *Context) ICVLen() int {
	if c.icvLen != 0 {
		return c.icvLen
	}

	if c.Cipher != CipherNull {
		switch c.Mode {
		case CCM:
			return 8
		case GCM:
			return 16
		}
	}

	switch c.Hmac {
	case SHA1:
		return 20
	case SHA256, SHA512:
		return 32
	default:
		return 0
	}
}

// SessionCache resolves session ids to contexts, keeping key material in
// two clock caches that are invalidated when a session's ctx is rewritten.
type SessionCache struct {
	regs *Regs
	mem  mem.Memory

	cipherKeys *KeyCache
	hashKeys   *KeyCache
}

func NewSessionCache(regs *Regs, m mem.Memory, reg metrics.Registry) *SessionCache {
	var misses metrics.Counter = metrics.NilCounter{}
	if reg != nil {
		misses = metrics.NewRegisteredCounter("key_cache.misses", reg)
	}

	sc := &SessionCache{
		regs:       regs,
		mem:        m,
		cipherKeys: NewKeyCache(CacheEntries, cipherKeySlot, misses),
		hashKeys:   NewKeyCache(CacheEntries, hashKeySlot, misses),
	}

	regs.OnCtxWrite(func(id int) {
		sc.cipherKeys.Invalidate(id)
		sc.hashKeys.Invalidate(id)
	})

	return sc
}

var ErrInvalidSession = errors.New("invalid session")

// Context returns the context of session id, loading keys through the
// caches.
func (sc *SessionCache) Context(id int) (*Context, error) {
	if id < 0 || id >= Sessions {
		return nil, errors.Wrapf(ErrInvalidSession, "session %d out of range", id)
	}

	s := &sc.regs.Sessions[id]
	ctx := s.Ctx()
	if err := ctx.Check(); err != nil {
		return nil, errors.Wrapf(ErrInvalidSession, "session %d: %s", id, err)
	}

	c := &Context{
		Cipher: ctx.CipherAlg(),
		Mode:   ctx.CipherMode(),
		Hmac:   ctx.HmacAlg(),
		Salt:   s.Salt(),
		ivLen:  ctx.IVLen(),
		icvLen: ctx.ICVLen(),
	}

	if addr, ok := s.CipherKeyAddr(); ok {
		key, err := sc.load(sc.cipherKeys, id, addr, c.Cipher.KeyLen())
		if err != nil {
			return nil, errors.Wrapf(err, "session %d cipher key", id)
		}
		c.CipherKey = key
	}

	if addr, ok := s.HashKeyAddr(); ok {
		key, err := sc.load(sc.hashKeys, id, addr, c.Hmac.KeyLen())
		if err != nil {
			return nil, errors.Wrapf(err, "session %d hash key", id)
		}
		c.HashKey = key
	}

	return c, nil
}

func (sc *SessionCache) load(cache *KeyCache, id int, addr uint64, n int) ([]byte, error) {
	return cache.Get(id, n, func(buf []byte) error {
		return sc.mem.ReadAt(buf, addr)
	})
}
