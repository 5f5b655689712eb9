package ipsec

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/lab47/accelsim/pkg/desc"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	require.NoError(t, err)
	return b
}

type harness struct {
	core  *Core
	regs  *Regs
	drv   *Driver
	arena *mem.Arena
	queue *Queue
	reg   metrics.Registry
}

func newHarness(t *testing.T) *harness {
	arena, err := mem.NewArena(0x10000, 1<<20)
	require.NoError(t, err)

	regs := NewRegs()
	reg := metrics.NewRegistry()

	core := NewCore(Options{
		Log:     logger.New(logger.Trace),
		Regs:    regs,
		Mem:     arena,
		Metrics: reg,
	})

	drv := NewDriver(regs, arena)
	q, err := drv.Queue(1, 4)
	require.NoError(t, err)

	return &harness{core: core, regs: regs, drv: drv, arena: arena, queue: q, reg: reg}
}

func (h *harness) count(name string) int64 {
	return h.reg.Get(name).(metrics.Counter).Count()
}

// do submits req, runs the core once and returns the request's status.
func (h *harness) do(t *testing.T, req *ReqDesc) Status {
	r := require.New(t)

	r.NoError(h.queue.Submit(req))
	r.NoError(h.core.Step())

	sts, err := h.queue.Collect()
	r.NoError(err)
	r.Len(sts, 1)

	return sts[0]
}

func (h *harness) read(t *testing.T, b *desc.Buffer) []byte {
	data, err := b.Bytes(h.arena)
	require.NoError(t, err)
	return data
}

type vector struct {
	session SessionConfig
	aad     []byte
	iv      []byte
	pt      []byte
	ct      []byte
	icv     []byte
}

// encrypt sends aad, iv and plaintext as three fragments and asks for iv,
// ciphertext and icv in one linear destination.
func (h *harness) encrypt(t *testing.T, id int, v vector) (Status, *desc.Buffer) {
	r := require.New(t)

	src, err := h.drv.Buffer(v.aad, v.iv, v.pt)
	r.NoError(err)
	dst, err := h.drv.Buffer(make([]byte, len(v.iv)+len(v.pt)+len(v.icv)))
	r.NoError(err)

	req := &ReqDesc{Src: src.Desc, Dst: dst.Desc}
	req.Cfg.SetAADLen(len(v.aad))
	req.Cfg.SetSession(id)
	req.Cfg.SetTextLen(len(v.pt))
	req.Cfg.SetRespEn(true)
	req.Cfg.SetEncrypt(true)
	req.Cfg.SetIVCopy(true)

	req.SrcFmt.SetIVOffset(len(v.aad))
	req.SrcFmt.SetTextOffset(len(v.aad) + len(v.iv))

	req.DstFmt.SetTextOffset(len(v.iv))
	req.DstFmt.SetICVOffset(len(v.iv) + len(v.pt))

	return h.do(t, req), dst
}

// decrypt sends aad and the encrypt output, asking for aad and plaintext.
func (h *harness) decrypt(t *testing.T, id int, v vector, sealed []byte) (Status, *desc.Buffer) {
	r := require.New(t)

	src, err := h.drv.Buffer(v.aad, sealed)
	r.NoError(err)
	dst, err := h.drv.Buffer(make([]byte, len(v.aad)+len(v.pt)))
	r.NoError(err)

	req := &ReqDesc{Src: src.Desc, Dst: dst.Desc}
	req.Cfg.SetAADLen(len(v.aad))
	req.Cfg.SetSession(id)
	req.Cfg.SetTextLen(len(v.pt))
	req.Cfg.SetRespEn(true)
	req.Cfg.SetAADCopy(true)

	req.SrcFmt.SetIVOffset(len(v.aad))
	req.SrcFmt.SetTextOffset(len(v.aad) + len(v.iv))
	req.SrcFmt.SetICVOffset(len(v.aad) + len(v.iv) + len(v.pt))

	req.DstFmt.SetTextOffset(len(v.aad))

	return h.do(t, req), dst
}

func vectors(t *testing.T) map[string]vector {
	return map[string]vector{
		"aes-256-gcm": {
			session: SessionConfig{
				Cipher:    AES256,
				Mode:      GCM,
				CipherKey: unhex(t, "dd73670fb221f7ee185f5818065e22dda3780fc900fc02ef00232c661d7bffce"),
				Salt:      unhex(t, "c33de653"),
			},
			aad: unhex(t, "e1a5e52427f1c5b887575a6f2c445429"),
			iv:  unhex(t, "44cfbf228e1652bd"),
			pt:  unhex(t, "ada4d98147b30e5a901229952a"),
			ct:  unhex(t, "6ed4e4bd1f953d47c5288c48f4"),
			icv: unhex(t, "404e3a9b9f5ddab9ee169a7c7c2cf7af"),
		},
		"aes-128-ccm": {
			session: SessionConfig{
				Cipher:    AES128,
				Mode:      CCM,
				CipherKey: unhex(t, "C0 C1 C2 C3 C4 C5 C6 C7 C8 C9 CA CB CC CD CE CF"),
				IVLen:     13,
			},
			aad: unhex(t, "00 01 02 03 04 05 06 07"),
			iv:  unhex(t, "00 00 00 04 03 02 01 A0 A1 A2 A3 A4 A5"),
			pt:  unhex(t, "08 09 0A 0B 0C 0D 0E 0F 10 11 12 13 14 15 16 17 18 19 1A 1B 1C 1D 1E 1F"),
			ct:  unhex(t, "72 C9 1A 36 E1 35 F8 CF 29 1C A8 94 08 5C 87 E3 CC 15 C4 39 C9 E4 3A 3B"),
			icv: unhex(t, "A0 91 D5 6E 10 40 09 16"),
		},
		"aes-128-cbc": {
			session: SessionConfig{
				Cipher:    AES128,
				Mode:      CBC,
				CipherKey: unhex(t, "90d382b4 10eeba7a d938c46c ec1a82bf"),
			},
			iv: unhex(t, "e96e8c08 ab465763 fd098d45 dd3ff893"),
			pt: unhex(t, `08000ebd a70a0000 8e9c083d b95b0700 08090a0b 0c0d0e0f 10111213 14151617
				18191a1b 1c1d1e1f 20212223 24252627 28292a2b 2c2d2e2f 30313233 34353637
				01020304 05060708 090a0b0c 0d0e0e01`),
			ct: unhex(t, `f663c25d 325c18c6 a9453e19 4e120849 a4870b66 cc6b9965 330013b4 898dc856
				a4699e52 3a55db08 0b59ec3a 8e4b7e52 775b07d1 db34ed9c 538ab50c 551b874a
				a269add0 47ad2d59 13ac19b7 cfbad4a6`),
		},
		"hmac-sha256": {
			session: SessionConfig{
				Cipher:  CipherNull,
				Mode:    CBC,
				Hmac:    SHA256,
				HashKey: unhex(t, "4a656665"),
			},
			pt:  unhex(t, "7768617420646f2079612077616e7420666f72206e6f7468696e673f"),
			ct:  unhex(t, "7768617420646f2079612077616e7420666f72206e6f7468696e673f"),
			icv: unhex(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"),
		},
		"aes-256-gmac": {
			session: SessionConfig{
				Cipher:    AES256,
				Mode:      GCM,
				CipherKey: unhex(t, "dd95259bc8eefa3e493cb1a6ba1d8ee2b341d5230d50363094a2cc3433b3d9b9"),
				Salt:      unhex(t, "a1a6ced0"),
			},
			aad: unhex(t, `d46db90e13684b26149cb3b7f776e228a0538fa1892c418aaad07aa08d3076f4a52bee8f130ff560db2b8d
				1009e9260fa6233fc22733e050c9e4f7cc699062765e261dffff1159e9060b26c8065dfab04055b58c82c340d987c9`),
			iv:  unhex(t, "84f4f13990750a9e"),
			icv: unhex(t, "9e120b01899fe2cb3e3a0b0c05045940"),
		},
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestKnownAnswers(t *testing.T) {
	for name, v := range vectors(t) {
		t.Run(name+" encrypts and decrypts", func(t *testing.T) {
			r := require.New(t)
			h := newHarness(t)

			r.NoError(h.drv.SetSession(3, v.session))

			st, dst := h.encrypt(t, 3, v)
			r.False(st.Err(), "status %#x", st[0])

			sealed := h.read(t, dst)
			r.Equal(concat(v.iv, v.ct, v.icv), sealed)

			st, dst = h.decrypt(t, 3, v, sealed)
			r.False(st.Err(), "status %#x", st[0])
			r.Equal(concat(v.aad, v.pt), h.read(t, dst))

			r.Equal(int64(2), h.count("requests"))
			r.Equal(int64(0), h.count("errors"))
		})
	}
}

func TestFailures(t *testing.T) {
	gcm := func(t *testing.T) vector { return vectors(t)["aes-256-gcm"] }

	t.Run("tampered ciphertext fails authentication and leaves dst alone", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := gcm(t)

		r.NoError(h.drv.SetSession(0, v.session))

		sealed := concat(v.iv, v.ct, v.icv)
		sealed[len(v.iv)] ^= 0x80

		st, dst := h.decrypt(t, 0, v, sealed)
		r.True(st.AuthFail())
		r.Equal(make([]byte, len(v.aad)+len(v.pt)), h.read(t, dst))
		r.Equal(int64(1), h.count("errors"))
	})

	t.Run("tampered hmac fails before decrypting", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := vectors(t)["hmac-sha256"]

		r.NoError(h.drv.SetSession(0, v.session))

		sealed := concat(v.ct, v.icv)
		sealed[len(sealed)-1] ^= 1

		st, _ := h.decrypt(t, 0, v, sealed)
		r.True(st.AuthFail())
	})

	t.Run("a session that was never set is invalid", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)

		st, dst := h.encrypt(t, 7, gcm(t))
		r.True(st.InvalidSession())
		r.False(st.CipherErr())

		v := gcm(t)
		r.Equal(make([]byte, len(v.iv)+len(v.pt)+len(v.icv)), h.read(t, dst))
	})

	t.Run("an invalidated session is rejected", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := gcm(t)

		r.NoError(h.drv.SetSession(2, v.session))
		r.NoError(h.drv.InvalidateSession(2))

		st, _ := h.encrypt(t, 2, v)
		r.True(st.InvalidSession())
	})

	t.Run("ccm with an unsupported tag size is an invalid session", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := vectors(t)["aes-128-ccm"]
		v.session.ICVLen = 5

		r.NoError(h.drv.SetSession(0, v.session))

		st, _ := h.encrypt(t, 0, v)
		r.True(st.InvalidSession())
	})

	t.Run("ccm with a nonce under seven bytes is an invalid session", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := vectors(t)["aes-128-ccm"]
		v.session.IVLen = 6

		r.NoError(h.drv.SetSession(0, v.session))

		st, dst := h.encrypt(t, 0, v)
		r.True(st.InvalidSession())
		r.False(st.CipherErr())

		out, err := dst.Bytes(h.arena)
		r.NoError(err)
		sealed := out[len(v.iv):]
		r.Equal(make([]byte, len(sealed)), sealed)
	})

	t.Run("cbc text that is not whole blocks is a cipher error", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := vectors(t)["aes-128-cbc"]
		v.pt = v.pt[:20]

		r.NoError(h.drv.SetSession(0, v.session))

		st, _ := h.encrypt(t, 0, v)
		r.True(st.CipherErr())
	})

	t.Run("text past the end of the source is a source error", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := gcm(t)

		r.NoError(h.drv.SetSession(0, v.session))

		src, err := h.drv.Buffer(v.pt)
		r.NoError(err)
		dst, err := h.drv.Buffer(make([]byte, 64))
		r.NoError(err)

		req := &ReqDesc{Src: src.Desc, Dst: dst.Desc}
		req.Cfg.SetTextLen(len(v.pt) + 1)
		req.Cfg.SetEncrypt(true)
		req.Cfg.SetRespEn(true)

		st := h.do(t, req)
		r.True(st.SrcErr())
	})

	t.Run("a fragment list that does not add up is a destination error", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := gcm(t)

		r.NoError(h.drv.SetSession(0, v.session))

		src, err := h.drv.Buffer(v.aad, v.iv, v.pt)
		r.NoError(err)
		dst, err := h.drv.Buffer(make([]byte, 8), make([]byte, 8))
		r.NoError(err)
		dst.Desc.SetTotalSize(17)

		req := &ReqDesc{Src: src.Desc, Dst: dst.Desc}
		req.Cfg.SetRespEn(true)

		st := h.do(t, req)
		r.True(st.DstErr())
	})
}

func TestResponses(t *testing.T) {
	t.Run("without resp_en the entry is retired and no status is written", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)

		src, err := h.drv.Buffer([]byte("x"))
		r.NoError(err)

		// Session 9 is invalid, so a written status would not be zero.
		req := &ReqDesc{Src: src.Desc, Dst: src.Desc}
		req.Cfg.SetSession(9)
		r.NoError(h.queue.Submit(req))
		r.NoError(h.core.Step())

		c, err := h.queue.Ring().Consumer()
		r.NoError(err)
		r.Equal(uint32(1), c.Low())

		sts, err := h.queue.Collect()
		r.NoError(err)
		r.Equal([]Status{{}}, sts)
		r.Equal(int64(1), h.count("errors"))
	})

	t.Run("an idle core is not an error", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)

		r.NoError(h.core.Step())
		r.Equal(int64(0), h.count("requests"))
	})

	t.Run("queues are served round robin", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)

		q0, err := h.drv.Queue(0, 4)
		r.NoError(err)

		src, err := h.drv.Buffer([]byte("x"))
		r.NoError(err)

		req := &ReqDesc{Src: src.Desc, Dst: src.Desc}
		req.Cfg.SetSession(9)
		req.Cfg.SetRespEn(true)

		r.NoError(q0.Submit(req))
		r.NoError(q0.Submit(req))
		r.NoError(h.queue.Submit(req))

		r.NoError(h.core.Step())
		r.NoError(h.core.Step())

		done0, err := q0.Collect()
		r.NoError(err)
		r.Len(done0, 1)

		done1, err := h.queue.Collect()
		r.NoError(err)
		r.Len(done1, 1)
		r.True(done1[0].InvalidSession())
	})
}

func TestSessionCache(t *testing.T) {
	t.Run("keys are served from the cache until ctx is rewritten", func(t *testing.T) {
		r := require.New(t)
		h := newHarness(t)
		v := vectors(t)["aes-256-gcm"]

		r.NoError(h.drv.SetSession(4, v.session))

		st, dst := h.encrypt(t, 4, v)
		r.False(st.Err())
		r.Equal(concat(v.iv, v.ct, v.icv), h.read(t, dst))
		r.Equal(int64(1), h.count("key_cache.misses"))

		lo, err := h.regs.ReadReg(SessionAddr(4) + SessCipherKeyLo)
		r.NoError(err)
		hi, err := h.regs.ReadReg(SessionAddr(4) + SessCipherKeyHi)
		r.NoError(err)
		r.NoError(h.arena.WriteAt(make([]byte, 32), lo|hi<<32))

		st, dst = h.encrypt(t, 4, v)
		r.False(st.Err())
		r.Equal(concat(v.iv, v.ct, v.icv), h.read(t, dst))
		r.Equal(int64(1), h.count("key_cache.misses"))

		ctx, err := h.regs.ReadReg(SessionAddr(4) + SessCtx)
		r.NoError(err)
		r.NoError(h.regs.WriteReg(SessionAddr(4)+SessCtx, ctx))

		st, dst = h.encrypt(t, 4, v)
		r.False(st.Err())
		r.NotEqual(concat(v.iv, v.ct, v.icv), h.read(t, dst))
		r.Equal(int64(2), h.count("key_cache.misses"))
	})

	t.Run("defaults follow the mode", func(t *testing.T) {
		r := require.New(t)

		r.Equal(8, (&Context{Cipher: AES128, Mode: CCM}).ICVLen())
		r.Equal(16, (&Context{Cipher: AES128, Mode: GCM}).ICVLen())
		r.Equal(20, (&Context{Cipher: AES128, Mode: CBC, Hmac: SHA1}).ICVLen())
		r.Equal(32, (&Context{Cipher: CipherNull, Mode: GCM, Hmac: SHA512}).ICVLen())
		r.Equal(12, (&Context{Cipher: AES128, Mode: GCM, icvLen: 12}).ICVLen())

		r.Equal(8, (&Context{Cipher: AES256, Mode: GCM}).IVLen())
		r.Equal(16, (&Context{Cipher: AES128, Mode: CBC}).IVLen())
		r.Equal(0, (&Context{Cipher: CipherNull, Mode: CBC, Hmac: SHA1}).IVLen())
	})
}

func TestKeyCache(t *testing.T) {
	fill := func(id byte, calls *int) func([]byte) error {
		return func(buf []byte) error {
			*calls++
			for i := range buf {
				buf[i] = id
			}
			return nil
		}
	}

	t.Run("replaces entries with the clock", func(t *testing.T) {
		r := require.New(t)

		misses := metrics.NewCounter()
		c := NewKeyCache(2, 4, misses)

		var calls int
		for _, id := range []int{1, 2, 3} {
			key, err := c.Get(id, 4, fill(byte(id), &calls))
			r.NoError(err)
			r.Equal([]byte{byte(id), byte(id), byte(id), byte(id)}, key)
		}
		r.Equal(3, calls)

		// 3 took 1's entry, so 2 is still cached.
		_, err := c.Get(2, 4, fill(2, &calls))
		r.NoError(err)
		r.Equal(3, calls)

		_, err = c.Get(1, 4, fill(1, &calls))
		r.NoError(err)
		r.Equal(4, calls)
		r.Equal(int64(4), misses.Count())
	})

	t.Run("invalidate forces a reload", func(t *testing.T) {
		r := require.New(t)

		c := NewKeyCache(2, 4, nil)

		var calls int
		_, err := c.Get(1, 4, fill(1, &calls))
		r.NoError(err)

		c.Invalidate(1)

		key, err := c.Get(1, 4, fill(9, &calls))
		r.NoError(err)
		r.Equal([]byte{9, 9, 9, 9}, key)
		r.Equal(2, calls)
	})

	t.Run("a failed fill caches nothing", func(t *testing.T) {
		r := require.New(t)

		c := NewKeyCache(1, 4, nil)
		_, err := c.Get(1, 4, func([]byte) error { return mem.ErrFault })
		r.ErrorIs(err, mem.ErrFault)

		var calls int
		_, err = c.Get(1, 4, fill(1, &calls))
		r.NoError(err)
		r.Equal(1, calls)
	})
}

func TestRegisterMap(t *testing.T) {
	t.Run("session blocks have holes past the hash key", func(t *testing.T) {
		r := require.New(t)
		regs := NewRegs()

		r.NoError(regs.WriteReg(SessionAddr(63)+SessSalt, 0xabcd))
		v, err := regs.ReadReg(SessionAddr(63) + SessSalt)
		r.NoError(err)
		r.Equal(uint64(0xabcd), v)

		_, err = regs.ReadReg(SessionAddr(1) + 6)
		r.True(errors.Is(err, regbus.ErrNoSuchRegister))
	})

	t.Run("nothing past the last queue", func(t *testing.T) {
		r := require.New(t)
		regs := NewRegs()

		_, err := regs.ReadReg(QueueAddr(Channels))
		r.True(errors.Is(err, regbus.ErrNoSuchRegister))

		_, err = regs.ReadReg(regEnd)
		r.True(errors.Is(err, regbus.ErrNoSuchRegister))
	})

	t.Run("ctx writes notify watchers", func(t *testing.T) {
		r := require.New(t)
		regs := NewRegs()

		var seen []int
		regs.OnCtxWrite(func(id int) { seen = append(seen, id) })

		r.NoError(regs.WriteReg(SessionAddr(5)+SessSalt, 1))
		r.NoError(regs.WriteReg(SessionAddr(5)+SessCtx, uint64(MakeCtx(AES128, GCM, HmacNull, 4, 0, 0))))
		r.Equal([]int{5}, seen)

		ctx := regs.Sessions[5].Ctx()
		r.True(ctx.Valid())
		r.Equal(AES128, ctx.CipherAlg())
		r.Equal(GCM, ctx.CipherMode())
		r.Equal(4, ctx.SaltLen())
	})
}
