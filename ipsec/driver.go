package ipsec

import (
	"encoding/binary"

	"github.com/lab47/accelsim/pkg/desc"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/pkg/errors"
)

// Driver programs sessions and queues over the register bus and keeps keys,
// rings and frames in the shared arena.
type Driver struct {
	bus   regbus.Bus
	arena *mem.Arena
}

func NewDriver(bus regbus.Bus, arena *mem.Arena) *Driver {
	return &Driver{bus: bus, arena: arena}
}

type SessionConfig struct {
	Cipher CipherAlg
	Mode   CipherMode
	Hmac   HmacAlg

	CipherKey []byte
	// HashKey is zero padded to the algorithm's key length.
	HashKey []byte
	// Salt is at most 4 bytes and precedes the packet IV in the nonce.
	Salt []byte

	// Zero IVLen and ICVLen select the mode's defaults.
	IVLen  int
	ICVLen int
}

func (d *Driver) key(data []byte, n int) (uint64, error) {
	if len(data) > n {
		return 0, errors.Errorf("key is %d bytes, want at most %d", len(data), n)
	}

	addr, err := d.arena.Alloc(n, 64)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, n)
	copy(buf, data)

	return addr, d.arena.WriteAt(buf, addr)
}

func (d *Driver) write(id int, off, v uint64) error {
	return d.bus.WriteReg(SessionAddr(id)+off, v)
}

func (d *Driver) writeAddr(id int, lo, hi uint64, addr uint64) error {
	if err := d.write(id, lo, addr&0xffffffff); err != nil {
		return err
	}
	return d.write(id, hi, addr>>32)
}

// SetSession installs cfg as session id. The session is invalid while its
// keys are written and goes live with the final ctx write.
func (d *Driver) SetSession(id int, cfg SessionConfig) error {
	if id < 0 || id >= Sessions {
		return errors.Errorf("no session %d", id)
	}
	if len(cfg.Salt) > 4 {
		return errors.Errorf("salt is %d bytes, want at most 4", len(cfg.Salt))
	}

	if err := d.InvalidateSession(id); err != nil {
		return err
	}

	if n := cfg.Cipher.KeyLen(); n > 0 {
		if len(cfg.CipherKey) != n {
			return errors.Errorf("%s key is %d bytes, want %d", cfg.Cipher, len(cfg.CipherKey), n)
		}

		addr, err := d.key(cfg.CipherKey, n)
		if err != nil {
			return errors.Wrapf(err, "storing cipher key")
		}
		if err := d.writeAddr(id, SessCipherKeyLo, SessCipherKeyHi, addr); err != nil {
			return err
		}
	}

	if n := cfg.Hmac.KeyLen(); n > 0 {
		addr, err := d.key(cfg.HashKey, n)
		if err != nil {
			return errors.Wrapf(err, "storing hash key")
		}
		if err := d.writeAddr(id, SessHashKeyLo, SessHashKeyHi, addr); err != nil {
			return err
		}
	}

	var salt [4]byte
	copy(salt[:], cfg.Salt)
	if err := d.write(id, SessSalt, uint64(binary.LittleEndian.Uint32(salt[:]))); err != nil {
		return err
	}

	ctx := MakeCtx(cfg.Cipher, cfg.Mode, cfg.Hmac, len(cfg.Salt), cfg.IVLen, cfg.ICVLen)
	return d.write(id, SessCtx, uint64(ctx))
}

// InvalidateSession clears session id's ctx, dropping its cached keys.
func (d *Driver) InvalidateSession(id int) error {
	return d.write(id, SessCtx, 0)
}

// Buffer copies parts into the arena as one frame.
func (d *Driver) Buffer(parts ...[]byte) (*desc.Buffer, error) {
	return desc.NewBuffer(d.arena, parts...)
}

// Queue submits requests to one channel and collects their statuses.
type Queue struct {
	sw   *ring.Sw
	next ring.Ptr

	pending []bool
}

func (d *Driver) Queue(q int, size uint32) (*Queue, error) {
	if q < 0 || q >= Channels {
		return nil, errors.Errorf("no queue %d", q)
	}

	sw, err := ring.NewSw(d.bus, d.arena, ring.SwConfig{
		Base:     QueueAddr(q),
		Size:     size,
		ReqSize:  ReqSize,
		RespSize: ResultSize,
	})
	if err != nil {
		return nil, err
	}

	return &Queue{sw: sw}, nil
}

func (q *Queue) Submit(req *ReqDesc) error {
	buf := make([]byte, ReqSize)
	req.Encode(buf)

	if err := q.sw.PushRequests(buf); err != nil {
		return err
	}

	q.pending = append(q.pending, req.Cfg.RespEn())
	return nil
}

// Collect returns the statuses of finished requests in submit order. A
// request submitted without resp_en yields a zero status.
func (q *Queue) Collect() ([]Status, error) {
	c, err := q.sw.Consumer()
	if err != nil {
		return nil, err
	}

	st := ring.State{Size: q.sw.Size(), Consumer: q.next, Producer: c, Enabled: true}
	done := st.ConsumerValids()

	var (
		out []Status
		raw [ResultSize]byte
	)

	for ; done > 0 && len(q.pending) > 0; done-- {
		var s Status
		if q.pending[0] {
			if err := q.sw.Response(q.next, raw[:]); err != nil {
				return out, err
			}
			s.Decode(raw[:])
		}
		out = append(out, s)

		q.pending = q.pending[1:]
		q.next = ring.Next(q.next, q.sw.Size())
	}

	return out, nil
}

func (q *Queue) Ring() *ring.Sw { return q.sw }
