package rohc

import (
	"github.com/lab47/accelsim/pkg/desc"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/pkg/errors"
)

type Driver struct {
	bus   regbus.Bus
	arena *mem.Arena
}

func NewDriver(bus regbus.Bus, arena *mem.Arena) *Driver {
	return &Driver{bus: bus, arena: arena}
}

func (d *Driver) Buffer(parts ...[]byte) (*desc.Buffer, error) {
	return desc.NewBuffer(d.arena, parts...)
}

// Queue submits requests and collects their statuses in order.
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

// Op is one compression or decompression.
type Op struct {
	Src, Dst *desc.Buffer
	V2       bool
	Decomp   bool
	// NoResp skips the status write.
	NoResp bool
}

func (q *Queue) Submit(op Op) error {
	req := ReqDesc{Src: op.Src.Desc, Dst: op.Dst.Desc}
	req.Cfg.SetV2(op.V2)
	req.Cfg.SetDecomp(op.Decomp)
	req.Cfg.SetRespEn(!op.NoResp)

	buf := make([]byte, ReqSize)
	req.Encode(buf)

	if err := q.sw.PushRequests(buf); err != nil {
		return err
	}

	q.pending = append(q.pending, !op.NoResp)
	return nil
}

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
