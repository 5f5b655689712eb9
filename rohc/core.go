package rohc

import (
	"github.com/lab47/accelsim/pkg/arbiter"
	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/pipeline"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
)

type Options struct {
	Log     logger.Logger
	Regs    *Regs
	Mem     mem.Memory
	Arbiter arbiter.Arbiter[ReqDesc]
	// V1 and V2 default to the Uncompressed profile.
	V1, V2  Codec
	Metrics metrics.Registry
}

type pick struct {
	ch  int
	req ReqDesc
}

type Core struct {
	log  logger.Logger
	regs *Regs
	vec  *irq.Vec

	Channels []*Channel

	arbiter arbiter.Arbiter[ReqDesc]
	engine  *Engine
	slots   []arbiter.Slot[ReqDesc]

	run pipeline.Stage[struct{}, Status]

	requests metrics.Counter
	errs     metrics.Counter
}

func NewCore(opts Options) *Core {
	if opts.Regs == nil {
		opts.Regs = NewRegs()
	}
	if opts.Arbiter == nil {
		opts.Arbiter = arbiter.NewRoundRobin[ReqDesc]()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	reg := opts.Metrics
	c := &Core{
		log:      opts.Log,
		regs:     opts.Regs,
		vec:      irq.NewVec("rohc"),
		arbiter:  opts.Arbiter,
		engine:   NewEngine(opts.Log, opts.Mem, opts.V1, opts.V2),
		requests: metrics.NewRegisteredCounter("requests", reg),
		errs:     metrics.NewRegisteredCounter("errors", reg),
	}

	srcs := make([]irq.Source, Channels)
	for i := range Channels {
		ch := NewChannel(opts.Log, i, opts.Regs.Queues[i], opts.Mem, c.vec)
		c.Channels = append(c.Channels, ch)
		srcs[i] = ch
	}
	c.slots = make([]arbiter.Slot[ReqDesc], len(c.Channels))

	reqs := pipeline.Then[struct{}, struct{}, []arbiter.Slot[ReqDesc]](
		pipeline.IRQs(c.vec, srcs...),
		pipeline.Func[struct{}, []arbiter.Slot[ReqDesc]](c.pending),
	)

	arbit := pipeline.Then[struct{}, []arbiter.Slot[ReqDesc], pick](
		reqs,
		pipeline.Func[[]arbiter.Slot[ReqDesc], pick](c.arbit),
	)

	c.run = pipeline.Then[struct{}, pick, Status](arbit, pipeline.Func[pick, Status](c.process))

	return c
}

func (c *Core) IRQs() *irq.Vec { return c.vec }

func (c *Core) Bus() regbus.Bus { return c.regs }

func (c *Core) Regs() *Regs { return c.regs }

func (c *Core) pending(_ []byte, _ struct{}) ([]arbiter.Slot[ReqDesc], error) {
	for i, ch := range c.Channels {
		req, ok, err := ch.Req()
		if err != nil {
			return nil, err
		}
		c.slots[i] = arbiter.Slot[ReqDesc]{Valid: ok, Value: req}
	}

	return c.slots, nil
}

func (c *Core) arbit(_ []byte, slots []arbiter.Slot[ReqDesc]) (pick, error) {
	idx, req, ok := c.arbiter.Arbit(slots)
	if !ok {
		return pick{}, pipeline.ErrDropped
	}

	return pick{ch: idx, req: req}, nil
}

func (c *Core) process(_ []byte, p pick) (Status, error) {
	st := c.engine.Process(&p.req)

	c.requests.Inc(1)
	if st.Err() {
		c.errs.Inc(1)
	}

	return st, c.Channels[p.ch].Respond(&st, p.req.Cfg.RespEn())
}

// Step serves at most one request.
func (c *Core) Step() error {
	_, err := c.run.Execute(nil, struct{}{})
	switch {
	case err == nil, pipeline.IsDropped(err):
		return nil
	default:
		return errors.Wrapf(err, "rohc datapath")
	}
}
