package etha

import (
	"github.com/lab47/accelsim/medium"
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
	Medium  medium.Medium
	Arbiter arbiter.Arbiter[TxReqDesc]
	Metrics metrics.Registry
}

// Core owns the rx and tx datapaths and the frames held across a blocked
// run.
type Core struct {
	log    logger.Logger
	regs   *Regs
	medium medium.Medium
	vec    *irq.Vec

	RxChannels []*RxChannel
	TxChannels []*TxChannel

	rx pipeline.Stage[struct{}, struct{}]
	tx pipeline.Stage[struct{}, TxLoadInfo]

	rxFrame *medium.Frame
	txFrame []byte
	txBuf   []byte

	rxFrames   metrics.Counter
	rxDropped  metrics.Counter
	rxBlocking metrics.Counter
	rxParsed   metrics.Counter
	txFrames   metrics.Counter
	txDropped  metrics.Counter
}

func NewCore(opts Options) *Core {
	if opts.Regs == nil {
		opts.Regs = NewRegs()
	}
	if opts.Arbiter == nil {
		opts.Arbiter = arbiter.NewRoundRobin[TxReqDesc]()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	reg := opts.Metrics
	c := &Core{
		log:        opts.Log,
		regs:       opts.Regs,
		medium:     opts.Medium,
		vec:        irq.NewVec("etha"),
		txBuf:      make([]byte, MaxFrameLen),
		rxFrames:   metrics.NewRegisteredCounter("rx.frames", reg),
		rxDropped:  metrics.NewRegisteredCounter("rx.dropped", reg),
		rxBlocking: metrics.NewRegisteredCounter("rx.blocking", reg),
		rxParsed:   metrics.NewRegisteredCounter("rx.parsed", reg),
		txFrames:   metrics.NewRegisteredCounter("tx.frames", reg),
		txDropped:  metrics.NewRegisteredCounter("tx.dropped", reg),
	}

	// rx lines come first, then tx.
	for i := range Channels {
		c.RxChannels = append(c.RxChannels, NewRxChannel(opts.Log, i, opts.Regs.Queues[i].Rx, opts.Mem, c.vec))
	}
	for i := range Channels {
		c.TxChannels = append(c.TxChannels, NewTxChannel(opts.Log, i, opts.Regs.Queues[i].Tx, opts.Mem, c.vec))
	}

	rxSrcs := make([]irq.Source, len(c.RxChannels))
	for i, ch := range c.RxChannels {
		rxSrcs[i] = ch
	}

	parse := NewParser(c.rxParsed).Pipeline()
	filter := NewFilter(&opts.Regs.Rx).Pipeline()
	dispatch := pipeline.Then[Filtered, struct{}, struct{}](
		NewDispatcher(opts.Log, c.RxChannels, &opts.Regs.Rx, c.rxDropped),
		pipeline.IRQs(c.vec, rxSrcs...),
	)

	c.rx = pipeline.Then[struct{}, Filtered, struct{}](
		pipeline.Then[struct{}, ParserInfo, Filtered](parse, filter),
		dispatch,
	)

	c.tx = NewSequencer(opts.Log, c.TxChannels, opts.Arbiter, c.txDropped).Pipeline(c.vec)

	return c
}

func (c *Core) IRQs() *irq.Vec { return c.vec }

func (c *Core) Bus() regbus.Bus { return c.regs }

func (c *Core) Regs() *Regs { return c.regs }

// Step runs the tx datapath and then the rx datapath once each, as enabled.
// Only a malformed descriptor or frame is returned as an error.
func (c *Core) Step() error {
	if c.regs.Global.TxEnabled() {
		if err := c.stepTx(); err != nil {
			return err
		}
	}

	if c.regs.Global.RxEnabled() {
		if err := c.stepRx(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Core) stepTx() error {
	if c.txFrame == nil {
		info, err := c.tx.Execute(c.txBuf, struct{}{})
		switch {
		case err == nil:
			c.txFrame = c.txBuf[:info.Len]
		case pipeline.IsDropped(err), pipeline.IsBlocking(err):
			return nil
		default:
			return errors.Wrapf(err, "tx datapath")
		}
	}

	// Without a transmit token the frame stays loaded for the next run.
	if c.medium.Transmit(c.txFrame) {
		c.txFrames.Inc(1)
		c.txFrame = nil
	}

	return nil
}

func (c *Core) stepRx() error {
	if c.rxFrame == nil {
		fr, ok := c.medium.Receive()
		if !ok {
			return nil
		}
		c.rxFrame = fr
	}

	_, err := c.rx.Execute(c.rxFrame.Data, struct{}{})
	switch {
	case err == nil:
		c.rxFrames.Inc(1)
	case pipeline.IsDropped(err):
	case pipeline.IsBlocking(err):
		c.rxBlocking.Inc(1)
		return nil
	default:
		return errors.Wrapf(err, "rx datapath")
	}

	c.rxFrame.Discard()
	c.rxFrame = nil

	return nil
}
