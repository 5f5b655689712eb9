package etha

import (
	"github.com/lab47/accelsim/pkg/pipeline"
	"github.com/lab47/lsvd/logger"
	"github.com/rcrowley/go-metrics"
)

// Dispatcher writes a filtered frame into its target rx channel, applying
// the target's congestion action when the channel has no room.
type Dispatcher struct {
	log  logger.Logger
	chs  []*RxChannel
	regs *FilterRegs

	dropped metrics.Counter
}

func NewDispatcher(log logger.Logger, chs []*RxChannel, regs *FilterRegs, dropped metrics.Counter) *Dispatcher {
	if dropped == nil {
		dropped = metrics.NilCounter{}
	}
	return &Dispatcher{log: log, chs: chs, regs: regs, dropped: dropped}
}

func (d *Dispatcher) Execute(buf []byte, in Filtered) (struct{}, error) {
	var err error
	if in.Matched && in.Target.Queue < len(d.chs) {
		err = d.send(in.Target, in.Info, buf, true)
	} else {
		err = d.toDefault(in.Info, buf)
	}

	if pipeline.IsDropped(err) {
		d.dropped.Inc(1)
	}

	return struct{}{}, err
}

func (d *Dispatcher) send(t Target, info ParserInfo, buf []byte, reroute bool) error {
	ok, err := d.chs[t.Queue].Write(info, buf)
	if err != nil {
		return err
	}

	if ok {
		if d.log.IsTrace() {
			d.log.Trace("dispatched frame", "queue", t.Queue, "len", len(buf))
		}
		return nil
	}

	switch t.Action {
	case Drop:
		d.log.Warn("dropped frame", "queue", t.Queue, "action", t.Action)
		return pipeline.ErrDropped
	case Default:
		if reroute {
			return d.toDefault(info, buf)
		}
	}

	d.log.Trace("queue full, blocking", "queue", t.Queue)
	return pipeline.ErrBlocking
}

func (d *Dispatcher) toDefault(info ParserInfo, buf []byte) error {
	dq := d.regs.DefaultQueue()
	if !dq.Enabled() || dq.Queue() >= len(d.chs) {
		d.log.Warn("dropped frame", "queue", "default", "action", "no default queue")
		return pipeline.ErrDropped
	}

	return d.send(Target{Queue: dq.Queue(), Action: dq.Action()}, info, buf, false)
}
