package etha

import (
	"github.com/lab47/accelsim/pkg/arbiter"
	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/pipeline"
	"github.com/lab47/lsvd/logger"
	"github.com/rcrowley/go-metrics"
)

// TxLoadInfo describes the frame the sequencer loaded for transmit.
type TxLoadInfo struct {
	TooLarge bool
	TooSmall bool
	RespEn   bool
	Len      int
	Channel  int

	head TxReqDesc
}

func (i TxLoadInfo) Dropped() bool {
	return i.TooLarge || i.TooSmall
}

type txPick struct {
	ch  int
	req TxReqDesc
}

// Sequencer picks one ready tx channel per run and loads its frame.
type Sequencer struct {
	log     logger.Logger
	chs     []*TxChannel
	arbiter arbiter.Arbiter[TxReqDesc]

	slots []arbiter.Slot[TxReqDesc]

	dropped metrics.Counter
}

func NewSequencer(log logger.Logger, chs []*TxChannel, arb arbiter.Arbiter[TxReqDesc], dropped metrics.Counter) *Sequencer {
	if dropped == nil {
		dropped = metrics.NilCounter{}
	}

	return &Sequencer{
		log:     log,
		chs:     chs,
		arbiter: arb,
		slots:   make([]arbiter.Slot[TxReqDesc], len(chs)),
		dropped: dropped,
	}
}

// Pipeline raises pending interrupts, then arbitrates and loads one frame
// into the buffer. It reports ErrDropped when no channel is ready.
func (s *Sequencer) Pipeline(vec *irq.Vec) pipeline.Stage[struct{}, TxLoadInfo] {
	srcs := make([]irq.Source, len(s.chs))
	for i, ch := range s.chs {
		srcs[i] = ch
	}

	reqs := pipeline.Then[struct{}, struct{}, []arbiter.Slot[TxReqDesc]](
		pipeline.IRQs(vec, srcs...),
		pipeline.Func[struct{}, []arbiter.Slot[TxReqDesc]](s.requests),
	)

	arbit := pipeline.Then[struct{}, []arbiter.Slot[TxReqDesc], txPick](
		reqs,
		pipeline.Func[[]arbiter.Slot[TxReqDesc], txPick](s.arbit),
	)

	process := pipeline.Then[txPick, TxLoadInfo, TxLoadInfo](
		pipeline.Func[txPick, TxLoadInfo](s.load),
		pipeline.Func[TxLoadInfo, TxLoadInfo](s.storeResponse),
	)

	return pipeline.Then[struct{}, txPick, TxLoadInfo](arbit, process)
}

func (s *Sequencer) requests(_ []byte, _ struct{}) ([]arbiter.Slot[TxReqDesc], error) {
	for i, ch := range s.chs {
		req, ok, err := ch.Req()
		if err != nil {
			return nil, err
		}
		s.slots[i] = arbiter.Slot[TxReqDesc]{Valid: ok, Value: req}
	}

	return s.slots, nil
}

func (s *Sequencer) arbit(_ []byte, slots []arbiter.Slot[TxReqDesc]) (txPick, error) {
	idx, req, ok := s.arbiter.Arbit(slots)
	if !ok {
		return txPick{}, pipeline.ErrDropped
	}

	return txPick{ch: idx, req: req}, nil
}

func (s *Sequencer) load(buf []byte, p txPick) (TxLoadInfo, error) {
	info := TxLoadInfo{
		Len:     int(p.req.Frame().TotalSize()),
		RespEn:  p.req.RespEn(),
		Channel: p.ch,
		head:    p.req,
	}
	info.TooLarge = info.Len > len(buf)
	info.TooSmall = info.Len < MinFrameLen

	if !info.Dropped() {
		if _, err := s.chs[p.ch].Read(p.req, buf); err != nil {
			return info, err
		}
	}

	return info, nil
}

func (s *Sequencer) storeResponse(_ []byte, info TxLoadInfo) (TxLoadInfo, error) {
	ch := s.chs[info.Channel]

	var res *TxResultDesc
	if info.RespEn {
		res = &TxResultDesc{}
		res.SetTooLarge(info.TooLarge)
		res.SetTooSmall(info.TooSmall)
	}

	if err := ch.Complete(info.head, res); err != nil {
		return info, err
	}

	if info.Dropped() {
		s.dropped.Inc(1)
		s.log.Warn("dropped frame", "queue", info.Channel, "len", info.Len,
			"too_large", info.TooLarge, "too_small", info.TooSmall)
		return info, pipeline.ErrDropped
	}

	return info, nil
}
