// Package rohc models the header compression engine: one request ring whose
// requests compress or decompress a scatter-gather frame with ROHC v1 or v2.
package rohc

import (
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/accelsim/pkg/ring"
)

const (
	Channels = 1

	QueueBase = 0
	regEnd    = 1024

	// MaxFrameLen bounds source frames and destination buffers.
	MaxFrameLen = 0x4000
)

func QueueAddr(q int) uint64 { return QueueBase + uint64(q)*ring.RegsSize }

// Regs holds one ring block per queue.
type Regs struct {
	Queues [Channels]*ring.Regs

	router regbus.Router
}

func NewRegs() *Regs {
	r := &Regs{}

	queues := make([]regbus.Bus, Channels)
	for i := range r.Queues {
		r.Queues[i] = ring.NewRegs(0)
		queues[i] = r.Queues[i]
	}

	r.router = regbus.Router{
		{Name: "queues", Start: QueueBase, End: regEnd, Bus: regbus.Array{Stride: ring.RegsSize, Blocks: queues}},
	}

	return r
}

func (r *Regs) ReadReg(addr uint64) (uint64, error) {
	return r.router.ReadReg(addr)
}

func (r *Regs) WriteReg(addr, data uint64) error {
	return r.router.WriteReg(addr, data)
}
