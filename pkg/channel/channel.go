// Package channel binds a ring to its descriptor arrays and an interrupt
// line, as seen by the device.
package channel

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/lab47/lsvd/logger"
)

type Channel struct {
	*ring.Hw

	ID  int
	IRQ int

	log logger.Logger
}

func New(log logger.Logger, id int, name string, regs *ring.Regs, m mem.Memory, reqSize, respSize int, vec *irq.Vec) *Channel {
	return &Channel{
		Hw:  ring.NewHw(regs, m, reqSize, respSize),
		ID:  id,
		IRQ: vec.Alloc(fmt.Sprintf("%s%d", name, id)),
		log: log,
	}
}

// PendingRequest reads the request at the consumer pointer into buf. It
// reports false when nothing is queued.
func (c *Channel) PendingRequest(buf []byte) (bool, error) {
	if c.Regs.ConsumerValids() == 0 {
		return false, nil
	}

	if err := c.ReadReq(buf); err != nil {
		return false, err
	}

	return true, nil
}

// WriteResponse stores resp in the response slot at the consumer pointer,
// then retires span entries. A nil resp retires without writing.
func (c *Channel) WriteResponse(resp []byte, span uint32) error {
	if resp != nil {
		ok, err := c.WriteResp(resp)
		if err != nil {
			return err
		}

		if !ok {
			c.log.Warn("response ignored, responses disabled", "channel", c.ID)
		} else if c.log.IsTrace() {
			c.log.Trace("wrote response", "channel", c.ID, "resp", spew.Sdump(resp))
		}
	}

	c.Regs.AdvanceConsumer(span)
	return nil
}

func (c *Channel) PollIRQ() (int, bool) {
	if c.Regs.IRQPendings() == 0 {
		return 0, false
	}
	return c.IRQ, true
}
