package ipsec

import (
	"github.com/lab47/accelsim/pkg/channel"
	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/lab47/lsvd/logger"
)

// Channel is one request queue. Every request occupies exactly one entry.
type Channel struct {
	*channel.Channel

	req [ReqSize]byte
}

func NewChannel(log logger.Logger, id int, regs *ring.Regs, m mem.Memory, vec *irq.Vec) *Channel {
	return &Channel{
		Channel: channel.New(log, id, "ipsec", regs, m, ReqSize, ResultSize, vec),
	}
}

// Req returns the request at the consumer pointer, if there is one.
func (c *Channel) Req() (ReqDesc, bool, error) {
	var d ReqDesc

	ok, err := c.PendingRequest(c.req[:])
	if err != nil || !ok {
		return d, false, err
	}

	d.Decode(c.req[:])
	return d, true, nil
}

// Respond retires the head request, storing st when respEn is set.
func (c *Channel) Respond(st *Status, respEn bool) error {
	var resp []byte
	if respEn {
		resp = make([]byte, ResultSize)
		st.Encode(resp)
	}

	return c.WriteResponse(resp, 1)
}
