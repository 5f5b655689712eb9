package etha

import (
	"github.com/lab47/accelsim/pkg/channel"
	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/pipeline"
	"github.com/lab47/accelsim/pkg/ring"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
)

// TxChannel gathers frames the driver queued for transmit. A frame spans
// NBlocks+1 entries, the head marked start and the last marked end.
type TxChannel struct {
	*channel.Channel

	req [TxReqSize]byte
}

func NewTxChannel(log logger.Logger, id int, regs *ring.Regs, m mem.Memory, vec *irq.Vec) *TxChannel {
	return &TxChannel{
		Channel: channel.New(log, id, "tx", regs, m, TxReqSize, TxResultSize, vec),
	}
}

// Req returns the head request once every entry of its frame is queued.
func (c *TxChannel) Req() (TxReqDesc, bool, error) {
	var d TxReqDesc

	ok, err := c.PendingRequest(c.req[:])
	if err != nil || !ok {
		return d, false, err
	}

	d.Decode(c.req[:])
	if !d.Frame().Start() {
		return d, false, pipeline.Malformedf("tx[%d]: head is not a start frame", c.ID)
	}

	if c.Regs.ConsumerValids() <= d.Frame().NBlocks() {
		return d, false, nil
	}

	return d, true, nil
}

// Read gathers the frame that head starts into buf.
func (c *TxChannel) Read(head TxReqDesc, buf []byte) (int, error) {
	nblocks := int(head.Frame().NBlocks())
	total := int(head.Frame().TotalSize())

	cnt := 0
	it := c.Entries()
	for i := 0; ; i++ {
		e, ok := it.Next()
		if !ok {
			return cnt, pipeline.Malformedf("tx[%d]: no end frame found", c.ID)
		}

		var d TxReqDesc
		if err := it.ReadReq(e, c.req[:]); err != nil {
			return cnt, pipeline.Malformed(err)
		}
		d.Decode(c.req[:])

		size := int(d.Frame().Size())
		if cnt+size > len(buf) {
			return cnt, pipeline.Malformedf("tx[%d]: fragments overflow %d byte buffer", c.ID, len(buf))
		}

		if err := c.Mem.ReadAt(buf[cnt:cnt+size], d.Frame().Addr()); err != nil {
			return cnt, pipeline.Malformed(errors.Wrapf(err, "tx[%d]: reading buffer", c.ID))
		}
		cnt += size

		if i == nblocks {
			if !d.Frame().End() {
				return cnt, pipeline.Malformedf("tx[%d]: expected end flag on entry %d", c.ID, i)
			}

			if cnt != total {
				return cnt, pipeline.Malformedf("tx[%d]: scatter-gather length %d, want %d", c.ID, cnt, total)
			}

			return cnt, nil
		}
	}
}

// Complete retires the frame started by head, storing res when it is not
// nil.
func (c *TxChannel) Complete(head TxReqDesc, res *TxResultDesc) error {
	var resp []byte
	if res != nil {
		resp = make([]byte, TxResultSize)
		res.Encode(resp)
	}

	return c.WriteResponse(resp, head.Frame().NBlocks()+1)
}
