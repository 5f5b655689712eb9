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

// RxChannel writes received frames into driver-posted buffers. Each request
// entry is the address of one buffer of the ring's mem_size bytes.
type RxChannel struct {
	*channel.Channel
}

func NewRxChannel(log logger.Logger, id int, regs *ring.Regs, m mem.Memory, vec *irq.Vec) *RxChannel {
	return &RxChannel{
		Channel: channel.New(log, id, "rx", regs, m, RxReqSize, RxResultSize, vec),
	}
}

func (c *RxChannel) room() uint64 {
	return uint64(c.Regs.MemSize()) * uint64(c.Regs.ConsumerValids())
}

// Write stores data across as many posted buffers as it needs. It reports
// false, touching nothing, when the posted buffers cannot hold the frame.
func (c *RxChannel) Write(info ParserInfo, data []byte) (bool, error) {
	if c.room() < uint64(len(data)) || len(data) == 0 {
		return false, nil
	}

	if _, ok := c.Regs.RespBase(); !ok {
		return false, pipeline.Malformedf("rx[%d]: responses are disabled", c.ID)
	}

	memSize := int(c.Regs.MemSize())

	var (
		head   RxResultDesc
		blocks uint32
		req    [RxReqSize]byte
		resp   [RxResultSize]byte
	)

	it := c.Entries()
	for i, pos := 0, 0; ; i++ {
		e, ok := it.Next()
		if !ok {
			return false, pipeline.Malformedf("rx[%d]: ran out of entries at %d of %d bytes", c.ID, pos, len(data))
		}

		if err := it.ReadReq(e, req[:]); err != nil {
			return false, pipeline.Malformed(err)
		}
		addr := le.Uint64(req[:])

		n := min(memSize, len(data)-pos)
		end := pos+n == len(data)

		if err := c.Mem.WriteAt(data[pos:pos+n], addr); err != nil {
			return false, pipeline.Malformed(errors.Wrapf(err, "rx[%d]: writing buffer", c.ID))
		}

		var d RxResultDesc
		fd := d.Frame()
		fd.SetAddr(addr)
		fd.SetSize(uint32(n))
		fd.SetStart(i == 0)
		fd.SetEnd(end)

		if i == 0 {
			head = d
		} else {
			d.Encode(resp[:])
			if _, err := it.WriteResp(e, resp[:]); err != nil {
				return false, pipeline.Malformed(err)
			}
		}

		pos += n
		if end {
			blocks = uint32(i)
			break
		}
	}

	head.Frame().SetNBlocks(blocks)
	head.Frame().SetTotalSize(uint32(len(data)))
	head.SetInfo(info)
	head.Encode(resp[:])

	if err := c.WriteResponse(resp[:], blocks+1); err != nil {
		return false, pipeline.Malformed(err)
	}

	return true, nil
}
