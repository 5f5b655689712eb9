package medium

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
)

const pcapSnapLen = 0x10000

// PcapDevice replays frames from a capture and records transmitted frames to
// another capture. Either side may be absent.
type PcapDevice struct {
	r *pcapgo.Reader

	mu sync.Mutex
	w  *pcapgo.Writer

	closers []io.Closer
}

func NewPcapDevice(in io.Reader, out io.Writer) (*PcapDevice, error) {
	p := &PcapDevice{}

	if in != nil {
		r, err := pcapgo.NewReader(in)
		if err != nil {
			return nil, errors.Wrapf(err, "reading pcap header")
		}
		p.r = r
	}

	if out != nil {
		w := pcapgo.NewWriter(out)
		if err := w.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
			return nil, errors.Wrapf(err, "writing pcap header")
		}
		p.w = w
	}

	return p, nil
}

// OpenPcapDevice opens the capture files at inPath and outPath. An empty
// path leaves that side out.
func OpenPcapDevice(inPath, outPath string) (*PcapDevice, error) {
	var (
		in      io.Reader
		out     io.Writer
		closers []io.Closer
	)

	if inPath != "" {
		f, err := os.Open(inPath)
		if err != nil {
			return nil, err
		}
		in = f
		closers = append(closers, f)
	}

	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, err
		}
		out = f
		closers = append(closers, f)
	}

	p, err := NewPcapDevice(in, out)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}

	p.closers = closers
	return p, nil
}

func (p *PcapDevice) ReadFrame(buf []byte) (int, error) {
	if p.r == nil {
		return 0, io.EOF
	}

	data, _, err := p.r.ReadPacketData()
	if err != nil {
		return 0, err
	}

	return copy(buf, data), nil
}

func (p *PcapDevice) WriteFrame(frame []byte) error {
	if p.w == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}

	return p.w.WritePacket(ci, frame)
}

func (p *PcapDevice) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func OpenPcap(ctx context.Context, log logger.Logger, inPath, outPath string, sz int) (*Buffered, error) {
	dev, err := OpenPcapDevice(inPath, outPath)
	if err != nil {
		return nil, err
	}

	return NewBuffered(ctx, log, sz, dev), nil
}
