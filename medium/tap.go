package medium

import (
	"context"

	"github.com/lab47/accelsim/pkg/tap"
	"github.com/lab47/lsvd/logger"
)

type TapDevice struct {
	log   logger.Logger
	iface *tap.Interface
}

func OpenTapDevice(log logger.Logger, name string) (*TapDevice, error) {
	iface, err := tap.Open(name, tap.Options{})
	if err != nil {
		return nil, err
	}

	log.Info("opened tap device", "name", iface.Name())

	return &TapDevice{log: log, iface: iface}, nil
}

func (t *TapDevice) WriteFrame(frame []byte) error {
	t.log.Trace("transmitting frame to tap", "len", len(frame))
	_, err := t.iface.Write(frame)
	return err
}

func (t *TapDevice) ReadFrame(buf []byte) (int, error) {
	return t.iface.Read(buf)
}

func (t *TapDevice) Close() error {
	return t.iface.Close()
}

// OpenTap opens the TAP device name and buffers sz frames each way.
func OpenTap(ctx context.Context, log logger.Logger, name string, sz int) (*Buffered, error) {
	dev, err := OpenTapDevice(log, name)
	if err != nil {
		return nil, err
	}

	return NewBuffered(ctx, log, sz, dev), nil
}
