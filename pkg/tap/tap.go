// Package tap opens Linux TAP devices that carry raw Ethernet frames.
package tap

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type Interface struct {
	f    *os.File
	name string
}

type Options struct {
	// Persist keeps the device around after the descriptor is closed.
	Persist bool
}

// Open attaches to (or creates) the TAP device called name. An empty name
// lets the kernel pick one.
func Open(name string, opts Options) (*Interface, error) {
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR|syscall.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening /dev/net/tun")
	}

	name, err = createInterface(fd, name, unix.IFF_NO_PI|unix.IFF_TAP)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if opts.Persist {
		if err := unix.IoctlSetInt(fd, unix.TUNSETPERSIST, 1); err != nil {
			unix.Close(fd)
			return nil, errors.Wrapf(err, "persisting %s", name)
		}
	}

	return &Interface{
		f:    os.NewFile(uintptr(fd), "tap"),
		name: name,
	}, nil
}

func createInterface(fd int, ifName string, flags uint16) (string, error) {
	req, err := unix.NewIfreq(ifName)
	if err != nil {
		return "", err
	}

	req.SetUint16(flags)

	err = unix.IoctlIfreq(fd, unix.TUNSETIFF, req)
	if err != nil {
		return "", errors.Wrapf(err, "TUNSETIFF %q", ifName)
	}

	return req.Name(), nil
}

func (i *Interface) Name() string { return i.name }

// Read returns one frame per call.
func (i *Interface) Read(buf []byte) (int, error) {
	return i.f.Read(buf)
}

func (i *Interface) Write(frame []byte) (int, error) {
	return i.f.Write(frame)
}

func (i *Interface) Close() error {
	return i.f.Close()
}
