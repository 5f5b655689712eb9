package hostbus

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/lab47/accelsim/device"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// RemoteError is a failure the device reported for one request.
type RemoteError struct {
	Request uint32
	Code    uint64
}

func (e *RemoteError) Error() string {
	return requestNames[e.Request] + ": " + codeNames[e.Code]
}

var codeNames = map[uint64]string{
	CodeNoSuchRegister: "no such register",
	CodeNotRunning:     "device is not running",
	CodeReadOnly:       "register is read only",
	CodeBadRequest:     "bad request",
	CodeInternal:       "internal error",
}

// Is lets callers match remote failures against the local sentinels.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeNoSuchRegister:
		return target == regbus.ErrNoSuchRegister
	case CodeNotRunning:
		return target == device.ErrNotRunning
	case CodeReadOnly:
		return target == regbus.ErrReadOnly
	case CodeBadRequest:
		return target == ErrBadMessage
	}
	return false
}

// Client is the driver side of a hostbus connection. It implements
// regbus.Bus, so the variant drivers can run against a remote device.
type Client struct {
	mu   sync.Mutex
	conn *net.UnixConn
	buf  [headerSize + 8]byte
}

func Dial(path string) (*Client, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}

	c, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", path)
	}

	return &Client{conn: c}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(req uint32, body []byte, fds ...int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := make([]byte, headerSize+len(body))
	hdr := Header{Request: req, Flags: Version, Size: uint32(len(body))}
	hdr.encode(msg)
	copy(msg[headerSize:], body)

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	if _, _, err := c.conn.WriteMsgUnix(msg, oob, nil); err != nil {
		return 0, errors.Wrapf(err, "sending %s", requestNames[req])
	}

	if _, err := io.ReadFull(c.conn, c.buf[:]); err != nil {
		return 0, errors.Wrapf(err, "reading %s reply", requestNames[req])
	}

	var rh Header
	rh.decode(c.buf[:])

	if rh.Request != req || rh.Flags&FlagReply == 0 || rh.Size != 8 {
		return 0, errors.Wrapf(ErrBadMessage, "reply %d flags %#x size %d to %s", rh.Request, rh.Flags, rh.Size, requestNames[req])
	}

	val := binary.NativeEndian.Uint64(c.buf[headerSize:])
	if rh.Flags&FlagError != 0 {
		return 0, &RemoteError{Request: req, Code: val}
	}

	return val, nil
}

func u64s(vals ...uint64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.NativeEndian.PutUint64(b[i*8:], v)
	}
	return b
}

// Lines returns how many interrupt lines the device has.
func (c *Client) Lines() (int, error) {
	n, err := c.call(ReqGetInfo, nil)
	return int(n), err
}

func (c *Client) ReadReg(addr uint64) (uint64, error) {
	return c.call(ReqRegRead, u64s(addr))
}

func (c *Client) WriteReg(addr, data uint64) error {
	_, err := c.call(ReqRegWrite, u64s(addr, data))
	return err
}

// SetMemTable replaces the device's view of memory. fds[i] backs regions[i].
func (c *Client) SetMemTable(regions []Region, fds []int) error {
	if len(regions) != len(fds) {
		return errors.Errorf("%d regions but %d fds", len(regions), len(fds))
	}
	if len(regions) > MaxRegions {
		return errors.Errorf("at most %d regions", MaxRegions)
	}

	_, err := c.call(ReqSetMemTable, encodeRegions(regions), fds...)
	return err
}

// SetIRQCall has the device signal an eventfd whenever line is raised. The
// caller owns the returned fd.
func (c *Client) SetIRQCall(line int) (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, errors.Wrapf(err, "eventfd")
	}

	if _, err := c.call(ReqSetIRQCall, u64s(uint64(line)&irqMask), fd); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

func (c *Client) ClearIRQCall(line int) error {
	_, err := c.call(ReqSetIRQCall, u64s(uint64(line)&irqMask|IRQNoFd))
	return err
}

// PendingIRQs drains the eventfd returned by SetIRQCall, returning how many
// times the line was raised since the last call. Zero means none.
func PendingIRQs(fd int) (uint64, error) {
	var buf [8]byte

	_, err := unix.Read(fd, buf[:])
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return binary.NativeEndian.Uint64(buf[:]), nil
}
