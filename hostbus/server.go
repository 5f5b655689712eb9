package hostbus

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/lab47/accelsim/device"
	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/mem"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Target is the device a server exposes. *device.Handle is one.
type Target interface {
	regbus.Bus
	RegisterInterruptHandler(line int, fn irq.Handler) error
	Interrupts() []string
}

type Server struct {
	log    logger.Logger
	target Target
	mem    *mem.Map
}

// NewServer serves target. Memory tables sent by a driver replace the
// regions of m, which should be the memory the device core reads.
func NewServer(log logger.Logger, target Target, m *mem.Map) *Server {
	return &Server{log: log, target: target, mem: m}
}

// Serve accepts drivers on l until ctx is done or l fails.
func (s *Server) Serve(ctx context.Context, l *net.UnixListener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		c, err := l.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "accepting drivers")
		}

		s.log.Info("driver connected", "remote", c.RemoteAddr())

		wg.Add(1)
		go func() {
			defer wg.Done()

			sess := s.session(c)
			if err := sess.Process(ctx); err != nil {
				s.log.Error("error processing requests", "error", err)
			}
		}()
	}
}

func (s *Server) session(c *net.UnixConn) *Session {
	return &Session{
		log:    s.log,
		conn:   c,
		target: s.target,
		mem:    s.mem,
		buf:    make([]byte, maxBody),
		obuf:   make([]byte, unix.CmsgSpace(MaxRegions*4)),
		calls:  map[int]int{},
	}
}

// Session is one connected driver.
type Session struct {
	log    logger.Logger
	conn   *net.UnixConn
	target Target
	mem    *mem.Map

	buf  []byte
	obuf []byte

	// line to eventfd
	calls map[int]int
}

// Receive reads the next message into msg.
func (s *Session) Receive(msg *Msg) error {
	n, oobn, flags, _, err := s.conn.ReadMsgUnix(s.buf[:headerSize], s.obuf)
	if err != nil {
		return err
	}

	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		return io.EOF
	}

	if n < headerSize {
		if _, err := io.ReadFull(s.conn, s.buf[n:headerSize]); err != nil {
			return err
		}
	}

	msg.decode(s.buf[:headerSize])
	msg.Fds = msg.Fds[:0]

	if oobn != 0 {
		cmsgs, err := unix.ParseSocketControlMessage(s.obuf[:oobn])
		if err != nil {
			return err
		}

		for i := range cmsgs {
			fds, err := unix.ParseUnixRights(&cmsgs[i])
			if err != nil {
				return err
			}
			msg.Fds = append(msg.Fds, fds...)
		}
	}

	if msg.Size > maxBody {
		s.closeFds(msg)
		return errors.Wrapf(ErrBadMessage, "body of %d bytes", msg.Size)
	}

	msg.Body = msg.Body[:0]
	if msg.Size > 0 {
		body := s.buf[:msg.Size]

		if _, err := io.ReadFull(s.conn, body); err != nil {
			return err
		}

		msg.Body = append(msg.Body, body...)
	}

	return nil
}

func (s *Session) closeFds(msg *Msg) {
	for _, fd := range msg.Fds {
		unix.Close(fd)
	}
	msg.Fds = msg.Fds[:0]
}

func (s *Session) reply(msg *Msg, flags uint32, val uint64) error {
	var buf [headerSize + 8]byte

	hdr := Header{Request: msg.Request, Flags: Version | FlagReply | flags, Size: 8}
	hdr.encode(buf[:])
	binary.NativeEndian.PutUint64(buf[headerSize:], val)

	_, err := s.conn.Write(buf[:])
	return err
}

// replyErr reports err to the driver. Only errors that say nothing about the
// session itself are sent back; the rest end it.
func (s *Session) replyErr(msg *Msg, err error) error {
	var code uint64
	switch {
	case errors.Is(err, regbus.ErrNoSuchRegister):
		code = CodeNoSuchRegister
	case errors.Is(err, device.ErrNotRunning):
		code = CodeNotRunning
	case errors.Is(err, regbus.ErrReadOnly):
		code = CodeReadOnly
	case errors.Is(err, ErrBadMessage), errors.Is(err, irq.ErrNoSuchLine):
		code = CodeBadRequest
	default:
		code = CodeInternal
	}

	s.log.Warn("request failed", "request", requestNames[msg.Request], "error", err)
	return s.reply(msg, FlagError, code)
}

// Process serves requests until the driver hangs up.
func (s *Session) Process(ctx context.Context) error {
	defer s.close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	var msg Msg

	for {
		err := s.Receive(&msg)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.log.Info("driver disconnected")
				return nil
			}
			return errors.Wrapf(err, "reading message")
		}

		err = s.dispatch(&msg)
		if err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(msg *Msg) error {
	s.log.Trace("hostbus message", "request", requestNames[msg.Request], "flags", msg.Flags, "size", msg.Size)

	var (
		val uint64
		err error
	)

	switch msg.Request {
	case ReqNone:
		s.log.Warn("got a none message from driver")
	case ReqGetInfo:
		val = uint64(len(s.target.Interrupts()))
	case ReqSetMemTable:
		err = s.setMemTable(msg)
	case ReqRegRead:
		val, err = s.regRead(msg)
	case ReqRegWrite:
		err = s.regWrite(msg)
	case ReqSetIRQCall:
		err = s.setIRQCall(msg)
	default:
		err = errors.Wrapf(ErrBadMessage, "unknown request %d", msg.Request)
	}

	s.closeFds(msg)

	if err != nil {
		return s.replyErr(msg, err)
	}
	return s.reply(msg, 0, val)
}

func (s *Session) setMemTable(msg *Msg) error {
	regions, err := msg.regions()
	if err != nil {
		return err
	}

	if len(msg.Fds) != len(regions) {
		return errors.Wrapf(ErrBadMessage, "set_mem_table: %d regions but %d fds", len(regions), len(msg.Fds))
	}

	if err := s.mem.Reset(); err != nil {
		s.log.Warn("unable to release old mem-table", "error", err)
	}

	for i, r := range regions {
		s.log.Trace("configuring mem-table", "fd", msg.Fds[i], "base", r.Base, "size", r.Size, "offset", r.Offset)

		if err := s.mem.MapFd(r.Base, msg.Fds[i], int64(r.Offset), int(r.Size)); err != nil {
			s.mem.Reset()
			return err
		}
	}

	return nil
}

func (s *Session) regRead(msg *Msg) (uint64, error) {
	addr, err := msg.u64(0)
	if err != nil {
		return 0, err
	}
	return s.target.ReadReg(addr)
}

func (s *Session) regWrite(msg *Msg) error {
	addr, err := msg.u64(0)
	if err != nil {
		return err
	}

	data, err := msg.u64(1)
	if err != nil {
		return err
	}

	return s.target.WriteReg(addr, data)
}

func (s *Session) setIRQCall(msg *Msg) error {
	val, err := msg.u64(0)
	if err != nil {
		return err
	}

	line := int(val & irqMask)

	if val&IRQNoFd != 0 {
		if err := s.target.RegisterInterruptHandler(line, nil); err != nil {
			return err
		}
		s.dropCall(line)
		return nil
	}

	if len(msg.Fds) != 1 {
		return errors.Wrapf(ErrBadMessage, "set_irq_call: %d fds", len(msg.Fds))
	}

	fd, err := unix.Dup(msg.Fds[0])
	if err != nil {
		return errors.Wrapf(err, "duplicating call fd")
	}

	if err := s.target.RegisterInterruptHandler(line, s.signal(fd)); err != nil {
		unix.Close(fd)
		return err
	}

	s.dropCall(line)
	s.calls[line] = fd

	s.log.Trace("configured callfd", "line", line, "fd", fd)
	return nil
}

// signal returns a handler that bumps the eventfd counter. A full counter
// means the driver already has a wakeup pending, so EAGAIN is dropped.
func (s *Session) signal(fd int) irq.Handler {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)

	return func(line int) {
		if _, err := unix.Write(fd, one[:]); err != nil && err != unix.EAGAIN {
			s.log.Warn("unable to signal interrupt", "line", line, "error", err)
		}
	}
}

func (s *Session) dropCall(line int) {
	if fd, ok := s.calls[line]; ok {
		unix.Close(fd)
		delete(s.calls, line)
	}
}

func (s *Session) close() {
	for line := range s.calls {
		s.target.RegisterInterruptHandler(line, nil)
		s.dropCall(line)
	}
	s.conn.Close()
}
