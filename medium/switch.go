package medium

import (
	"context"
	"sync"
	"time"

	"github.com/lab47/lsvd/logger"
	"github.com/mdlayher/ethernet"
)

type Port struct {
	Name      string
	Medium    Medium
	CreatedAt time.Time
	LastFrame time.Time

	TxCount uint64
	RxCount uint64
	Dropped uint64
}

// Switch is a learning Ethernet switch between media. Frames to a learned
// address go to that port; everything else floods.
type Switch struct {
	log logger.Logger

	mu    sync.Mutex
	ports []*Port
	tbl   map[string]*Port

	idle time.Duration
}

func NewSwitch(log logger.Logger) *Switch {
	return &Switch{
		log:  log,
		tbl:  make(map[string]*Port),
		idle: 100 * time.Microsecond,
	}
}

// AddPort attaches m. The switch becomes the only goroutine driving m.
func (s *Switch) AddPort(name string, m Medium) *Port {
	s.mu.Lock()
	defer s.mu.Unlock()

	port := &Port{
		Name:      name,
		Medium:    m,
		CreatedAt: time.Now(),
	}
	s.ports = append(s.ports, port)

	return port
}

// Attach creates a pipe, connects one end to a new port and returns the
// other end for a device to use.
func (s *Switch) Attach(name string, sz int) *Pipe {
	dev, sw := NewPipe(sz)
	s.AddPort(name, sw)
	return dev
}

func (s *Switch) Ports() []*Port {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Port(nil), s.ports...)
}

// Run forwards frames until ctx is done.
func (s *Switch) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.Step() == 0 {
			time.Sleep(s.idle)
		}
	}
}

// Step moves at most one frame from every port and reports how many were
// moved.
func (s *Switch) Step() int {
	moved := 0

	for _, port := range s.Ports() {
		fr, ok := port.Medium.Receive()
		if !ok {
			continue
		}

		moved++
		s.inputFrame(port, fr.Data)
		fr.Discard()
	}

	return moved
}

func (s *Switch) learn(port *Port, src string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tbl[src] = port
}

func (s *Switch) lookup(dest string) *Port {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tbl[dest]
}

func (s *Switch) inputFrame(port *Port, frame []byte) {
	port.LastFrame = time.Now()
	port.RxCount++

	var fr ethernet.Frame
	if err := fr.UnmarshalBinary(frame); err != nil {
		s.log.Warn("dropping malformed frame", "port", port.Name, "error", err)
		port.Dropped++
		return
	}

	if !isMulticast(fr.Source) {
		s.learn(port, fr.Source.String())
	}

	destPort := s.lookup(fr.Destination.String())
	if destPort == nil || isMulticast(fr.Destination) {
		s.broadcast(port, frame)
	} else if destPort != port {
		s.txTo(destPort, frame)
	}
}

func isMulticast(addr []byte) bool {
	return len(addr) > 0 && addr[0]&1 != 0
}

func (s *Switch) broadcast(srcPort *Port, frame []byte) {
	for _, port := range s.Ports() {
		if port == srcPort {
			continue
		}

		s.txTo(port, frame)
	}
}

func (s *Switch) txTo(destPort *Port, frame []byte) {
	if !destPort.Medium.Transmit(frame) {
		destPort.Dropped++
		if s.log.IsTrace() {
			s.log.Trace("port busy, dropping frame", "port", destPort.Name)
		}
		return
	}

	destPort.TxCount++
}
