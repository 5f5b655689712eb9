// Package device runs a device core on a dedicated OS thread and is what an
// embedder holds while it runs: register access, interrupt handlers and
// abort.
package device

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lab47/accelsim/pkg/irq"
	"github.com/lab47/accelsim/pkg/regbus"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var ErrNotRunning = errors.New("device is not running")

// Core is one device variant's datapath. Step runs it once; an error stops
// the run loop.
type Core interface {
	Step() error
	IRQs() *irq.Vec
	Bus() regbus.Bus
}

// Handle is a running device.
type Handle struct {
	log  logger.Logger
	core Core

	abort atomic.Bool
	done  chan struct{}
	err   error

	mu      sync.RWMutex
	stopped bool
}

// Simulate starts core's run loop. A non-negative affinity pins the loop's
// thread to that CPU; failing to pin is logged and the loop runs unpinned.
func Simulate(log logger.Logger, core Core, affinity int) (*Handle, error) {
	if affinity >= runtime.NumCPU() {
		return nil, errors.Errorf("cpu %d out of range, %d available", affinity, runtime.NumCPU())
	}

	h := &Handle{
		log:  log,
		core: core,
		done: make(chan struct{}),
	}

	go h.run(affinity)

	return h, nil
}

func (h *Handle) run(affinity int) {
	defer close(h.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if affinity >= 0 {
		var set unix.CPUSet
		set.Set(affinity)

		if err := unix.SchedSetaffinity(0, &set); err != nil {
			h.log.Warn("unable to pin run loop", "cpu", affinity, "error", err)
		} else {
			h.log.Info("pinned run loop", "cpu", affinity)
		}
	}

	h.log.Info("run loop started", "device", h.core.IRQs().Name())

	for !h.abort.Load() {
		if err := h.core.Step(); err != nil {
			h.err = err
			h.log.Error("run loop stopped", "error", err)
			return
		}
	}

	h.log.Info("run loop aborted", "device", h.core.IRQs().Name())
}

// Done is closed once the run loop has exited, either from Abort or a fatal
// error.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Abort stops the run loop and waits for it. It returns the error that
// stopped the loop, if one did.
func (h *Handle) Abort() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrNotRunning
	}
	h.stopped = true
	h.mu.Unlock()

	h.abort.Store(true)
	<-h.done

	return h.err
}

// running fails once the handle is aborted or the run loop has died.
func (h *Handle) running() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return ErrNotRunning
	}

	select {
	case <-h.done:
		return ErrNotRunning
	default:
		return nil
	}
}

// RegisterInterruptHandler binds fn to line. It runs on the run loop's
// thread, so it must not block.
func (h *Handle) RegisterInterruptHandler(line int, fn irq.Handler) error {
	if err := h.running(); err != nil {
		return err
	}
	return h.core.IRQs().Bind(line, fn)
}

// Interrupts lists the device's line names, indexed by line.
func (h *Handle) Interrupts() []string {
	vec := h.core.IRQs()

	names := make([]string, vec.Len())
	for i := range names {
		names[i], _ = vec.LineName(i)
	}
	return names
}

func (h *Handle) RegisterRead(addr uint64) (uint64, error) {
	if err := h.running(); err != nil {
		return 0, err
	}

	v, err := h.core.Bus().ReadReg(addr)
	if err != nil {
		return 0, err
	}

	if h.log.IsTrace() {
		h.log.Trace("reg read", "addr", addr, "data", v)
	}
	return v, nil
}

func (h *Handle) RegisterWrite(addr, v uint64) error {
	if err := h.running(); err != nil {
		return err
	}

	if h.log.IsTrace() {
		h.log.Trace("reg write", "addr", addr, "data", v)
	}
	return h.core.Bus().WriteReg(addr, v)
}

// ReadReg and WriteReg let a driver use the handle as its register bus.
func (h *Handle) ReadReg(addr uint64) (uint64, error) { return h.RegisterRead(addr) }

func (h *Handle) WriteReg(addr, data uint64) error { return h.RegisterWrite(addr, data) }
