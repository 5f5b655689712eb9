// Package irq is a device's interrupt vector. Lines are allocated in order at
// construction time and raised synchronously on the caller's goroutine.
package irq

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrNoSuchLine = errors.New("no such interrupt line")

type Handler func(line int)

// Source is anything that can report a pending interrupt line.
type Source interface {
	PollIRQ() (int, bool)
}

type Vec struct {
	name string

	mu       sync.RWMutex
	names    []string
	handlers []Handler
}

func NewVec(name string) *Vec {
	return &Vec{name: name}
}

func (v *Vec) Name() string { return v.name }

// Alloc reserves the next line and returns its id.
func (v *Vec) Alloc(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.names = append(v.names, name)
	v.handlers = append(v.handlers, nil)
	return len(v.names) - 1
}

func (v *Vec) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.names)
}

func (v *Vec) LineName(line int) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if line < 0 || line >= len(v.names) {
		return "", false
	}
	return v.names[line], true
}

// Bind installs h for line, replacing any previous handler. A nil h unbinds.
// Bind waits for in-flight calls to the replaced handler, so once it returns
// the old handler will not run again.
func (v *Vec) Bind(line int, h Handler) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if line < 0 || line >= len(v.handlers) {
		return errors.Wrapf(ErrNoSuchLine, "%s: line %d", v.name, line)
	}

	v.handlers[line] = h
	return nil
}

// Send invokes the handler bound to line, if any. The handler runs with the
// vector read locked and must not call back into it.
func (v *Vec) Send(line int) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if line >= 0 && line < len(v.handlers) && v.handlers[line] != nil {
		v.handlers[line](line)
	}
}

// Poll raises the line of every source that has one pending.
func (v *Vec) Poll(srcs ...Source) {
	for _, s := range srcs {
		if line, ok := s.PollIRQ(); ok {
			v.Send(line)
		}
	}
}
