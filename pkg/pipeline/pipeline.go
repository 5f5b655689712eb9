// Package pipeline composes processing stages over a frame buffer. A stage
// either produces an output or reports one of three outcomes: ErrBlocking
// (retry the same input later), ErrDropped (discard and move on) or a
// *ParseError (malformed input, fatal to the caller).
package pipeline

import (
	"github.com/lab47/accelsim/pkg/irq"
	"github.com/pkg/errors"
)

var (
	ErrBlocking = errors.New("blocking")
	ErrDropped  = errors.New("dropped")
	ErrParse    = errors.New("parse error")
)

type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse error: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Malformed wraps err as a parse error.
func Malformed(err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{Err: err}
}

func Malformedf(format string, args ...any) error {
	return &ParseError{Err: errors.Errorf(format, args...)}
}

func IsBlocking(err error) bool { return errors.Is(err, ErrBlocking) }

func IsDropped(err error) bool { return errors.Is(err, ErrDropped) }

func IsParse(err error) bool { return errors.Is(err, ErrParse) }

type Stage[I, O any] interface {
	Execute(buf []byte, in I) (O, error)
}

// Func adapts a function to a Stage.
type Func[I, O any] func(buf []byte, in I) (O, error)

func (f Func[I, O]) Execute(buf []byte, in I) (O, error) {
	return f(buf, in)
}

// Comb runs A then B. When B blocks, A's output is kept and handed to B
// again on the next call without re-running A.
type Comb[I, M, O any] struct {
	a Stage[I, M]
	b Stage[M, O]

	pending    M
	hasPending bool
}

func Then[I, M, O any](a Stage[I, M], b Stage[M, O]) *Comb[I, M, O] {
	return &Comb[I, M, O]{a: a, b: b}
}

func (c *Comb[I, M, O]) Execute(buf []byte, in I) (O, error) {
	var mid M
	if c.hasPending {
		mid = c.pending
		c.clear()
	} else {
		var err error
		mid, err = c.a.Execute(buf, in)
		if err != nil {
			var zero O
			return zero, err
		}
	}

	out, err := c.b.Execute(buf, mid)
	if err != nil && errors.Is(err, ErrBlocking) {
		c.pending = mid
		c.hasPending = true
	}

	return out, err
}

// Pending reports whether A's output is being held for a retry.
func (c *Comb[I, M, O]) Pending() bool { return c.hasPending }

func (c *Comb[I, M, O]) clear() {
	var zero M
	c.pending = zero
	c.hasPending = false
}

// IRQs is a stage that raises the interrupt line of every source with a
// pending interrupt. It never blocks or drops.
func IRQs(vec *irq.Vec, srcs ...irq.Source) Stage[struct{}, struct{}] {
	return Func[struct{}, struct{}](func(_ []byte, _ struct{}) (struct{}, error) {
		vec.Poll(srcs...)
		return struct{}{}, nil
	})
}

// Pass returns its input unchanged after running side effects in fn.
func Pass[T any](fn func(buf []byte, in T)) Stage[T, T] {
	return Func[T, T](func(buf []byte, in T) (T, error) {
		fn(buf, in)
		return in, nil
	})
}
