// Package arbiter picks one ready request among several channels.
package arbiter

// Slot holds one channel's candidate; Valid is false when the channel has
// nothing ready.
type Slot[T any] struct {
	Valid bool
	Value T
}

func Some[T any](v T) Slot[T] {
	return Slot[T]{Valid: true, Value: v}
}

// Arbiter selects one valid slot per call. ok is false when no slot is
// valid.
type Arbiter[T any] interface {
	Arbit(slots []Slot[T]) (idx int, v T, ok bool)
}

// RoundRobin scans from the slot after the previous winner, wrapping.
type RoundRobin[T any] struct {
	next int
}

func NewRoundRobin[T any]() *RoundRobin[T] {
	return &RoundRobin[T]{}
}

func (rr *RoundRobin[T]) Arbit(slots []Slot[T]) (int, T, bool) {
	n := len(slots)
	if n > 0 && rr.next >= n {
		rr.next %= n
	}

	for i := 0; i < n; i++ {
		idx := (rr.next + i) % n
		if slots[idx].Valid {
			rr.next = (idx + 1) % n
			return idx, slots[idx].Value, true
		}
	}

	var zero T
	return 0, zero, false
}
