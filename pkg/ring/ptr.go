// Package ring implements the descriptor ring protocol shared by every
// device variant: wraparound pointer arithmetic, the register block that
// holds a ring's state and the hardware and software views onto it.
package ring

const (
	roundBit = 0x80000000
	lowMask  = 0x7fffffff
)

// Ptr is a ring pointer: a 31-bit index plus a round flag that flips every
// time the index wraps.
type Ptr uint32

func MakePtr(round bool, low uint32) Ptr {
	p := Ptr(low & lowMask)
	if round {
		p |= roundBit
	}
	return p
}

func (p Ptr) Round() bool { return p&roundBit != 0 }

func (p Ptr) Low() uint32 { return uint32(p) & lowMask }

// Incr advances p by n entries in a ring of size entries.
func Incr(p Ptr, n, size uint32) Ptr {
	low := p.Low()
	if low+n > size-1 {
		return MakePtr(!p.Round(), low+n-size)
	}
	return p + Ptr(n)
}

// Decr moves p back by n entries in a ring of size entries.
func Decr(p Ptr, n, size uint32) Ptr {
	low := p.Low()
	if low < n {
		return MakePtr(!p.Round(), size-(n-low))
	}
	return p - Ptr(n)
}

func Next(p Ptr, size uint32) Ptr { return Incr(p, 1, size) }

func Prev(p Ptr, size uint32) Ptr { return Decr(p, 1, size) }

// State is a snapshot of the fields occupancy is derived from.
type State struct {
	Size     uint32
	Consumer Ptr
	Producer Ptr
	Enabled  bool
}

func (s State) live() bool {
	return s.Size != 0 && s.Enabled
}

func (s State) Full() bool {
	return s.Consumer.Round() != s.Producer.Round() &&
		s.Consumer.Low() == s.Producer.Low() && s.live()
}

func (s State) Empty() bool {
	return s.Consumer.Round() == s.Producer.Round() &&
		s.Consumer.Low() == s.Producer.Low() && s.live()
}

// ConsumerValids is the number of entries produced but not yet consumed.
func (s State) ConsumerValids() uint32 {
	if !s.live() {
		return 0
	}

	c, p := s.Consumer.Low(), s.Producer.Low()
	if s.Consumer.Round() != s.Producer.Round() {
		return s.Size - (c - p)
	}
	return p - c
}

// ProducerValids is the number of free entries the producer may fill.
func (s State) ProducerValids() uint32 {
	if !s.live() {
		return 0
	}
	return s.Size - s.ConsumerValids()
}

func (s State) AlmostFull(highWatermark uint32) bool {
	return s.ConsumerValids() >= highWatermark
}

func (s State) AlmostEmpty(lowWatermark uint32) bool {
	return s.ConsumerValids() <= lowWatermark
}
