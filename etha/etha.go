// Package etha models the Ethernet offload engine: receive filtering and
// dispatch into per-queue rings, and transmit arbitration across queues.
package etha

const (
	// Channels is the number of rx/tx queue pairs.
	Channels = 16
	// TP5Filters is the number of 5-tuple filters.
	TP5Filters = Channels
	// ETFilters is the number of ethertype filters.
	ETFilters = 4

	MinFrameLen = 14
	MaxFrameLen = 0x4000
)

// Word addresses of the register ranges.
const (
	RxBase     = 0
	TxBase     = 1024
	QueueBase  = 2048
	GlobalBase = 4096
	regEnd     = 5120

	QueueStride = 0x20
	// TxRingOffset is the tx ring's offset inside a queue's block.
	TxRingOffset = 0x10
)

type CongestionAction uint8

const (
	Blocking CongestionAction = iota
	Drop
	Default
)

func (a CongestionAction) String() string {
	switch a {
	case Blocking:
		return "blocking"
	case Drop:
		return "drop"
	case Default:
		return "default"
	default:
		return "unknown"
	}
}

func congestionAction(v uint32) CongestionAction {
	switch v {
	case 1:
		return Drop
	case 2:
		return Default
	default:
		return Blocking
	}
}
