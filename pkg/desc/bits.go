// Package desc holds the bit-packed descriptor records exchanged through
// rings. Descriptors are arrays of little-endian 32-bit words; field
// positions are given as inclusive bit ranges over the whole record.
package desc

import "encoding/binary"

// EntrySize is the minimum addressable descriptor unit in bytes.
const EntrySize = 4

var le = binary.LittleEndian

// Get extracts bits hi..lo (inclusive) of w. The field may span words.
func Get(w []uint32, hi, lo uint) uint64 {
	var v uint64
	for i := lo; i <= hi; i++ {
		if (w[i/32]>>(i%32))&1 != 0 {
			v |= 1 << (i - lo)
		}
	}
	return v
}

// Set stores v into bits hi..lo of w, truncating v to the field width.
func Set(w []uint32, hi, lo uint, v uint64) {
	for i := lo; i <= hi; i++ {
		mask := uint32(1) << (i % 32)
		if (v>>(i-lo))&1 != 0 {
			w[i/32] |= mask
		} else {
			w[i/32] &^= mask
		}
	}
}

func Flag(w []uint32, bit uint) bool {
	return Get(w, bit, bit) != 0
}

func SetFlag(w []uint32, bit uint, v bool) {
	var x uint64
	if v {
		x = 1
	}
	Set(w, bit, bit, x)
}

// Decode fills w from b. b must hold at least len(w)*EntrySize bytes.
func Decode(w []uint32, b []byte) {
	for i := range w {
		w[i] = le.Uint32(b[i*EntrySize:])
	}
}

// Encode writes w into b, zero padding any tail of b past the words.
func Encode(w []uint32, b []byte) {
	for i := range w {
		le.PutUint32(b[i*EntrySize:], w[i])
	}
	for i := len(w) * EntrySize; i < len(b); i++ {
		b[i] = 0
	}
}
