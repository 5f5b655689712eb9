package rohc

import (
	"sync"

	"github.com/pkg/errors"
)

// Codec is the compression service behind the engine. Errors other than the
// ones declared here are reported as bad format.
type Codec interface {
	Compress(in, out []byte) (int, error)
	Decompress(in, out []byte) (int, error)
}

var (
	ErrTooSmall  = errors.New("output buffer too small")
	ErrBadCRC    = errors.New("crc mismatch")
	ErrNoContext = errors.New("no decompression context")
	ErrMalformed = errors.New("malformed packet")
)

// Packet type octets.
const (
	typePadding = 0xe0
	typeAddCID  = 0xe0
	typeIR      = 0xfc

	// Octets from 0xe0 up are reserved for ROHC packet types, so an IP
	// packet starting with one cannot be sent as a normal packet.
	reservedTypes = 0xe0
)

// ProfileUncompressed is profile 0x0000, which carries packets unchanged
// after the context is set up.
const ProfileUncompressed = 0x00

const (
	// DefaultOptimistic is how many IR packets open a context before the
	// compressor trusts the decompressor to have it.
	DefaultOptimistic = 4
	// DefaultRefresh is how many normal packets go between IR refreshes.
	DefaultRefresh = 1700

	maxSmallCID = 15
)

// Uncompressed implements the Uncompressed profile of RFC 3095 section 5.10
// in unidirectional mode, using small CIDs. The compressor always uses CID
// 0; the decompressor keeps a context per CID.
type Uncompressed struct {
	mu sync.Mutex

	Optimistic int
	Refresh    int

	irSent   int
	sinceIR  int
	contexts [maxSmallCID + 1]bool
}

func NewUncompressed() *Uncompressed {
	return &Uncompressed{
		Optimistic: DefaultOptimistic,
		Refresh:    DefaultRefresh,
	}
}

func (u *Uncompressed) needIR(first byte) bool {
	switch {
	case u.irSent < u.Optimistic:
		return true
	case first >= reservedTypes:
		return true
	case u.Refresh > 0 && u.sinceIR >= u.Refresh:
		return true
	default:
		return false
	}
}

func (u *Uncompressed) Compress(in, out []byte) (int, error) {
	if len(in) == 0 {
		return 0, errors.Wrapf(ErrMalformed, "empty packet")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.needIR(in[0]) {
		if len(in) > len(out) {
			return 0, errors.Wrapf(ErrTooSmall, "need %d bytes, have %d", len(in), len(out))
		}

		u.sinceIR++
		return copy(out, in), nil
	}

	n := len(in) + 3
	if n > len(out) {
		return 0, errors.Wrapf(ErrTooSmall, "need %d bytes, have %d", n, len(out))
	}

	out[0] = typeIR
	out[1] = ProfileUncompressed
	out[2] = crc8Sum(out[:2])
	copy(out[3:], in)

	u.irSent++
	u.sinceIR = 0

	return n, nil
}

func (u *Uncompressed) Decompress(in, out []byte) (int, error) {
	p := in
	for len(p) > 0 && p[0] == typePadding {
		p = p[1:]
	}
	if len(p) == 0 {
		return 0, errors.Wrapf(ErrMalformed, "no packet after padding")
	}

	// The IR CRC covers the header from the add-CID octet on.
	hdr := p

	cid := 0
	if p[0]&0xf0 == typeAddCID {
		cid = int(p[0] & 0x0f)
		p = p[1:]
		if len(p) == 0 {
			return 0, errors.Wrapf(ErrMalformed, "add-cid without packet")
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	var payload []byte
	switch {
	case p[0]&0xfe == typeIR:
		if len(p) < 3 {
			return 0, errors.Wrapf(ErrMalformed, "truncated ir header")
		}
		if p[1] != ProfileUncompressed {
			return 0, errors.Wrapf(ErrMalformed, "unsupported profile %#x", p[1])
		}

		covered := hdr[:len(hdr)-len(p)+2]
		if crc8Sum(covered) != p[2] {
			return 0, errors.Wrapf(ErrBadCRC, "ir header crc %#x, want %#x", p[2], crc8Sum(covered))
		}

		u.contexts[cid] = true
		payload = p[3:]
	case p[0] >= reservedTypes:
		return 0, errors.Wrapf(ErrMalformed, "unsupported packet type %#x", p[0])
	default:
		if !u.contexts[cid] {
			return 0, errors.Wrapf(ErrNoContext, "cid %d", cid)
		}
		payload = p
	}

	if len(payload) > len(out) {
		return 0, errors.Wrapf(ErrTooSmall, "need %d bytes, have %d", len(payload), len(out))
	}

	return copy(out, payload), nil
}
