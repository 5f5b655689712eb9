// Package ipsec models the IPsec crypto offload engine: per-session
// transform contexts in registers, request rings, and a transform service
// that encrypts or decrypts scatter-gather frames in shared memory.
package ipsec

const (
	Channels     = 4
	Sessions     = 64
	CacheEntries = 8

	// MaxFrameLen bounds the source and destination frames.
	MaxFrameLen = 0x4000
)

// Word addresses of the register ranges.
const (
	SessionBase = 0
	QueueBase   = 2048
	regEnd      = 3072

	SessionStride = 8
)

// Word offsets inside a session block.
const (
	SessCtx         = 0
	SessSalt        = 1
	SessCipherKeyLo = 2
	SessCipherKeyHi = 3
	SessHashKeyLo   = 4
	SessHashKeyHi   = 5

	sessWords = 6
)

type CipherAlg uint8

const (
	CipherNull CipherAlg = iota
	AES128
	AES256
	cipherUnknown
)

func (a CipherAlg) String() string {
	switch a {
	case CipherNull:
		return "null"
	case AES128:
		return "aes-128"
	case AES256:
		return "aes-256"
	default:
		return "unknown"
	}
}

// KeyLen is the cipher key length in bytes.
func (a CipherAlg) KeyLen() int {
	switch a {
	case AES128:
		return 16
	case AES256:
		return 32
	default:
		return 0
	}
}

type CipherMode uint8

const (
	CBC CipherMode = iota
	CCM
	GCM
	modeUnknown
)

func (m CipherMode) String() string {
	switch m {
	case CBC:
		return "cbc"
	case CCM:
		return "ccm"
	case GCM:
		return "gcm"
	default:
		return "unknown"
	}
}

type HmacAlg uint8

const (
	HmacNull HmacAlg = iota
	SHA1
	SHA256
	// SHA512 is HMAC over SHA-512/256.
	SHA512
)

func (a HmacAlg) String() string {
	switch a {
	case HmacNull:
		return "null"
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	case SHA512:
		return "sha512/256"
	default:
		return "unknown"
	}
}

// KeyLen is the hash key length in bytes that the session's key address
// points at.
func (a HmacAlg) KeyLen() int {
	switch a {
	case SHA1:
		return 16
	case SHA256:
		return 64
	case SHA512:
		return 128
	default:
		return 0
	}
}
