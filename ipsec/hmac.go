package ipsec

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/pkg/errors"
)

func (x *xform) newMAC() hash.Hash {
	switch x.ctx.Hmac {
	case SHA1:
		return hmac.New(sha1.New, x.ctx.HashKey)
	case SHA256:
		return hmac.New(sha256.New, x.ctx.HashKey)
	case SHA512:
		return hmac.New(sha512.New512_256, x.ctx.HashKey)
	default:
		return nil
	}
}

// hmacDigest authenticates the destination aad and text into the
// destination ICV, truncated to the session's ICV length.
func (x *xform) hmacDigest() {
	m := x.newMAC()
	if m == nil {
		return
	}

	m.Write(x.dstAAD())
	m.Write(x.dstText())
	sum := m.Sum(nil)

	n := x.ctx.ICVLen()
	if n > len(sum) {
		x.cipherErr("hmac", errors.Errorf("icv is %d bytes, digest only %d", n, len(sum)))
		return
	}

	x.setDstICV(sum[:n])
}

// hmacVerify checks the source ICV over the source aad and text.
func (x *xform) hmacVerify() bool {
	m := x.newMAC()
	if m == nil {
		return true
	}

	m.Write(x.srcAAD())
	m.Write(x.srcText())
	sum := m.Sum(nil)

	icv := x.srcICV()
	if len(icv) > len(sum) || !hmac.Equal(sum[:len(icv)], icv) {
		x.status.SetAuthFail()
		x.log.Trace("authentication failed", "mode", "hmac")
		return false
	}

	return true
}
