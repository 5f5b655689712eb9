package ipsec

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

func (x *xform) gcm() {
	block, err := aes.NewCipher(x.ctx.CipherKey)
	if err != nil {
		x.cipherErr("gcm", err)
		return
	}

	aead, err := cipher.NewGCMWithTagSize(block, x.ctx.ICVLen())
	if err != nil {
		x.cipherErr("gcm", err)
		return
	}

	x.seal("gcm", aead)
}

// seal runs an AEAD in the request's direction. The ICV follows the text in
// the sealed output.
func (x *xform) seal(mode string, aead cipher.AEAD) {
	nonce := x.iv()
	if len(nonce) != aead.NonceSize() {
		x.cipherErr(mode, errors.Errorf("nonce is %d bytes, want %d", len(nonce), aead.NonceSize()))
		return
	}

	if x.cfg.Encrypt() {
		out := aead.Seal(nil, nonce, x.srcText(), x.srcAAD())
		n := x.cfg.TextLen()
		x.setDstText(out[:n])
		x.setDstICV(out[n:])
		return
	}

	ct := append(append([]byte(nil), x.srcText()...), x.srcICV()...)
	pt, err := aead.Open(nil, nonce, ct, x.srcAAD())
	if err != nil {
		x.status.SetAuthFail()
		x.log.Trace("authentication failed", "mode", mode)
		return
	}

	x.setDstText(pt)
}
