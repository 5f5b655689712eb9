package ipsec

import (
	"crypto/aes"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
)

func (x *xform) ccm() {
	block, err := aes.NewCipher(x.ctx.CipherKey)
	if err != nil {
		x.cipherErr("ccm", err)
		return
	}

	aead, err := ccm.NewCCM(block, x.ctx.ICVLen(), len(x.iv()))
	if err != nil {
		// Nonce and tag sizes come from the session, so a bad one is a
		// session problem.
		x.status.SetInvalidSession()
		x.log.Warn("unusable ccm session", "error", err)
		return
	}

	x.seal("ccm", aead)
}
