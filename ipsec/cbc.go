package ipsec

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// cbc encrypts then authenticates, or verifies then decrypts. The text must
// be whole blocks; there is no padding.
func (x *xform) cbc() {
	iv := x.iv()
	if len(iv) != aes.BlockSize {
		x.cipherErr("cbc", errors.Errorf("iv is %d bytes, want %d", len(iv), aes.BlockSize))
		return
	}

	block, err := aes.NewCipher(x.ctx.CipherKey)
	if err != nil {
		x.cipherErr("cbc", err)
		return
	}

	text := x.srcText()
	if len(text)%aes.BlockSize != 0 {
		x.cipherErr("cbc", errors.Errorf("text is %d bytes, not a whole number of blocks", len(text)))
		return
	}

	out := make([]byte, len(text))

	if x.cfg.Encrypt() {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, text)
		x.setDstText(out)
		x.hmacDigest()
		return
	}

	if !x.hmacVerify() {
		return
	}

	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, text)
	x.setDstText(out)
}
