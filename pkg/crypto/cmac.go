package crypto

import (
	"crypto/aes"

	"github.com/aead/cmac"
)

// AESECB encrypts a single 16 byte block with AES-128.
// It is the "e" function of the Mesh Profile security toolbox.
func AESECB(key, block []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(block) != blockSize {
		return nil, ErrDataTooShort
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, blockSize)
	c.Encrypt(out, block)
	return out, nil
}

// AESCMAC computes the 16 byte AES-CMAC (RFC 4493) of message.
func AESCMAC(key, message []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cmac.Sum(message, c, blockSize)
}

// mustCMAC is used where the key length is guaranteed by construction.
func mustCMAC(key, message []byte) []byte {
	mac, err := AESCMAC(key, message)
	if err != nil {
		panic(err)
	}
	return mac
}
