package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AES-CCM parameters used throughout the mesh stack.
// Network and upper transport PDUs use a 13 byte nonce (L = 2) with a
// 32 or 64 bit MIC.
const (
	// KeySize is the size of every mesh symmetric key.
	KeySize = 16

	// NonceSize is the CCM nonce size used by all mesh nonces.
	NonceSize = 13

	// MICSize32 is the short MIC used by access messages with SZMIC=0.
	MICSize32 = 4

	// MICSize64 is the long MIC used by control messages and SZMIC=1 access messages.
	MICSize64 = 8

	blockSize = 16
)

var (
	ErrInvalidKeySize   = errors.New("crypto: invalid key size, must be 16 bytes")
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")
	ErrInvalidMICSize   = errors.New("crypto: invalid MIC size")
	ErrDataTooLong      = errors.New("crypto: data too long")
	ErrAADTooLong       = errors.New("crypto: additional data too long")
	ErrDataTooShort     = errors.New("crypto: ciphertext shorter than MIC")

	// ErrAESCCMAuthFailed is returned when the MIC does not verify.
	// Callers iterating candidate keys treat it as "try the next key".
	ErrAESCCMAuthFailed = errors.New("crypto: MIC verification failed")
)

// AESCCM is an AES-128-CCM instance (NIST 800-38C, RFC 3610) with a fixed
// nonce and MIC size.
type AESCCM struct {
	block   cipher.Block
	micSize int
	lenSize int
}

// NewAESCCM returns a CCM instance with the mesh nonce size and the given MIC size.
func NewAESCCM(key []byte, micSize int) (*AESCCM, error) {
	return NewAESCCMWithParams(key, NonceSize, micSize)
}

// NewAESCCMWithParams allows arbitrary CCM parameters. nonceSize must be in
// 7..13 and micSize an even value in 4..16.
func NewAESCCMWithParams(key []byte, nonceSize, micSize int) (*AESCCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrInvalidNonceSize
	}
	if micSize < 4 || micSize > 16 || micSize%2 != 0 {
		return nil, ErrInvalidMICSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESCCM{block: block, micSize: micSize, lenSize: lenSize}, nil
}

func (c *AESCCM) NonceSize() int { return 15 - c.lenSize }

func (c *AESCCM) MICSize() int { return c.micSize }

// Seal returns ciphertext || MIC.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if c.lenSize < 8 && uint64(len(plaintext)) >= 1<<(8*uint(c.lenSize)) {
		return nil, ErrDataTooLong
	}
	if len(aad) >= 0xFF00 {
		return nil, ErrAADTooLong
	}

	mac := c.cbcMAC(nonce, plaintext, aad)
	out := make([]byte, len(plaintext)+c.micSize)
	c.ctr(nonce, out[:len(plaintext)], plaintext)

	s0 := c.counterBlock(nonce, 0)
	subtle.XORBytes(out[len(plaintext):], mac[:c.micSize], s0[:c.micSize])
	return out, nil
}

// Open verifies and decrypts ciphertext || MIC.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < c.micSize {
		return nil, ErrDataTooShort
	}
	if len(aad) >= 0xFF00 {
		return nil, ErrAADTooLong
	}

	n := len(ciphertext) - c.micSize
	plaintext := make([]byte, n)
	c.ctr(nonce, plaintext, ciphertext[:n])

	s0 := c.counterBlock(nonce, 0)
	received := make([]byte, c.micSize)
	subtle.XORBytes(received, ciphertext[n:], s0[:c.micSize])

	mac := c.cbcMAC(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(received, mac[:c.micSize]) != 1 {
		return nil, ErrAESCCMAuthFailed
	}
	return plaintext, nil
}

// cbcMAC computes the unencrypted authentication value T.
func (c *AESCCM) cbcMAC(nonce, plaintext, aad []byte) []byte {
	var b0 [blockSize]byte
	if len(aad) > 0 {
		b0[0] |= 0x40
	}
	b0[0] |= byte((c.micSize-2)/2) << 3
	b0[0] |= byte(c.lenSize - 1)
	copy(b0[1:], nonce)
	length := uint64(len(plaintext))
	for i := blockSize - 1; i > c.NonceSize(); i-- {
		b0[i] = byte(length)
		length >>= 8
	}

	mac := make([]byte, blockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		// 2 byte length prefix, aad is always shorter than 2^16-2^8.
		header := make([]byte, 2, 2+len(aad))
		binary.BigEndian.PutUint16(header, uint16(len(aad)))
		c.absorb(mac, append(header, aad...))
	}
	c.absorb(mac, plaintext)
	return mac
}

// absorb runs zero-padded data through the CBC chain.
func (c *AESCCM) absorb(mac, data []byte) {
	for len(data) > 0 {
		var blk [blockSize]byte
		n := copy(blk[:], data)
		data = data[n:]
		subtle.XORBytes(mac, mac, blk[:])
		c.block.Encrypt(mac, mac)
	}
}

// counterBlock returns E(K, A_i).
func (c *AESCCM) counterBlock(nonce []byte, i uint64) []byte {
	var a [blockSize]byte
	a[0] = byte(c.lenSize - 1)
	copy(a[1:], nonce)
	for j := blockSize - 1; j > c.NonceSize(); j-- {
		a[j] = byte(i)
		i >>= 8
	}
	out := make([]byte, blockSize)
	c.block.Encrypt(out, a[:])
	return out
}

func (c *AESCCM) ctr(nonce, dst, src []byte) {
	for i, counter := 0, uint64(1); i < len(src); i, counter = i+blockSize, counter+1 {
		end := min(i+blockSize, len(src))
		ks := c.counterBlock(nonce, counter)
		subtle.XORBytes(dst[i:end], src[i:end], ks)
	}
}

// Encrypt encrypts and authenticates data with AES-CCM using a 13 byte
// nonce and a MIC of micSize bytes (4 or 8 for mesh PDUs).
// The result is data || MIC.
func Encrypt(key, nonce, data []byte, micSize int, aad []byte) ([]byte, error) {
	ccm, err := NewAESCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, data, aad)
}

// Decrypt is the inverse of Encrypt. It returns ErrAESCCMAuthFailed when the
// MIC does not match.
func Decrypt(key, nonce, data []byte, micSize int, aad []byte) ([]byte, error) {
	ccm, err := NewAESCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, data, aad)
}
