package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// SHA256Size is the output size of HMAC-SHA-256.
const SHA256Size = sha256.Size

// HMACSHA256 computes the HMAC-SHA-256 of message under key.
func HMACSHA256(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
