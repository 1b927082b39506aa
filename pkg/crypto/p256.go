package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// P256PublicKeySize is the uncompressed public key size: 0x04 || X || Y.
	P256PublicKeySize = 65

	// P256PrivateKeySize is the size of the private scalar.
	P256PrivateKeySize = 32

	// ECDHSecretSize is the size of the shared secret (X coordinate).
	ECDHSecretSize = 32
)

var ErrInvalidPublicKey = errors.New("crypto: invalid P-256 public key")

// P256KeyPair is an ephemeral provisioning key pair.
type P256KeyPair struct {
	private *ecdh.PrivateKey
}

// PublicKey returns the 65 byte uncompressed public key.
func (kp *P256KeyPair) PublicKey() []byte {
	return kp.private.PublicKey().Bytes()
}

// PublicKeyXY returns X || Y as carried in the Provisioning Public Key PDU.
func (kp *P256KeyPair) PublicKeyXY() []byte {
	return kp.PublicKey()[1:]
}

// PrivateKey returns the private scalar.
func (kp *P256KeyPair) PrivateKey() []byte {
	return kp.private.Bytes()
}

// P256GenerateKeyPair generates a fresh P-256 key pair.
func P256GenerateKeyPair() (*P256KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ECDH key: %w", err)
	}
	return &P256KeyPair{private: priv}, nil
}

// P256KeyPairFromPrivateKey restores a key pair from its scalar.
func P256KeyPairFromPrivateKey(privateKey []byte) (*P256KeyPair, error) {
	if len(privateKey) != P256PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", P256PrivateKeySize, len(privateKey))
	}
	priv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &P256KeyPair{private: priv}, nil
}

// ECDH computes the shared secret with the peer's public key. The peer key
// may be given uncompressed (65 bytes) or as raw X || Y (64 bytes).
func ECDH(kp *P256KeyPair, peerPublicKey []byte) ([]byte, error) {
	switch len(peerPublicKey) {
	case P256PublicKeySize:
	case P256PublicKeySize - 1:
		peerPublicKey = append([]byte{0x04}, peerPublicKey...)
	default:
		return nil, ErrInvalidPublicKey
	}
	pub, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	secret, err := kp.private.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH: %w", err)
	}
	return secret, nil
}
