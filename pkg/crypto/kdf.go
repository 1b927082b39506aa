package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/hkdf"
)

// Derivation labels from the Mesh Profile security toolbox.
const (
	labelSMK2    = "smk2"
	labelSMK3    = "smk3"
	labelSMK4    = "smk4"
	labelID64    = "id64"
	labelID6     = "id6"
	labelID128   = "id128"
	labelNKIK    = "nkik"
	labelNKBK    = "nkbk"
	labelNKPK    = "nkpk"
	labelVTAD    = "vtad"
	labelPRCK    = "prck"
	labelPRCK256 = "prck256"
	labelPRSK    = "prsk"
	labelPRSN    = "prsn"
	labelPRDK    = "prdk"
)

var ErrInvalidSalt = errors.New("crypto: salt must be 16 bytes")

var zeroKey = make([]byte, KeySize)

// S1 is the salt generation function: AES-CMAC with an all-zero key.
func S1(m []byte) []byte {
	return mustCMAC(zeroKey, m)
}

// S1String is S1 over an ASCII label.
func S1String(label string) []byte {
	return S1([]byte(label))
}

// S2 is the SHA-256 salt generation function: HMAC-SHA-256 with an
// all-zero 256 bit key, which is exactly HKDF-Extract with an empty salt.
func S2(m []byte) []byte {
	return hkdf.Extract(sha256.New, m, nil)
}

// K1 derives a 128 bit key: T = CMAC_SALT(N), k1 = CMAC_T(P).
func K1(n, salt, p []byte) ([]byte, error) {
	if len(salt) != KeySize {
		return nil, ErrInvalidSalt
	}
	t := mustCMAC(salt, n)
	return mustCMAC(t, p), nil
}

// NetworkCredentials are the outputs of K2.
type NetworkCredentials struct {
	NID           uint8
	EncryptionKey []byte
	PrivacyKey    []byte
}

// K2 derives the NID, Encryption Key and Privacy Key from a network key
// and P (0x00 for master credentials).
func K2(n, p []byte) (NetworkCredentials, error) {
	if len(n) != KeySize {
		return NetworkCredentials{}, ErrInvalidKeySize
	}
	t := mustCMAC(S1String(labelSMK2), n)

	t1 := mustCMAC(t, concat(p, []byte{0x01}))
	t2 := mustCMAC(t, concat(t1, p, []byte{0x02}))
	t3 := mustCMAC(t, concat(t2, p, []byte{0x03}))

	return NetworkCredentials{
		NID:           t1[15] & 0x7F,
		EncryptionKey: t2,
		PrivacyKey:    t3,
	}, nil
}

// K3 derives the 64 bit Network ID.
func K3(n []byte) ([]byte, error) {
	if len(n) != KeySize {
		return nil, ErrInvalidKeySize
	}
	t := mustCMAC(S1String(labelSMK3), n)
	return mustCMAC(t, concat([]byte(labelID64), []byte{0x01}))[8:], nil
}

// K4 derives the 6 bit AID of an application key.
func K4(n []byte) (uint8, error) {
	if len(n) != KeySize {
		return 0, ErrInvalidKeySize
	}
	t := mustCMAC(S1String(labelSMK4), n)
	return mustCMAC(t, concat([]byte(labelID6), []byte{0x01}))[15] & 0x3F, nil
}

// K5 derives a 256 bit key for the HMAC-SHA-256 provisioning algorithm:
// T = HMAC_SALT(N), k5 = HMAC_T(P).
func K5(n, salt, p []byte) ([]byte, error) {
	if len(salt) != SHA256Size {
		return nil, ErrInvalidSalt
	}
	t := hkdf.Extract(sha256.New, n, salt)
	return HMACSHA256(t, p), nil
}

func id128(n []byte, label string) ([]byte, error) {
	return K1(n, S1String(label), concat([]byte(labelID128), []byte{0x01}))
}

// IdentityKey derives the key used for Node Identity advertising.
func IdentityKey(netKey []byte) ([]byte, error) {
	return id128(netKey, labelNKIK)
}

// BeaconKey derives the key authenticating Secure Network beacons.
func BeaconKey(netKey []byte) ([]byte, error) {
	return id128(netKey, labelNKBK)
}

// PrivateBeaconKey derives the key protecting Mesh Private beacons.
func PrivateBeaconKey(netKey []byte) ([]byte, error) {
	return id128(netKey, labelNKPK)
}

// VirtualAddressHash returns the 14 bit hash of a Label UUID. The virtual
// address is 0x8000 | hash.
func VirtualAddressHash(label []byte) (uint16, error) {
	if len(label) != 16 {
		return 0, ErrInvalidKeySize
	}
	mac := mustCMAC(S1String(labelVTAD), label)
	return binary.BigEndian.Uint16(mac[14:]) & 0x3FFF, nil
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
