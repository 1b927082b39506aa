package crypto

import (
	"encoding/binary"
	"errors"
)

// Nonce types (first octet of every mesh nonce).
const (
	NonceNetwork     byte = 0x00
	NonceApplication byte = 0x01
	NonceDevice      byte = 0x02
	NonceProxy       byte = 0x03
)

// ObfuscatedSize is the length of the CTL/TTL, SEQ and SRC header fields
// covered by network header obfuscation.
const ObfuscatedSize = 6

// PrivacyRandomSize is the number of encrypted bytes that seed obfuscation.
const PrivacyRandomSize = 7

var ErrPrivacyRandomTooShort = errors.New("crypto: privacy random must be at least 7 bytes")

// NetworkNonce builds the nonce protecting a network PDU.
//
//	0x00 | CTL<<7 | TTL | SEQ(3) | SRC(2) | 0x0000 | IV Index(4)
func NetworkNonce(ctl bool, ttl uint8, seq uint32, src uint16, ivIndex uint32) []byte {
	n := make([]byte, NonceSize)
	n[0] = NonceNetwork
	n[1] = ttl & 0x7F
	if ctl {
		n[1] |= 0x80
	}
	putSeq(n[2:5], seq)
	binary.BigEndian.PutUint16(n[5:7], src)
	binary.BigEndian.PutUint32(n[9:13], ivIndex)
	return n
}

// ApplicationNonce builds the nonce for access messages secured with an
// application key.
//
//	0x01 | ASZMIC<<7 | SEQ(3) | SRC(2) | DST(2) | IV Index(4)
func ApplicationNonce(szmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	return accessNonce(NonceApplication, szmic, seq, src, dst, ivIndex)
}

// DeviceNonce is ApplicationNonce with the device nonce type.
func DeviceNonce(szmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	return accessNonce(NonceDevice, szmic, seq, src, dst, ivIndex)
}

// ProxyNonce builds the nonce for proxy configuration messages.
func ProxyNonce(seq uint32, src uint16, ivIndex uint32) []byte {
	n := make([]byte, NonceSize)
	n[0] = NonceProxy
	putSeq(n[2:5], seq)
	binary.BigEndian.PutUint16(n[5:7], src)
	binary.BigEndian.PutUint32(n[9:13], ivIndex)
	return n
}

func accessNonce(kind byte, szmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	n := make([]byte, NonceSize)
	n[0] = kind
	if szmic {
		n[1] = 0x80
	}
	putSeq(n[2:5], seq)
	binary.BigEndian.PutUint16(n[5:7], src)
	binary.BigEndian.PutUint16(n[7:9], dst)
	binary.BigEndian.PutUint32(n[9:13], ivIndex)
	return n
}

func putSeq(b []byte, seq uint32) {
	b[0] = byte(seq >> 16)
	b[1] = byte(seq >> 8)
	b[2] = byte(seq)
}

// Obfuscate XORs the first 6 bytes of data with
// e(PrivacyKey, 0x0000000000 || IV Index || random[0:7]).
// The same call de-obfuscates.
func Obfuscate(data, random []byte, ivIndex uint32, privacyKey []byte) ([]byte, error) {
	if len(random) < PrivacyRandomSize {
		return nil, ErrPrivacyRandomTooShort
	}
	if len(data) < ObfuscatedSize {
		return nil, ErrDataTooShort
	}
	var plain [blockSize]byte
	binary.BigEndian.PutUint32(plain[5:9], ivIndex)
	copy(plain[9:], random[:PrivacyRandomSize])

	pecb, err := AESECB(privacyKey, plain[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, ObfuscatedSize)
	for i := range out {
		out[i] = data[i] ^ pecb[i]
	}
	return out, nil
}
