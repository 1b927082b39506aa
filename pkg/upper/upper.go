// Package upper implements the upper transport layer: encryption and
// authentication of access payloads with application or device keys.
package upper

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

// MaxAccessPayload is the largest access PDU carried by 32 segments with a
// 32 bit TransMIC.
const MaxAccessPayload = 380

var (
	ErrNoMatchingKey  = errors.New("upper: no key authenticates the message")
	ErrPayloadTooLong = errors.New("upper: access payload too long")
	ErrTruncated      = errors.New("upper: message shorter than its TransMIC")
)

// AccessPDU is a plaintext access payload with the addressing that binds
// its nonce.
type AccessPDU struct {
	Source      address.Address
	Destination address.MeshAddress
	// Sequence is the SeqAuth.
	Sequence uint32
	IVIndex  uint32
	// SZMIC selects a 64 bit TransMIC. Only segmented messages may set it.
	SZMIC   bool
	Payload []byte
}

// EncryptedPDU is an upper transport access PDU.
type EncryptedPDU struct {
	AKF   bool
	AID   uint8
	SZMIC bool
	// Data is the encrypted payload followed by the TransMIC.
	Data []byte
}

// MICSize returns the TransMIC length.
func MICSize(szmic bool) int {
	if szmic {
		return crypto.MICSize64
	}
	return crypto.MICSize32
}

func nonce(device, szmic bool, seq uint32, src, dst address.Address, iv uint32) []byte {
	if device {
		return crypto.DeviceNonce(szmic, seq, uint16(src), uint16(dst), iv)
	}
	return crypto.ApplicationNonce(szmic, seq, uint16(src), uint16(dst), iv)
}

// Encrypt seals pdu with the access key selected by keySet.
func Encrypt(pdu *AccessPDU, keySet keys.KeySet) (*EncryptedPDU, error) {
	if len(pdu.Payload) > MaxAccessPayload+crypto.MICSize32-MICSize(pdu.SZMIC) {
		return nil, ErrPayloadTooLong
	}
	aid, akf := keySet.AID()
	n := nonce(!akf, pdu.SZMIC, pdu.Sequence, pdu.Source, pdu.Destination.Address, pdu.IVIndex)

	data, err := crypto.Encrypt(keySet.AccessKey(), n, pdu.Payload, MICSize(pdu.SZMIC), pdu.Destination.LabelBytes())
	if err != nil {
		return nil, fmt.Errorf("upper: encrypt: %w", err)
	}
	return &EncryptedPDU{AKF: akf, AID: aid, SZMIC: pdu.SZMIC, Data: data}, nil
}

// Candidate is one key that may have encrypted a received message.
type Candidate struct {
	Key []byte
	// ApplicationKey is nil for device keys.
	ApplicationKey *keys.ApplicationKey
}

// IsDeviceKey reports whether the candidate is a device key.
func (c Candidate) IsDeviceKey() bool { return c.ApplicationKey == nil }

// Decrypted is the result of a successful Decrypt.
type Decrypted struct {
	AccessPDU
	Key Candidate
}

// Decrypt authenticates msg against every candidate key, and for virtual
// destinations every candidate Label UUID. A MIC failure moves on to the
// next combination; ErrNoMatchingKey is returned once all are exhausted.
func Decrypt(msg *EncryptedPDU, src, dst address.Address, seqAuth, ivIndex uint32, candidates []Candidate, labels []uuid.UUID) (*Decrypted, error) {
	micSize := MICSize(msg.SZMIC)
	if len(msg.Data) <= micSize {
		return nil, ErrTruncated
	}
	n := nonce(!msg.AKF, msg.SZMIC, seqAuth, src, dst, ivIndex)

	destinations := []address.MeshAddress{address.New(dst)}
	if dst.IsVirtual() {
		destinations = destinations[:0]
		for _, l := range labels {
			va, err := address.NewVirtual(l)
			if err != nil || va.Address != dst {
				continue
			}
			destinations = append(destinations, va)
		}
	}

	for _, c := range candidates {
		if c.IsDeviceKey() == msg.AKF {
			continue
		}
		for _, d := range destinations {
			plain, err := crypto.Decrypt(c.Key, n, msg.Data, micSize, d.LabelBytes())
			if errors.Is(err, crypto.ErrAESCCMAuthFailed) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("upper: decrypt: %w", err)
			}
			return &Decrypted{
				AccessPDU: AccessPDU{
					Source:      src,
					Destination: d,
					Sequence:    seqAuth,
					IVIndex:     ivIndex,
					SZMIC:       msg.SZMIC,
					Payload:     plain,
				},
				Key: c,
			}, nil
		}
	}
	return nil, ErrNoMatchingKey
}
