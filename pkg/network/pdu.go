// Package network implements the mesh network layer: network PDU
// encryption and obfuscation, IV Index and sequence number state, replay
// protection, the network message cache and network beacons.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

const (
	// MaxAccessTransportPDU is the largest lower transport PDU with CTL=0.
	MaxAccessTransportPDU = 16
	// MaxControlTransportPDU is the largest lower transport PDU with CTL=1.
	MaxControlTransportPDU = 12

	// MaxSequence is the largest 24 bit sequence number.
	MaxSequence = 0xFFFFFF
	// MaxTTL is the largest TTL value.
	MaxTTL = 127

	minPDUSize = 1 + 6 + 2 + 1 + crypto.MICSize32
)

// PDU is a decrypted network PDU.
type PDU struct {
	IVI          uint8
	NID          uint8
	CTL          bool
	TTL          uint8
	Sequence     uint32
	Source       address.Address
	Destination  address.Address
	TransportPDU []byte

	// Set by Decode.
	NetworkKey *keys.NetworkKey
	IVIndex    uint32
	// OldKey reports that the old key of a key refresh matched.
	OldKey bool
}

// NetMICSize returns 8 for control PDUs and 4 otherwise.
func NetMICSize(ctl bool) int {
	if ctl {
		return crypto.MICSize64
	}
	return crypto.MICSize32
}

// Encode encrypts and obfuscates pdu with the given network key material.
func Encode(pdu *PDU, d *keys.Derivatives, ivIndex uint32) ([]byte, error) {
	limit := MaxAccessTransportPDU
	if pdu.CTL {
		limit = MaxControlTransportPDU
	}
	if len(pdu.TransportPDU) == 0 || len(pdu.TransportPDU) > limit {
		return nil, ErrTransportTooLong
	}
	if !pdu.Source.IsUnicast() {
		return nil, ErrInvalidSource
	}
	if pdu.Destination.IsUnassigned() {
		return nil, ErrInvalidDestination
	}
	if pdu.TTL > MaxTTL {
		return nil, ErrInvalidTTL
	}

	plain := make([]byte, 2+len(pdu.TransportPDU))
	binary.BigEndian.PutUint16(plain, uint16(pdu.Destination))
	copy(plain[2:], pdu.TransportPDU)

	nonce := crypto.NetworkNonce(pdu.CTL, pdu.TTL, pdu.Sequence, uint16(pdu.Source), ivIndex)
	enc, err := crypto.Encrypt(d.EncryptionKey, nonce, plain, NetMICSize(pdu.CTL), nil)
	if err != nil {
		return nil, fmt.Errorf("network: encrypt: %w", err)
	}

	out := make([]byte, 7, 7+len(enc))
	out[0] = byte(ivIndex&1)<<7 | d.NID&0x7F
	out[1] = pdu.TTL & 0x7F
	if pdu.CTL {
		out[1] |= 0x80
	}
	out[2] = byte(pdu.Sequence >> 16)
	out[3] = byte(pdu.Sequence >> 8)
	out[4] = byte(pdu.Sequence)
	binary.BigEndian.PutUint16(out[5:7], uint16(pdu.Source))

	obf, err := crypto.Obfuscate(out[1:7], enc, ivIndex, d.PrivacyKey)
	if err != nil {
		return nil, err
	}
	copy(out[1:7], obf)
	return append(out, enc...), nil
}

// Decode authenticates data against every network key whose NID matches,
// including old keys during a key refresh. A MIC failure moves on to the
// next candidate.
func Decode(data []byte, candidates []*keys.NetworkKey, iv IVIndex) (*PDU, error) {
	if len(data) < minPDUSize {
		return nil, ErrTruncated
	}
	ivi := data[0] >> 7
	nid := data[0] & 0x7F
	ivIndex := iv.ReceiveIndex(ivi)

	for _, nk := range candidates {
		for i, d := range nk.ReceiveDerivatives() {
			if d.NID != nid {
				continue
			}
			pdu, err := open(data, d, ivIndex)
			if errors.Is(err, crypto.ErrAESCCMAuthFailed) {
				continue
			}
			if err != nil {
				return nil, err
			}
			pdu.IVI = ivi
			pdu.NID = nid
			pdu.NetworkKey = nk
			pdu.IVIndex = ivIndex
			pdu.OldKey = i > 0
			return pdu, nil
		}
	}
	return nil, ErrNoMatchingKey
}

func open(data []byte, d *keys.Derivatives, ivIndex uint32) (*PDU, error) {
	header, err := crypto.Obfuscate(data[1:7], data[7:], ivIndex, d.PrivacyKey)
	if err != nil {
		return nil, err
	}
	pdu := &PDU{
		CTL:      header[0]&0x80 != 0,
		TTL:      header[0] & 0x7F,
		Sequence: uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3]),
		Source:   address.Address(binary.BigEndian.Uint16(header[4:6])),
	}
	micSize := NetMICSize(pdu.CTL)
	if len(data) < 7+2+1+micSize {
		// Too short for this CTL; the header decoded under the wrong key.
		return nil, crypto.ErrAESCCMAuthFailed
	}

	nonce := crypto.NetworkNonce(pdu.CTL, pdu.TTL, pdu.Sequence, uint16(pdu.Source), ivIndex)
	plain, err := crypto.Decrypt(d.EncryptionKey, nonce, data[7:], micSize, nil)
	if err != nil {
		return nil, err
	}
	if !pdu.Source.IsUnicast() {
		return nil, ErrInvalidSource
	}
	pdu.Destination = address.Address(binary.BigEndian.Uint16(plain[:2]))
	pdu.TransportPDU = plain[2:]
	return pdu, nil
}
