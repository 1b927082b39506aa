package network

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

// BeaconType is the first octet of a mesh beacon.
type BeaconType uint8

const (
	BeaconUnprovisioned BeaconType = 0x00
	BeaconSecureNetwork BeaconType = 0x01
	BeaconPrivate       BeaconType = 0x02
)

func (t BeaconType) String() string {
	switch t {
	case BeaconUnprovisioned:
		return "UnprovisionedDevice"
	case BeaconSecureNetwork:
		return "SecureNetwork"
	case BeaconPrivate:
		return "Private"
	default:
		return "Unknown"
	}
}

// Beacon flags.
const (
	FlagKeyRefresh uint8 = 0x01
	FlagIVUpdate   uint8 = 0x02
)

const (
	secureBeaconSize  = 1 + 1 + crypto.NetworkIDSize + 4 + crypto.BeaconAuthSize
	privateBeaconSize = 1 + crypto.PrivateBeaconRandomSize + 5 + crypto.BeaconAuthSize
)

// Beacon is an authenticated network beacon.
type Beacon struct {
	Type       BeaconType
	KeyRefresh bool
	IVUpdate   bool
	IVIndex    uint32

	// NetworkKey is the key that authenticated the beacon.
	NetworkKey *keys.NetworkKey
	// NewKey reports that the current key of a key refresh authenticated
	// it, rather than the old one.
	NewKey bool
}

// Flags returns the flags octet.
func (b *Beacon) Flags() uint8 {
	var f uint8
	if b.KeyRefresh {
		f |= FlagKeyRefresh
	}
	if b.IVUpdate {
		f |= FlagIVUpdate
	}
	return f
}

func beaconFlags(nk *keys.NetworkKey, iv IVIndex) uint8 {
	var f uint8
	if nk.Phase() == keys.UsingNewKeys {
		f |= FlagKeyRefresh
	}
	if iv.UpdateActive {
		f |= FlagIVUpdate
	}
	return f
}

// EncodeSecureBeacon builds a Secure Network beacon for nk.
func EncodeSecureBeacon(nk *keys.NetworkKey, iv IVIndex) ([]byte, error) {
	d := nk.TransmitDerivatives()
	flags := beaconFlags(nk, iv)
	auth, err := crypto.AuthenticateSecureBeacon(d.BeaconKey, flags, d.NetworkID, iv.Index)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, secureBeaconSize)
	out = append(out, byte(BeaconSecureNetwork), flags)
	out = append(out, d.NetworkID...)
	out = binary.BigEndian.AppendUint32(out, iv.Index)
	return append(out, auth...), nil
}

// EncodePrivateBeacon builds a Mesh Private beacon for nk. A nil random is
// replaced by 13 fresh random bytes.
func EncodePrivateBeacon(nk *keys.NetworkKey, iv IVIndex, random []byte) ([]byte, error) {
	if random == nil {
		random = make([]byte, crypto.PrivateBeaconRandomSize)
		if _, err := rand.Read(random); err != nil {
			return nil, err
		}
	}
	d := nk.TransmitDerivatives()
	payload, err := crypto.EncryptPrivateBeacon(d.PrivateBeaconKey, random, beaconFlags(nk, iv), iv.Index)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, privateBeaconSize)
	out = append(out, byte(BeaconPrivate))
	out = append(out, random...)
	return append(out, payload...), nil
}

// DecodeBeacon authenticates a Secure Network or Private beacon against
// every candidate network key.
func DecodeBeacon(data []byte, candidates []*keys.NetworkKey) (*Beacon, error) {
	if len(data) == 0 {
		return nil, ErrTruncated
	}
	switch BeaconType(data[0]) {
	case BeaconSecureNetwork:
		return decodeSecureBeacon(data, candidates)
	case BeaconPrivate:
		return decodePrivateBeacon(data, candidates)
	default:
		return nil, ErrUnknownBeacon
	}
}

func decodeSecureBeacon(data []byte, candidates []*keys.NetworkKey) (*Beacon, error) {
	if len(data) != secureBeaconSize {
		return nil, ErrTruncated
	}
	flags := data[1]
	networkID := data[2:10]
	ivIndex := binary.BigEndian.Uint32(data[10:14])
	auth := data[14:]

	for _, nk := range candidates {
		for i, d := range nk.ReceiveDerivatives() {
			if !crypto.Equal(d.NetworkID, networkID) {
				continue
			}
			err := crypto.VerifySecureBeacon(d.BeaconKey, flags, networkID, ivIndex, auth)
			if errors.Is(err, crypto.ErrBeaconAuthFailed) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return newBeacon(BeaconSecureNetwork, flags, ivIndex, nk, i == 0), nil
		}
	}
	return nil, ErrNoMatchingNetwork
}

func decodePrivateBeacon(data []byte, candidates []*keys.NetworkKey) (*Beacon, error) {
	if len(data) != privateBeaconSize {
		return nil, ErrTruncated
	}
	random := data[1 : 1+crypto.PrivateBeaconRandomSize]
	payload := data[1+crypto.PrivateBeaconRandomSize:]

	for _, nk := range candidates {
		for i, d := range nk.ReceiveDerivatives() {
			flags, ivIndex, err := crypto.DecryptPrivateBeacon(d.PrivateBeaconKey, random, payload)
			if errors.Is(err, crypto.ErrBeaconAuthFailed) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return newBeacon(BeaconPrivate, flags, ivIndex, nk, i == 0), nil
		}
	}
	return nil, ErrNoMatchingNetwork
}

func newBeacon(t BeaconType, flags uint8, ivIndex uint32, nk *keys.NetworkKey, newKey bool) *Beacon {
	return &Beacon{
		Type:       t,
		KeyRefresh: flags&FlagKeyRefresh != 0,
		IVUpdate:   flags&FlagIVUpdate != 0,
		IVIndex:    ivIndex,
		NetworkKey: nk,
		NewKey:     newKey,
	}
}
