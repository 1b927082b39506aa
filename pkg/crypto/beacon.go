package crypto

import (
	"encoding/binary"
	"errors"
)

const (
	// BeaconAuthSize is the length of beacon authentication values.
	BeaconAuthSize = 8

	// PrivateBeaconRandomSize is the length of the Mesh Private beacon random.
	PrivateBeaconRandomSize = 13

	// NetworkIDSize is the length of the K3 Network ID.
	NetworkIDSize = 8

	privateBeaconDataSize = 5
)

var ErrBeaconAuthFailed = errors.New("crypto: beacon authentication failed")

// AuthenticateSecureBeacon computes the Authentication Value of a Secure
// Network beacon: CMAC_BeaconKey(Flags || Network ID || IV Index)[0:8].
func AuthenticateSecureBeacon(beaconKey []byte, flags uint8, networkID []byte, ivIndex uint32) ([]byte, error) {
	if len(networkID) != NetworkIDSize {
		return nil, errors.New("crypto: network ID must be 8 bytes")
	}
	msg := make([]byte, 1+NetworkIDSize+4)
	msg[0] = flags
	copy(msg[1:], networkID)
	binary.BigEndian.PutUint32(msg[9:], ivIndex)

	mac, err := AESCMAC(beaconKey, msg)
	if err != nil {
		return nil, err
	}
	return mac[:BeaconAuthSize], nil
}

// VerifySecureBeacon recomputes the Authentication Value and compares it to
// auth in constant time.
func VerifySecureBeacon(beaconKey []byte, flags uint8, networkID []byte, ivIndex uint32, auth []byte) error {
	expected, err := AuthenticateSecureBeacon(beaconKey, flags, networkID, ivIndex)
	if err != nil {
		return err
	}
	if !Equal(expected, auth) {
		return ErrBeaconAuthFailed
	}
	return nil
}

// EncryptPrivateBeacon obfuscates Flags || IV Index and computes the
// authentication tag of a Mesh Private beacon. The construction is AES-CCM
// keyed with the Private Beacon Key, using the random as nonce and an 8 byte
// tag. The result is obfuscated data (5) || tag (8).
func EncryptPrivateBeacon(privateBeaconKey, random []byte, flags uint8, ivIndex uint32) ([]byte, error) {
	if len(random) != PrivateBeaconRandomSize {
		return nil, ErrInvalidNonceSize
	}
	data := make([]byte, privateBeaconDataSize)
	data[0] = flags
	binary.BigEndian.PutUint32(data[1:], ivIndex)
	return Encrypt(privateBeaconKey, random, data, BeaconAuthSize, nil)
}

// DecryptPrivateBeacon authenticates and recovers Flags and IV Index.
func DecryptPrivateBeacon(privateBeaconKey, random, payload []byte) (uint8, uint32, error) {
	if len(random) != PrivateBeaconRandomSize {
		return 0, 0, ErrInvalidNonceSize
	}
	if len(payload) != privateBeaconDataSize+BeaconAuthSize {
		return 0, 0, ErrDataTooShort
	}
	data, err := Decrypt(privateBeaconKey, random, payload, BeaconAuthSize, nil)
	if err != nil {
		if errors.Is(err, ErrAESCCMAuthFailed) {
			return 0, 0, ErrBeaconAuthFailed
		}
		return 0, 0, err
	}
	return data[0], binary.BigEndian.Uint32(data[1:]), nil
}
