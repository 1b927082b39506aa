package crypto

import (
	"errors"
	"fmt"
)

// ProvisioningAlgorithm selects the confirmation algorithm negotiated
// during provisioning.
type ProvisioningAlgorithm uint8

const (
	// AlgorithmCMACAES128 is BTM_ECDH_P256_CMAC_AES128_AES_CCM.
	AlgorithmCMACAES128 ProvisioningAlgorithm = iota
	// AlgorithmHMACSHA256 is BTM_ECDH_P256_HMAC_SHA256_AES_CCM.
	AlgorithmHMACSHA256
)

func (a ProvisioningAlgorithm) String() string {
	switch a {
	case AlgorithmCMACAES128:
		return "CMAC-AES128"
	case AlgorithmHMACSHA256:
		return "HMAC-SHA256"
	default:
		return fmt.Sprintf("ProvisioningAlgorithm(%d)", uint8(a))
	}
}

// AuthValueSize is the length of the OOB authentication value.
func (a ProvisioningAlgorithm) AuthValueSize() int {
	if a == AlgorithmHMACSHA256 {
		return 32
	}
	return 16
}

// RandomSize is the length of the provisioner and device randoms.
func (a ProvisioningAlgorithm) RandomSize() int {
	return a.AuthValueSize()
}

var (
	ErrUnknownAlgorithm     = errors.New("crypto: unknown provisioning algorithm")
	ErrInvalidAuthValueSize = errors.New("crypto: invalid auth value size")
	ErrConfirmationMismatch = errors.New("crypto: provisioning confirmation mismatch")
)

// ConfirmationSalt hashes the Confirmation Inputs (Invite || Capabilities ||
// Start || PublicKeyProvisioner || PublicKeyDevice).
func ConfirmationSalt(alg ProvisioningAlgorithm, inputs []byte) ([]byte, error) {
	switch alg {
	case AlgorithmCMACAES128:
		return S1(inputs), nil
	case AlgorithmHMACSHA256:
		return S2(inputs), nil
	}
	return nil, ErrUnknownAlgorithm
}

// ConfirmationKey derives the key used to compute confirmation values.
func ConfirmationKey(alg ProvisioningAlgorithm, ecdhSecret, confirmationSalt, authValue []byte) ([]byte, error) {
	switch alg {
	case AlgorithmCMACAES128:
		return K1(ecdhSecret, confirmationSalt, []byte(labelPRCK))
	case AlgorithmHMACSHA256:
		if len(authValue) != alg.AuthValueSize() {
			return nil, ErrInvalidAuthValueSize
		}
		return K5(concat(ecdhSecret, authValue), confirmationSalt, []byte(labelPRCK256))
	}
	return nil, ErrUnknownAlgorithm
}

// Confirmation computes the Provisioning Confirm value for random.
func Confirmation(alg ProvisioningAlgorithm, confirmationKey, random, authValue []byte) ([]byte, error) {
	switch alg {
	case AlgorithmCMACAES128:
		if len(authValue) != alg.AuthValueSize() {
			return nil, ErrInvalidAuthValueSize
		}
		return AESCMAC(confirmationKey, concat(random, authValue))
	case AlgorithmHMACSHA256:
		return HMACSHA256(confirmationKey, random), nil
	}
	return nil, ErrUnknownAlgorithm
}

// VerifyConfirmation checks a peer's confirmation against its revealed random.
func VerifyConfirmation(alg ProvisioningAlgorithm, confirmationKey, random, authValue, confirmation []byte) error {
	expected, err := Confirmation(alg, confirmationKey, random, authValue)
	if err != nil {
		return err
	}
	if !Equal(expected, confirmation) {
		return ErrConfirmationMismatch
	}
	return nil
}

// ProvisioningKeys is the session material derived after confirmation.
type ProvisioningKeys struct {
	SessionKey   []byte
	SessionNonce []byte
	DeviceKey    []byte
}

// CalculateProvisioningKeys derives the session key, session nonce and
// device key from the ECDH secret and both randoms.
func CalculateProvisioningKeys(ecdhSecret, confirmationSalt, randomProvisioner, randomDevice []byte) (ProvisioningKeys, error) {
	salt := S1(concat(confirmationSalt, randomProvisioner, randomDevice))

	sessionKey, err := K1(ecdhSecret, salt, []byte(labelPRSK))
	if err != nil {
		return ProvisioningKeys{}, err
	}
	nonce, err := K1(ecdhSecret, salt, []byte(labelPRSN))
	if err != nil {
		return ProvisioningKeys{}, err
	}
	deviceKey, err := K1(ecdhSecret, salt, []byte(labelPRDK))
	if err != nil {
		return ProvisioningKeys{}, err
	}
	return ProvisioningKeys{
		SessionKey:   sessionKey,
		SessionNonce: nonce[KeySize-NonceSize:],
		DeviceKey:    deviceKey,
	}, nil
}

// EncryptProvisioningData protects the Provisioning Data PDU
// (NetKey || KeyIndex || Flags || IV Index || Unicast) with a 64 bit MIC.
func (k ProvisioningKeys) EncryptProvisioningData(data []byte) ([]byte, error) {
	return Encrypt(k.SessionKey, k.SessionNonce, data, MICSize64, nil)
}

// DecryptProvisioningData is the inverse of EncryptProvisioningData.
func (k ProvisioningKeys) DecryptProvisioningData(data []byte) ([]byte, error) {
	return Decrypt(k.SessionKey, k.SessionNonce, data, MICSize64, nil)
}
