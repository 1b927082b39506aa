// Package keys holds network, application and device key material and
// resolves which key to use for a given transmission.
//
// Key selection depends on the Key Refresh phase of the bound network key
// and is recomputed on every call: a KeySet is never cached across phase
// transitions.
package keys

import (
	"bytes"
	"sync"

	"github.com/backkem/btmesh/pkg/crypto"
)

// MaxKeyIndex is the largest 12 bit key index.
const MaxKeyIndex = 0x0FFF

// Derivatives is the security material derived from one network key.
type Derivatives struct {
	NID              uint8
	EncryptionKey    []byte
	PrivacyKey       []byte
	NetworkID        []byte
	IdentityKey      []byte
	BeaconKey        []byte
	PrivateBeaconKey []byte
}

func derive(key []byte) (*Derivatives, error) {
	creds, err := crypto.K2(key, []byte{0x00})
	if err != nil {
		return nil, err
	}
	d := &Derivatives{
		NID:           creds.NID,
		EncryptionKey: creds.EncryptionKey,
		PrivacyKey:    creds.PrivacyKey,
	}
	if d.NetworkID, err = crypto.K3(key); err != nil {
		return nil, err
	}
	if d.IdentityKey, err = crypto.IdentityKey(key); err != nil {
		return nil, err
	}
	if d.BeaconKey, err = crypto.BeaconKey(key); err != nil {
		return nil, err
	}
	if d.PrivateBeaconKey, err = crypto.PrivateBeaconKey(key); err != nil {
		return nil, err
	}
	return d, nil
}

// NetworkKey is a subnet key together with its Key Refresh state.
// It is safe for concurrent use.
type NetworkKey struct {
	index uint16

	mu      sync.RWMutex
	key     []byte
	oldKey  []byte
	phase   KeyRefreshPhase
	current *Derivatives
	old     *Derivatives
}

// NewNetworkKey creates a network key in NormalOperation.
func NewNetworkKey(index uint16, key []byte) (*NetworkKey, error) {
	if index > MaxKeyIndex {
		return nil, ErrInvalidIndex
	}
	if len(key) != crypto.KeySize {
		return nil, ErrInvalidKey
	}
	d, err := derive(key)
	if err != nil {
		return nil, err
	}
	return &NetworkKey{index: index, key: bytes.Clone(key), current: d}, nil
}

func (k *NetworkKey) Index() uint16 { return k.index }

func (k *NetworkKey) Key() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

// OldKey returns the key being replaced, or nil outside a key refresh.
func (k *NetworkKey) OldKey() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.oldKey
}

func (k *NetworkKey) Phase() KeyRefreshPhase {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.phase
}

// Derivatives returns the material of the current key.
func (k *NetworkKey) Derivatives() *Derivatives {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// OldDerivatives returns the material of the old key, or nil.
func (k *NetworkKey) OldDerivatives() *Derivatives {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.old
}

// TransmitDerivatives selects the material used to secure outgoing network
// PDUs: the old key while in KeyDistribution, the current key otherwise.
func (k *NetworkKey) TransmitDerivatives() *Derivatives {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.phase == KeyDistribution && k.old != nil {
		return k.old
	}
	return k.current
}

// ReceiveDerivatives returns every candidate accepted on receive, current
// key first.
func (k *NetworkKey) ReceiveDerivatives() []*Derivatives {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.old != nil {
		return []*Derivatives{k.current, k.old}
	}
	return []*Derivatives{k.current}
}

// StartKeyRefresh installs newKey as the current key, keeps the previous key
// as old and moves to KeyDistribution.
func (k *NetworkKey) StartKeyRefresh(newKey []byte) error {
	if len(newKey) != crypto.KeySize {
		return ErrInvalidKey
	}
	d, err := derive(newKey)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.phase != NormalOperation {
		return ErrKeyRefreshInProgress
	}
	k.oldKey, k.old = k.key, k.current
	k.key, k.current = bytes.Clone(newKey), d
	k.phase = KeyDistribution
	return nil
}

// SetPhase advances the Key Refresh phase. Moving to NormalOperation
// revokes the old key.
func (k *NetworkKey) SetPhase(phase KeyRefreshPhase) error {
	if !phase.IsValid() {
		return ErrInvalidPhase
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	switch {
	case phase == k.phase:
		return nil
	case phase == NormalOperation:
		k.oldKey, k.old = nil, nil
	case phase == UsingNewKeys && k.phase == KeyDistribution:
	default:
		return ErrInvalidPhase
	}
	k.phase = phase
	return nil
}

// MatchesNID reports whether either key of k derives nid.
func (k *NetworkKey) MatchesNID(nid uint8) bool {
	for _, d := range k.ReceiveDerivatives() {
		if d.NID == nid {
			return true
		}
	}
	return false
}
