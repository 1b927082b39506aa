package keys

import (
	"bytes"
	"sync"

	"github.com/backkem/btmesh/pkg/crypto"
)

// AccessKey is one candidate key for upper transport decryption.
type AccessKey struct {
	Key []byte
	AID uint8
}

// ApplicationKey is an application key bound to a network key.
type ApplicationKey struct {
	index uint16

	mu     sync.RWMutex
	key    []byte
	aid    uint8
	oldKey []byte
	oldAID uint8
	bound  *NetworkKey
}

// NewApplicationKey creates an application key. bound may be nil for a key
// that is not yet bound to any network key.
func NewApplicationKey(index uint16, key []byte, bound *NetworkKey) (*ApplicationKey, error) {
	if index > MaxKeyIndex {
		return nil, ErrInvalidIndex
	}
	if len(key) != crypto.KeySize {
		return nil, ErrInvalidKey
	}
	aid, err := crypto.K4(key)
	if err != nil {
		return nil, err
	}
	return &ApplicationKey{index: index, key: bytes.Clone(key), aid: aid, bound: bound}, nil
}

func (k *ApplicationKey) Index() uint16 { return k.index }

func (k *ApplicationKey) Key() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

func (k *ApplicationKey) AID() uint8 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.aid
}

// OldKey returns the key replaced during a key refresh, or nil.
func (k *ApplicationKey) OldKey() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.oldKey
}

// OldAID returns the AID of the old key and whether one exists.
func (k *ApplicationKey) OldAID() (uint8, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.oldAID, k.oldKey != nil
}

// BoundNetworkKey returns the network key this key is bound to, or nil.
func (k *ApplicationKey) BoundNetworkKey() *NetworkKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.bound
}

// Bind binds the key to a network key.
func (k *ApplicationKey) Bind(netKey *NetworkKey) {
	k.mu.Lock()
	k.bound = netKey
	k.mu.Unlock()
}

// Update replaces the key as part of a key refresh, keeping the previous
// value as the old key.
func (k *ApplicationKey) Update(newKey []byte) error {
	if len(newKey) != crypto.KeySize {
		return ErrInvalidKey
	}
	aid, err := crypto.K4(newKey)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.oldKey, k.oldAID = k.key, k.aid
	k.key, k.aid = bytes.Clone(newKey), aid
	return nil
}

// RevokeOld drops the old key at the end of a key refresh.
func (k *ApplicationKey) RevokeOld() {
	k.mu.Lock()
	k.oldKey, k.oldAID = nil, 0
	k.mu.Unlock()
}

// ReceiveKeys returns the candidates matching aid, current key first.
func (k *ApplicationKey) ReceiveKeys(aid uint8) []AccessKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []AccessKey
	if k.aid == aid {
		out = append(out, AccessKey{Key: k.key, AID: k.aid})
	}
	if k.oldKey != nil && k.oldAID == aid {
		out = append(out, AccessKey{Key: k.oldKey, AID: k.oldAID})
	}
	return out
}
