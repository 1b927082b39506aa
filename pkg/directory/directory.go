// Package directory is the read-mostly model of the mesh network consumed by
// the network manager: keys, nodes, elements and their models.
package directory

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/keys"
)

var (
	ErrUnknownNetworkKey     = errors.New("directory: unknown network key index")
	ErrKeyIndexAlreadyStored = errors.New("directory: key index stored with a different key")
	ErrKeyInUse              = errors.New("directory: application key is bound to a model")
	ErrAddressInUse          = errors.New("directory: unicast address range overlaps a node")
	ErrNoLocalNode           = errors.New("directory: local node not configured")
)

// Directory provides keys and node topology.
type Directory interface {
	NetworkKeys() []*keys.NetworkKey
	NetworkKey(index uint16) (*keys.NetworkKey, bool)
	ApplicationKeys() []*keys.ApplicationKey
	ApplicationKey(index uint16) (*keys.ApplicationKey, bool)

	// LocalNode is the node the network manager runs as.
	LocalNode() *Node
	// Node returns the node owning the unicast address.
	Node(a address.Address) (*Node, bool)
	// Labels are the known virtual Label UUIDs.
	Labels() []uuid.UUID
}

// KeyStore is implemented by directories the local configuration server
// can change.
type KeyStore interface {
	AddApplicationKey(index, netKeyIndex uint16, key []byte) error
	DeleteApplicationKey(index uint16) error
}

// MemoryDirectory is an in-memory Directory and KeyStore. It is safe for
// concurrent use. Nodes are replaced, never mutated, when keys change.
type MemoryDirectory struct {
	mu          sync.RWMutex
	networkKeys map[uint16]*keys.NetworkKey
	appKeys     map[uint16]*keys.ApplicationKey
	nodes       []*Node
	local       address.Address
	labels      []uuid.UUID
}

var (
	_ Directory = (*MemoryDirectory)(nil)
	_ KeyStore  = (*MemoryDirectory)(nil)
)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		networkKeys: make(map[uint16]*keys.NetworkKey),
		appKeys:     make(map[uint16]*keys.ApplicationKey),
	}
}

func (d *MemoryDirectory) AddNetworkKey(k *keys.NetworkKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networkKeys[k.Index()] = k
}

func (d *MemoryDirectory) NetworkKeys() []*keys.NetworkKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*keys.NetworkKey, 0, len(d.networkKeys))
	for _, k := range d.networkKeys {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b *keys.NetworkKey) int { return int(a.Index()) - int(b.Index()) })
	return out
}

func (d *MemoryDirectory) NetworkKey(index uint16) (*keys.NetworkKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k, ok := d.networkKeys[index]
	return k, ok
}

// PutApplicationKey stores k without touching the local node.
func (d *MemoryDirectory) PutApplicationKey(k *keys.ApplicationKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appKeys[k.Index()] = k
}

func (d *MemoryDirectory) ApplicationKeys() []*keys.ApplicationKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*keys.ApplicationKey, 0, len(d.appKeys))
	for _, k := range d.appKeys {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b *keys.ApplicationKey) int { return int(a.Index()) - int(b.Index()) })
	return out
}

func (d *MemoryDirectory) ApplicationKey(index uint16) (*keys.ApplicationKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k, ok := d.appKeys[index]
	return k, ok
}

// AddNode adds n. Its address range must not overlap another node.
func (d *MemoryDirectory) AddNode(n *Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.nodes {
		if n.Unicast <= other.LastAddress() && other.Unicast <= n.LastAddress() {
			return ErrAddressInUse
		}
	}
	d.nodes = append(d.nodes, n)
	return nil
}

// SetLocalNode selects the node owning unicast as the local node.
func (d *MemoryDirectory) SetLocalNode(unicast address.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local = unicast
}

func (d *MemoryDirectory) LocalNode() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, _ := d.nodeLocked(d.local)
	return n
}

func (d *MemoryDirectory) Node(a address.Address) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodeLocked(a)
}

func (d *MemoryDirectory) nodeLocked(a address.Address) (*Node, bool) {
	for _, n := range d.nodes {
		if n.Contains(a) {
			return n, true
		}
	}
	return nil, false
}

func (d *MemoryDirectory) AddLabel(label uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.labels, label) {
		d.labels = append(d.labels, label)
	}
}

func (d *MemoryDirectory) Labels() []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.labels)
}

// AddApplicationKey stores an application key on the local node. Adding the
// same key under the same index again succeeds.
func (d *MemoryDirectory) AddApplicationKey(index, netKeyIndex uint16, key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.nodeLocked(d.local); !ok {
		return ErrNoLocalNode
	}
	nk, ok := d.networkKeys[netKeyIndex]
	if !ok {
		return ErrUnknownNetworkKey
	}
	if existing, ok := d.appKeys[index]; ok {
		if !slices.Equal(existing.Key(), key) || existing.BoundNetworkKey() != nk {
			return ErrKeyIndexAlreadyStored
		}
		return nil
	}
	ak, err := keys.NewApplicationKey(index, key, nk)
	if err != nil {
		return err
	}
	d.appKeys[index] = ak
	d.updateLocalLocked(func(n *Node) {
		if !n.HasApplicationKey(index) {
			n.ApplicationKeys = append(n.ApplicationKeys, index)
		}
	})
	return nil
}

// DeleteApplicationKey removes an application key. Deleting an unknown
// index succeeds; a key bound to a local model cannot be removed.
func (d *MemoryDirectory) DeleteApplicationKey(index uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.appKeys[index]; !ok {
		return nil
	}
	local, ok := d.nodeLocked(d.local)
	if !ok {
		return ErrNoLocalNode
	}
	if local.IsBound(index) {
		return ErrKeyInUse
	}
	delete(d.appKeys, index)
	d.updateLocalLocked(func(n *Node) {
		n.ApplicationKeys = slices.DeleteFunc(n.ApplicationKeys, func(i uint16) bool { return i == index })
	})
	return nil
}

func (d *MemoryDirectory) updateLocalLocked(f func(*Node)) {
	for i, n := range d.nodes {
		if n.Contains(d.local) {
			c := n.clone()
			f(c)
			d.nodes[i] = c
			return
		}
	}
}
