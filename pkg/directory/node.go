package directory

import (
	"slices"
	"time"

	"github.com/backkem/btmesh/pkg/address"
)

// Node is a provisioned node as seen by the network manager. Nodes returned
// by a Directory must be treated as read-only.
type Node struct {
	Name     string
	UUID     string
	Unicast  address.Address
	Elements []*Element

	NetworkKeys     []uint16
	ApplicationKeys []uint16

	deviceKey []byte
}

// NewNode creates a node whose elements are numbered from unicast.
func NewNode(name string, unicast address.Address, deviceKey []byte, elements ...*Element) *Node {
	n := &Node{Name: name, Unicast: unicast, Elements: elements, deviceKey: deviceKey}
	for i, e := range elements {
		e.Index = i
		e.Address = unicast + address.Address(i)
	}
	return n
}

// DeviceKey returns the node's device key, or nil if it is unknown. It is
// safe to call on a nil Node.
func (n *Node) DeviceKey() []byte {
	if n == nil {
		return nil
	}
	return n.deviceKey
}

// LastAddress is the unicast address of the last element.
func (n *Node) LastAddress() address.Address {
	if len(n.Elements) == 0 {
		return n.Unicast
	}
	return n.Unicast + address.Address(len(n.Elements)-1)
}

// Contains reports whether a is one of the node's element addresses.
func (n *Node) Contains(a address.Address) bool {
	return a >= n.Unicast && a <= n.LastAddress()
}

// Element returns the element with unicast address a.
func (n *Node) Element(a address.Address) (*Element, bool) {
	if !n.Contains(a) || len(n.Elements) == 0 {
		return nil, false
	}
	return n.Elements[a-n.Unicast], true
}

// HasApplicationKey reports whether the node knows the key index.
func (n *Node) HasApplicationKey(index uint16) bool {
	return slices.Contains(n.ApplicationKeys, index)
}

// IsBound reports whether any model of the node is bound to the key index.
func (n *Node) IsBound(appKeyIndex uint16) bool {
	for _, e := range n.Elements {
		for _, m := range e.Models {
			if m.IsBound(appKeyIndex) {
				return true
			}
		}
	}
	return false
}

func (n *Node) clone() *Node {
	c := *n
	c.NetworkKeys = slices.Clone(n.NetworkKeys)
	c.ApplicationKeys = slices.Clone(n.ApplicationKeys)
	return &c
}

// Element is one addressable entity of a node.
type Element struct {
	Index    int
	Address  address.Address
	Location uint16
	Models   []*Model
}

// Receives reports whether a message to dst is addressed to the element:
// its own unicast address, the all-nodes address or a subscription.
func (e *Element) Receives(dst address.Address) bool {
	if dst == e.Address || dst == address.AllNodes {
		return true
	}
	for _, m := range e.Models {
		if m.IsSubscribed(dst) {
			return true
		}
	}
	return false
}

// Model returns the model with the given identifier.
func (e *Element) Model(id uint32) (*Model, bool) {
	for _, m := range e.Models {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Model is a SIG (16 bit identifier) or vendor (company << 16 | model)
// model instance.
type Model struct {
	ID            uint32
	Bindings      []uint16
	Subscriptions []address.MeshAddress
	Publication   *Publication
}

// IsVendor reports whether the identifier carries a company identifier.
func (m *Model) IsVendor() bool { return m.ID > 0xFFFF }

func (m *Model) IsBound(appKeyIndex uint16) bool {
	return slices.Contains(m.Bindings, appKeyIndex)
}

func (m *Model) IsSubscribed(a address.Address) bool {
	for _, s := range m.Subscriptions {
		if s.Address == a {
			return true
		}
	}
	return false
}

// Publication holds a model's publish settings.
type Publication struct {
	Address            address.MeshAddress
	AppKeyIndex        uint16
	TTL                uint8
	Period             time.Duration
	RetransmitCount    uint8
	RetransmitInterval time.Duration
}
