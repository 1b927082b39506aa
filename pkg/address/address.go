// Package address implements Bluetooth Mesh addressing: unicast, virtual
// and group addresses, and the Label UUIDs behind virtual addresses.
package address

import (
	"fmt"

	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/google/uuid"
)

// Address is a 16 bit mesh address.
type Address uint16

const (
	Unassigned Address = 0x0000

	MinUnicast Address = 0x0001
	MaxUnicast Address = 0x7FFF

	MinVirtual Address = 0x8000
	MaxVirtual Address = 0xBFFF

	MinGroup Address = 0xC000
	MaxGroup Address = 0xFEFF

	AllProxies Address = 0xFFFC
	AllFriends Address = 0xFFFD
	AllRelays  Address = 0xFFFE
	AllNodes   Address = 0xFFFF
)

func (a Address) IsUnassigned() bool { return a == Unassigned }

func (a Address) IsUnicast() bool { return a >= MinUnicast && a <= MaxUnicast }

func (a Address) IsVirtual() bool { return a >= MinVirtual && a <= MaxVirtual }

// IsGroup reports whether a is a group address, including fixed groups.
func (a Address) IsGroup() bool { return a >= MinGroup }

// IsFixedGroup reports whether a is one of the all-proxies, all-friends,
// all-relays or all-nodes addresses. 0xFF00-0xFFFB are RFU and also reported.
func (a Address) IsFixedGroup() bool { return a > MaxGroup }

// IsValidDestination reports whether a can be used as a message destination.
func (a Address) IsValidDestination() bool { return a != Unassigned }

func (a Address) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}

// MeshAddress is a destination address together with the Label UUID used
// when the address is virtual.
type MeshAddress struct {
	Address Address
	Label   *uuid.UUID
}

// New wraps a non-virtual address.
func New(a Address) MeshAddress {
	return MeshAddress{Address: a}
}

// NewVirtual computes the virtual address of a Label UUID.
func NewVirtual(label uuid.UUID) (MeshAddress, error) {
	hash, err := crypto.VirtualAddressHash(label[:])
	if err != nil {
		return MeshAddress{}, err
	}
	l := label
	return MeshAddress{Address: MinVirtual | Address(hash), Label: &l}, nil
}

// LabelBytes returns the Label UUID used as additional data when encrypting
// to a virtual address, or nil.
func (m MeshAddress) LabelBytes() []byte {
	if m.Label == nil {
		return nil
	}
	return m.Label[:]
}

func (m MeshAddress) String() string {
	if m.Label != nil {
		return fmt.Sprintf("%s (%s)", m.Address, m.Label)
	}
	return m.Address.String()
}
