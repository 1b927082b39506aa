package mesh

import (
	"fmt"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
)

// Event is emitted to Config.OnEvent. The concrete types are
// MessageSent, MessageSendingFailed, MessageReceived, NetworkDidChange
// and NetworkDidReset.
type Event interface {
	fmt.Stringer
	event()
}

// MessageSent reports that a message was handed to the bearer completely:
// every segment of a segmented unicast message was acknowledged, or the
// multicast retransmissions finished.
type MessageSent struct {
	Message     access.Message
	Source      address.Address
	Destination address.MeshAddress
}

// MessageSendingFailed reports that a message could not be delivered. Err
// is an access.Error.
type MessageSendingFailed struct {
	Message     access.Message
	Source      address.Address
	Destination address.MeshAddress
	Err         error
}

// MessageReceived reports a message addressed to the local node.
type MessageReceived struct {
	Message     access.Message
	Source      address.Address
	Destination address.MeshAddress
}

// NetworkDidChange reports that local keys, the IV Index or a key refresh
// phase changed. The network state should be persisted.
type NetworkDidChange struct {
	Reason string
}

// NetworkDidReset reports that the local node was reset by a
// configuration client. Stored network state must be wiped.
type NetworkDidReset struct{}

func (MessageSent) event()          {}
func (MessageSendingFailed) event() {}
func (MessageReceived) event()      {}
func (NetworkDidChange) event()     {}
func (NetworkDidReset) event()      {}

func (e MessageSent) String() string {
	return fmt.Sprintf("MessageSent(0x%X %s -> %s)", e.Message.OpCode(), e.Source, e.Destination)
}

func (e MessageSendingFailed) String() string {
	return fmt.Sprintf("MessageSendingFailed(0x%X %s -> %s: %v)", e.Message.OpCode(), e.Source, e.Destination, e.Err)
}

func (e MessageReceived) String() string {
	return fmt.Sprintf("MessageReceived(0x%X %s -> %s)", e.Message.OpCode(), e.Source, e.Destination)
}

func (e NetworkDidChange) String() string { return "NetworkDidChange(" + e.Reason + ")" }

func (NetworkDidReset) String() string { return "NetworkDidReset" }

// Reasons carried by NetworkDidChange.
const (
	ChangeApplicationKeys = "application-keys"
	ChangeIVIndex         = "iv-index"
	ChangeKeyRefresh      = "key-refresh"
)
