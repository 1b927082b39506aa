// Package trace records a machine-readable capture of mesh PDUs as a CBOR
// event stream.
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Event is one captured PDU or error. CBOR encoding uses integer keys.
type Event struct {
	Timestamp   time.Time `cbor:"1,keyasint"`
	SessionID   string    `cbor:"2,keyasint"`
	Direction   Direction `cbor:"3,keyasint"`
	Layer       Layer     `cbor:"4,keyasint"`
	Source      uint16    `cbor:"5,keyasint,omitempty"`
	Destination uint16    `cbor:"6,keyasint,omitempty"`
	Opcode      uint32    `cbor:"7,keyasint,omitempty"`
	Sequence    uint32    `cbor:"8,keyasint,omitempty"`
	Data        []byte    `cbor:"9,keyasint,omitempty"`
	Error       string    `cbor:"10,keyasint,omitempty"`
}

// Direction of the PDU relative to the local node.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer that captured the event.
type Layer uint8

const (
	LayerBearer Layer = iota
	LayerNetwork
	LayerLowerTransport
	LayerAccess
	LayerBeacon
)

func (l Layer) String() string {
	switch l {
	case LayerBearer:
		return "BEARER"
	case LayerNetwork:
		return "NETWORK"
	case LayerLowerTransport:
		return "LOWER"
	case LayerAccess:
		return "ACCESS"
	case LayerBeacon:
		return "BEACON"
	default:
		return "UNKNOWN"
	}
}

// NewSessionID returns a random identifier for one manager run.
func NewSessionID() string {
	return uuid.NewString()
}
