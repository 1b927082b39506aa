// Package bearer moves mesh PDUs between nodes. The protocol engine only
// depends on the Transmitter interface; UDP carries PDUs over IP and Pipe
// connects two bearers in memory for tests.
package bearer

import (
	"errors"
	"fmt"
)

// PduType identifies the layer a bearer PDU is destined for. The values
// match the Proxy PDU message types.
type PduType uint8

const (
	NetworkPDU         PduType = 0x00
	MeshBeacon         PduType = 0x01
	ProxyConfiguration PduType = 0x02
	Provisioning       PduType = 0x03
)

func (t PduType) String() string {
	switch t {
	case NetworkPDU:
		return "NetworkPDU"
	case MeshBeacon:
		return "MeshBeacon"
	case ProxyConfiguration:
		return "ProxyConfiguration"
	case Provisioning:
		return "Provisioning"
	default:
		return fmt.Sprintf("PduType(%d)", uint8(t))
	}
}

func (t PduType) IsValid() bool { return t <= Provisioning }

// MaxPDUSize bounds a bearer PDU. Network PDUs are at most 29 octets; the
// margin leaves room for proxy and provisioning PDUs.
const MaxPDUSize = 128

var (
	ErrClosed         = errors.New("bearer: closed")
	ErrNoHandler      = errors.New("bearer: no PDU handler configured")
	ErrAlreadyStarted = errors.New("bearer: already started")
	ErrInvalidType    = errors.New("bearer: invalid PDU type")
	ErrPDUTooLarge    = errors.New("bearer: PDU too large")
	ErrEmptyFrame     = errors.New("bearer: empty frame")
)

// Transmitter sends PDUs. Delivery is never assumed: a nil error only means
// the PDU was handed to the medium.
type Transmitter interface {
	Send(pdu []byte, t PduType) error
}

// Handler receives PDUs from a bearer.
type Handler func(pdu []byte, t PduType)

// TransmitterFunc adapts a function to Transmitter.
type TransmitterFunc func(pdu []byte, t PduType) error

func (f TransmitterFunc) Send(pdu []byte, t PduType) error { return f(pdu, t) }

// EncodeFrame prefixes pdu with its type octet.
func EncodeFrame(pdu []byte, t PduType) ([]byte, error) {
	if !t.IsValid() {
		return nil, ErrInvalidType
	}
	if len(pdu) == 0 || len(pdu) > MaxPDUSize {
		return nil, ErrPDUTooLarge
	}
	out := make([]byte, 1+len(pdu))
	out[0] = byte(t)
	copy(out[1:], pdu)
	return out, nil
}

// DecodeFrame splits a datagram into type and PDU.
func DecodeFrame(frame []byte) ([]byte, PduType, error) {
	if len(frame) < 2 {
		return nil, 0, ErrEmptyFrame
	}
	t := PduType(frame[0])
	if !t.IsValid() {
		return nil, 0, ErrInvalidType
	}
	return frame[1:], t, nil
}
