// Package access implements the Bluetooth Mesh access layer: opcode
// framing, the Access PDU, the message contracts implemented by model
// messages and the access error taxonomy.
package access

import (
	"errors"

	"github.com/backkem/btmesh/pkg/address"
)

const (
	// MaxUnsegmentedSize is the largest Access PDU that fits in one
	// unsegmented lower transport PDU with a 32 bit TransMIC.
	MaxUnsegmentedSize = 11

	// MaxSize is the largest Access PDU: 32 segments of 12 bytes minus a
	// 32 bit TransMIC. A 64 bit TransMIC lowers it by 4.
	MaxSize = 380
)

var ErrPDUTooLong = errors.New("access: PDU does not fit in 32 segments")

// PDU is an encoded access message.
type PDU struct {
	Opcode      uint32
	Parameters  []byte
	Source      address.Address
	Destination address.MeshAddress

	// Security of the message this PDU was built from.
	Security Security

	// Encoded is opcode || parameters.
	Encoded []byte

	forceSegmentation bool
}

// NewPDU encodes msg for transmission from src to dst.
func NewPDU(msg Message, src address.Address, dst address.MeshAddress) (*PDU, error) {
	params := msg.Parameters()
	enc, err := AppendOpcode(make([]byte, 0, 3+len(params)), msg.OpCode())
	if err != nil {
		return nil, err
	}
	enc = append(enc, params...)
	pdu := &PDU{
		Opcode:      msg.OpCode(),
		Parameters:  params,
		Source:      src,
		Destination: dst,
		Security:    SecurityOf(msg),
		Encoded:     enc,
	}
	if len(enc) > MaxSize+4-pdu.MICSize() {
		return nil, ErrPDUTooLong
	}
	if s, ok := msg.(SegmentedMessage); ok {
		pdu.forceSegmentation = s.ForceSegmentation()
	}
	return pdu, nil
}

// DecodePDU parses a decrypted upper transport payload.
func DecodePDU(data []byte, src address.Address, dst address.MeshAddress) (*PDU, error) {
	op, n, err := DecodeOpcode(data)
	if err != nil {
		return nil, err
	}
	return &PDU{
		Opcode:      op,
		Parameters:  data[n:],
		Source:      src,
		Destination: dst,
		Encoded:     data,
	}, nil
}

// Size is the encoded length.
func (p *PDU) Size() int { return len(p.Encoded) }

// IsSegmented reports whether the PDU must be sent segmented: it exceeds
// 11 bytes, uses a 64 bit TransMIC, or the message forces segmentation.
func (p *PDU) IsSegmented() bool {
	return len(p.Encoded) > MaxUnsegmentedSize || p.Security == SecurityHigh || p.forceSegmentation
}

// MICSize is the TransMIC size implied by the security level.
func (p *PDU) MICSize() int {
	if p.Security == SecurityHigh {
		return 8
	}
	return 4
}

// SegmentCount is the number of 12 byte segments the upper transport PDU
// (access payload plus TransMIC) occupies; 1 when unsegmented.
func (p *PDU) SegmentCount() int {
	if !p.IsSegmented() {
		return 1
	}
	return (len(p.Encoded) + p.MICSize() + 11) / 12
}
