// Package lower implements the Bluetooth Mesh lower transport layer: the
// five lower transport PDU formats, segmentation and reassembly, and the
// SAR transmitter and receiver state machines.
package lower

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/keys"
)

// Payload sizes.
const (
	// MaxUnsegmentedAccessPayload is the largest upper transport access PDU
	// carried unsegmented (access payload + 32 bit TransMIC).
	MaxUnsegmentedAccessPayload = 15

	// MaxUnsegmentedControlParameters is the largest unsegmented control
	// message parameter field.
	MaxUnsegmentedControlParameters = 11

	// AccessSegmentSize is the upper transport payload of one access segment.
	AccessSegmentSize = 12

	// ControlSegmentSize is the payload of one control segment.
	ControlSegmentSize = 8

	// MaxSegments is the number of segments addressable by SegN.
	MaxSegments = 32

	// SeqZeroMask selects the 13 bit SeqZero from a sequence number.
	SeqZeroMask = 0x1FFF

	// OpcodeSegmentAck is the control opcode of Segment Acknowledgment.
	OpcodeSegmentAck uint8 = 0x00
)

// Meta is shared by every lower transport PDU.
type Meta struct {
	Source      address.Address
	Destination address.Address
	NetworkKey  *keys.NetworkKey
	IVIndex     uint32
	TTL         uint8
	// Sequence is the network sequence number the PDU was received with.
	// The network layer assigns a fresh one on transmit.
	Sequence uint32
}

// PDU is a lower transport PDU. Implementations: *AccessMessage,
// *ControlMessage, *SegmentedAccessMessage, *SegmentedControlMessage and
// *SegmentAcknowledgementMessage.
type PDU interface {
	Header() *Meta
	// Control reports whether the PDU travels with CTL=1.
	Control() bool
	// Encode returns the lower transport PDU bytes.
	Encode() []byte

	lowerPDU()
}

// AccessMessage is an unsegmented access message.
type AccessMessage struct {
	Meta
	AKF bool
	AID uint8
	// UpperTransportPDU is the encrypted access payload and TransMIC.
	UpperTransportPDU []byte
}

func (m *AccessMessage) Header() *Meta { return &m.Meta }
func (m *AccessMessage) Control() bool { return false }
func (m *AccessMessage) lowerPDU()     {}

func (m *AccessMessage) Encode() []byte {
	b := make([]byte, 1, 1+len(m.UpperTransportPDU))
	b[0] = akfAID(m.AKF, m.AID)
	return append(b, m.UpperTransportPDU...)
}

// ControlMessage is an unsegmented control message.
type ControlMessage struct {
	Meta
	Opcode     uint8
	Parameters []byte
}

func (m *ControlMessage) Header() *Meta { return &m.Meta }
func (m *ControlMessage) Control() bool { return true }
func (m *ControlMessage) lowerPDU()     {}

func (m *ControlMessage) Encode() []byte {
	b := make([]byte, 1, 1+len(m.Parameters))
	b[0] = m.Opcode & 0x7F
	return append(b, m.Parameters...)
}

// SegmentedAccessMessage is one segment of a segmented access message.
type SegmentedAccessMessage struct {
	Meta
	AKF     bool
	AID     uint8
	SZMIC   bool
	SeqZero uint16
	SegO    uint8
	SegN    uint8
	Segment []byte
}

func (m *SegmentedAccessMessage) Header() *Meta { return &m.Meta }
func (m *SegmentedAccessMessage) Control() bool { return false }
func (m *SegmentedAccessMessage) lowerPDU()     {}

// Encode packs SEG=1 | AKF | AID, SZMIC | SeqZero | SegO | SegN and the segment.
func (m *SegmentedAccessMessage) Encode() []byte {
	b := make([]byte, 4, 4+len(m.Segment))
	b[0] = 0x80 | akfAID(m.AKF, m.AID)
	putSegmentHeader(b[1:4], m.SZMIC, m.SeqZero, m.SegO, m.SegN)
	return append(b, m.Segment...)
}

// SegmentedControlMessage is one segment of a segmented control message.
type SegmentedControlMessage struct {
	Meta
	Opcode  uint8
	SeqZero uint16
	SegO    uint8
	SegN    uint8
	Segment []byte
}

func (m *SegmentedControlMessage) Header() *Meta { return &m.Meta }
func (m *SegmentedControlMessage) Control() bool { return true }
func (m *SegmentedControlMessage) lowerPDU()     {}

func (m *SegmentedControlMessage) Encode() []byte {
	b := make([]byte, 4, 4+len(m.Segment))
	b[0] = 0x80 | m.Opcode&0x7F
	putSegmentHeader(b[1:4], false, m.SeqZero, m.SegO, m.SegN)
	return append(b, m.Segment...)
}

// SegmentAcknowledgementMessage acknowledges received segments. A zero
// BlockAck means the receiver is busy.
type SegmentAcknowledgementMessage struct {
	Meta
	OBO      bool
	SeqZero  uint16
	BlockAck BlockAck
}

func (m *SegmentAcknowledgementMessage) Header() *Meta { return &m.Meta }
func (m *SegmentAcknowledgementMessage) Control() bool { return true }
func (m *SegmentAcknowledgementMessage) lowerPDU()     {}

func (m *SegmentAcknowledgementMessage) Encode() []byte {
	b := make([]byte, 7)
	b[0] = OpcodeSegmentAck
	b[1] = byte(m.SeqZero>>6) & 0x7F
	if m.OBO {
		b[1] |= 0x80
	}
	b[2] = byte(m.SeqZero&0x3F) << 2
	binary.BigEndian.PutUint32(b[3:], uint32(m.BlockAck))
	return b
}

// IsBusy reports whether the ack signals a busy receiver.
func (m *SegmentAcknowledgementMessage) IsBusy() bool { return m.BlockAck == 0 }

func akfAID(akf bool, aid uint8) byte {
	b := aid & 0x3F
	if akf {
		b |= 0x40
	}
	return b
}

func putSegmentHeader(b []byte, szmic bool, seqZero uint16, segO, segN uint8) {
	b[0] = byte(seqZero>>6) & 0x7F
	if szmic {
		b[0] |= 0x80
	}
	b[1] = byte(seqZero&0x3F)<<2 | (segO>>3)&0x03
	b[2] = (segO&0x07)<<5 | segN&0x1F
}

func parseSegmentHeader(b []byte) (szmic bool, seqZero uint16, segO, segN uint8) {
	szmic = b[0]&0x80 != 0
	seqZero = uint16(b[0]&0x7F)<<6 | uint16(b[1]>>2)
	segO = (b[1]&0x03)<<3 | b[2]>>5
	segN = b[2] & 0x1F
	return
}

// Decode parses a lower transport PDU. ctl is the CTL bit of the network
// PDU it arrived in.
func Decode(data []byte, ctl bool, meta Meta) (PDU, error) {
	if len(data) < 1 {
		return nil, ErrTruncated
	}
	seg := data[0]&0x80 != 0

	switch {
	case !ctl && !seg:
		if len(data) < 2 {
			return nil, ErrTruncated
		}
		return &AccessMessage{
			Meta:              meta,
			AKF:               data[0]&0x40 != 0,
			AID:               data[0] & 0x3F,
			UpperTransportPDU: data[1:],
		}, nil

	case !ctl && seg:
		if len(data) < 5 {
			return nil, ErrTruncated
		}
		szmic, seqZero, segO, segN := parseSegmentHeader(data[1:4])
		if segO > segN {
			return nil, ErrInvalidSegment
		}
		return &SegmentedAccessMessage{
			Meta:    meta,
			AKF:     data[0]&0x40 != 0,
			AID:     data[0] & 0x3F,
			SZMIC:   szmic,
			SeqZero: seqZero,
			SegO:    segO,
			SegN:    segN,
			Segment: data[4:],
		}, nil

	case ctl && !seg:
		opcode := data[0] & 0x7F
		if opcode == OpcodeSegmentAck {
			if len(data) != 7 {
				return nil, fmt.Errorf("%w: segment ack of %d bytes", ErrTruncated, len(data))
			}
			return &SegmentAcknowledgementMessage{
				Meta:     meta,
				OBO:      data[1]&0x80 != 0,
				SeqZero:  uint16(data[1]&0x7F)<<6 | uint16(data[2]>>2),
				BlockAck: BlockAck(binary.BigEndian.Uint32(data[3:])),
			}, nil
		}
		return &ControlMessage{Meta: meta, Opcode: opcode, Parameters: data[1:]}, nil

	default:
		if len(data) < 5 {
			return nil, ErrTruncated
		}
		_, seqZero, segO, segN := parseSegmentHeader(data[1:4])
		if segO > segN {
			return nil, ErrInvalidSegment
		}
		return &SegmentedControlMessage{
			Meta:    meta,
			Opcode:  data[0] & 0x7F,
			SeqZero: seqZero,
			SegO:    segO,
			SegN:    segN,
			Segment: data[4:],
		}, nil
	}
}
