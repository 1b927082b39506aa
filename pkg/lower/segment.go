package lower

import (
	"math/bits"
)

// BlockAck is the 32 bit field acknowledging received segments; bit n is
// set when segment n was received.
type BlockAck uint32

// Set marks segment segO as received.
func (b BlockAck) Set(segO uint8) BlockAck { return b | 1<<(segO&0x1F) }

// Has reports whether segment segO is acknowledged.
func (b BlockAck) Has(segO uint8) bool { return b&(1<<(segO&0x1F)) != 0 }

// Count returns the number of acknowledged segments.
func (b BlockAck) Count() int { return bits.OnesCount32(uint32(b)) }

// Complete reports whether every segment 0..segN is acknowledged.
func (b BlockAck) Complete(segN uint8) bool {
	return uint64(b) == FullBlockAck(segN)
}

// FullBlockAck returns the block ack acknowledging segments 0..segN.
func FullBlockAck(segN uint8) uint64 {
	return 1<<(uint64(segN&0x1F)+1) - 1
}

// Split cuts data into chunks of at most size bytes. An empty input yields
// no chunks.
func Split(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		out = append(out, data[:size:size])
		data = data[size:]
	}
	return append(out, data)
}

// Join concatenates chunks back into one message.
func Join(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// SegmentAccess splits an upper transport access PDU into segments sharing
// meta and seqZero. SZMIC is set when the TransMIC is 64 bits.
func SegmentAccess(meta Meta, akf bool, aid uint8, szmic bool, seqZero uint16, upper []byte) ([]*SegmentedAccessMessage, error) {
	if len(upper) == 0 {
		return nil, ErrEmptyMessage
	}
	chunks := Split(upper, AccessSegmentSize)
	if len(chunks) > MaxSegments {
		return nil, ErrMessageTooLong
	}
	segN := uint8(len(chunks) - 1)
	out := make([]*SegmentedAccessMessage, len(chunks))
	for i, c := range chunks {
		out[i] = &SegmentedAccessMessage{
			Meta:    meta,
			AKF:     akf,
			AID:     aid,
			SZMIC:   szmic,
			SeqZero: seqZero & SeqZeroMask,
			SegO:    uint8(i),
			SegN:    segN,
			Segment: c,
		}
	}
	return out, nil
}

// SegmentControl splits control message parameters into segments.
func SegmentControl(meta Meta, opcode uint8, seqZero uint16, params []byte) ([]*SegmentedControlMessage, error) {
	if opcode > 0x7F {
		return nil, ErrInvalidOpcode
	}
	if len(params) == 0 {
		return nil, ErrEmptyMessage
	}
	chunks := Split(params, ControlSegmentSize)
	if len(chunks) > MaxSegments {
		return nil, ErrMessageTooLong
	}
	segN := uint8(len(chunks) - 1)
	out := make([]*SegmentedControlMessage, len(chunks))
	for i, c := range chunks {
		out[i] = &SegmentedControlMessage{
			Meta:    meta,
			Opcode:  opcode,
			SeqZero: seqZero & SeqZeroMask,
			SegO:    uint8(i),
			SegN:    segN,
			Segment: c,
		}
	}
	return out, nil
}

// SeqAuth reconstructs the 24 bit sequence authentication value from the
// sequence number of a segment and the 13 bit SeqZero it carries.
func SeqAuth(seq uint32, seqZero uint16) uint32 {
	seq &= 0xFFFFFF
	v := seq&^SeqZeroMask | uint32(seqZero&SeqZeroMask)
	if v > seq {
		v -= SeqZeroMask + 1
	}
	return v & 0xFFFFFF
}
