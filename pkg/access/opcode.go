package access

import (
	"errors"
	"fmt"
)

// Opcode length boundaries.
const (
	// ReservedOpcode is the single octet value 0x7F, reserved for future use.
	ReservedOpcode uint32 = 0x7F

	minTwoOctet   uint32 = 0x8000
	maxTwoOctet   uint32 = 0xBFFF
	minThreeOctet uint32 = 0xC00000
	maxThreeOctet uint32 = 0xFFFFFF
)

var (
	ErrInvalidOpcode   = errors.New("access: invalid opcode")
	ErrReservedOpcode  = errors.New("access: reserved opcode 0x7F")
	ErrTruncatedOpcode = errors.New("access: truncated opcode")
)

// OpcodeSize returns the encoded length of opcode (1, 2 or 3 octets).
//
// Opcodes are written in their on-air form: 1-octet opcodes are
// 0x00..0x7E, 2-octet opcodes carry their 0b10 prefix (0x8000..0xBFFF) and
// 3-octet vendor opcodes carry their 0b11 prefix (0xC00000..0xFFFFFF).
// Any other value, such as 0x80..0x7FFF or 0xC000..0xBFFFFF, is not a
// canonical on-air opcode and yields ErrInvalidOpcode. 0x7F yields
// ErrReservedOpcode.
func OpcodeSize(opcode uint32) (int, error) {
	switch {
	case opcode == ReservedOpcode:
		return 0, ErrReservedOpcode
	case opcode < 0x80:
		return 1, nil
	case opcode >= minTwoOctet && opcode <= maxTwoOctet:
		return 2, nil
	case opcode >= minThreeOctet && opcode <= maxThreeOctet:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: 0x%X", ErrInvalidOpcode, opcode)
}

// AppendOpcode appends the encoded opcode to b.
func AppendOpcode(b []byte, opcode uint32) ([]byte, error) {
	n, err := OpcodeSize(opcode)
	if err != nil {
		return b, err
	}
	switch n {
	case 1:
		return append(b, byte(opcode)), nil
	case 2:
		return append(b, byte(opcode>>8), byte(opcode)), nil
	default:
		return append(b, byte(opcode>>16), byte(opcode>>8), byte(opcode)), nil
	}
}

// EncodeOpcode returns the on-air bytes of opcode.
func EncodeOpcode(opcode uint32) ([]byte, error) {
	return AppendOpcode(make([]byte, 0, 3), opcode)
}

// DecodeOpcode reads the opcode at the start of data and returns it with
// its encoded length.
func DecodeOpcode(data []byte) (uint32, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrTruncatedOpcode
	}
	b0 := data[0]
	switch {
	case b0&0x80 == 0:
		if uint32(b0) == ReservedOpcode {
			return 0, 0, ErrReservedOpcode
		}
		return uint32(b0), 1, nil
	case b0&0xC0 == 0x80:
		if len(data) < 2 {
			return 0, 0, ErrTruncatedOpcode
		}
		return uint32(b0)<<8 | uint32(data[1]), 2, nil
	default:
		if len(data) < 3 {
			return 0, 0, ErrTruncatedOpcode
		}
		return uint32(b0)<<16 | uint32(data[1])<<8 | uint32(data[2]), 3, nil
	}
}

// IsVendorOpcode reports whether opcode is a 3-octet vendor opcode.
func IsVendorOpcode(opcode uint32) bool {
	return opcode >= minThreeOctet && opcode <= maxThreeOctet
}

// VendorOpcode builds a 3-octet opcode from a 6 bit vendor opcode and a
// little-endian company identifier.
func VendorOpcode(op uint8, companyID uint16) uint32 {
	return 0xC00000 | uint32(op&0x3F)<<16 | uint32(companyID&0xFF)<<8 | uint32(companyID>>8)
}
