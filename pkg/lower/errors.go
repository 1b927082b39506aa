package lower

import (
	"errors"

	"github.com/backkem/btmesh/pkg/access"
)

// Error is the closed set of asynchronous segmented transfer failures.
type Error int

const (
	// ErrTimeout: retransmissions were exhausted before all segments were
	// acknowledged.
	ErrTimeout Error = iota + 1
	// ErrCancelled: the transfer was cancelled by the sender.
	ErrCancelled
	// ErrBusy: the receiver answered with an empty block ack.
	ErrBusy
)

func (e Error) Error() string {
	switch e {
	case ErrTimeout:
		return "lower: segmented message timed out"
	case ErrCancelled:
		return "lower: segmented message cancelled"
	case ErrBusy:
		return "lower: receiver busy"
	default:
		return "lower: unknown error"
	}
}

func (e Error) String() string {
	switch e {
	case ErrTimeout:
		return "Timeout"
	case ErrCancelled:
		return "Cancelled"
	case ErrBusy:
		return "Busy"
	default:
		return "Unknown"
	}
}

// AccessError maps the failure onto the access error taxonomy.
func (e Error) AccessError() access.Error {
	switch e {
	case ErrTimeout:
		return access.ErrTimeout
	case ErrCancelled:
		return access.ErrCancelled
	case ErrBusy:
		return access.ErrBusy
	default:
		return access.ErrMessageSendingFailed
	}
}

var (
	ErrTruncated       = errors.New("lower: truncated PDU")
	ErrInvalidSegment  = errors.New("lower: segment offset exceeds last segment number")
	ErrMessageTooLong  = errors.New("lower: message needs more than 32 segments")
	ErrEmptyMessage    = errors.New("lower: empty message")
	ErrInvalidOpcode   = errors.New("lower: control opcode must be 7 bits")
	ErrSegmentMismatch = errors.New("lower: segment does not match reassembly")
)
