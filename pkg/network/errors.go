package network

import "errors"

var (
	ErrTruncated          = errors.New("network: PDU too short")
	ErrTransportTooLong   = errors.New("network: transport PDU too long")
	ErrNoMatchingKey      = errors.New("network: no network key authenticates the PDU")
	ErrInvalidSource      = errors.New("network: source is not a unicast address")
	ErrInvalidDestination = errors.New("network: destination is unassigned")
	ErrInvalidTTL         = errors.New("network: TTL must be 0 or 2..127")
	ErrSequenceExhausted  = errors.New("network: sequence number space exhausted")
	ErrUnknownBeacon      = errors.New("network: unknown beacon type")
	ErrNoMatchingNetwork  = errors.New("network: beacon does not match any network key")
)
