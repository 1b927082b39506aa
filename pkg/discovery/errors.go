package discovery

import "errors"

var (
	ErrClosed         = errors.New("discovery: closed")
	ErrAlreadyStarted = errors.New("discovery: network already advertised")
	ErrNotStarted     = errors.New("discovery: network not advertised")

	// ErrInvalidNetworkID is returned for a Network ID that is not
	// NetworkIDSize octets.
	ErrInvalidNetworkID = errors.New("discovery: invalid network ID")
	ErrInvalidPort      = errors.New("discovery: port out of range")
	ErrInvalidTXTRecord = errors.New("discovery: malformed TXT record")
)
