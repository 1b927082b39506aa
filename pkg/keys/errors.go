package keys

import "errors"

var (
	ErrInvalidKey            = errors.New("keys: key must be 16 bytes")
	ErrInvalidIndex          = errors.New("keys: key index must be 12 bits")
	ErrUnboundApplicationKey = errors.New("keys: application key is not bound to a network key")
	ErrKeyRefreshInProgress  = errors.New("keys: key refresh already in progress")
	ErrInvalidPhase          = errors.New("keys: invalid key refresh phase transition")
)
