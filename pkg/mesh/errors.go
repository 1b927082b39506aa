package mesh

import "errors"

// Package-level errors. Failures of a message itself are access.Error
// values; these cover the manager's own API.
var (
	// ErrDirectoryRequired is returned when Config.Directory is nil.
	ErrDirectoryRequired = errors.New("mesh: directory is required")

	// ErrTransmitterRequired is returned when Config.Transmitter is nil.
	ErrTransmitterRequired = errors.New("mesh: transmitter is required")

	// ErrInvalidIVIndex is returned when the configured IV Index is in an
	// update with index 0.
	ErrInvalidIVIndex = errors.New("mesh: IV update cannot be active at IV index 0")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("mesh: network manager closed")

	// ErrInProgress is returned by MessageHandle.Result before the message
	// completes.
	ErrInProgress = errors.New("mesh: message still in progress")

	// ErrUnknownModel is returned when publishing from a model the element
	// does not have.
	ErrUnknownModel = errors.New("mesh: model not found on element")

	// ErrNoPublication is returned when the model has no publish address.
	ErrNoPublication = errors.New("mesh: model has no publication configured")

	// ErrNoPublishPeriod is returned when periodic publication is started
	// for a model with a zero period.
	ErrNoPublishPeriod = errors.New("mesh: model publication has no period")

	// ErrUnsupportedPDU is returned by HandlePDU for PDU types the manager
	// does not process.
	ErrUnsupportedPDU = errors.New("mesh: unsupported PDU type")
)
