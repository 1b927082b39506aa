package access

// Error is the closed set of failures reported for access messages.
// Values compare with errors.Is.
type Error int

const (
	ErrInvalidSource Error = iota + 1
	ErrInvalidElement
	ErrInvalidTTL
	ErrInvalidDestination
	ErrModelNotBoundToAppKey
	ErrNoAppKeysBoundToModel
	ErrNoDeviceKey
	ErrNoNetworkKey
	ErrBusy
	ErrCannotDelete
	ErrTimeout
	ErrCancelled
	ErrMessageSendingFailed
	ErrCannotRelay
	ErrInvalidKey
)

var errorText = map[Error]string{
	ErrInvalidSource:         "local provisioner has no unicast address assigned",
	ErrInvalidElement:        "element does not belong to the local node",
	ErrInvalidTTL:            "invalid TTL",
	ErrInvalidDestination:    "unknown destination",
	ErrModelNotBoundToAppKey: "model is not bound to the application key",
	ErrNoAppKeysBoundToModel: "no application key bound to the model",
	ErrNoDeviceKey:           "unknown device key",
	ErrNoNetworkKey:          "no network key",
	ErrBusy:                  "a message to the destination is already in progress",
	ErrCannotDelete:          "key is in use and cannot be deleted",
	ErrTimeout:               "request timed out",
	ErrCancelled:             "message cancelled",
	ErrMessageSendingFailed:  "message sending failed",
	ErrCannotRelay:           "cannot relay message",
	ErrInvalidKey:            "invalid key",
}

func (e Error) Error() string {
	if s, ok := errorText[e]; ok {
		return "access: " + s
	}
	return "access: unknown error"
}

func (e Error) String() string {
	switch e {
	case ErrInvalidSource:
		return "InvalidSource"
	case ErrInvalidElement:
		return "InvalidElement"
	case ErrInvalidTTL:
		return "InvalidTtl"
	case ErrInvalidDestination:
		return "InvalidDestination"
	case ErrModelNotBoundToAppKey:
		return "ModelNotBoundToAppKey"
	case ErrNoAppKeysBoundToModel:
		return "NoAppKeysBoundToModel"
	case ErrNoDeviceKey:
		return "NoDeviceKey"
	case ErrNoNetworkKey:
		return "NoNetworkKey"
	case ErrBusy:
		return "Busy"
	case ErrCannotDelete:
		return "CannotDelete"
	case ErrTimeout:
		return "Timeout"
	case ErrCancelled:
		return "Cancelled"
	case ErrMessageSendingFailed:
		return "MessageSendingFailed"
	case ErrCannotRelay:
		return "CannotRelay"
	case ErrInvalidKey:
		return "InvalidKey"
	default:
		return "Unknown"
	}
}
