package access

// Security selects the size of the upper transport MIC.
type Security int

const (
	// SecurityLow uses a 32 bit TransMIC.
	SecurityLow Security = iota
	// SecurityHigh uses a 64 bit TransMIC and always forces segmentation.
	SecurityHigh
)

func (s Security) String() string {
	if s == SecurityHigh {
		return "High"
	}
	return "Low"
}

// Message is any access layer message.
type Message interface {
	OpCode() uint32
	// Parameters returns the encoded parameters, or nil.
	Parameters() []byte
}

// SecureMessage lets a message choose its TransMIC size. Messages that do
// not implement it use SecurityLow.
type SecureMessage interface {
	Message
	Security() Security
}

// AcknowledgedMessage is a request answered by a status message.
type AcknowledgedMessage interface {
	Message
	ResponseOpCode() uint32
}

// TransactionMessage carries a Transaction Identifier assigned by the
// reliability layer unless already set.
type TransactionMessage interface {
	Message
	TID() (tid uint8, ok bool)
	SetTID(tid uint8)
	// ContinueTransaction reports whether the message continues the
	// previous transaction to the same destination (e.g. Level Move).
	ContinueTransaction() bool
}

// SegmentedMessage lets a message force segmentation even when it would
// fit in an unsegmented PDU.
type SegmentedMessage interface {
	Message
	ForceSegmentation() bool
}

// ConfigMessage is a Foundation Model message secured with a device key.
type ConfigMessage interface {
	Message
	UsesDeviceKey() bool
}

// SecurityOf returns the security level requested by msg.
func SecurityOf(msg Message) Security {
	if s, ok := msg.(SecureMessage); ok {
		return s.Security()
	}
	return SecurityLow
}

// IsAcknowledged reports whether msg expects a response.
func IsAcknowledged(msg Message) bool {
	_, ok := msg.(AcknowledgedMessage)
	return ok
}

// UsesDeviceKey reports whether msg must be secured with a device key.
func UsesDeviceKey(msg Message) bool {
	c, ok := msg.(ConfigMessage)
	return ok && c.UsesDeviceKey()
}

// UnknownMessage is the result of decoding an opcode with no registered
// decoder.
type UnknownMessage struct {
	Op     uint32
	Params []byte
}

func (m *UnknownMessage) OpCode() uint32     { return m.Op }
func (m *UnknownMessage) Parameters() []byte { return m.Params }
