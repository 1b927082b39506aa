package keys

// KeyRefreshPhase is the Key Refresh Procedure phase of a network key.
type KeyRefreshPhase int

const (
	// NormalOperation: only the current key exists.
	NormalOperation KeyRefreshPhase = iota

	// KeyDistribution: the new key has been distributed but nodes still
	// transmit with the old key. Both keys are accepted on receive.
	KeyDistribution

	// UsingNewKeys: nodes transmit with the new key and still accept the old.
	UsingNewKeys
)

func (p KeyRefreshPhase) String() string {
	switch p {
	case NormalOperation:
		return "NormalOperation"
	case KeyDistribution:
		return "KeyDistribution"
	case UsingNewKeys:
		return "UsingNewKeys"
	default:
		return "Unknown"
	}
}

func (p KeyRefreshPhase) IsValid() bool {
	return p >= NormalOperation && p <= UsingNewKeys
}
