package keys

import "bytes"

// KeySet is the key material used to secure one access message. It is
// either an *AccessKeySet or a *DeviceKeySet; the interface is sealed.
type KeySet interface {
	// NetworkKey secures the network layer.
	NetworkKey() *NetworkKey

	// AccessKey secures the upper transport layer. Always 16 bytes.
	AccessKey() []byte

	// AID returns the application key identifier; ok is false for device keys.
	AID() (aid uint8, ok bool)

	keySet()
}

// AccessKeySet secures a message with an application key.
type AccessKeySet struct {
	ApplicationKey *ApplicationKey
}

// NewAccessKeySet fails when the application key is not bound.
func NewAccessKeySet(appKey *ApplicationKey) (*AccessKeySet, error) {
	if appKey == nil || appKey.BoundNetworkKey() == nil {
		return nil, ErrUnboundApplicationKey
	}
	return &AccessKeySet{ApplicationKey: appKey}, nil
}

func (s *AccessKeySet) NetworkKey() *NetworkKey {
	return s.ApplicationKey.BoundNetworkKey()
}

// useOld reports whether the old application key must be used: only while
// the bound network key is in KeyDistribution and an old key exists.
func (s *AccessKeySet) useOld() bool {
	net := s.NetworkKey()
	if net == nil || net.Phase() != KeyDistribution {
		return false
	}
	_, ok := s.ApplicationKey.OldAID()
	return ok
}

func (s *AccessKeySet) AccessKey() []byte {
	if s.useOld() {
		return s.ApplicationKey.OldKey()
	}
	return s.ApplicationKey.Key()
}

func (s *AccessKeySet) AID() (uint8, bool) {
	if s.useOld() {
		return s.ApplicationKey.OldAID()
	}
	return s.ApplicationKey.AID(), true
}

func (s *AccessKeySet) keySet() {}

func (s *AccessKeySet) String() string { return "AccessKeySet" }

// DeviceKeyHolder is anything that may know a node's device key.
type DeviceKeyHolder interface {
	DeviceKey() []byte
}

// DeviceKeySet secures a configuration message with a node's device key.
type DeviceKeySet struct {
	networkKey *NetworkKey
	deviceKey  []byte
}

// NewDeviceKeySet returns false when the node's device key is unknown.
func NewDeviceKeySet(networkKey *NetworkKey, node DeviceKeyHolder) (*DeviceKeySet, bool) {
	if networkKey == nil || node == nil {
		return nil, false
	}
	dk := node.DeviceKey()
	if len(dk) != 16 {
		return nil, false
	}
	return &DeviceKeySet{networkKey: networkKey, deviceKey: bytes.Clone(dk)}, true
}

func (s *DeviceKeySet) NetworkKey() *NetworkKey { return s.networkKey }

func (s *DeviceKeySet) AccessKey() []byte { return s.deviceKey }

func (s *DeviceKeySet) AID() (uint8, bool) { return 0, false }

func (s *DeviceKeySet) keySet() {}

func (s *DeviceKeySet) String() string { return "DeviceKeySet" }
