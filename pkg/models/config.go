package models

import (
	"bytes"
	"fmt"

	"github.com/backkem/btmesh/pkg/access"
)

// Configuration model opcodes handled by the local configuration server.
const (
	OpConfigAppKeyAdd       uint32 = 0x00
	OpConfigAppKeyUpdate    uint32 = 0x01
	OpConfigAppKeyDelete    uint32 = 0x8000
	OpConfigAppKeyStatus    uint32 = 0x8003
	OpConfigNodeReset       uint32 = 0x8049
	OpConfigNodeResetStatus uint32 = 0x804A
)

// ConfigStatus is a Foundation Model status code.
type ConfigStatus uint8

const (
	StatusSuccess               ConfigStatus = 0x00
	StatusInvalidAddress        ConfigStatus = 0x01
	StatusInvalidModel          ConfigStatus = 0x02
	StatusInvalidAppKeyIndex    ConfigStatus = 0x03
	StatusInvalidNetKeyIndex    ConfigStatus = 0x04
	StatusInsufficientResources ConfigStatus = 0x05
	StatusKeyIndexAlreadyStored ConfigStatus = 0x06
	StatusStorageFailure        ConfigStatus = 0x09
	StatusCannotUpdate          ConfigStatus = 0x0B
	StatusCannotRemove          ConfigStatus = 0x0C
	StatusUnspecifiedError      ConfigStatus = 0x10
)

func (s ConfigStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusInvalidAddress:
		return "InvalidAddress"
	case StatusInvalidModel:
		return "InvalidModel"
	case StatusInvalidAppKeyIndex:
		return "InvalidAppKeyIndex"
	case StatusInvalidNetKeyIndex:
		return "InvalidNetKeyIndex"
	case StatusInsufficientResources:
		return "InsufficientResources"
	case StatusKeyIndexAlreadyStored:
		return "KeyIndexAlreadyStored"
	case StatusStorageFailure:
		return "StorageFailure"
	case StatusCannotUpdate:
		return "CannotUpdate"
	case StatusCannotRemove:
		return "CannotRemove"
	case StatusUnspecifiedError:
		return "UnspecifiedError"
	default:
		return fmt.Sprintf("ConfigStatus(0x%02X)", uint8(s))
	}
}

// PackKeyIndexes packs two 12 bit key indexes into 3 octets, little endian.
func PackKeyIndexes(netKeyIndex, appKeyIndex uint16) []byte {
	return []byte{
		byte(netKeyIndex),
		byte(netKeyIndex>>8)&0x0F | byte(appKeyIndex<<4),
		byte(appKeyIndex >> 4),
	}
}

// UnpackKeyIndexes is the inverse of PackKeyIndexes.
func UnpackKeyIndexes(b []byte) (netKeyIndex, appKeyIndex uint16) {
	netKeyIndex = uint16(b[0]) | uint16(b[1]&0x0F)<<8
	appKeyIndex = uint16(b[1])>>4 | uint16(b[2])<<4
	return netKeyIndex, appKeyIndex
}

// configMessage marks messages secured with the device key.
type configMessage struct{}

func (configMessage) UsesDeviceKey() bool { return true }

// ConfigAppKeyAdd adds an application key to a node.
type ConfigAppKeyAdd struct {
	configMessage
	NetKeyIndex uint16
	AppKeyIndex uint16
	AppKey      []byte
}

func (m *ConfigAppKeyAdd) OpCode() uint32         { return OpConfigAppKeyAdd }
func (m *ConfigAppKeyAdd) ResponseOpCode() uint32 { return OpConfigAppKeyStatus }
func (m *ConfigAppKeyAdd) Parameters() []byte {
	return append(PackKeyIndexes(m.NetKeyIndex, m.AppKeyIndex), m.AppKey...)
}

func decodeConfigAppKeyAdd(p []byte) (access.Message, error) {
	if len(p) != 19 {
		return nil, ErrInvalidParameters
	}
	net, app := UnpackKeyIndexes(p)
	return &ConfigAppKeyAdd{NetKeyIndex: net, AppKeyIndex: app, AppKey: bytes.Clone(p[3:])}, nil
}

// ConfigAppKeyDelete removes an application key from a node.
type ConfigAppKeyDelete struct {
	configMessage
	NetKeyIndex uint16
	AppKeyIndex uint16
}

func (m *ConfigAppKeyDelete) OpCode() uint32         { return OpConfigAppKeyDelete }
func (m *ConfigAppKeyDelete) ResponseOpCode() uint32 { return OpConfigAppKeyStatus }
func (m *ConfigAppKeyDelete) Parameters() []byte {
	return PackKeyIndexes(m.NetKeyIndex, m.AppKeyIndex)
}

func decodeConfigAppKeyDelete(p []byte) (access.Message, error) {
	if len(p) != 3 {
		return nil, ErrInvalidParameters
	}
	net, app := UnpackKeyIndexes(p)
	return &ConfigAppKeyDelete{NetKeyIndex: net, AppKeyIndex: app}, nil
}

// ConfigAppKeyStatus answers Add, Update and Delete.
type ConfigAppKeyStatus struct {
	configMessage
	Status      ConfigStatus
	NetKeyIndex uint16
	AppKeyIndex uint16
}

func (m *ConfigAppKeyStatus) OpCode() uint32 { return OpConfigAppKeyStatus }
func (m *ConfigAppKeyStatus) Parameters() []byte {
	return append([]byte{byte(m.Status)}, PackKeyIndexes(m.NetKeyIndex, m.AppKeyIndex)...)
}

func decodeConfigAppKeyStatus(p []byte) (access.Message, error) {
	if len(p) != 4 {
		return nil, ErrInvalidParameters
	}
	net, app := UnpackKeyIndexes(p[1:])
	return &ConfigAppKeyStatus{Status: ConfigStatus(p[0]), NetKeyIndex: net, AppKeyIndex: app}, nil
}

// ConfigNodeReset asks a node to leave the network.
type ConfigNodeReset struct {
	configMessage
}

func (m *ConfigNodeReset) OpCode() uint32         { return OpConfigNodeReset }
func (m *ConfigNodeReset) ResponseOpCode() uint32 { return OpConfigNodeResetStatus }
func (m *ConfigNodeReset) Parameters() []byte     { return nil }

// ConfigNodeResetStatus acknowledges a reset.
type ConfigNodeResetStatus struct {
	configMessage
}

func (m *ConfigNodeResetStatus) OpCode() uint32     { return OpConfigNodeResetStatus }
func (m *ConfigNodeResetStatus) Parameters() []byte { return nil }
