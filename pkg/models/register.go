package models

import (
	"bytes"

	"github.com/backkem/btmesh/pkg/access"
)

// Register adds decoders for every message in this package.
func Register(r *access.Registry) {
	r.Register(OpGenericOnOffGet, func([]byte) (access.Message, error) { return GenericOnOffGet{}, nil })
	r.Register(OpGenericOnOffSet, func(p []byte) (access.Message, error) {
		on, tid, tr, err := DecodeGenericOnOffSet(p)
		if err != nil {
			return nil, err
		}
		m := &GenericOnOffSet{On: on, Transition: tr}
		m.SetTID(tid)
		return m, nil
	})
	r.Register(OpGenericOnOffSetUnack, func(p []byte) (access.Message, error) {
		on, tid, tr, err := DecodeGenericOnOffSet(p)
		if err != nil {
			return nil, err
		}
		m := &GenericOnOffSetUnacknowledged{On: on, Transition: tr}
		m.SetTID(tid)
		return m, nil
	})
	r.Register(OpGenericOnOffStatus, decodeGenericOnOffStatus)

	r.Register(OpGenericLevelSet, func(p []byte) (access.Message, error) {
		level, tid, tr, err := DecodeGenericLevelSet(p)
		if err != nil {
			return nil, err
		}
		m := &GenericLevelSet{Level: level, Transition: tr}
		m.SetTID(tid)
		return m, nil
	})
	r.Register(OpGenericMoveSet, func(p []byte) (access.Message, error) {
		delta, tid, tr, err := DecodeGenericLevelSet(p)
		if err != nil {
			return nil, err
		}
		m := &GenericMoveSet{DeltaLevel: delta, Transition: tr}
		m.SetTID(tid)
		return m, nil
	})
	r.Register(OpGenericLevelStatus, decodeGenericLevelStatus)

	r.Register(OpConfigAppKeyAdd, decodeConfigAppKeyAdd)
	r.Register(OpConfigAppKeyDelete, decodeConfigAppKeyDelete)
	r.Register(OpConfigAppKeyStatus, decodeConfigAppKeyStatus)
	r.Register(OpConfigNodeReset, func([]byte) (access.Message, error) { return &ConfigNodeReset{}, nil })
	r.Register(OpConfigNodeResetStatus, func([]byte) (access.Message, error) { return &ConfigNodeResetStatus{}, nil })
}

// VendorMessage is an opaque message with a 3-octet vendor opcode.
type VendorMessage struct {
	Op       uint32
	Params   []byte
	Response uint32
	Secure   access.Security
}

func (m *VendorMessage) OpCode() uint32            { return m.Op }
func (m *VendorMessage) Parameters() []byte        { return m.Params }
func (m *VendorMessage) Security() access.Security { return m.Secure }

// AcknowledgedVendorMessage is a vendor message that expects Response.
type AcknowledgedVendorMessage struct {
	VendorMessage
}

func (m *AcknowledgedVendorMessage) ResponseOpCode() uint32 { return m.Response }

// NewVendorMessage copies params.
func NewVendorMessage(op uint32, params []byte) *VendorMessage {
	return &VendorMessage{Op: op, Params: bytes.Clone(params)}
}
