// Package models contains the model messages used by the network manager
// and its tests: Generic OnOff, Generic Level and the Configuration
// messages the local configuration server handles.
package models

import (
	"encoding/binary"
	"errors"

	"github.com/backkem/btmesh/pkg/access"
)

// Generic OnOff and Generic Level opcodes.
const (
	OpGenericOnOffGet      uint32 = 0x8201
	OpGenericOnOffSet      uint32 = 0x8202
	OpGenericOnOffSetUnack uint32 = 0x8203
	OpGenericOnOffStatus   uint32 = 0x8204
	OpGenericLevelGet      uint32 = 0x8205
	OpGenericLevelSet      uint32 = 0x8206
	OpGenericLevelSetUnack uint32 = 0x8207
	OpGenericLevelStatus   uint32 = 0x8208
	OpGenericDeltaSet      uint32 = 0x8209
	OpGenericDeltaSetUnack uint32 = 0x820A
	OpGenericMoveSet       uint32 = 0x820B
	OpGenericMoveSetUnack  uint32 = 0x820C
)

var ErrInvalidParameters = errors.New("models: invalid parameters")

// Transaction carries the TID shared by transactional Generic messages.
// Embed it to implement access.TransactionMessage.
//
// Once a TID is set, either by SetTID or by the first send, it sticks:
// sending the same message value again reuses it and the receiver treats
// the send as a retransmission of the old transaction. Call ResetTID, or
// send a fresh value, to start a new transaction. This matters for
// periodic publication callbacks that return a shared message.
type Transaction struct {
	tid      uint8
	tidSet   bool
	Continue bool
}

func (t *Transaction) TID() (uint8, bool)        { return t.tid, t.tidSet }
func (t *Transaction) SetTID(tid uint8)          { t.tid, t.tidSet = tid, true }
func (t *Transaction) ContinueTransaction() bool { return t.Continue }

// ResetTID clears the TID so the next send assigns a new one.
func (t *Transaction) ResetTID() { t.tid, t.tidSet = 0, false }

// Transition is the optional Transition Time and Delay pair.
type Transition struct {
	Time  uint8
	Delay uint8
}

func appendTransition(b []byte, tr *Transition) []byte {
	if tr == nil {
		return b
	}
	return append(b, tr.Time, tr.Delay)
}

func parseTransition(b []byte) (*Transition, error) {
	switch len(b) {
	case 0:
		return nil, nil
	case 2:
		return &Transition{Time: b[0], Delay: b[1]}, nil
	}
	return nil, ErrInvalidParameters
}

// GenericOnOffGet requests the OnOff state.
type GenericOnOffGet struct{}

func (GenericOnOffGet) OpCode() uint32         { return OpGenericOnOffGet }
func (GenericOnOffGet) Parameters() []byte     { return nil }
func (GenericOnOffGet) ResponseOpCode() uint32 { return OpGenericOnOffStatus }

// GenericOnOffSet sets the OnOff state and waits for the status.
type GenericOnOffSet struct {
	Transaction
	On         bool
	Transition *Transition
}

func (m *GenericOnOffSet) OpCode() uint32         { return OpGenericOnOffSet }
func (m *GenericOnOffSet) ResponseOpCode() uint32 { return OpGenericOnOffStatus }
func (m *GenericOnOffSet) Parameters() []byte     { return encodeOnOff(m.On, m.tid, m.Transition) }

// GenericOnOffSetUnacknowledged sets the OnOff state without a response.
type GenericOnOffSetUnacknowledged struct {
	Transaction
	On         bool
	Transition *Transition
}

func (m *GenericOnOffSetUnacknowledged) OpCode() uint32 { return OpGenericOnOffSetUnack }
func (m *GenericOnOffSetUnacknowledged) Parameters() []byte {
	return encodeOnOff(m.On, m.tid, m.Transition)
}

func encodeOnOff(on bool, tid uint8, tr *Transition) []byte {
	b := []byte{0, tid}
	if on {
		b[0] = 1
	}
	return appendTransition(b, tr)
}

// DecodeGenericOnOffSet parses both acknowledged and unacknowledged sets.
func DecodeGenericOnOffSet(p []byte) (on bool, tid uint8, tr *Transition, err error) {
	if len(p) < 2 || p[0] > 1 {
		return false, 0, nil, ErrInvalidParameters
	}
	tr, err = parseTransition(p[2:])
	return p[0] == 1, p[1], tr, err
}

// GenericOnOffStatus reports the OnOff state.
type GenericOnOffStatus struct {
	Present       bool
	Target        *bool
	RemainingTime uint8
}

func (m *GenericOnOffStatus) OpCode() uint32 { return OpGenericOnOffStatus }
func (m *GenericOnOffStatus) Parameters() []byte {
	b := []byte{boolByte(m.Present)}
	if m.Target != nil {
		b = append(b, boolByte(*m.Target), m.RemainingTime)
	}
	return b
}

func decodeGenericOnOffStatus(p []byte) (access.Message, error) {
	switch len(p) {
	case 1:
		return &GenericOnOffStatus{Present: p[0] == 1}, nil
	case 3:
		target := p[1] == 1
		return &GenericOnOffStatus{Present: p[0] == 1, Target: &target, RemainingTime: p[2]}, nil
	}
	return nil, ErrInvalidParameters
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// GenericLevelSet sets the Level state.
type GenericLevelSet struct {
	Transaction
	Level      int16
	Transition *Transition
}

func (m *GenericLevelSet) OpCode() uint32         { return OpGenericLevelSet }
func (m *GenericLevelSet) ResponseOpCode() uint32 { return OpGenericLevelStatus }
func (m *GenericLevelSet) Parameters() []byte     { return encodeLevel(m.Level, m.tid, m.Transition) }

// GenericLevelSetUnacknowledged sets the Level state without a response.
type GenericLevelSetUnacknowledged struct {
	Transaction
	Level      int16
	Transition *Transition
}

func (m *GenericLevelSetUnacknowledged) OpCode() uint32 { return OpGenericLevelSetUnack }
func (m *GenericLevelSetUnacknowledged) Parameters() []byte {
	return encodeLevel(m.Level, m.tid, m.Transition)
}

// GenericMoveSet starts moving the Level state. Repeated Move messages of
// one user gesture continue the same transaction.
type GenericMoveSet struct {
	Transaction
	DeltaLevel int16
	Transition *Transition
}

func (m *GenericMoveSet) OpCode() uint32         { return OpGenericMoveSet }
func (m *GenericMoveSet) ResponseOpCode() uint32 { return OpGenericLevelStatus }
func (m *GenericMoveSet) Parameters() []byte     { return encodeLevel(m.DeltaLevel, m.tid, m.Transition) }

// GenericDeltaSetUnacknowledged changes the Level by a delta. The delta is
// cumulative within a transaction.
type GenericDeltaSetUnacknowledged struct {
	Transaction
	Delta      int32
	Transition *Transition
}

func (m *GenericDeltaSetUnacknowledged) OpCode() uint32 { return OpGenericDeltaSetUnack }
func (m *GenericDeltaSetUnacknowledged) Parameters() []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(m.Delta))
	return appendTransition(append(b, m.tid), m.Transition)
}

func encodeLevel(level int16, tid uint8, tr *Transition) []byte {
	b := binary.LittleEndian.AppendUint16(nil, uint16(level))
	return appendTransition(append(b, tid), tr)
}

// DecodeGenericLevelSet parses Level Set and Move Set parameters.
func DecodeGenericLevelSet(p []byte) (level int16, tid uint8, tr *Transition, err error) {
	if len(p) < 3 {
		return 0, 0, nil, ErrInvalidParameters
	}
	tr, err = parseTransition(p[3:])
	return int16(binary.LittleEndian.Uint16(p)), p[2], tr, err
}

// GenericLevelStatus reports the Level state.
type GenericLevelStatus struct {
	Present       int16
	Target        *int16
	RemainingTime uint8
}

func (m *GenericLevelStatus) OpCode() uint32 { return OpGenericLevelStatus }
func (m *GenericLevelStatus) Parameters() []byte {
	b := binary.LittleEndian.AppendUint16(nil, uint16(m.Present))
	if m.Target != nil {
		b = binary.LittleEndian.AppendUint16(b, uint16(*m.Target))
		b = append(b, m.RemainingTime)
	}
	return b
}

func decodeGenericLevelStatus(p []byte) (access.Message, error) {
	switch len(p) {
	case 2:
		return &GenericLevelStatus{Present: int16(binary.LittleEndian.Uint16(p))}, nil
	case 5:
		target := int16(binary.LittleEndian.Uint16(p[2:]))
		return &GenericLevelStatus{
			Present:       int16(binary.LittleEndian.Uint16(p)),
			Target:        &target,
			RemainingTime: p[4],
		}, nil
	}
	return nil, ErrInvalidParameters
}
