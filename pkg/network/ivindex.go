package network

// MaxIVIndexJump is the largest IV Index increase accepted from a beacon.
const MaxIVIndexJump = 42

// IVIndex is the network IV Index and its update state.
type IVIndex struct {
	Index        uint32
	UpdateActive bool
}

// TransmitIndex is the IV Index used for outgoing PDUs. While an update is
// in progress nodes keep transmitting with the previous value.
func (iv IVIndex) TransmitIndex() uint32 {
	if iv.UpdateActive && iv.Index > 0 {
		return iv.Index - 1
	}
	return iv.Index
}

// ReceiveIndex selects the IV Index of a received PDU from its IVI bit.
func (iv IVIndex) ReceiveIndex(ivi uint8) uint32 {
	if uint8(iv.Index&1) == ivi&1 || iv.Index == 0 {
		return iv.Index
	}
	return iv.Index - 1
}

// Next applies an IV Index observed in an authenticated beacon. It returns
// the new state and whether it differs from iv.
func (iv IVIndex) Next(index uint32, updateActive bool) (IVIndex, bool) {
	switch {
	case index > iv.Index && index-iv.Index <= MaxIVIndexJump:
		return IVIndex{Index: index, UpdateActive: updateActive}, true
	case index == iv.Index && iv.UpdateActive && !updateActive:
		return IVIndex{Index: index}, true
	default:
		return iv, false
	}
}
