package access

import (
	"fmt"
	"sync"
)

// Decoder builds a message from its parameters.
type Decoder func(parameters []byte) (Message, error)

// Registry maps opcodes to decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[uint32]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[uint32]Decoder)}
}

// Register adds a decoder for opcode, replacing any previous one.
func (r *Registry) Register(opcode uint32, d Decoder) {
	r.mu.Lock()
	r.decoders[opcode] = d
	r.mu.Unlock()
}

// Decode returns the typed message for pdu, or an *UnknownMessage when no
// decoder is registered.
func (r *Registry) Decode(pdu *PDU) (Message, error) {
	r.mu.RLock()
	d, ok := r.decoders[pdu.Opcode]
	r.mu.RUnlock()
	if !ok {
		return &UnknownMessage{Op: pdu.Opcode, Params: pdu.Parameters}, nil
	}
	msg, err := d(pdu.Parameters)
	if err != nil {
		return nil, fmt.Errorf("access: decode opcode 0x%X: %w", pdu.Opcode, err)
	}
	return msg, nil
}
