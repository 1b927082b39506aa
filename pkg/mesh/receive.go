package mesh

import (
	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/lower"
	"github.com/backkem/btmesh/pkg/trace"
	"github.com/backkem/btmesh/pkg/upper"
)

// Request is an access message received by a local element.
type Request struct {
	Message     access.Message
	Source      address.Address
	Destination address.MeshAddress

	// Element is the local element handling the message.
	Element address.Address

	// ApplicationKey secured the message; nil for device key messages.
	ApplicationKey *keys.ApplicationKey
	NetworkKey     *keys.NetworkKey
	TTL            uint8
}

// Handler serves messages received by an element. A non-nil response is
// sent back to the requester with Reply.
type Handler interface {
	HandleMessage(req *Request) (response access.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) access.Message

func (f HandlerFunc) HandleMessage(req *Request) access.Message { return f(req) }

// deliver receives complete upper transport PDUs from the lower transport.
func (m *NetworkManager) deliver(msg *lower.UpperMessage) {
	if msg.Control {
		if m.log != nil {
			m.log.Debugf("ignoring control message 0x%02X from %s", msg.Opcode, msg.Source)
		}
		return
	}

	local := m.dir.LocalNode()
	if local == nil {
		return
	}
	elements := receivingElements(local, msg.Destination)
	if len(elements) == 0 {
		m.config.Metrics.ObservePDUDropped("not-for-us")
		return
	}

	dec, err := upper.Decrypt(&upper.EncryptedPDU{
		AKF:   msg.AKF,
		AID:   msg.AID,
		SZMIC: msg.SZMIC,
		Data:  msg.Payload,
	}, msg.Source, msg.Destination, msg.Sequence, msg.IVIndex, m.candidates(msg, local), m.dir.Labels())
	if err != nil {
		if m.log != nil {
			m.log.Debugf("dropping access message from %s: %v", msg.Source, err)
		}
		m.config.Metrics.ObservePDUDropped("decrypt")
		m.traceEvent(trace.Event{
			Direction:   trace.DirectionIn,
			Layer:       trace.LayerAccess,
			Source:      uint16(msg.Source),
			Destination: uint16(msg.Destination),
			Sequence:    msg.Sequence,
			Error:       err.Error(),
		})
		return
	}

	pdu, err := access.DecodePDU(dec.Payload, msg.Source, dec.Destination)
	if err != nil {
		m.config.Metrics.ObservePDUDropped("access-decode")
		return
	}
	message, err := m.config.Registry.Decode(pdu)
	if err != nil {
		if m.log != nil {
			m.log.Debugf("dropping 0x%X from %s: %v", pdu.Opcode, msg.Source, err)
		}
		m.config.Metrics.ObservePDUDropped("access-decode")
		return
	}
	m.traceEvent(trace.Event{
		Direction:   trace.DirectionIn,
		Layer:       trace.LayerAccess,
		Source:      uint16(msg.Source),
		Destination: uint16(msg.Destination),
		Opcode:      pdu.Opcode,
		Sequence:    msg.Sequence,
		Data:        dec.Payload,
	})
	m.config.Metrics.ObserveMessageReceived()
	m.emit(MessageReceived{Message: message, Source: msg.Source, Destination: dec.Destination})

	if ctx, ok := m.acks.Match(msg.Source, msg.Destination, pdu.Opcode); ok {
		m.mu.Lock()
		h := m.busy[ctx.Destination()]
		m.mu.Unlock()
		if h != nil && h.source == ctx.Source() {
			m.finish(h, message, nil)
		}
	}

	req := &Request{
		Message:        message,
		Source:         msg.Source,
		Destination:    dec.Destination,
		ApplicationKey: dec.Key.ApplicationKey,
		NetworkKey:     msg.NetworkKey,
		TTL:            msg.TTL,
	}
	if dec.Key.IsDeviceKey() && msg.Destination == local.Unicast && !m.config.DisableConfigServer {
		req.Element = local.Unicast
		if m.serveConfig(req) {
			return
		}
	}
	for _, e := range elements {
		m.mu.Lock()
		h := m.handlers[e.Address]
		m.mu.Unlock()
		if h == nil {
			continue
		}
		r := *req
		r.Element = e.Address
		if response := h.HandleMessage(&r); response != nil {
			if err := m.Reply(&r, response); err != nil && m.log != nil {
				m.log.Warnf("reply 0x%X to %s failed: %v", response.OpCode(), r.Source, err)
			}
		}
	}
}

// receivingElements returns the local elements a message to dst is for.
func receivingElements(local *directory.Node, dst address.Address) []*directory.Element {
	if dst.IsUnicast() {
		if e, ok := local.Element(dst); ok {
			return []*directory.Element{e}
		}
		return nil
	}
	var out []*directory.Element
	for _, e := range local.Elements {
		if e.Receives(dst) {
			out = append(out, e)
		}
	}
	return out
}

// candidates lists the keys that may have secured msg: application keys
// bound to the network key it arrived with, or the device keys of the
// local node and of the sender.
func (m *NetworkManager) candidates(msg *lower.UpperMessage, local *directory.Node) []upper.Candidate {
	var out []upper.Candidate
	if msg.AKF {
		for _, ak := range m.dir.ApplicationKeys() {
			if ak.BoundNetworkKey() != msg.NetworkKey {
				continue
			}
			for _, k := range ak.ReceiveKeys(msg.AID) {
				out = append(out, upper.Candidate{Key: k.Key, ApplicationKey: ak})
			}
		}
		return out
	}
	if dk := local.DeviceKey(); len(dk) == 16 {
		out = append(out, upper.Candidate{Key: dk})
	}
	if node, ok := m.dir.Node(msg.Source); ok {
		if dk := node.DeviceKey(); len(dk) == 16 {
			out = append(out, upper.Candidate{Key: dk})
		}
	}
	return out
}
