package mesh

import (
	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/lower"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/reliability"
	"github.com/backkem/btmesh/pkg/trace"
	"github.com/backkem/btmesh/pkg/upper"
)

// DefaultTTL selects the Default TTL of the network parameters.
const DefaultTTL uint8 = 0xFF

// outbound is one message on its way to the lower transport.
type outbound struct {
	msg    access.Message
	src    address.Address
	dst    address.MeshAddress
	ttl    uint8
	keySet keys.KeySet

	// exclusive messages occupy the destination until they complete.
	exclusive bool
	// retransmit keeps the current transaction identifier.
	retransmit bool
	// silent messages emit no events.
	silent bool
}

// Send sends msg from a local element to dst, secured with appKey. A zero
// from selects the primary element; ttl may be DefaultTTL.
//
// Validation failures are returned synchronously and leave no state
// behind. Failures after the message was handed off complete the handle
// and emit MessageSendingFailed.
func (m *NetworkManager) Send(msg access.Message, from address.Address, dst address.MeshAddress, ttl uint8, appKey *keys.ApplicationKey) (*MessageHandle, error) {
	src, err := m.sourceElement(from)
	if err != nil {
		return nil, err
	}
	if appKey == nil {
		return nil, access.ErrInvalidKey
	}
	keySet, err := keys.NewAccessKeySet(appKey)
	if err != nil {
		return nil, access.ErrNoNetworkKey
	}
	return m.send(outbound{msg: msg, src: src, dst: dst, ttl: ttl, keySet: keySet, exclusive: true})
}

// SendConfig sends a configuration message from the primary element to
// the node owning dst, secured with that node's device key.
func (m *NetworkManager) SendConfig(msg access.Message, dst address.Address, ttl uint8) (*MessageHandle, error) {
	src, err := m.sourceElement(address.Unassigned)
	if err != nil {
		return nil, err
	}
	if !dst.IsUnicast() {
		return nil, access.ErrInvalidDestination
	}
	node, ok := m.dir.Node(dst)
	if !ok {
		return nil, access.ErrInvalidDestination
	}
	nk := m.nodeNetworkKey(node)
	if nk == nil {
		return nil, access.ErrNoNetworkKey
	}
	keySet, ok := keys.NewDeviceKeySet(nk, node)
	if !ok {
		return nil, access.ErrNoDeviceKey
	}
	return m.send(outbound{msg: msg, src: src, dst: address.New(dst), ttl: ttl, keySet: keySet, exclusive: true})
}

// Reply answers req from the element that received it, with the key it
// was secured with. Replies do not occupy the destination.
func (m *NetworkManager) Reply(req *Request, response access.Message) error {
	local := m.dir.LocalNode()
	if local == nil {
		return access.ErrInvalidSource
	}
	var (
		keySet keys.KeySet
		err    error
	)
	if req.ApplicationKey != nil {
		if keySet, err = keys.NewAccessKeySet(req.ApplicationKey); err != nil {
			return access.ErrNoNetworkKey
		}
	} else {
		ks, ok := keys.NewDeviceKeySet(req.NetworkKey, local)
		if !ok {
			return access.ErrNoDeviceKey
		}
		keySet = ks
	}
	_, err = m.send(outbound{msg: response, src: req.Element, dst: address.New(req.Source), ttl: DefaultTTL, keySet: keySet})
	return err
}

func (m *NetworkManager) sourceElement(from address.Address) (address.Address, error) {
	local := m.dir.LocalNode()
	if local == nil || !local.Unicast.IsUnicast() {
		return 0, access.ErrInvalidSource
	}
	if from == address.Unassigned {
		return local.Unicast, nil
	}
	if !local.Contains(from) {
		return 0, access.ErrInvalidElement
	}
	return from, nil
}

// nodeNetworkKey is the first of the node's network keys the directory
// knows, or any network key for nodes that list none.
func (m *NetworkManager) nodeNetworkKey(node *directory.Node) *keys.NetworkKey {
	for _, i := range node.NetworkKeys {
		if nk, ok := m.dir.NetworkKey(i); ok {
			return nk
		}
	}
	if all := m.dir.NetworkKeys(); len(all) > 0 {
		return all[0]
	}
	return nil
}

func (m *NetworkManager) resolveTTL(ttl uint8) (uint8, error) {
	if ttl == DefaultTTL {
		return m.config.Parameters.DefaultTTL(), nil
	}
	if ttl == 1 || ttl > network.MaxTTL {
		return 0, access.ErrInvalidTTL
	}
	return ttl, nil
}

func (m *NetworkManager) send(o outbound) (*MessageHandle, error) {
	ttl, err := m.resolveTTL(o.ttl)
	if err != nil {
		return nil, err
	}
	o.ttl = ttl
	if !o.dst.Address.IsValidDestination() {
		return nil, access.ErrInvalidDestination
	}
	// Encoding once up front rejects oversized messages before any state
	// is touched.
	if _, err := access.NewPDU(o.msg, o.src, o.dst); err != nil {
		return nil, err
	}

	h := newHandle(m, o.msg, o.src, o.dst)
	h.silent = o.silent
	_, acked := o.msg.(access.AcknowledgedMessage)
	h.acknowledged = acked && o.exclusive && o.dst.Address.IsUnicast()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if o.exclusive {
		if _, busy := m.busy[o.dst.Address]; busy {
			m.mu.Unlock()
			return nil, access.ErrBusy
		}
		m.busy[o.dst.Address] = h
	}
	busyCount := len(m.busy)
	m.mu.Unlock()
	m.config.Metrics.SetBusyDestinations(busyCount)

	m.tids.Assign(o.msg, o.src, o.dst.Address, o.retransmit)
	pdu, err := access.NewPDU(o.msg, o.src, o.dst)
	if err != nil {
		m.release(h)
		return nil, err
	}
	h.segmented = pdu.IsSegmented()

	if h.acknowledged {
		p := m.config.Parameters
		_, err := m.acks.Add(reliability.AckRequest{
			Message:     o.msg.(access.AcknowledgedMessage),
			Source:      o.src,
			Destination: o.dst.Address,
			Interval:    p.AcknowledgementMessageInterval(o.ttl, pdu.SegmentCount()),
			Timeout:     p.AcknowledgementMessageTimeout(),
			Resend:      func() { m.resend(h, o, pdu) },
			OnTimeout:   func() { m.finish(h, nil, access.ErrTimeout) },
		})
		if err != nil {
			m.release(h)
			return nil, access.ErrBusy
		}
		m.config.Metrics.SetPendingAcks(m.acks.Len())
	}

	if m.log != nil {
		m.log.Debugf("sending 0x%X %s -> %s ttl=%d segmented=%t", pdu.Opcode, o.src, o.dst, o.ttl, h.segmented)
	}
	if err := m.transmitAccess(h, o, pdu); err != nil {
		if m.log != nil {
			m.log.Warnf("sending 0x%X to %s failed: %v", pdu.Opcode, o.dst, err)
		}
		m.finish(h, nil, accessError(err))
		return h, nil
	}
	if !h.segmented {
		if h.acknowledged {
			m.markSent(h)
		} else {
			m.finish(h, nil, nil)
		}
	}
	return h, nil
}

// transmitAccess encrypts pdu with a fresh SeqAuth and hands it to the
// lower transport.
func (m *NetworkManager) transmitAccess(h *MessageHandle, o outbound, pdu *access.PDU) error {
	seq, err := m.nextSequence(o.src)
	if err != nil {
		return err
	}
	ivIndex := m.transmitIVIndex()
	enc, err := upper.Encrypt(&upper.AccessPDU{
		Source:      o.src,
		Destination: o.dst,
		Sequence:    seq,
		IVIndex:     ivIndex,
		SZMIC:       h.segmented && pdu.Security == access.SecurityHigh,
		Payload:     pdu.Encoded,
	}, o.keySet)
	if err != nil {
		return err
	}
	m.traceEvent(trace.Event{
		Direction:   trace.DirectionOut,
		Layer:       trace.LayerAccess,
		Source:      uint16(o.src),
		Destination: uint16(o.dst.Address),
		Opcode:      pdu.Opcode,
		Sequence:    seq,
		Data:        pdu.Encoded,
	})

	meta := lower.Meta{
		Source:      o.src,
		Destination: o.dst.Address,
		NetworkKey:  o.keySet.NetworkKey(),
		IVIndex:     ivIndex,
		TTL:         o.ttl,
		Sequence:    seq,
	}
	if !h.segmented {
		return m.lower.Send(&lower.AccessMessage{Meta: meta, AKF: enc.AKF, AID: enc.AID, UpperTransportPDU: enc.Data})
	}

	m.mu.Lock()
	h.attempt++
	attempt := h.attempt
	h.sending = true
	m.mu.Unlock()
	return m.lower.SendSegmentedAccess(meta, enc.AKF, enc.AID, enc.SZMIC, enc.Data, func(err error) {
		m.segmentsDone(h, attempt, err)
	})
}

func (m *NetworkManager) segmentsDone(h *MessageHandle, attempt int, err error) {
	m.mu.Lock()
	if attempt != h.attempt {
		m.mu.Unlock()
		return
	}
	h.sending = false
	m.mu.Unlock()

	switch {
	case err != nil:
		m.finish(h, nil, accessError(err))
	case h.acknowledged:
		m.markSent(h)
	default:
		m.finish(h, nil, nil)
	}
}

// resend runs from the acknowledgement retry timer. The message is not
// resent while its segments are still being transmitted.
func (m *NetworkManager) resend(h *MessageHandle, o outbound, pdu *access.PDU) {
	m.mu.Lock()
	skip := h.sending || m.closed
	m.mu.Unlock()
	if skip || h.isDone() {
		return
	}
	m.config.Metrics.ObserveAckRetry()
	if m.log != nil {
		m.log.Debugf("no response to 0x%X from %s, resending", pdu.Opcode, o.dst)
	}
	if err := m.transmitAccess(h, o, pdu); err != nil && m.log != nil {
		m.log.Warnf("resending 0x%X to %s failed: %v", pdu.Opcode, o.dst, err)
	}
}

func (m *NetworkManager) markSent(h *MessageHandle) {
	m.mu.Lock()
	already := h.sent
	h.sent = true
	m.mu.Unlock()
	if already || h.silent {
		return
	}
	m.config.Metrics.ObserveMessageSent()
	m.emit(MessageSent{Message: h.message, Source: h.source, Destination: h.destination})
}

// finish completes h once: the destination is released, timers and
// outstanding segments are stopped and the outcome event is emitted.
func (m *NetworkManager) finish(h *MessageHandle, response access.Message, err error) {
	if !h.complete(response, err) {
		return
	}
	m.mu.Lock()
	sending := h.sending
	h.sending = false
	h.attempt++
	m.mu.Unlock()

	m.release(h)
	if h.acknowledged {
		m.acks.Cancel(h.source, h.destination.Address)
		m.config.Metrics.SetPendingAcks(m.acks.Len())
	}
	if sending {
		m.lower.Cancel(h.source, h.destination.Address)
	}

	if err != nil {
		if m.log != nil {
			m.log.Debugf("0x%X %s -> %s failed: %v", h.message.OpCode(), h.source, h.destination, err)
		}
		reason := "unknown"
		if ae, ok := err.(access.Error); ok {
			reason = ae.String()
		}
		m.config.Metrics.ObserveMessageFailed(reason)
		if h.silent {
			return
		}
		m.emit(MessageSendingFailed{Message: h.message, Source: h.source, Destination: h.destination, Err: err})
		return
	}
	m.markSent(h)
}

func (m *NetworkManager) release(h *MessageHandle) {
	m.mu.Lock()
	if m.busy[h.destination.Address] == h {
		delete(m.busy, h.destination.Address)
	}
	n := len(m.busy)
	m.mu.Unlock()
	m.config.Metrics.SetBusyDestinations(n)
}

func (m *NetworkManager) cancel(h *MessageHandle) {
	m.mu.Lock()
	cancellable := h.acknowledged || h.sending
	m.mu.Unlock()
	if !cancellable {
		return
	}
	m.finish(h, nil, access.ErrCancelled)
}

// Busy reports whether a message to dst is in flight.
func (m *NetworkManager) Busy(dst address.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.busy[dst]
	return ok
}
