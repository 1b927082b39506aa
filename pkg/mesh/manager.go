package mesh

import (
	"errors"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/lower"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/reliability"
	"github.com/backkem/btmesh/pkg/trace"
)

// NetworkManager sends and receives mesh messages for the local node.
// It is safe for concurrent use.
type NetworkManager struct {
	config  Config
	dir     directory.Directory
	tx      bearer.Transmitter
	lower   *lower.Layer
	acks    *reliability.AckTable
	tids    *reliability.TransactionTable
	replay  *network.ReplayCache
	cache   *network.Cache
	log     logging.LeveledLogger
	session string

	mu         sync.Mutex
	iv         network.IVIndex
	sequences  map[address.Address]*network.SequenceCounter
	busy       map[address.Address]*MessageHandle
	handlers   map[address.Address]Handler
	publishers map[publisherKey]*publisher
	closed     bool
}

// NewNetworkManager creates a manager. Inbound PDUs are fed to HandlePDU,
// typically as the bearer's handler.
func NewNetworkManager(config Config) (*NetworkManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	m := &NetworkManager{
		config:     config,
		dir:        config.Directory,
		tx:         config.Transmitter,
		acks:       reliability.NewAckTable(config.Scheduler),
		tids:       reliability.NewTransactionTable(config.Scheduler),
		replay:     network.NewReplayCache(),
		cache:      network.NewCache(config.NetworkCacheSize, network.DefaultCacheTTL),
		session:    trace.NewSessionID(),
		iv:         config.IVIndex,
		sequences:  make(map[address.Address]*network.SequenceCounter),
		busy:       make(map[address.Address]*MessageHandle),
		handlers:   make(map[address.Address]Handler),
		publishers: make(map[publisherKey]*publisher),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("mesh")
	}

	l, err := lower.NewLayer(lower.Config{
		Parameters:                config.Parameters,
		Scheduler:                 config.Scheduler,
		Transmit:                  m.transmitLower,
		Deliver:                   m.deliver,
		MaxConcurrentReassemblies: config.MaxConcurrentReassemblies,
		LoggerFactory:             config.LoggerFactory,
		Metrics:                   config.Metrics,
	})
	if err != nil {
		return nil, err
	}
	m.lower = l
	return m, nil
}

// IVIndex returns the current IV Index state.
func (m *NetworkManager) IVIndex() network.IVIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iv
}

// SequenceNumber returns the next sequence number element will use, for
// persisting across restarts.
func (m *NetworkManager) SequenceNumber(element address.Address) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sequences[element]; ok {
		return c.Current()
	}
	return m.config.Sequence
}

// RegisterHandler installs the handler for messages received by a local
// element. A nil handler removes it.
func (m *NetworkManager) RegisterHandler(element address.Address, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, element)
		return
	}
	m.handlers[element] = h
}

// Close cancels every message in flight and stops all timers. Pending
// handles complete with access.ErrCancelled.
func (m *NetworkManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := make([]*MessageHandle, 0, len(m.busy))
	for _, h := range m.busy {
		handles = append(handles, h)
	}
	for k, p := range m.publishers {
		p.stopLocked()
		delete(m.publishers, k)
	}
	m.mu.Unlock()

	m.acks.Close()
	m.lower.Close()
	for _, h := range handles {
		m.finish(h, nil, access.ErrCancelled)
	}
	if m.log != nil {
		m.log.Infof("network manager closed")
	}
	return nil
}

func (m *NetworkManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *NetworkManager) transmitIVIndex() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iv.TransmitIndex()
}

func (m *NetworkManager) nextSequence(src address.Address) (uint32, error) {
	m.mu.Lock()
	c, ok := m.sequences[src]
	if !ok {
		c = network.NewSequenceCounter(m.config.Sequence)
		m.sequences[src] = c
	}
	m.mu.Unlock()
	return c.Next()
}

// transmitLower is the network layer below the SAR engine. Unsegmented
// access messages keep the sequence number their payload was encrypted
// with; every other PDU takes a fresh one.
func (m *NetworkManager) transmitLower(pdu lower.PDU) error {
	meta := pdu.Header()
	if meta.NetworkKey == nil {
		return access.ErrNoNetworkKey
	}

	seq := meta.Sequence
	ivIndex := meta.IVIndex
	if _, ok := pdu.(*lower.AccessMessage); !ok {
		s, err := m.nextSequence(meta.Source)
		if err != nil {
			return err
		}
		seq = s
	}
	if _, ok := pdu.(*lower.SegmentAcknowledgementMessage); ok {
		ivIndex = m.transmitIVIndex()
	}

	transport := pdu.Encode()
	data, err := network.Encode(&network.PDU{
		CTL:          pdu.Control(),
		TTL:          meta.TTL,
		Sequence:     seq,
		Source:       meta.Source,
		Destination:  meta.Destination,
		TransportPDU: transport,
	}, meta.NetworkKey.TransmitDerivatives(), ivIndex)
	if err != nil {
		return err
	}
	// Our own PDUs may be echoed back by the bearer.
	m.cache.Seen(data)

	m.traceEvent(trace.Event{
		Direction:   trace.DirectionOut,
		Layer:       trace.LayerNetwork,
		Source:      uint16(meta.Source),
		Destination: uint16(meta.Destination),
		Sequence:    seq,
		Data:        data,
	})
	return m.tx.Send(data, bearer.NetworkPDU)
}

// HandlePDU processes a PDU received from a bearer. It matches the
// bearer.Handler signature.
func (m *NetworkManager) HandlePDU(data []byte, t bearer.PduType) {
	if m.isClosed() {
		return
	}
	switch t {
	case bearer.NetworkPDU:
		m.handleNetworkPDU(data)
	case bearer.MeshBeacon:
		m.handleBeacon(data)
	default:
		if m.log != nil {
			m.log.Debugf("%v: %s", ErrUnsupportedPDU, t)
		}
		m.config.Metrics.ObservePDUDropped("unsupported-type")
	}
}

func (m *NetworkManager) handleNetworkPDU(data []byte) {
	if m.cache.Seen(data) {
		m.config.Metrics.ObservePDUDropped("duplicate")
		return
	}
	pdu, err := network.Decode(data, m.dir.NetworkKeys(), m.IVIndex())
	if err != nil {
		if m.log != nil {
			m.log.Debugf("dropping network PDU: %v", err)
		}
		m.config.Metrics.ObservePDUDropped("network-auth")
		return
	}
	m.traceEvent(trace.Event{
		Direction:   trace.DirectionIn,
		Layer:       trace.LayerNetwork,
		Source:      uint16(pdu.Source),
		Destination: uint16(pdu.Destination),
		Sequence:    pdu.Sequence,
		Data:        data,
	})

	if local := m.dir.LocalNode(); local != nil && local.Contains(pdu.Source) {
		m.config.Metrics.ObservePDUDropped("own-source")
		return
	}
	if !m.replay.Accept(pdu.Source, pdu.IVIndex, pdu.Sequence) {
		if m.log != nil {
			m.log.Debugf("replayed PDU from %s seq=%d", pdu.Source, pdu.Sequence)
		}
		m.config.Metrics.ObservePDUDropped("replay")
		return
	}

	lp, err := lower.Decode(pdu.TransportPDU, pdu.CTL, lower.Meta{
		Source:      pdu.Source,
		Destination: pdu.Destination,
		NetworkKey:  pdu.NetworkKey,
		IVIndex:     pdu.IVIndex,
		TTL:         pdu.TTL,
		Sequence:    pdu.Sequence,
	})
	if err != nil {
		if m.log != nil {
			m.log.Debugf("dropping lower transport PDU from %s: %v", pdu.Source, err)
		}
		m.config.Metrics.ObservePDUDropped("lower-decode")
		m.traceEvent(trace.Event{
			Direction: trace.DirectionIn,
			Layer:     trace.LayerLowerTransport,
			Source:    uint16(pdu.Source),
			Error:     err.Error(),
		})
		return
	}
	m.lower.Receive(lp)
}

func (m *NetworkManager) traceEvent(e trace.Event) {
	e.Timestamp = m.config.Scheduler.Now()
	e.SessionID = m.session
	m.config.Trace.Log(e)
}

func (m *NetworkManager) emit(e Event) {
	if m.config.OnEvent != nil {
		m.config.OnEvent(e)
	}
}

// accessError maps any failure onto the access error taxonomy.
func accessError(err error) error {
	var ae access.Error
	if errors.As(err, &ae) {
		return ae
	}
	var le lower.Error
	if errors.As(err, &le) {
		return le.AccessError()
	}
	return access.ErrMessageSendingFailed
}
