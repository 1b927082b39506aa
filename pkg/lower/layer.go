package lower

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/metrics"
	"github.com/backkem/btmesh/pkg/params"
	"github.com/backkem/btmesh/pkg/reliability"
)

// DefaultMaxConcurrentReassemblies bounds the segmented messages received
// in parallel. Further senders get a busy acknowledgement.
const DefaultMaxConcurrentReassemblies = 8

// DefaultCompletedCacheSize is the number of completed SeqAuth values
// remembered to re-acknowledge duplicate segments.
const DefaultCompletedCacheSize = 64

// UpperMessage is a complete upper transport PDU handed up by the layer.
type UpperMessage struct {
	// Meta.Sequence is the SeqAuth of the message.
	Meta
	Control   bool
	Segmented bool

	AKF   bool
	AID   uint8
	SZMIC bool

	Opcode uint8

	// Payload is the encrypted access payload with TransMIC, or the control
	// message parameters.
	Payload []byte
}

// Config configures a Layer.
type Config struct {
	Parameters params.NetworkParameters

	// Scheduler runs the SAR timers. Defaults to reliability.DefaultScheduler.
	Scheduler reliability.Scheduler

	// Transmit hands a PDU to the network layer. Required.
	Transmit func(PDU) error

	// Deliver receives every complete upper transport PDU. Required.
	Deliver func(*UpperMessage)

	MaxConcurrentReassemblies int
	CompletedCacheSize        int

	LoggerFactory logging.LoggerFactory
	Metrics       *metrics.Recorder
}

func (c *Config) applyDefaults() {
	if c.Scheduler == nil {
		c.Scheduler = reliability.DefaultScheduler
	}
	if c.MaxConcurrentReassemblies <= 0 {
		c.MaxConcurrentReassemblies = DefaultMaxConcurrentReassemblies
	}
	if c.CompletedCacheSize <= 0 {
		c.CompletedCacheSize = DefaultCompletedCacheSize
	}
	if c.Parameters.DefaultTTL() == 0 {
		c.Parameters = params.Default()
	}
}

// Layer is the lower transport SAR engine.
type Layer struct {
	config Config
	log    logging.LeveledLogger

	mu        sync.Mutex
	outgoing  map[txKey]*outgoing
	incoming  map[rxKey]*incoming
	completed *expirable.LRU[completedKey, uint8]
	closed    bool
}

type txKey struct {
	src, dst address.Address
	seqZero  uint16
}

type rxKey struct {
	src     address.Address
	seqZero uint16
}

type completedKey struct {
	src     address.Address
	seqAuth uint32
}

// NewLayer creates a Layer.
func NewLayer(config Config) (*Layer, error) {
	if config.Transmit == nil || config.Deliver == nil {
		return nil, fmt.Errorf("lower: Transmit and Deliver are required")
	}
	config.applyDefaults()

	l := &Layer{
		config:    config,
		outgoing:  make(map[txKey]*outgoing),
		incoming:  make(map[rxKey]*incoming),
		completed: expirable.NewLRU[completedKey, uint8](config.CompletedCacheSize, nil, config.Parameters.IncompleteTimerInterval()),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("lower")
	}
	return l, nil
}

// SetParameters replaces the SAR parameters for transfers started later.
func (l *Layer) SetParameters(p params.NetworkParameters) {
	l.mu.Lock()
	l.config.Parameters = p
	l.mu.Unlock()
}

// Send transmits an unsegmented PDU.
func (l *Layer) Send(pdu PDU) error {
	switch pdu.(type) {
	case *AccessMessage, *ControlMessage:
	default:
		return fmt.Errorf("lower: Send takes unsegmented PDUs, got %T", pdu)
	}
	return l.config.Transmit(pdu)
}

// SendSegmentedAccess segments upper and runs the SAR transmitter. meta.Sequence
// must be the SeqAuth the payload was encrypted with. done is called exactly
// once, from a timer or Receive goroutine, with nil or an Error.
func (l *Layer) SendSegmentedAccess(meta Meta, akf bool, aid uint8, szmic bool, upper []byte, done func(error)) error {
	segs, err := SegmentAccess(meta, akf, aid, szmic, uint16(meta.Sequence&SeqZeroMask), upper)
	if err != nil {
		return err
	}
	pdus := make([]PDU, len(segs))
	for i, s := range segs {
		pdus[i] = s
	}
	return l.start(meta, uint16(meta.Sequence&SeqZeroMask), pdus, done)
}

// SendSegmentedControl segments a control message and runs the SAR
// transmitter.
func (l *Layer) SendSegmentedControl(meta Meta, opcode uint8, parameters []byte, done func(error)) error {
	segs, err := SegmentControl(meta, opcode, uint16(meta.Sequence&SeqZeroMask), parameters)
	if err != nil {
		return err
	}
	pdus := make([]PDU, len(segs))
	for i, s := range segs {
		pdus[i] = s
	}
	return l.start(meta, uint16(meta.Sequence&SeqZeroMask), pdus, done)
}

// Receive processes an inbound lower transport PDU.
func (l *Layer) Receive(pdu PDU) {
	switch m := pdu.(type) {
	case *AccessMessage:
		l.config.Deliver(&UpperMessage{
			Meta:    m.Meta,
			AKF:     m.AKF,
			AID:     m.AID,
			Payload: m.UpperTransportPDU,
		})
	case *ControlMessage:
		l.config.Deliver(&UpperMessage{
			Meta:    m.Meta,
			Control: true,
			Opcode:  m.Opcode,
			Payload: m.Parameters,
		})
	case *SegmentAcknowledgementMessage:
		l.receiveAck(m)
	case *SegmentedAccessMessage:
		l.receiveSegment(m.Meta, segmentInfo{
			seqZero: m.SeqZero, segO: m.SegO, segN: m.SegN, data: m.Segment,
			akf: m.AKF, aid: m.AID, szmic: m.SZMIC,
		})
	case *SegmentedControlMessage:
		l.receiveSegment(m.Meta, segmentInfo{
			seqZero: m.SeqZero, segO: m.SegO, segN: m.SegN, data: m.Segment,
			control: true, opcode: m.Opcode,
		})
	}
}

// Cancel stops every outgoing segmented transfer from src to dst. Their done
// callbacks receive ErrCancelled. It reports whether anything was cancelled.
func (l *Layer) Cancel(src, dst address.Address) bool {
	l.mu.Lock()
	var cancelled []*outgoing
	for k, o := range l.outgoing {
		if k.src == src && k.dst == dst {
			o.stopLocked()
			delete(l.outgoing, k)
			cancelled = append(cancelled, o)
		}
	}
	l.mu.Unlock()

	for _, o := range cancelled {
		o.done(ErrCancelled)
	}
	return len(cancelled) > 0
}

// Outgoing returns the number of segmented transfers in progress.
func (l *Layer) Outgoing() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outgoing)
}

// Incoming returns the number of reassemblies in progress.
func (l *Layer) Incoming() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.incoming)
}

// Close stops all timers. Outgoing transfers fail with ErrCancelled.
func (l *Layer) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	var cancelled []*outgoing
	for k, o := range l.outgoing {
		o.stopLocked()
		delete(l.outgoing, k)
		cancelled = append(cancelled, o)
	}
	for k, in := range l.incoming {
		in.stopLocked()
		delete(l.incoming, k)
	}
	l.completed.Purge()
	l.mu.Unlock()

	for _, o := range cancelled {
		o.done(ErrCancelled)
	}
}

func (l *Layer) transmit(pdus []PDU) {
	for _, p := range pdus {
		if err := l.config.Transmit(p); err != nil && l.log != nil {
			l.log.Errorf("transmit %T to %s failed: %v", p, p.Header().Destination, err)
		}
	}
}
