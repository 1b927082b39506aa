package lower

import (
	"time"

	"github.com/backkem/btmesh/pkg/reliability"
)

type segmentInfo struct {
	seqZero uint16
	segO    uint8
	segN    uint8
	data    []byte

	control bool
	opcode  uint8

	akf   bool
	aid   uint8
	szmic bool
}

// incoming is one segmented message being reassembled.
type incoming struct {
	key      rxKey
	meta     Meta
	info     segmentInfo
	segments [][]byte
	received BlockAck
	unicast  bool

	ackTimer     reliability.Timer
	discardTimer reliability.Timer
	discardAt    time.Time
	gen          uint64
}

func (in *incoming) stopLocked() {
	if in.ackTimer != nil {
		in.ackTimer.Stop()
		in.ackTimer = nil
	}
	if in.discardTimer != nil {
		in.discardTimer.Stop()
		in.discardTimer = nil
	}
	in.gen++
}

func (in *incoming) segmentSize() int {
	if in.info.control {
		return ControlSegmentSize
	}
	return AccessSegmentSize
}

// accepts reports whether seg belongs to this reassembly and has a legal
// length for its offset.
func (in *incoming) accepts(seg segmentInfo) bool {
	if seg.segO > seg.segN || seg.segN != in.info.segN || seg.control != in.info.control {
		return false
	}
	if seg.control && seg.opcode != in.info.opcode {
		return false
	}
	if !seg.control && (seg.akf != in.info.akf || seg.aid != in.info.aid || seg.szmic != in.info.szmic) {
		return false
	}
	size := in.segmentSize()
	if len(seg.data) == 0 || len(seg.data) > size {
		return false
	}
	return seg.segO == seg.segN || len(seg.data) == size
}

func (l *Layer) receiveSegment(meta Meta, seg segmentInfo) {
	l.config.Metrics.ObserveSegmentReceived()
	seqAuth := SeqAuth(meta.Sequence, seg.seqZero)
	unicast := meta.Destination.IsUnicast()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}

	if segN, ok := l.completed.Get(completedKey{src: meta.Source, seqAuth: seqAuth}); ok {
		l.mu.Unlock()
		if unicast {
			l.sendAck(meta, seg.seqZero, BlockAck(FullBlockAck(segN)))
		}
		return
	}

	key := rxKey{src: meta.Source, seqZero: seg.seqZero}
	in, ok := l.incoming[key]
	if ok && in.meta.Sequence != seqAuth {
		if seqAuth < in.meta.Sequence {
			l.mu.Unlock()
			return
		}
		in.stopLocked()
		delete(l.incoming, key)
		ok = false
	}

	if !ok {
		if len(l.incoming) >= l.config.MaxConcurrentReassemblies {
			l.mu.Unlock()
			if l.log != nil {
				l.log.Warnf("reassembly limit reached, rejecting %s seqZero=%d", meta.Source, seg.seqZero)
			}
			l.config.Metrics.ObservePDUDropped("reassembly-busy")
			if unicast {
				l.sendAck(meta, seg.seqZero, 0)
			}
			return
		}
		m := meta
		m.Sequence = seqAuth
		in = &incoming{
			key:      key,
			meta:     m,
			info:     seg,
			segments: make([][]byte, int(seg.segN)+1),
			unicast:  unicast,
		}
		l.incoming[key] = in
		l.config.Metrics.SetActiveReassemblies(len(l.incoming))
	}

	if !in.accepts(seg) {
		if in.received == 0 {
			delete(l.incoming, key)
		}
		l.mu.Unlock()
		if l.log != nil {
			l.log.Warnf("%v: %s seqZero=%d segO=%d", ErrSegmentMismatch, meta.Source, seg.seqZero, seg.segO)
		}
		l.config.Metrics.ObservePDUDropped("segment-mismatch")
		return
	}
	if in.received.Has(seg.segO) {
		l.mu.Unlock()
		return
	}
	in.segments[seg.segO] = seg.data
	in.received = in.received.Set(seg.segO)

	if in.received.Complete(in.info.segN) {
		in.stopLocked()
		delete(l.incoming, key)
		l.completed.Add(completedKey{src: in.meta.Source, seqAuth: seqAuth}, in.info.segN)
		l.config.Metrics.SetActiveReassemblies(len(l.incoming))
		retries := 0
		if in.info.segN > l.config.Parameters.SegmentsThreshold() {
			retries = int(l.config.Parameters.AcknowledgementRetransmissionsCount())
		}
		interval := l.config.Parameters.SegmentReceptionInterval()
		l.mu.Unlock()

		if in.unicast {
			full := BlockAck(FullBlockAck(in.info.segN))
			l.sendAck(in.meta, seg.seqZero, full)
			for i := 1; i <= retries; i++ {
				l.config.Scheduler.AfterFunc(time.Duration(i)*interval, func() {
					l.sendAck(in.meta, seg.seqZero, full)
				})
			}
		}
		l.config.Deliver(in.upper())
		return
	}

	// The incomplete timer restarts with every new segment.
	if in.discardTimer != nil {
		in.discardTimer.Stop()
	}
	gen := in.gen
	discard := l.config.Parameters.IncompleteTimerInterval()
	in.discardAt = l.config.Scheduler.Now().Add(discard)
	in.discardTimer = l.config.Scheduler.AfterFunc(discard, func() {
		l.onDiscard(in, gen)
	})
	if in.unicast && in.ackTimer == nil {
		in.ackTimer = l.config.Scheduler.AfterFunc(l.config.Parameters.AcknowledgementTimerInterval(in.info.segN), func() {
			l.onAckTimer(in, gen)
		})
	}
	l.mu.Unlock()
}

func (l *Layer) onAckTimer(in *incoming, gen uint64) {
	l.mu.Lock()
	if in.gen != gen || l.incoming[in.key] != in {
		l.mu.Unlock()
		return
	}
	in.ackTimer = nil
	received := in.received
	l.mu.Unlock()

	l.sendAck(in.meta, in.key.seqZero, received)
}

func (l *Layer) onDiscard(in *incoming, gen uint64) {
	l.mu.Lock()
	if in.gen != gen || l.incoming[in.key] != in || l.config.Scheduler.Now().Before(in.discardAt) {
		l.mu.Unlock()
		return
	}
	in.stopLocked()
	delete(l.incoming, in.key)
	l.config.Metrics.SetActiveReassemblies(len(l.incoming))
	l.mu.Unlock()

	if l.log != nil {
		l.log.Debugf("discarding incomplete message from %s seqZero=%d received=%#x", in.key.src, in.key.seqZero, uint32(in.received))
	}
	l.config.Metrics.ObservePDUDropped("reassembly-timeout")
}

// sendAck acknowledges a segmented message described by the received meta.
func (l *Layer) sendAck(received Meta, seqZero uint16, blockAck BlockAck) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	ttl := l.config.Parameters.DefaultTTL()
	l.mu.Unlock()
	if received.TTL == 0 {
		ttl = 0
	}

	ack := &SegmentAcknowledgementMessage{
		Meta: Meta{
			Source:      received.Destination,
			Destination: received.Source,
			NetworkKey:  received.NetworkKey,
			IVIndex:     received.IVIndex,
			TTL:         ttl,
		},
		SeqZero:  seqZero,
		BlockAck: blockAck,
	}
	l.config.Metrics.ObserveSegmentAck(blockAck == 0)
	l.transmit([]PDU{ack})
}

func (in *incoming) upper() *UpperMessage {
	return &UpperMessage{
		Meta:      in.meta,
		Control:   in.info.control,
		Segmented: true,
		AKF:       in.info.akf,
		AID:       in.info.aid,
		SZMIC:     in.info.szmic,
		Opcode:    in.info.opcode,
		Payload:   Join(in.segments),
	}
}
