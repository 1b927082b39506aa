package lower

import (
	"time"

	"github.com/backkem/btmesh/pkg/reliability"
)

// outgoing is one segmented message being transmitted.
type outgoing struct {
	key      txKey
	segments []PDU
	segN     uint8
	acked    BlockAck
	unicast  bool
	interval time.Duration

	// remaining retransmissions, and for unicast the remaining
	// retransmissions without progress.
	remaining       int
	withoutProgress int

	// queue holds the segments of the current burst not sent yet. They go
	// out one SegmentTransmissionInterval apart.
	queue      []uint8
	retransmit bool

	// timer paces the burst, then waits for the retransmission.
	timer reliability.Timer
	gen   uint64
	done  func(error)
}

func (o *outgoing) stopLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.queue = nil
	o.gen++
}

func (o *outgoing) missing() []uint8 {
	var out []uint8
	for i := range o.segments {
		if !o.acked.Has(uint8(i)) {
			out = append(out, uint8(i))
		}
	}
	return out
}

// nextLocked pops the next queued segment that is still unacknowledged.
func (o *outgoing) nextLocked() (PDU, bool) {
	for len(o.queue) > 0 {
		i := o.queue[0]
		o.queue = o.queue[1:]
		if !o.acked.Has(i) {
			return o.segments[i], true
		}
	}
	return nil, false
}

func (l *Layer) start(meta Meta, seqZero uint16, segments []PDU, done func(error)) error {
	if done == nil {
		done = func(error) {}
	}
	p := l.config.Parameters
	o := &outgoing{
		key:      txKey{src: meta.Source, dst: meta.Destination, seqZero: seqZero},
		segments: segments,
		segN:     uint8(len(segments) - 1),
		unicast:  meta.Destination.IsUnicast(),
		done:     done,
	}
	if o.unicast {
		o.interval = p.UnicastRetransmissionsInterval(meta.TTL)
		o.remaining = int(p.UnicastRetransmissionsCount())
		o.withoutProgress = int(p.UnicastRetransmissionsWithoutProgressCount())
	} else {
		o.interval = p.MulticastRetransmissionsInterval()
		o.remaining = int(p.MulticastRetransmissionsCount())
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrCancelled
	}
	if prev, ok := l.outgoing[o.key]; ok {
		// Same SeqZero reused for the pair: the older transfer is stale.
		prev.stopLocked()
		defer prev.done(ErrCancelled)
	}
	l.outgoing[o.key] = o
	first := l.burstLocked(o, o.missing(), false)
	l.mu.Unlock()

	if l.log != nil {
		l.log.Debugf("sending %d segments %s -> %s seqZero=%d", len(segments), meta.Source, meta.Destination, seqZero)
	}
	l.sendSegment(first, false)
	return nil
}

// burstLocked queues segs for transmission and returns the first of them,
// to be sent once the lock is released. The rest follow on the pacing
// timer and the retransmission timer is armed after the last one.
func (l *Layer) burstLocked(o *outgoing, segs []uint8, retransmit bool) PDU {
	o.queue = segs
	o.retransmit = retransmit
	first, _ := o.nextLocked()
	l.scheduleLocked(o)
	return first
}

func (l *Layer) scheduleLocked(o *outgoing) {
	gen := o.gen
	if len(o.queue) == 0 {
		o.timer = l.config.Scheduler.AfterFunc(o.interval, func() { l.onRetransmit(o, gen) })
		return
	}
	o.timer = l.config.Scheduler.AfterFunc(l.config.Parameters.SegmentTransmissionInterval(), func() { l.onPace(o, gen) })
}

func (l *Layer) onPace(o *outgoing, gen uint64) {
	l.mu.Lock()
	if o.gen != gen || l.outgoing[o.key] != o {
		l.mu.Unlock()
		return
	}
	next, ok := o.nextLocked()
	retransmit := o.retransmit
	l.scheduleLocked(o)
	l.mu.Unlock()

	if ok {
		l.sendSegment(next, retransmit)
	}
}

func (l *Layer) sendSegment(seg PDU, retransmit bool) {
	if seg == nil {
		return
	}
	l.config.Metrics.ObserveSegmentsSent(1, retransmit)
	l.transmit([]PDU{seg})
}

func (l *Layer) onRetransmit(o *outgoing, gen uint64) {
	l.mu.Lock()
	if o.gen != gen || l.outgoing[o.key] != o {
		l.mu.Unlock()
		return
	}
	o.timer = nil

	if o.unicast && (o.remaining <= 0 || o.withoutProgress <= 0) {
		delete(l.outgoing, o.key)
		o.gen++
		l.mu.Unlock()
		if l.log != nil {
			l.log.Warnf("segmented message %s -> %s timed out, acked=%#x", o.key.src, o.key.dst, uint32(o.acked))
		}
		o.done(ErrTimeout)
		return
	}
	if !o.unicast && o.remaining <= 0 {
		delete(l.outgoing, o.key)
		o.gen++
		l.mu.Unlock()
		o.done(nil)
		return
	}

	o.remaining--
	if o.unicast {
		o.withoutProgress--
	}
	first := l.burstLocked(o, o.missing(), true)
	l.mu.Unlock()

	l.sendSegment(first, true)
}

func (l *Layer) receiveAck(ack *SegmentAcknowledgementMessage) {
	key := txKey{src: ack.Destination, dst: ack.Source, seqZero: ack.SeqZero}

	l.mu.Lock()
	o, ok := l.outgoing[key]
	if !ok || !o.unicast {
		l.mu.Unlock()
		return
	}

	if ack.IsBusy() {
		o.stopLocked()
		delete(l.outgoing, key)
		l.mu.Unlock()
		if l.log != nil {
			l.log.Debugf("receiver %s busy", ack.Source)
		}
		o.done(ErrBusy)
		return
	}

	valid := ack.BlockAck & BlockAck(FullBlockAck(o.segN))
	progress := valid&^o.acked != 0
	o.acked |= valid

	if o.acked.Complete(o.segN) {
		o.stopLocked()
		delete(l.outgoing, key)
		l.mu.Unlock()
		o.done(nil)
		return
	}
	if !progress {
		l.mu.Unlock()
		return
	}

	o.withoutProgress = int(l.config.Parameters.UnicastRetransmissionsWithoutProgressCount())
	if len(o.queue) > 0 {
		// A burst is under way; it skips the segments acknowledged now.
		l.mu.Unlock()
		return
	}
	o.stopLocked()
	first := l.burstLocked(o, o.missing(), true)
	l.mu.Unlock()

	l.sendSegment(first, true)
}
