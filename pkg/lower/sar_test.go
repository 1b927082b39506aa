package lower

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/params"
	"github.com/backkem/btmesh/pkg/reliability"
)

// link delivers PDUs from one layer to another through the byte codec.
type link struct {
	mu   sync.Mutex
	to   *Layer
	drop func(PDU) bool
	sent []PDU
}

func (k *link) transmit(p PDU) error {
	k.mu.Lock()
	k.sent = append(k.sent, p)
	drop := k.drop != nil && k.drop(p)
	to := k.to
	k.mu.Unlock()
	if drop || to == nil {
		return nil
	}
	pdu, err := Decode(p.Encode(), p.Control(), *p.Header())
	if err != nil {
		return err
	}
	to.Receive(pdu)
	return nil
}

func (k *link) count(match func(PDU) bool) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, p := range k.sent {
		if match(p) {
			n++
		}
	}
	return n
}

func isSegment(p PDU) bool {
	_, ok := p.(*SegmentedAccessMessage)
	return ok
}

func isAck(p PDU) bool {
	_, ok := p.(*SegmentAcknowledgementMessage)
	return ok
}

type inbox struct {
	mu       sync.Mutex
	messages []*UpperMessage
}

func (b *inbox) deliver(m *UpperMessage) {
	b.mu.Lock()
	b.messages = append(b.messages, m)
	b.mu.Unlock()
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type result struct {
	mu   sync.Mutex
	n    int
	err  error
	when time.Time
}

func (r *result) done(s *reliability.ManualScheduler) func(error) {
	return func(err error) {
		r.mu.Lock()
		r.n++
		r.err = err
		r.when = s.Now()
		r.mu.Unlock()
	}
}

func (r *result) get() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n, r.err
}

type pair struct {
	sched  *reliability.ManualScheduler
	a, b   *Layer
	ab, ba *link
	inboxB *inbox
}

func newPair(t *testing.T, configure func(*Config)) *pair {
	t.Helper()
	p := &pair{
		sched:  reliability.NewManualScheduler(time.Unix(1000, 0)),
		ab:     &link{},
		ba:     &link{},
		inboxB: &inbox{},
	}
	var err error
	cfgA := Config{Parameters: params.Default(), Scheduler: p.sched, Transmit: p.ab.transmit, Deliver: func(*UpperMessage) {}}
	cfgB := Config{Parameters: params.Default(), Scheduler: p.sched, Transmit: p.ba.transmit, Deliver: p.inboxB.deliver}
	if configure != nil {
		configure(&cfgB)
	}
	if p.a, err = NewLayer(cfgA); err != nil {
		t.Fatal(err)
	}
	if p.b, err = NewLayer(cfgB); err != nil {
		t.Fatal(err)
	}
	p.ab.to = p.b
	p.ba.to = p.a
	return p
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func meta(src, dst address.Address, seq uint32) Meta {
	return Meta{Source: src, Destination: dst, TTL: 5, Sequence: seq, IVIndex: 1}
}

// segmentGap is the default pause between two segments of a burst.
var segmentGap = params.Default().SegmentTransmissionInterval()

func TestSARUnicastDelivery(t *testing.T) {
	p := newPair(t, nil)
	var r result

	data := payload(30)
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 0x3129AB), true, 0x26, false, data, r.done(p.sched)); err != nil {
		t.Fatalf("SendSegmentedAccess() error = %v", err)
	}
	p.sched.Advance(2 * segmentGap)

	if n, err := r.get(); n != 1 || err != nil {
		t.Fatalf("done called %d times with %v, want once with nil", n, err)
	}
	if p.inboxB.len() != 1 {
		t.Fatalf("delivered %d messages, want 1", p.inboxB.len())
	}
	m := p.inboxB.messages[0]
	if !bytes.Equal(m.Payload, data) || !m.Segmented || m.Sequence != 0x3129AB || !m.AKF || m.AID != 0x26 {
		t.Errorf("delivered = %+v", m)
	}
	if got := p.ab.count(isSegment); got != 3 {
		t.Errorf("sent %d segments, want 3", got)
	}
	if p.a.Outgoing() != 0 || p.b.Incoming() != 0 {
		t.Errorf("state left behind: outgoing=%d incoming=%d", p.a.Outgoing(), p.b.Incoming())
	}
}

func TestSARRecoversLostSegment(t *testing.T) {
	p := newPair(t, nil)
	var r result

	dropped := false
	p.ab.drop = func(pdu PDU) bool {
		if s, ok := pdu.(*SegmentedAccessMessage); ok && s.SegO == 1 && !dropped {
			dropped = true
			return true
		}
		return false
	}

	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 100), false, 0, false, payload(30), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	if n, _ := r.get(); n != 0 {
		t.Fatal("completed with a segment missing")
	}

	// Receiver acks after min(3, 2.5) * 60 ms; the sender resends segment 1.
	p.sched.Advance(150 * time.Millisecond)

	if n, err := r.get(); n != 1 || err != nil {
		t.Fatalf("done called %d times with %v", n, err)
	}
	if p.inboxB.len() != 1 {
		t.Fatalf("delivered %d messages, want 1", p.inboxB.len())
	}
	if got := p.ab.count(isSegment); got != 4 {
		t.Errorf("sent %d segments, want 4", got)
	}
	if got := p.ba.count(isAck); got != 2 {
		t.Errorf("sent %d acks, want 2 (partial, complete)", got)
	}
}

func TestSARUnicastTimeout(t *testing.T) {
	p := newPair(t, nil)
	p.ab.drop = func(PDU) bool { return true }
	var r result

	start := p.sched.Now()
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 7), false, 0, false, payload(30), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}

	// Three bursts of three segments, each followed by 200 ms + 4 * 50 ms:
	// 2 retransmissions, then timeout.
	interval := params.Default().UnicastRetransmissionsInterval(5)
	want := 3 * (2*segmentGap + interval)
	p.sched.Advance(want - time.Millisecond)
	if n, _ := r.get(); n != 0 {
		t.Fatal("timed out early")
	}
	p.sched.Advance(time.Millisecond)

	n, err := r.get()
	if n != 1 || !errors.Is(err, ErrTimeout) {
		t.Fatalf("done called %d times with %v, want ErrTimeout", n, err)
	}
	if r.when.Sub(start) != want {
		t.Errorf("timed out after %v, want %v", r.when.Sub(start), want)
	}
	if got := p.ab.count(isSegment); got != 9 {
		t.Errorf("sent %d segments, want 9", got)
	}
	if p.sched.Pending() != 0 {
		t.Errorf("%d timers left armed", p.sched.Pending())
	}
}

func TestSARBusyReceiver(t *testing.T) {
	p := newPair(t, func(c *Config) { c.MaxConcurrentReassemblies = 1 })

	// Occupy the only reassembly slot from another source.
	seg := &SegmentedAccessMessage{Meta: meta(0x0009, 0x0002, 50), SeqZero: 50, SegO: 0, SegN: 1, Segment: payload(12)}
	p.b.Receive(seg)
	if p.b.Incoming() != 1 {
		t.Fatalf("Incoming() = %d, want 1", p.b.Incoming())
	}

	var r result
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 10), false, 0, false, payload(20), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	n, err := r.get()
	if n != 1 || !errors.Is(err, ErrBusy) {
		t.Fatalf("done called %d times with %v, want ErrBusy", n, err)
	}
	if p.a.Outgoing() != 0 {
		t.Error("busy transfer still outgoing")
	}
}

func TestSARCancel(t *testing.T) {
	p := newPair(t, nil)
	p.ab.drop = func(PDU) bool { return true }
	var r result

	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 10), false, 0, false, payload(20), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	if got := p.ab.count(isSegment); got != 1 {
		t.Fatalf("sent %d segments before the first gap, want 1", got)
	}
	if !p.a.Cancel(0x0001, 0x0002) {
		t.Fatal("Cancel() found nothing")
	}
	if p.a.Cancel(0x0001, 0x0002) {
		t.Error("second Cancel() found a transfer")
	}
	n, err := r.get()
	if n != 1 || !errors.Is(err, ErrCancelled) {
		t.Fatalf("done called %d times with %v, want ErrCancelled", n, err)
	}

	sent := p.ab.count(isSegment)
	p.sched.Advance(10 * time.Second)
	if got := p.ab.count(isSegment); got != sent {
		t.Errorf("%d segments sent after cancel", got-sent)
	}
}

func TestSARMulticast(t *testing.T) {
	p := newPair(t, nil)
	var r result

	group := address.Address(0xC001)
	if err := p.a.SendSegmentedAccess(meta(0x0001, group, 10), false, 0, false, payload(30), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	p.sched.Advance(2 * segmentGap)
	if p.inboxB.len() != 1 {
		t.Fatalf("delivered %d messages, want 1", p.inboxB.len())
	}

	// Every burst is followed by the multicast interval; the third one
	// ends the transfer.
	interval := params.Default().MulticastRetransmissionsInterval()
	p.sched.Advance(3*interval + 4*segmentGap - time.Millisecond)
	if n, _ := r.get(); n != 0 {
		t.Fatal("multicast transfer ended early")
	}
	p.sched.Advance(time.Millisecond)

	if n, err := r.get(); n != 1 || err != nil {
		t.Fatalf("done called %d times with %v, want once with nil", n, err)
	}
	if got := p.ab.count(isSegment); got != 9 {
		t.Errorf("sent %d segments, want 9", got)
	}
	if got := p.ba.count(isAck); got != 0 {
		t.Errorf("group destination acknowledged %d times", got)
	}
	if p.inboxB.len() != 1 {
		t.Errorf("repeated segments delivered %d messages, want 1", p.inboxB.len())
	}
}

func TestSARSegmentPacing(t *testing.T) {
	p := newPair(t, nil)
	type sent struct {
		segO uint8
		at   time.Duration
	}
	var got []sent
	start := p.sched.Now()
	p.ab.drop = func(pdu PDU) bool {
		if s, ok := pdu.(*SegmentedAccessMessage); ok {
			got = append(got, sent{segO: s.SegO, at: p.sched.Now().Sub(start)})
		}
		return true
	}

	var r result
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 20), false, 0, false, payload(30), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("sent %d segments up front, want 1", len(got))
	}

	// The retransmission interval starts after the last segment of a burst.
	interval := params.Default().UnicastRetransmissionsInterval(5)
	p.sched.Advance(4*segmentGap + interval)

	want := []sent{
		{0, 0},
		{1, segmentGap},
		{2, 2 * segmentGap},
		{0, 2*segmentGap + interval},
		{1, 3*segmentGap + interval},
		{2, 4*segmentGap + interval},
	}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transmission %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSARPacingFollowsParameters(t *testing.T) {
	p := newPair(t, nil)
	slow := params.Default()
	slow.SetSegmentTransmissionInterval(15)
	p.a.SetParameters(slow)

	var r result
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 30), false, 0, false, payload(20), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	// 16 * 10 ms between segments.
	p.sched.Advance(160*time.Millisecond - time.Millisecond)
	if got := p.ab.count(isSegment); got != 1 {
		t.Fatalf("sent %d segments before the gap, want 1", got)
	}
	p.sched.Advance(time.Millisecond)
	if n, err := r.get(); n != 1 || err != nil {
		t.Fatalf("done called %d times with %v, want once with nil", n, err)
	}
}

func TestSARAckDuringBurst(t *testing.T) {
	p := newPair(t, nil)
	var r result

	dropped := false
	p.ab.drop = func(pdu PDU) bool {
		if s, ok := pdu.(*SegmentedAccessMessage); ok && s.SegO == 1 && !dropped {
			dropped = true
			return true
		}
		return false
	}

	// Five segments, 60 ms apart. The receiver acks segments 0 and 2 at
	// 150 ms, before the burst is over.
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 40), false, 0, false, payload(60), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	p.sched.Advance(150 * time.Millisecond)
	if got := p.ba.count(isAck); got != 1 {
		t.Fatalf("sent %d acks, want 1", got)
	}
	if got := p.ab.count(isSegment); got != 3 {
		t.Fatalf("sent %d segments, want 3: the burst goes on", got)
	}

	// The rest of the burst, then the second ack 150 ms after segment 3
	// triggers the resend of segment 1.
	p.sched.Advance(180 * time.Millisecond)
	if n, err := r.get(); n != 1 || err != nil {
		t.Fatalf("done called %d times with %v, want once with nil", n, err)
	}
	if got := p.ab.count(isSegment); got != 6 {
		t.Errorf("sent %d segments, want 6", got)
	}
	if p.inboxB.len() != 1 {
		t.Errorf("delivered %d messages, want 1", p.inboxB.len())
	}
	if p.a.Outgoing() != 0 {
		t.Error("transfer still outgoing")
	}
}

func TestSARDuplicateAfterCompletion(t *testing.T) {
	p := newPair(t, nil)

	segs, err := SegmentAccess(meta(0x0001, 0x0002, 200), false, 0, false, 200, payload(20))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range segs {
		p.b.Receive(s)
	}
	if p.inboxB.len() != 1 {
		t.Fatalf("delivered %d messages", p.inboxB.len())
	}
	acks := p.ba.count(isAck)

	p.b.Receive(segs[0])
	if p.inboxB.len() != 1 {
		t.Error("duplicate delivered twice")
	}
	if got := p.ba.count(isAck); got != acks+1 {
		t.Fatalf("duplicate acknowledged %d times, want 1", got-acks)
	}
	last := p.ba.sent[len(p.ba.sent)-1].(*SegmentAcknowledgementMessage)
	if !last.BlockAck.Complete(1) {
		t.Errorf("re-ack block = %#x, want complete", uint32(last.BlockAck))
	}
}

func TestSARDiscardIncomplete(t *testing.T) {
	p := newPair(t, nil)

	seg := &SegmentedAccessMessage{Meta: meta(0x0001, 0xC000, 300), SeqZero: 300, SegO: 0, SegN: 2, Segment: payload(12)}
	p.b.Receive(seg)
	if p.b.Incoming() != 1 {
		t.Fatalf("Incoming() = %d", p.b.Incoming())
	}

	discard := params.Default().IncompleteTimerInterval()
	p.sched.Advance(discard - time.Millisecond)
	if p.b.Incoming() != 1 {
		t.Fatal("discarded early")
	}
	p.sched.Advance(time.Millisecond)
	if p.b.Incoming() != 0 {
		t.Error("incomplete message not discarded")
	}
}

func TestSARAckTTLZero(t *testing.T) {
	p := newPair(t, nil)

	m := meta(0x0001, 0x0002, 400)
	m.TTL = 0
	segs, err := SegmentAccess(m, false, 0, false, 400, payload(20))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range segs {
		p.b.Receive(s)
	}
	ack := p.ba.sent[len(p.ba.sent)-1].(*SegmentAcknowledgementMessage)
	if ack.TTL != 0 {
		t.Errorf("ack TTL = %d, want 0", ack.TTL)
	}
	if ack.Source != 0x0002 || ack.Destination != 0x0001 {
		t.Errorf("ack addressed %s -> %s", ack.Source, ack.Destination)
	}
}

func TestSARRejectsMismatchedSegment(t *testing.T) {
	p := newPair(t, nil)

	first := &SegmentedAccessMessage{Meta: meta(0x0001, 0xC000, 500), SeqZero: 500, SegO: 0, SegN: 2, Segment: payload(12)}
	short := &SegmentedAccessMessage{Meta: meta(0x0001, 0xC000, 500), SeqZero: 500, SegO: 1, SegN: 2, Segment: payload(5)}
	other := &SegmentedAccessMessage{Meta: meta(0x0001, 0xC000, 500), SeqZero: 500, SegO: 1, SegN: 3, Segment: payload(12)}
	p.b.Receive(first)
	p.b.Receive(short)
	p.b.Receive(other)
	if p.inboxB.len() != 0 {
		t.Fatal("mismatched segments completed a message")
	}
	if p.b.Incoming() != 1 {
		t.Errorf("Incoming() = %d, want 1", p.b.Incoming())
	}
}

func TestLayerClose(t *testing.T) {
	p := newPair(t, nil)
	p.ab.drop = func(PDU) bool { return true }
	var r result
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 10), false, 0, false, payload(20), r.done(p.sched)); err != nil {
		t.Fatal(err)
	}
	p.a.Close()
	if n, err := r.get(); n != 1 || !errors.Is(err, ErrCancelled) {
		t.Errorf("done called %d times with %v", n, err)
	}
	if err := p.a.SendSegmentedAccess(meta(0x0001, 0x0002, 11), false, 0, false, payload(20), nil); !errors.Is(err, ErrCancelled) {
		t.Errorf("send after Close error = %v", err)
	}
}
