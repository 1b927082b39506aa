package reliability

import (
	"errors"
	"sync"
	"time"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
)

var ErrAckPending = errors.New("reliability: an acknowledged message to this destination is outstanding")

// AckRequest describes an acknowledged unicast request to track.
type AckRequest struct {
	Message     access.AcknowledgedMessage
	Source      address.Address
	Destination address.Address

	// Interval is the first retry delay. Each retry doubles it.
	Interval time.Duration
	// Timeout bounds the whole exchange.
	Timeout time.Duration

	// Resend is called from the retry timer.
	Resend func()
	// OnTimeout is called once when the timeout fires.
	OnTimeout func()
}

// AckContext is one outstanding acknowledged request.
type AckContext struct {
	req      AckRequest
	deadline time.Time
	interval time.Duration
	retries  int

	retryTimer   Timer
	timeoutTimer Timer
	gen          uint64
}

func (c *AckContext) Message() access.AcknowledgedMessage { return c.req.Message }
func (c *AckContext) Source() address.Address             { return c.req.Source }
func (c *AckContext) Destination() address.Address        { return c.req.Destination }

// stopLocked cancels both timers in one step under the table lock, so a
// retry cannot fire after removal.
func (c *AckContext) stopLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
		c.timeoutTimer = nil
	}
	c.gen++
}

type ackKey struct {
	source      address.Address
	destination address.Address
}

// AckTable tracks outstanding acknowledged requests, at most one per
// (source, destination) pair.
type AckTable struct {
	scheduler Scheduler

	mu       sync.Mutex
	contexts map[ackKey]*AckContext
}

// NewAckTable creates a table. A nil scheduler uses DefaultScheduler.
func NewAckTable(s Scheduler) *AckTable {
	if s == nil {
		s = DefaultScheduler
	}
	return &AckTable{scheduler: s, contexts: make(map[ackKey]*AckContext)}
}

// Add starts tracking req and arms its retry and timeout timers.
func (t *AckTable) Add(req AckRequest) (*AckContext, error) {
	key := ackKey{source: req.Source, destination: req.Destination}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.contexts[key]; ok {
		return nil, ErrAckPending
	}
	c := &AckContext{
		req:      req,
		deadline: t.scheduler.Now().Add(req.Timeout),
		interval: req.Interval,
	}
	t.contexts[key] = c

	gen := c.gen
	c.timeoutTimer = t.scheduler.AfterFunc(req.Timeout, func() { t.onTimeout(key, c, gen) })
	t.armRetryLocked(key, c)
	return c, nil
}

func (t *AckTable) armRetryLocked(key ackKey, c *AckContext) {
	if c.interval <= 0 || !t.scheduler.Now().Add(c.interval).Before(c.deadline) {
		return
	}
	gen := c.gen
	c.retryTimer = t.scheduler.AfterFunc(c.interval, func() { t.onRetry(key, c, gen) })
}

func (t *AckTable) onRetry(key ackKey, c *AckContext, gen uint64) {
	t.mu.Lock()
	if c.gen != gen || t.contexts[key] != c {
		t.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.retries++
	c.interval *= 2
	t.armRetryLocked(key, c)
	t.mu.Unlock()

	if c.req.Resend != nil {
		c.req.Resend()
	}
}

func (t *AckTable) onTimeout(key ackKey, c *AckContext, gen uint64) {
	t.mu.Lock()
	if c.gen != gen || t.contexts[key] != c {
		t.mu.Unlock()
		return
	}
	c.stopLocked()
	delete(t.contexts, key)
	t.mu.Unlock()

	if c.req.OnTimeout != nil {
		c.req.OnTimeout()
	}
}

// Match removes and returns the context answered by a message with the
// given opcode sent from src to dst: the context's destination must be src,
// its source dst, and its response opcode the message opcode.
func (t *AckTable) Match(src, dst address.Address, opcode uint32) (*AckContext, bool) {
	key := ackKey{source: dst, destination: src}
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.contexts[key]
	if !ok || c.req.Message.ResponseOpCode() != opcode {
		return nil, false
	}
	c.stopLocked()
	delete(t.contexts, key)
	return c, true
}

// Cancel removes the context for the pair without invoking callbacks.
func (t *AckTable) Cancel(source, destination address.Address) (*AckContext, bool) {
	key := ackKey{source: source, destination: destination}
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.contexts[key]
	if !ok {
		return nil, false
	}
	c.stopLocked()
	delete(t.contexts, key)
	return c, true
}

// Pending reports whether a context exists for the pair.
func (t *AckTable) Pending(source, destination address.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.contexts[ackKey{source: source, destination: destination}]
	return ok
}

// Retries returns how many times the pair's request was resent.
func (t *AckTable) Retries(source, destination address.Address) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.contexts[ackKey{source: source, destination: destination}]; ok {
		return c.retries
	}
	return 0
}

func (t *AckTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.contexts)
}

// Close removes every context and returns them.
func (t *AckTable) Close() []*AckContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*AckContext, 0, len(t.contexts))
	for k, c := range t.contexts {
		c.stopLocked()
		delete(t.contexts, k)
		out = append(out, c)
	}
	return out
}
