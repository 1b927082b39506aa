package network

import "sync"

// SequenceCounter hands out the 24 bit sequence numbers of one element.
// It is safe for concurrent use.
type SequenceCounter struct {
	mu        sync.Mutex
	value     uint32
	exhausted bool
}

// NewSequenceCounter starts at initial, typically a persisted value.
func NewSequenceCounter(initial uint32) *SequenceCounter {
	return &SequenceCounter{value: initial & MaxSequence}
}

// Next returns the next sequence number. Once MaxSequence has been handed
// out the counter is exhausted until Reset; an IV Update is required.
func (c *SequenceCounter) Next() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exhausted {
		return 0, ErrSequenceExhausted
	}
	current := c.value
	if current == MaxSequence {
		c.exhausted = true
	} else {
		c.value++
	}
	return current, nil
}

// Current returns the next value without consuming it.
func (c *SequenceCounter) Current() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Remaining returns how many numbers are left.
func (c *SequenceCounter) Remaining() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exhausted {
		return 0
	}
	return MaxSequence - c.value + 1
}

// Reset restarts the counter at zero after an IV Index change.
func (c *SequenceCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = 0
	c.exhausted = false
}
