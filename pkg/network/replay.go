package network

import (
	"sync"

	"github.com/backkem/btmesh/pkg/address"
)

// ReplayWindow is the number of sequence numbers below the highest one
// seen that are still accepted once.
const ReplayWindow = 32

// ReplayCache rejects network PDUs whose (IV Index, sequence) was already
// seen from the same source. Each source keeps a sliding bitmap so PDUs
// reordered by concurrent transmissions are not dropped.
type ReplayCache struct {
	mu      sync.Mutex
	sources map[address.Address]*replayState
}

type replayState struct {
	ivIndex uint32
	maxSeq  uint32
	bitmap  uint32 // bit n: maxSeq-n-1 received
}

func NewReplayCache() *ReplayCache {
	return &ReplayCache{sources: make(map[address.Address]*replayState)}
}

// Accept checks and records seq. It returns false for a replay.
func (c *ReplayCache) Accept(src address.Address, ivIndex, seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sources[src]
	if !ok || ivIndex > s.ivIndex {
		c.sources[src] = &replayState{ivIndex: ivIndex, maxSeq: seq}
		return true
	}
	if ivIndex < s.ivIndex {
		return false
	}

	switch {
	case seq > s.maxSeq:
		shift := seq - s.maxSeq
		if shift > ReplayWindow {
			s.bitmap = 0
		} else {
			s.bitmap = s.bitmap<<shift | 1<<(shift-1)
		}
		s.maxSeq = seq
		return true
	case seq == s.maxSeq:
		return false
	default:
		offset := s.maxSeq - seq - 1
		if offset >= ReplayWindow {
			return false
		}
		mask := uint32(1) << offset
		if s.bitmap&mask != 0 {
			return false
		}
		s.bitmap |= mask
		return true
	}
}

// Forget drops the state of src, e.g. when its node is removed.
func (c *ReplayCache) Forget(src address.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, src)
}

// Len returns the number of tracked sources.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}
