package mesh

import (
	"context"
	"sync"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
)

// MessageHandle tracks one sent message. It completes exactly once: with
// the response of an acknowledged message, with nil when the message was
// sent, or with an access.Error. A cancelled handle cannot be reused.
type MessageHandle struct {
	m *NetworkManager

	message     access.Message
	source      address.Address
	destination address.MeshAddress

	done     chan struct{}
	once     sync.Once
	response access.Message
	err      error

	// Guarded by NetworkManager.mu.
	acknowledged bool // waits for a response
	segmented    bool
	sending      bool // lower transport transfer in progress
	attempt      int
	sent         bool // MessageSent was emitted
	silent       bool
}

func newHandle(m *NetworkManager, msg access.Message, src address.Address, dst address.MeshAddress) *MessageHandle {
	return &MessageHandle{
		m:           m,
		message:     msg,
		source:      src,
		destination: dst,
		done:        make(chan struct{}),
	}
}

func (h *MessageHandle) Message() access.Message          { return h.message }
func (h *MessageHandle) Source() address.Address          { return h.source }
func (h *MessageHandle) Destination() address.MeshAddress { return h.destination }

// Done is closed when the message completes.
func (h *MessageHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the message completes or ctx is done. Giving up on
// ctx does not cancel the message.
func (h *MessageHandle) Wait(ctx context.Context) (access.Message, error) {
	select {
	case <-h.done:
		return h.response, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrInProgress.
func (h *MessageHandle) Result() (access.Message, error) {
	select {
	case <-h.done:
		return h.response, h.err
	default:
		return nil, ErrInProgress
	}
}

// Cancel stops the message: its acknowledgement context is removed and
// outstanding segments are no longer retransmitted. The handle completes
// with access.ErrCancelled. Cancelling an unsegmented unacknowledged
// message, or a completed one, has no effect.
func (h *MessageHandle) Cancel() {
	h.m.cancel(h)
}

// complete resolves the handle. It reports false if it was already
// resolved.
func (h *MessageHandle) complete(response access.Message, err error) bool {
	first := false
	h.once.Do(func() {
		h.response, h.err = response, err
		close(h.done)
		first = true
	})
	return first
}

func (h *MessageHandle) isDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
