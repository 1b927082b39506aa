package reliability

import (
	"sync"
	"time"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
)

// TransactionTimeout is how long after its last use a transaction can be
// continued.
const TransactionTimeout = 6 * time.Second

type transactionKey struct {
	element     address.Address
	destination address.Address
}

type transaction struct {
	tid      uint8
	lastUsed time.Time
}

// TransactionTable assigns Transaction Identifiers per (source element,
// destination) pair. It is safe for concurrent use.
type TransactionTable struct {
	scheduler Scheduler

	mu           sync.Mutex
	transactions map[transactionKey]*transaction
}

// NewTransactionTable creates a table using the scheduler's clock. A nil
// scheduler uses DefaultScheduler.
func NewTransactionTable(s Scheduler) *TransactionTable {
	if s == nil {
		s = DefaultScheduler
	}
	return &TransactionTable{
		scheduler:    s,
		transactions: make(map[transactionKey]*transaction),
	}
}

// Assign sets the TID of msg if it is an access.TransactionMessage. The
// current TID is reused when retransmitting, or when the message continues
// a transaction used within TransactionTimeout. Otherwise the next TID is
// taken, wrapping after 255. A TID already set on msg is kept and recorded.
func (t *TransactionTable) Assign(msg access.Message, element, destination address.Address, retransmit bool) (uint8, bool) {
	tm, ok := msg.(access.TransactionMessage)
	if !ok {
		return 0, false
	}
	key := transactionKey{element: element, destination: destination}
	now := t.scheduler.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	tr, exists := t.transactions[key]
	if tid, set := tm.TID(); set {
		if !exists {
			tr = &transaction{}
			t.transactions[key] = tr
		}
		tr.tid, tr.lastUsed = tid, now
		return tid, true
	}

	switch {
	case !exists:
		tr = &transaction{tid: 0}
		t.transactions[key] = tr
	case retransmit:
	case tm.ContinueTransaction() && now.Sub(tr.lastUsed) < TransactionTimeout:
	default:
		tr.tid++
	}
	tr.lastUsed = now
	tm.SetTID(tr.tid)
	return tr.tid, true
}

// Current returns the last TID used for the pair and whether the
// transaction is still active.
func (t *TransactionTable) Current(element, destination address.Address) (tid uint8, active bool) {
	now := t.scheduler.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.transactions[transactionKey{element: element, destination: destination}]
	if !ok {
		return 0, false
	}
	return tr.tid, now.Sub(tr.lastUsed) < TransactionTimeout
}

// Reset forgets every transaction.
func (t *TransactionTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.transactions)
}
