package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/corvomail/payments/platform"
)

// Queue is an in-memory payment queue. It mimics the platform contract the
// engine depends on: transactions stay queued and are redelivered until
// finished, and removal is confirmed through a separate notification.
type Queue struct {
	mu        sync.Mutex
	observers []platform.Observer
	txns      []*platform.Transaction

	resolution platform.TransactionState
	errCode    platform.ErrorCode
}

func NewQueue() *Queue {
	return &Queue{
		resolution: platform.StatePurchased,
	}
}

// SetPaymentResolution controls the state newly added payments resolve to.
func (q *Queue) SetPaymentResolution(state platform.TransactionState, errCode platform.ErrorCode) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.resolution = state
	q.errCode = errCode
}

func (q *Queue) AddPayment(p platform.Payment) {
	q.mu.Lock()
	txn := &platform.Transaction{
		ID:      uuid.New(),
		Payment: p,
		State:   q.resolution,
		ErrCode: q.errCode,
	}
	q.txns = append(q.txns, txn)
	q.mu.Unlock()

	q.NotifyUpdated()
}

// Inject places a transaction directly into the queue without notifying
// observers, simulating state left over from a previous process.
func (q *Queue) Inject(txn *platform.Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	q.txns = append(q.txns, txn)
}

func (q *Queue) FinishTransaction(txn *platform.Transaction) {
	q.mu.Lock()

	var removed []*platform.Transaction
	kept := q.txns[:0]
	for _, queued := range q.txns {
		if queued.ID == txn.ID {
			removed = append(removed, queued)
			continue
		}
		kept = append(kept, queued)
	}
	q.txns = kept

	observers := q.snapshotObserversLocked()
	q.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	for _, o := range observers {
		o.RemovedTransactions(removed)
	}
}

func (q *Queue) Transactions() []*platform.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make([]*platform.Transaction, len(q.txns))
	copy(snapshot, q.txns)
	return snapshot
}

func (q *Queue) AddObserver(o platform.Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.observers {
		if existing == o {
			return
		}
	}
	q.observers = append(q.observers, o)
}

func (q *Queue) RemoveObserver(o platform.Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, existing := range q.observers {
		if existing == o {
			q.observers = append(q.observers[:i], q.observers[i+1:]...)
			return
		}
	}
}

// NotifyUpdated redelivers the current snapshot to every observer, the way
// the platform does on app launch and on reachability changes.
func (q *Queue) NotifyUpdated() {
	q.mu.Lock()
	snapshot := make([]*platform.Transaction, len(q.txns))
	copy(snapshot, q.txns)
	observers := q.snapshotObserversLocked()
	q.mu.Unlock()

	for _, o := range observers {
		o.UpdatedTransactions(snapshot)
	}
}

func (q *Queue) snapshotObserversLocked() []platform.Observer {
	observers := make([]platform.Observer, len(q.observers))
	copy(observers, q.observers)
	return observers
}
