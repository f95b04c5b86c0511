// Package platform abstracts the operating system's in-app-purchase payment
// queue: a persistent list of transactions, independent of this process'
// lifetime, that redelivers every unfinished transaction on each launch and
// on every queue-change notification.
package platform

import (
	"github.com/google/uuid"
)

type TransactionState uint8

const (
	StateUnknown TransactionState = iota
	StatePurchasing
	StateDeferred
	StatePurchased
	StateFailed
	StateRestored
)

func (s TransactionState) String() string {
	switch s {
	case StatePurchasing:
		return "purchasing"
	case StateDeferred:
		return "deferred"
	case StatePurchased:
		return "purchased"
	case StateFailed:
		return "failed"
	case StateRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// ErrorCode classifies why a transaction ended up in StateFailed.
type ErrorCode uint8

const (
	ErrorCodeNone ErrorCode = iota
	ErrorCodePaymentCancelled
	ErrorCodePaymentNotAllowed
	ErrorCodeUnknown
)

// Payment is a purchase request submitted to the queue. The username hash
// tags the eventual transaction with the initiating account.
type Payment struct {
	ProductID               string
	Quantity                int
	ApplicationUsernameHash string
}

// Transaction is owned entirely by the platform. The engine only observes it
// and eventually acknowledges it through Queue.FinishTransaction; until then
// the platform keeps redelivering it.
type Transaction struct {
	ID      uuid.UUID
	Payment Payment
	State   TransactionState
	ErrCode ErrorCode
}

// Observer receives queue-change notifications. Callbacks may arrive on an
// arbitrary goroutine.
type Observer interface {
	UpdatedTransactions(txns []*Transaction)
	RemovedTransactions(txns []*Transaction)
}

// Queue is the single shared payment-queue resource. All mutation of platform
// purchase state goes through this interface; no component keeps a private
// copy of queue state.
type Queue interface {
	// AddPayment submits a purchase request. The resulting transaction is
	// reported asynchronously via Observer.UpdatedTransactions.
	AddPayment(p Payment)

	// FinishTransaction acknowledges a transaction so the platform can drop
	// it from the queue. Removal is confirmed asynchronously via
	// Observer.RemovedTransactions; callers must not assume it is synchronous.
	FinishTransaction(txn *Transaction)

	// Transactions returns the current queue snapshot in platform order.
	Transactions() []*Transaction

	AddObserver(o Observer)
	RemoveObserver(o Observer)
}
