package purchase

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corvomail/payments/model"
	"github.com/corvomail/payments/platform"
)

// UpdatedTransactions implements platform.Observer. The platform invokes it
// right after a purchase and again on every relaunch while unfinished
// transactions remain.
func (m *Manager) UpdatedTransactions(_ []*platform.Transaction) {
	m.mu.Lock()
	finishHandler := m.finishHandler
	m.mu.Unlock()

	m.ProcessAllTransactions(finishHandler)
}

// RemovedTransactions implements platform.Observer. Acknowledgment is only
// considered complete once the platform confirms the transaction left the
// queue, so finish confirmations fire here and not at FinishTransaction time.
func (m *Manager) RemovedTransactions(txns []*platform.Transaction) {
	for _, txn := range txns {
		m.mu.Lock()
		confirmed := m.finishConfirm[txn.ID]
		delete(m.finishConfirm, txn.ID)
		m.confirmedRemoved = append(m.confirmedRemoved, txn.ID)
		m.mu.Unlock()

		if confirmed != nil {
			confirmed()
		}
	}
}

// NetworkBecameReachable retries pending transactions when connectivity
// returns, reusing the finish handler from the superseded attempt.
func (m *Manager) NetworkBecameReachable() {
	m.mu.Lock()
	finishHandler := m.finishHandler
	m.mu.Unlock()

	m.ProcessAllTransactions(finishHandler)
}

// RetryProcessingAllPendingTransactions is the explicit-retry entry point.
func (m *Manager) RetryProcessingAllPendingTransactions(onDrained func()) {
	m.ProcessAllTransactions(onDrained)
}

// ProcessAllTransactions takes a fresh snapshot of the platform queue and
// schedules one serialized processing task per transaction. A new snapshot
// supersedes tasks still pending from an earlier one; a task already running
// completes normally.
func (m *Manager) ProcessAllTransactions(onDrained func()) {
	m.tasks.CancelPending()

	txns := m.queue.Transactions()
	if len(txns) == 0 {
		if onDrained != nil {
			onDrained()
		}
		return
	}

	m.log.Debug("Platform queue contains transactions, handling now", zap.Int("num_transactions", len(txns)))

	m.mu.Lock()
	m.finishHandler = onDrained
	m.mu.Unlock()

	for _, txn := range txns {
		m.enqueueProcessing(txn, true)
	}
}

// enqueueProcessing schedules the transaction plus a drain-check task that
// fires the stored finish handler once it is the last task in the queue.
func (m *Manager) enqueueProcessing(txn *platform.Transaction, verify bool) {
	m.tasks.Enqueue(func() {
		m.processTransaction(context.Background(), txn, verify)
	})
	m.tasks.Enqueue(m.checkDrained)
}

func (m *Manager) checkDrained() {
	if m.tasks.Pending() > 0 {
		return
	}

	m.mu.Lock()
	// No task can hold a stale snapshot once the queue has drained, so
	// bookkeeping for confirmed removals can be dropped.
	for _, id := range m.confirmedRemoved {
		delete(m.finished, id)
	}
	m.confirmedRemoved = nil
	finishHandler := m.finishHandler
	m.finishHandler = nil
	m.mu.Unlock()

	if finishHandler != nil {
		finishHandler()
	}
}

func (m *Manager) processTransaction(ctx context.Context, txn *platform.Transaction, verify bool) {
	m.mu.Lock()
	_, done := m.finished[txn.ID]
	m.mu.Unlock()
	if done {
		// A snapshot taken while an earlier task was mid-flight can still
		// carry a transaction that has since been acknowledged; reprocessing
		// it would bill the backend a second time.
		return
	}

	key := model.NewPurchaseIdentity(txn.Payment.ProductID, model.HashUserID(m.session.UserID()))

	switch txn.State {
	case platform.StateFailed:
		m.processFailed(txn, key)
	case platform.StatePurchased:
		m.processPurchased(ctx, txn, key, verify)
	case platform.StateDeferred, platform.StatePurchasing:
		// Not terminal. Signal and leave the transaction for the next
		// snapshot.
		m.cache.CallDeferred(key)
	case platform.StateRestored:
		// Never produced by the supported purchase paths.
	}
}

// processFailed acknowledges immediately: failed transactions carry no
// ambiguity and must not be redelivered.
func (m *Manager) processFailed(txn *platform.Transaction, key model.PurchaseIdentity) {
	m.finishTransaction(txn, nil)

	switch txn.ErrCode {
	case platform.ErrorCodePaymentCancelled:
		m.cache.CallError(key, ErrCancelled)
	case platform.ErrorCodePaymentNotAllowed:
		m.cache.CallError(key, ErrNotAllowed)
		m.refreshHandler()
	case platform.ErrorCodeUnknown:
		m.cache.CallError(key, ErrUnknownPlatformError)
		m.refreshHandler()
	default:
		m.cache.CallError(key, ErrTransactionFailedUnknownReason)
	}
}

func (m *Manager) processPurchased(ctx context.Context, txn *platform.Transaction, key model.PurchaseIdentity, verify bool) {
	log := m.log.With(
		zap.String("transaction_id", txn.ID.String()),
		zap.String("product", txn.Payment.ProductID),
	)

	// Not finishing here is deliberate: the transaction stays in the platform
	// queue for a retry once the user signs in or unlocks.
	if !m.session.IsSignedIn() {
		m.cache.CallError(key, ErrPleaseSignIn)
		return
	}
	if !m.session.IsUnlocked() {
		m.cache.CallError(key, ErrAppIsLocked)
		return
	}

	if verify && txn.Payment.ApplicationUsernameHash != "" {
		err := m.verifyTransactionUser(txn)
		if errors.Is(err, ErrTransactionOfAnotherUser) {
			log.Warn("Transaction belongs to another user, asking for confirmation")
			m.confirmBypass(txn, key, err)
			return
		}
		if err != nil {
			m.cache.CallError(key, err)
			return
		}
	}

	outcome, err := m.adapter.Process(ctx, txn, key)
	if err != nil {
		if shouldFinishOnError(err) {
			// Retrying cannot help; clear the transaction anyway.
			m.finishTransaction(txn, nil)
		}
		m.cache.CallError(key, err)
		return
	}

	if outcome.Kind == model.OutcomePurchaseRegistered {
		// The transaction must survive until an authenticated session can
		// attach it; only the holding area records it for now.
		m.cache.CallSuccess(key, outcome)
		return
	}

	m.finishTransaction(txn, func() {
		m.cache.CallSuccess(key, outcome)
	})
}

func (m *Manager) verifyTransactionUser(txn *platform.Transaction) error {
	userID := m.session.UserID()
	if userID == "" {
		return ErrNoActiveUsername
	}
	if txn.Payment.ApplicationUsernameHash != model.HashUserID(userID) {
		return ErrTransactionOfAnotherUser
	}
	return nil
}

// confirmBypass pauses this transaction's flow for an explicit user decision.
// Later transactions in the same snapshot continue independently; on
// confirmation the transaction is re-processed once with verification
// disabled.
func (m *Manager) confirmBypass(txn *platform.Transaction, key model.PurchaseIdentity, cause error) {
	username := m.session.ActiveUsername()
	if username == "" {
		m.cache.CallError(key, ErrNoActiveUsername)
		return
	}

	m.alerts.ConfirmBypass(username, cause,
		func() {
			m.enqueueProcessing(txn, false)
		},
		func() {
			m.cache.CallError(key, ErrBypassDeclined)
		},
	)
}

// finishTransaction acknowledges at most once per transaction. confirmed, if
// given, runs only after the platform's removed-transactions notification
// names this transaction.
func (m *Manager) finishTransaction(txn *platform.Transaction, confirmed func()) {
	m.mu.Lock()
	if _, done := m.finished[txn.ID]; done {
		m.mu.Unlock()
		return
	}
	m.finished[txn.ID] = struct{}{}
	if confirmed != nil {
		m.finishConfirm[txn.ID] = confirmed
	}
	m.mu.Unlock()

	m.queue.FinishTransaction(txn)
}
