// Package holding buffers transactions observed before the user finished
// sign-up, so the signup flow can show pending purchases and attach them once
// an account exists. The buffer is deliberately not persisted; the platform
// queue redelivers unfinished transactions after a relaunch.
package holding

import (
	"sync"

	"github.com/corvomail/payments/plan"
	"github.com/corvomail/payments/platform"
)

type Area struct {
	mu       sync.Mutex
	txns     []*platform.Transaction
	observer func([]plan.InAppPurchasePlan)
}

func NewArea() *Area {
	return &Area{}
}

func (a *Area) Add(txn *platform.Transaction) {
	a.mu.Lock()
	for _, held := range a.txns {
		if held.ID == txn.ID {
			a.mu.Unlock()
			return
		}
	}
	a.txns = append(a.txns, txn)
	a.notifyLocked()
}

func (a *Area) Remove(txn *platform.Transaction) {
	a.mu.Lock()
	for i, held := range a.txns {
		if held.ID == txn.ID {
			a.txns = append(a.txns[:i], a.txns[i+1:]...)
			a.notifyLocked()
			return
		}
	}
	a.mu.Unlock()
}

func (a *Area) Contains(txn *platform.Transaction) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, held := range a.txns {
		if held.ID == txn.ID {
			return true
		}
	}
	return false
}

// Plans derives the pending plan list from the held transactions, in arrival
// order.
func (a *Area) Plans() []plan.InAppPurchasePlan {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.plansLocked()
}

// Observe registers the single observer, replacing any previous one, and
// returns the current pending plans. Only one subscriber is supported at a
// time, matching the single signup screen that can be on top.
func (a *Area) Observe(callback func([]plan.InAppPurchasePlan)) []plan.InAppPurchasePlan {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.observer = callback
	return a.plansLocked()
}

func (a *Area) StopObserving() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.observer = nil
}

// notifyLocked pushes the derived plan list to the observer. Called with the
// lock held; the callback itself runs outside the lock.
func (a *Area) notifyLocked() {
	observer := a.observer
	plans := a.plansLocked()
	a.mu.Unlock()

	if observer != nil {
		observer(plans)
	}
}

func (a *Area) plansLocked() []plan.InAppPurchasePlan {
	plans := make([]plan.InAppPurchasePlan, 0, len(a.txns))
	for _, txn := range a.txns {
		p, ok := plan.FromProductID(txn.Payment.ProductID)
		if !ok {
			continue
		}
		plans = append(plans, p)
	}
	return plans
}
