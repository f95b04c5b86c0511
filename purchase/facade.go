package purchase

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/model"
	"github.com/corvomail/payments/plan"
	"github.com/corvomail/payments/reconcile"
)

// Purchaser is the public buy-plan entry point exposed to the app layer. It
// wraps the Manager's callback machinery behind a single completion that is
// guaranteed to fire exactly once per call.
type Purchaser struct {
	log      *zap.Logger
	manager  *Manager
	client   backend.Client
	provider plan.Provider
}

func NewPurchaser(log *zap.Logger, manager *Manager) *Purchaser {
	return &Purchaser{
		log:      log,
		manager:  manager,
		client:   manager.client,
		provider: manager.provider,
	}
}

// BuyPlan drives one purchase attempt to a terminal Result, delivered exactly
// once through executor. It performs blocking backend calls and must not be
// invoked on a UI-bound goroutine; executor exists so the completion can hop
// back.
func (p *Purchaser) BuyPlan(ctx context.Context, pl plan.InAppPurchasePlan, addCredits bool, executor Executor, completion func(Result)) {
	if executor == nil {
		executor = DirectExecutor{}
	}

	// The internal paths below may race on redelivered transactions;
	// whichever resolution comes first wins and the rest are dropped.
	var delivered atomic.Bool
	deliver := func(r Result) {
		if !delivered.CompareAndSwap(false, true) {
			p.log.Warn("Suppressed duplicate purchase completion", zap.String("kind", r.Kind.String()))
			return
		}
		executor.Execute(func() { completion(r) })
	}

	if pl.IsFree() {
		// Nothing to buy and nothing to reconcile.
		deliver(purchasedPlanResult(pl))
		return
	}

	details, err := p.provider.DetailsOf(ctx, pl.Name)
	if errors.Is(err, plan.ErrPlanNotKnown) {
		err = p.provider.Update(ctx)
		if err == nil {
			details, err = p.provider.DetailsOf(ctx, pl.Name)
		}
	}
	if errors.Is(err, plan.ErrPlanNotKnown) || (err == nil && details == nil) {
		// The catalog refreshed fine but still has no such plan; the UI
		// should never have offered it.
		deliver(errorResult(pl, errors.Wrapf(ErrPlanDetailsUnknown, "plan %s", pl.Name)))
		return
	}
	if err != nil {
		if backend.IsBlocked(err) {
			deliver(blockedResult(pl, err))
			return
		}
		deliver(errorResult(pl, err))
		return
	}

	if inProgress, ok := p.manager.UnfinishedPurchasePlan(); ok {
		// Never start a second concurrent purchase; the backend can only
		// process the most recent transaction in the receipt.
		deliver(inProgressResult(inProgress))
		return
	}

	amountDue, err := p.resolveAmountDue(ctx, pl)
	if err != nil {
		if backend.IsBlocked(err) {
			deliver(blockedResult(pl, err))
			return
		}
		deliver(errorResult(pl, err))
		return
	}

	if amountDue == 0 && !addCredits {
		p.buyPlanCoveredByCredit(ctx, pl, details, deliver)
		return
	}

	p.manager.PurchaseProduct(ctx, pl, amountDue,
		func(outcome model.PurchaseOutcome) {
			switch outcome.Kind {
			case model.OutcomeCreditsAdded:
				deliver(toppedUpCreditsResult(pl, outcome.Credits))
			default:
				deliver(purchasedPlanResult(pl))
			}
		},
		func(err error) {
			switch {
			case errors.Is(err, ErrPurchaseAlreadyInProgress):
				deliver(inProgressResult(pl))
			case IsCancelled(err):
				deliver(cancelledResult(pl))
			case backend.IsBlocked(err):
				deliver(blockedResult(pl, err))
			default:
				deliver(errorResult(pl, err))
			}
		},
		nil, // deferred is not terminal; the result arrives on a later snapshot
	)
}

func (p *Purchaser) resolveAmountDue(ctx context.Context, pl plan.InAppPurchasePlan) (int64, error) {
	validation, err := p.client.ValidateSubscription(ctx, pl.Name, pl.Cycle)
	if err != nil {
		return 0, err
	}
	return validation.AmountDue, nil
}

// buyPlanCoveredByCredit grants the plan without any platform interaction: a
// zero amount due means account credit fully covers it.
func (p *Purchaser) buyPlanCoveredByCredit(ctx context.Context, pl plan.InAppPurchasePlan, details *backend.PlanDetails, deliver func(Result)) {
	sub, err := p.client.CreateZeroAmountSubscription(ctx, details.ID, pl.Cycle)
	if err != nil {
		if backend.IsBlocked(err) {
			deliver(blockedResult(pl, err))
			return
		}
		deliver(errorResult(pl, err))
		return
	}
	if sub == nil {
		deliver(errorResult(pl, reconcile.ErrNoSubscriptionInResponse))
		return
	}

	_, err = p.provider.UpdateCurrentSubscription(ctx)
	if err != nil {
		p.log.Warn("Failed to refresh subscription after credit-covered purchase", zap.Error(err))
	}

	deliver(purchasedPlanResult(pl))
}

// HasUnfinishedPurchase reports whether the platform queue still holds an
// unresolved transaction.
func (p *Purchaser) HasUnfinishedPurchase() bool {
	return p.manager.HasUnfinishedPurchase()
}

func (p *Purchaser) HasIAPInProgress() bool {
	return p.manager.HasIAPInProgress()
}

// UnfinishedPurchasePlan exposes the in-progress plan for UI context.
func (p *Purchaser) UnfinishedPurchasePlan() (plan.InAppPurchasePlan, bool) {
	return p.manager.UnfinishedPurchasePlan()
}
