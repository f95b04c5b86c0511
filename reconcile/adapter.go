// Package reconcile applies a purchased platform transaction to the remote
// subscription system exactly once, routing it by the user's account state.
package reconcile

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/completion"
	"github.com/corvomail/payments/holding"
	"github.com/corvomail/payments/model"
	"github.com/corvomail/payments/plan"
	"github.com/corvomail/payments/platform"
	"github.com/corvomail/payments/receipt"
)

// ErrNoSubscriptionInResponse means the backend reported success for a
// subscription purchase but returned no subscription. Retrying will not help.
var ErrNoSubscriptionInResponse = errors.New("no new subscription in successful response")

// ProcessingType classifies the account state a purchased transaction is
// applied under. It is derived fresh per transaction, never stored.
type ProcessingType uint8

const (
	Registration ProcessingType = iota
	ExistingUserNewSubscription
	ExistingUserAddCredits
)

func (t ProcessingType) String() string {
	switch t {
	case Registration:
		return "registration"
	case ExistingUserNewSubscription:
		return "existing_user_new_subscription"
	case ExistingUserAddCredits:
		return "existing_user_add_credits"
	default:
		return "unknown"
	}
}

// PlanToBeProcessed carries the resolved backend plan and pricing for one
// transaction. Recomputed per transaction just before reporting the purchase.
type PlanToBeProcessed struct {
	BackendPlanID string
	PlanName      string
	Cycle         int
	ListAmount    int64
	AmountDue     int64
}

// AccountState exposes the authenticated user, if any.
type AccountState interface {
	UserID() string
}

type Adapter struct {
	log      *zap.Logger
	client   backend.Client
	provider plan.Provider
	receipts receipt.Provider
	valid    receipt.Validator
	account  AccountState
	cache    *completion.Cache
	held     *holding.Area

	now func() time.Time
}

func NewAdapter(
	log *zap.Logger,
	client backend.Client,
	provider plan.Provider,
	receipts receipt.Provider,
	validator receipt.Validator,
	account AccountState,
	cache *completion.Cache,
	held *holding.Area,
) *Adapter {
	return &Adapter{
		log:      log,
		client:   client,
		provider: provider,
		receipts: receipts,
		valid:    validator,
		account:  account,
		cache:    cache,
		held:     held,
		now:      time.Now,
	}
}

// ProcessingTypeFor computes the account state at the moment a purchased
// transaction is handled, from current authentication state and cached
// subscription state.
func (a *Adapter) ProcessingTypeFor(ctx context.Context) ProcessingType {
	if a.account.UserID() == "" {
		return Registration
	}

	sub, err := a.provider.CurrentSubscription(ctx)
	if err == nil && sub.HasMoreTime(a.now()) {
		return ExistingUserAddCredits
	}
	return ExistingUserNewSubscription
}

// Process applies a purchased, identity-verified transaction to the backend.
// cacheKey identifies the initiating purchase attempt, for amount-due lookup.
// No partial application: any error leaves the backend untouched from the
// engine's point of view, and the caller decides whether to acknowledge the
// transaction based on the error class.
func (a *Adapter) Process(ctx context.Context, txn *platform.Transaction, cacheKey model.PurchaseIdentity) (model.PurchaseOutcome, error) {
	log := a.log.With(
		zap.String("transaction_id", txn.ID.String()),
		zap.String("product", txn.Payment.ProductID),
	)

	planToProcess, err := a.resolvePlan(ctx, txn, cacheKey)
	if err != nil {
		return model.PurchaseOutcome{}, err
	}

	encodedReceipt, err := a.receipts.Read()
	if err != nil {
		return model.PurchaseOutcome{}, err
	}
	err = a.valid.Validate(encodedReceipt)
	if err != nil {
		return model.PurchaseOutcome{}, errors.Wrap(backend.ErrReceiptInvalid, err.Error())
	}

	processingType := a.ProcessingTypeFor(ctx)
	log = log.With(
		zap.String("processing_type", processingType.String()),
		zap.Int64("amount_due", planToProcess.AmountDue),
	)
	log.Debug("Reporting purchased transaction to backend")

	var outcome model.PurchaseOutcome
	switch processingType {
	case ExistingUserNewSubscription:
		if a.held.Contains(txn) {
			outcome, err = a.processAuthenticatedBeforeSignup(ctx, txn, planToProcess, encodedReceipt)
		} else {
			outcome, err = a.processNewSubscription(ctx, planToProcess, encodedReceipt)
		}
	case ExistingUserAddCredits:
		outcome, err = a.processAddCredits(ctx, planToProcess, encodedReceipt)
	case Registration:
		outcome, err = a.processRegistration(ctx, txn, planToProcess, encodedReceipt)
	}

	if err != nil {
		log.Warn("Backend reconciliation failed", zap.Error(err))
		return model.PurchaseOutcome{}, err
	}

	log.Debug("Backend reconciliation succeeded")
	return outcome, nil
}

// resolvePlan maps the transaction's product to a backend plan and settles
// the amount due. A value cached at purchase initiation wins over re-querying
// the backend, so pricing cannot drift between initiation and confirmation;
// list price is the last resort for purchases predating this app session.
func (a *Adapter) resolvePlan(ctx context.Context, txn *platform.Transaction, cacheKey model.PurchaseIdentity) (*PlanToBeProcessed, error) {
	purchasePlan, ok := plan.FromProductID(txn.Payment.ProductID)
	if !ok {
		return nil, errors.Wrapf(backend.ErrPlanMismatch, "product %s", txn.Payment.ProductID)
	}

	details, err := a.provider.DetailsOf(ctx, purchasePlan.Name)
	if errors.Is(err, plan.ErrPlanNotKnown) {
		// One forced catalog refresh before giving up.
		err = a.provider.Update(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "error refreshing plan catalog")
		}
		details, err = a.provider.DetailsOf(ctx, purchasePlan.Name)
		if errors.Is(err, plan.ErrPlanNotKnown) {
			return nil, errors.Wrapf(backend.ErrPlanMismatch, "plan %s", purchasePlan.Name)
		}
	}
	if err != nil {
		return nil, err
	}

	listAmount, ok := details.PricingFor(purchasePlan.Cycle)
	if !ok || !details.Purchasable || details.ID == "" {
		return nil, errors.Wrapf(backend.ErrPlanMismatch, "plan %s cycle %d", purchasePlan.Name, purchasePlan.Cycle)
	}

	amountDue, cached := a.cache.TakeAmountDue(cacheKey)
	if !cached {
		validation, err := a.client.ValidateSubscription(ctx, purchasePlan.Name, purchasePlan.Cycle)
		if err != nil {
			a.log.Warn("Pricing validation failed, falling back to list price",
				zap.String("plan", purchasePlan.Name),
				zap.Error(err),
			)
			amountDue = listAmount
		} else {
			amountDue = validation.AmountDue
		}
	}

	return &PlanToBeProcessed{
		BackendPlanID: details.ID,
		PlanName:      purchasePlan.Name,
		Cycle:         purchasePlan.Cycle,
		ListAmount:    listAmount,
		AmountDue:     amountDue,
	}, nil
}

func (a *Adapter) processNewSubscription(ctx context.Context, p *PlanToBeProcessed, encodedReceipt string) (model.PurchaseOutcome, error) {
	sub, err := a.client.CreateSubscription(ctx, &backend.CreateSubscriptionRequest{
		PlanID:  p.BackendPlanID,
		Cycle:   p.Cycle,
		Amount:  p.AmountDue,
		Receipt: encodedReceipt,
	})
	if err != nil {
		return model.PurchaseOutcome{}, err
	}
	if sub == nil {
		return model.PurchaseOutcome{}, ErrNoSubscriptionInResponse
	}

	a.refreshSubscription(ctx)
	return model.SubscriptionCreatedOutcome(p.PlanName), nil
}

// processAuthenticatedBeforeSignup handles a transaction originally made
// before the account existed, now that the user is authenticated.
func (a *Adapter) processAuthenticatedBeforeSignup(ctx context.Context, txn *platform.Transaction, p *PlanToBeProcessed, encodedReceipt string) (model.PurchaseOutcome, error) {
	outcome, err := a.processNewSubscription(ctx, p, encodedReceipt)
	if err != nil {
		return model.PurchaseOutcome{}, err
	}

	a.held.Remove(txn)
	return outcome, nil
}

func (a *Adapter) processAddCredits(ctx context.Context, p *PlanToBeProcessed, encodedReceipt string) (model.PurchaseOutcome, error) {
	err := a.client.TopUpCredits(ctx, &backend.TopUpCreditsRequest{
		Amount:  p.AmountDue,
		Receipt: encodedReceipt,
	})
	if err != nil {
		return model.PurchaseOutcome{}, err
	}
	return model.CreditsAddedOutcome(p.PlanName, p.AmountDue), nil
}

// processRegistration records the purchase against the account about to be
// created and keeps the transaction in the holding area so a later,
// authenticated retry recognizes it.
func (a *Adapter) processRegistration(ctx context.Context, txn *platform.Transaction, p *PlanToBeProcessed, encodedReceipt string) (model.PurchaseOutcome, error) {
	err := a.client.RegisterPendingPurchase(ctx, &backend.RegisterPurchaseRequest{
		PlanID:  p.BackendPlanID,
		Amount:  p.AmountDue,
		Receipt: encodedReceipt,
	})
	if err != nil {
		return model.PurchaseOutcome{}, err
	}

	a.held.Add(txn)
	return model.PurchaseRegisteredOutcome(p.PlanName), nil
}

func (a *Adapter) refreshSubscription(ctx context.Context) {
	_, err := a.provider.UpdateCurrentSubscription(ctx)
	if err != nil && !errors.Is(err, backend.ErrSubscriptionNotFound) {
		a.log.Warn("Failed to refresh subscription after purchase", zap.Error(err))
	}
}
