// Package purchase contains the purchase flow orchestrator: it serializes
// platform queue snapshots, drives each transaction through classification,
// backend reconciliation and acknowledgment, and guarantees every purchase
// attempt resolves through exactly one callback.
package purchase

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/completion"
	"github.com/corvomail/payments/holding"
	"github.com/corvomail/payments/localization"
	"github.com/corvomail/payments/model"
	"github.com/corvomail/payments/plan"
	"github.com/corvomail/payments/platform"
	"github.com/corvomail/payments/receipt"
	"github.com/corvomail/payments/reconcile"
	"github.com/corvomail/payments/taskqueue"
)

type Manager struct {
	log      *zap.Logger
	queue    platform.Queue
	client   backend.Client
	provider plan.Provider
	session  Session
	alerts   Alerter
	cache    *completion.Cache
	held     *holding.Area
	tasks    *taskqueue.Queue
	adapter  *reconcile.Adapter

	// refreshHandler lets the surrounding app re-sync cached subscription
	// state after a platform-level purchase error.
	refreshHandler func()

	mu               sync.Mutex
	finishHandler    func()
	finishConfirm    map[uuid.UUID]func()
	finished         map[uuid.UUID]struct{}
	confirmedRemoved []uuid.UUID
}

func NewManager(
	log *zap.Logger,
	queue platform.Queue,
	client backend.Client,
	provider plan.Provider,
	receipts receipt.Provider,
	validator receipt.Validator,
	session Session,
	alerts Alerter,
	refreshHandler func(),
) *Manager {
	if refreshHandler == nil {
		refreshHandler = func() {}
	}

	m := &Manager{
		log:            log,
		queue:          queue,
		client:         client,
		provider:       provider,
		session:        session,
		alerts:         alerts,
		held:           holding.NewArea(),
		tasks:          taskqueue.New(),
		refreshHandler: refreshHandler,
		finishConfirm:  map[uuid.UUID]func(){},
		finished:       map[uuid.UUID]struct{}{},
	}

	// A resolution whose original requester is gone still surfaces, except
	// user cancellations.
	m.cache = completion.NewCache(func(err error) {
		if IsCancelled(err) {
			return
		}
		alerts.ShowError(err)
	})

	m.adapter = reconcile.NewAdapter(log, client, provider, receipts, validator, sessionUserID{session}, m.cache, m.held)
	return m
}

type sessionUserID struct{ s Session }

func (a sessionUserID) UserID() string { return a.s.UserID() }

// SubscribeToPaymentQueue registers the manager as the platform queue
// observer. Call once after construction.
func (m *Manager) SubscribeToPaymentQueue() {
	m.queue.RemoveObserver(m)
	m.queue.AddObserver(m)
}

func (m *Manager) Close() {
	m.queue.RemoveObserver(m)
	m.tasks.Close()
	m.cache.Close()
}

// UpdateAvailableProducts refreshes the purchasable plan catalog.
func (m *Manager) UpdateAvailableProducts(ctx context.Context) error {
	return m.provider.Update(ctx)
}

// IsValidPurchase reports whether the product can currently be purchased:
// the backend accepts in-app purchases and knows the plan as purchasable.
func (m *Manager) IsValidPurchase(ctx context.Context, productID string) bool {
	p, ok := plan.FromProductID(productID)
	if !ok {
		return false
	}

	available, err := m.provider.IAPAvailable(ctx)
	if err != nil || !available {
		return false
	}

	details, err := m.provider.DetailsOf(ctx, p.Name)
	if err != nil {
		return false
	}
	_, hasPrice := details.PricingFor(p.Cycle)
	return details.Purchasable && hasPrice
}

// PriceLabelForProduct returns the localized list price of a product.
func (m *Manager) PriceLabelForProduct(ctx context.Context, productID string) (string, error) {
	p, ok := plan.FromProductID(productID)
	if !ok {
		return "", errors.Wrapf(ErrUnavailableProduct, "product %s", productID)
	}

	details, err := m.provider.DetailsOf(ctx, p.Name)
	if err != nil {
		return "", err
	}
	amount, ok := details.PricingFor(p.Cycle)
	if !ok {
		return "", errors.Wrapf(ErrUnavailableProduct, "product %s", productID)
	}

	return localization.PriceLabel(amount, details.Currency), nil
}

// PurchaseProduct initiates an in-app purchase for the plan with a known
// amount due. Callbacks are registered in the completion cache and fire when
// the platform eventually reports a terminal transaction state, possibly in a
// later app session.
func (m *Manager) PurchaseProduct(
	ctx context.Context,
	p plan.InAppPurchasePlan,
	amountDue int64,
	onSuccess completion.SuccessFunc,
	onError completion.ErrorFunc,
	onDeferred completion.DeferredFunc,
) {
	available, err := m.provider.IAPAvailable(ctx)
	if err != nil {
		onError(err)
		return
	}
	if !available {
		onError(errors.Wrap(ErrUnavailableProduct, "in-app purchases are disabled"))
		return
	}

	details, err := m.provider.DetailsOf(ctx, p.Name)
	if err != nil {
		if errors.Is(err, plan.ErrPlanNotKnown) {
			onError(errors.Wrapf(ErrUnavailableProduct, "plan %s", p.Name))
			return
		}
		onError(err)
		return
	}
	if !details.Purchasable {
		onError(errors.Wrapf(ErrUnavailableProduct, "plan %s", p.Name))
		return
	}

	hashedUserID := model.HashUserID(m.session.UserID())
	key := model.NewPurchaseIdentity(p.ProductID, hashedUserID)

	if m.cache.HasCompletions(key) {
		// Registering again would overwrite the callbacks of the purchase
		// already in flight for this product and user.
		onError(errors.Wrapf(ErrPurchaseAlreadyInProgress, "product %s", p.ProductID))
		return
	}

	m.cache.SetAmountDue(key, amountDue)
	m.cache.SetCompletions(key, onSuccess, onDeferred, onError)

	m.queue.AddPayment(platform.Payment{
		ProductID:               p.ProductID,
		Quantity:                1,
		ApplicationUsernameHash: hashedUserID,
	})
	m.log.Debug("Purchase started", zap.String("product", p.ProductID))
}

// HasUnfinishedPurchase reports whether any non-failed transaction is still
// in the platform queue.
func (m *Manager) HasUnfinishedPurchase() bool {
	_, ok := m.UnfinishedPurchasePlan()
	return ok
}

// HasIAPInProgress additionally counts transactions queued for processing in
// this session.
func (m *Manager) HasIAPInProgress() bool {
	return m.HasUnfinishedPurchase() || m.tasks.Pending() > 0
}

// UnfinishedPurchasePlan returns the plan of the first unresolved transaction
// in the platform queue.
func (m *Manager) UnfinishedPurchasePlan() (plan.InAppPurchasePlan, bool) {
	for _, txn := range m.queue.Transactions() {
		if txn.State == platform.StateFailed {
			continue
		}
		if p, ok := plan.FromProductID(txn.Payment.ProductID); ok {
			return p, true
		}
	}
	return plan.InAppPurchasePlan{}, false
}

// GetNotifiedWhenTransactionsWaitingForSignupAppear registers the single
// signup observer and returns the currently pending plans.
func (m *Manager) GetNotifiedWhenTransactionsWaitingForSignupAppear(callback func([]plan.InAppPurchasePlan)) []plan.InAppPurchasePlan {
	return m.held.Observe(callback)
}

func (m *Manager) StopBeingNotified() {
	m.held.StopObserving()
}
