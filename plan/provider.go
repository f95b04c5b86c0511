package plan

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corvomail/payments/backend"
)

var (
	ErrPlanNotKnown = errors.New("plan details not known locally")
	ErrNotFound     = errors.New("plan store entry not found")
)

// Store is the local persistence collaborator for plan and subscription
// state. Implementations live in memory/ and gormstore/.
type Store interface {
	SavePlans(ctx context.Context, plans []*backend.PlanDetails) error
	GetPlan(ctx context.Context, name string) (*backend.PlanDetails, error)
	SaveSubscription(ctx context.Context, sub *backend.Subscription) error
	GetSubscription(ctx context.Context) (*backend.Subscription, error)
}

// Provider resolves plan details and subscription state for the purchase
// flow. The orchestrator depends only on this interface; whether the data
// comes from the catalog endpoint or the legacy per-plan endpoint is an
// implementation detail selected at construction time.
type Provider interface {
	// DetailsOf returns locally known details, or ErrPlanNotKnown. It never
	// hits the network; callers refresh explicitly via Update.
	DetailsOf(ctx context.Context, name string) (*backend.PlanDetails, error)

	// Update refreshes locally known plan details from the backend.
	Update(ctx context.Context) error

	CurrentSubscription(ctx context.Context) (*backend.Subscription, error)

	// UpdateCurrentSubscription refreshes and returns the subscription state.
	UpdateCurrentSubscription(ctx context.Context) (*backend.Subscription, error)

	IAPAvailable(ctx context.Context) (bool, error)
}

// CatalogProvider serves plan details from the backend's full plan catalog.
type CatalogProvider struct {
	log    *zap.Logger
	client backend.Client
	store  Store
}

func NewCatalogProvider(log *zap.Logger, client backend.Client, store Store) *CatalogProvider {
	return &CatalogProvider{
		log:    log,
		client: client,
		store:  store,
	}
}

func (p *CatalogProvider) DetailsOf(ctx context.Context, name string) (*backend.PlanDetails, error) {
	details, err := p.store.GetPlan(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPlanNotKnown
	}
	return details, err
}

func (p *CatalogProvider) Update(ctx context.Context) error {
	plans, err := p.client.Plans(ctx)
	if err != nil {
		return errors.Wrap(err, "error fetching plan catalog")
	}

	err = p.store.SavePlans(ctx, plans)
	if err != nil {
		return errors.Wrap(err, "error persisting plan catalog")
	}

	p.log.Debug("Updated plan catalog", zap.Int("num_plans", len(plans)))
	return nil
}

func (p *CatalogProvider) CurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	return p.store.GetSubscription(ctx)
}

func (p *CatalogProvider) UpdateCurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	return updateCurrentSubscription(ctx, p.client, p.store)
}

func (p *CatalogProvider) IAPAvailable(ctx context.Context) (bool, error) {
	return iapAvailable(ctx, p.client)
}

// LegacyProvider serves plan details through the older per-plan endpoint,
// fetching lazily on first use instead of syncing a catalog.
type LegacyProvider struct {
	log    *zap.Logger
	client backend.Client
	store  Store
}

func NewLegacyProvider(log *zap.Logger, client backend.Client, store Store) *LegacyProvider {
	return &LegacyProvider{
		log:    log,
		client: client,
		store:  store,
	}
}

func (p *LegacyProvider) DetailsOf(ctx context.Context, name string) (*backend.PlanDetails, error) {
	details, err := p.store.GetPlan(ctx, name)
	if err == nil {
		return details, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	details, err = p.client.PlanDetails(ctx, name)
	if err != nil {
		if errors.Is(err, backend.ErrPlanMismatch) {
			return nil, ErrPlanNotKnown
		}
		return nil, err
	}

	err = p.store.SavePlans(ctx, []*backend.PlanDetails{details})
	if err != nil {
		p.log.Warn("Failed to persist plan details", zap.String("plan", name), zap.Error(err))
	}
	return details, nil
}

// Update is a no-op for the legacy endpoint; details are fetched per plan in
// DetailsOf.
func (p *LegacyProvider) Update(ctx context.Context) error {
	return nil
}

func (p *LegacyProvider) CurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	return p.store.GetSubscription(ctx)
}

func (p *LegacyProvider) UpdateCurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	return updateCurrentSubscription(ctx, p.client, p.store)
}

func (p *LegacyProvider) IAPAvailable(ctx context.Context) (bool, error) {
	return iapAvailable(ctx, p.client)
}

func updateCurrentSubscription(ctx context.Context, client backend.Client, store Store) (*backend.Subscription, error) {
	sub, err := client.CurrentSubscription(ctx)
	if errors.Is(err, backend.ErrSubscriptionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "error fetching current subscription")
	}

	err = store.SaveSubscription(ctx, sub)
	if err != nil {
		return nil, errors.Wrap(err, "error persisting current subscription")
	}
	return sub, nil
}

func iapAvailable(ctx context.Context, client backend.Client) (bool, error) {
	status, err := client.PaymentStatus(ctx)
	if err != nil {
		return false, err
	}
	return status.IAPEnabled, nil
}
