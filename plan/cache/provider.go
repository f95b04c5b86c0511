package cache

import (
	"context"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/plan"
)

const iapAvailableTTL = 5 * time.Minute

// Provider decorates another plan.Provider with short-lived caching of plan
// details and the IAP availability flag, keeping the hot purchase path off
// the store and the network.
type Provider struct {
	delegate plan.Provider

	detailsCache      *ttlcache.Cache
	iapAvailableCache *ttlcache.Cache
}

func NewInCache(delegate plan.Provider) plan.Provider {
	detailsCache := ttlcache.NewCache()

	iapAvailableCache := ttlcache.NewCache()
	iapAvailableCache.SetTTL(iapAvailableTTL)

	return &Provider{
		delegate:          delegate,
		detailsCache:      detailsCache,
		iapAvailableCache: iapAvailableCache,
	}
}

func (p *Provider) DetailsOf(ctx context.Context, name string) (*backend.PlanDetails, error) {
	cached, ok := p.detailsCache.Get(name)
	if ok {
		return cached.(*backend.PlanDetails), nil
	}

	details, err := p.delegate.DetailsOf(ctx, name)
	if err == nil {
		p.detailsCache.Set(name, details)
	}
	return details, err
}

func (p *Provider) Update(ctx context.Context) error {
	err := p.delegate.Update(ctx)
	if err == nil {
		p.detailsCache.Purge()
	}
	return err
}

func (p *Provider) CurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	return p.delegate.CurrentSubscription(ctx)
}

func (p *Provider) UpdateCurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	return p.delegate.UpdateCurrentSubscription(ctx)
}

func (p *Provider) IAPAvailable(ctx context.Context) (bool, error) {
	cached, ok := p.iapAvailableCache.Get("iap_available")
	if ok {
		return cached.(bool), nil
	}

	available, err := p.delegate.IAPAvailable(ctx)
	if err == nil && available {
		// Only cache positive results
		p.iapAvailableCache.Set("iap_available", available)
	}
	return available, err
}
