package memory

import (
	"context"
	"sync"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/plan"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*backend.PlanDetails
	sub   *backend.Subscription
}

func NewInMemory() plan.Store {
	return &InMemoryStore{
		plans: map[string]*backend.PlanDetails{},
	}
}

func (s *InMemoryStore) SavePlans(ctx context.Context, plans []*backend.PlanDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, details := range plans {
		s.plans[details.Name] = clonePlan(details)
	}
	return nil
}

func (s *InMemoryStore) GetPlan(ctx context.Context, name string) (*backend.PlanDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	details, ok := s.plans[name]
	if !ok {
		return nil, plan.ErrNotFound
	}
	return clonePlan(details), nil
}

func (s *InMemoryStore) SaveSubscription(ctx context.Context, sub *backend.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := *sub
	s.sub = &cloned
	return nil
}

func (s *InMemoryStore) GetSubscription(ctx context.Context) (*backend.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sub == nil {
		return nil, backend.ErrSubscriptionNotFound
	}
	cloned := *s.sub
	return &cloned, nil
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plans = map[string]*backend.PlanDetails{}
	s.sub = nil
}

func clonePlan(details *backend.PlanDetails) *backend.PlanDetails {
	pricing := make(map[int]int64, len(details.Pricing))
	for cycle, amount := range details.Pricing {
		pricing[cycle] = amount
	}
	cloned := *details
	cloned.Pricing = pricing
	return &cloned
}
