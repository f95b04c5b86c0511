package cache

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corvomail/payments/backend"
	backendmemory "github.com/corvomail/payments/backend/memory"
	"github.com/corvomail/payments/plan"
	planmemory "github.com/corvomail/payments/plan/memory"
)

func newCachedProvider(t *testing.T) (plan.Provider, *backendmemory.Client) {
	client := backendmemory.NewClient()
	client.SetPlan(&backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{12: 4799},
		Currency:    "USD",
		Purchasable: true,
	})
	return NewInCache(plan.NewLegacyProvider(zaptest.NewLogger(t), client, planmemory.NewInMemory())), client
}

func TestCachedProvider_DetailsServedFromCache(t *testing.T) {
	provider, client := newCachedProvider(t)

	details, err := provider.DetailsOf(context.Background(), "plus")
	require.NoError(t, err)
	require.Equal(t, "plan-plus", details.ID)

	// With the backend no longer serving the plan, the cache answers.
	client.RemovePlan("plus")
	details, err = provider.DetailsOf(context.Background(), "plus")
	require.NoError(t, err)
	require.Equal(t, "plan-plus", details.ID)
}

func TestCachedProvider_UpdatePurgesDetails(t *testing.T) {
	client := backendmemory.NewClient()
	client.SetPlan(&backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{12: 4799},
		Currency:    "USD",
		Purchasable: true,
	})
	provider := NewInCache(plan.NewCatalogProvider(zaptest.NewLogger(t), client, planmemory.NewInMemory()))

	require.NoError(t, provider.Update(context.Background()))

	details, err := provider.DetailsOf(context.Background(), "plus")
	require.NoError(t, err)
	require.Equal(t, int64(4799), details.Pricing[12])

	client.SetPlan(&backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{12: 4999},
		Currency:    "USD",
		Purchasable: true,
	})
	require.NoError(t, provider.Update(context.Background()))

	details, err = provider.DetailsOf(context.Background(), "plus")
	require.NoError(t, err)
	require.Equal(t, int64(4999), details.Pricing[12])
}

func TestCachedProvider_IAPAvailabilityCachesPositiveOnly(t *testing.T) {
	provider, client := newCachedProvider(t)

	// A negative answer must not stick: the flag can flip on at any time.
	client.SetIAPEnabled(false)
	available, err := provider.IAPAvailable(context.Background())
	require.NoError(t, err)
	require.False(t, available)

	client.SetIAPEnabled(true)
	available, err = provider.IAPAvailable(context.Background())
	require.NoError(t, err)
	require.True(t, available)

	// A positive answer is cached through backend outages.
	client.FailWith("PaymentStatus", errors.New("backend down"))
	available, err = provider.IAPAvailable(context.Background())
	require.NoError(t, err)
	require.True(t, available)
}
