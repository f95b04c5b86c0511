package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/plan"
)

func RunStoreTests(t *testing.T, s plan.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s plan.Store){
		testPlanStore_Plans,
		testPlanStore_Subscription,
	} {
		tf(t, s)
		teardown()
	}
}

func testPlanStore_Plans(t *testing.T, store plan.Store) {
	_, err := store.GetPlan(context.Background(), "plus")
	require.ErrorIs(t, err, plan.ErrNotFound)

	expected := &backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{1: 499, 12: 4799},
		Currency:    "USD",
		Purchasable: true,
	}
	require.NoError(t, store.SavePlans(context.Background(), []*backend.PlanDetails{expected}))

	actual, err := store.GetPlan(context.Background(), "plus")
	require.NoError(t, err)
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.Name, actual.Name)
	require.Equal(t, expected.Pricing, actual.Pricing)
	require.Equal(t, expected.Currency, actual.Currency)
	require.Equal(t, expected.Purchasable, actual.Purchasable)

	// Saving again overwrites in place.
	updated := &backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{12: 4999},
		Currency:    "USD",
		Purchasable: false,
	}
	require.NoError(t, store.SavePlans(context.Background(), []*backend.PlanDetails{updated}))

	actual, err = store.GetPlan(context.Background(), "plus")
	require.NoError(t, err)
	require.Equal(t, updated.Pricing, actual.Pricing)
	require.False(t, actual.Purchasable)

	_, err = store.GetPlan(context.Background(), "unlimited")
	require.ErrorIs(t, err, plan.ErrNotFound)
}

func testPlanStore_Subscription(t *testing.T, store plan.Store) {
	_, err := store.GetSubscription(context.Background())
	require.ErrorIs(t, err, backend.ErrSubscriptionNotFound)

	expected := &backend.Subscription{
		ID:        "sub-1",
		PlanName:  "plus",
		Cycle:     12,
		Amount:    4799,
		PeriodEnd: time.Now().Add(365 * 24 * time.Hour).UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveSubscription(context.Background(), expected))

	actual, err := store.GetSubscription(context.Background())
	require.NoError(t, err)
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.PlanName, actual.PlanName)
	require.Equal(t, expected.Cycle, actual.Cycle)
	require.Equal(t, expected.Amount, actual.Amount)
	require.WithinDuration(t, expected.PeriodEnd, actual.PeriodEnd, time.Second)

	// Only one current subscription exists; a save replaces it.
	replacement := &backend.Subscription{
		ID:        "sub-2",
		PlanName:  "unlimited",
		Cycle:     1,
		Amount:    999,
		PeriodEnd: expected.PeriodEnd.AddDate(0, 1, 0),
	}
	require.NoError(t, store.SaveSubscription(context.Background(), replacement))

	actual, err = store.GetSubscription(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sub-2", actual.ID)
	require.Equal(t, "unlimited", actual.PlanName)
}
