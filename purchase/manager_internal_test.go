package purchase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corvomail/payments/backend"
	backendmemory "github.com/corvomail/payments/backend/memory"
	"github.com/corvomail/payments/model"
	"github.com/corvomail/payments/plan"
	planmemory "github.com/corvomail/payments/plan/memory"
	platformmemory "github.com/corvomail/payments/platform/memory"
	"github.com/corvomail/payments/receipt"
)

type staticSession struct{ userID string }

func (s staticSession) UserID() string         { return s.userID }
func (s staticSession) IsSignedIn() bool       { return true }
func (s staticSession) IsUnlocked() bool       { return true }
func (s staticSession) ActiveUsername() string { return s.userID }

type silentAlerter struct{}

func (silentAlerter) ShowError(error)                             {}
func (silentAlerter) ConfirmBypass(string, error, func(), func()) {}

func TestManager_FinishBookkeepingIsPruned(t *testing.T) {
	client := backendmemory.NewClient()
	client.SetPlan(&backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{1: 499, 12: 4799},
		Currency:    "USD",
		Purchasable: true,
	})

	log := zaptest.NewLogger(t)
	queue := platformmemory.NewQueue()

	m := NewManager(
		log,
		queue,
		client,
		plan.NewCatalogProvider(log, client, planmemory.NewInMemory()),
		&receipt.StaticProvider{Receipt: "cmVjZWlwdA=="},
		receipt.NoopValidator{},
		staticSession{userID: "user-1"},
		silentAlerter{},
		nil,
	)
	m.SubscribeToPaymentQueue()
	t.Cleanup(m.Close)
	require.NoError(t, m.UpdateAvailableProducts(context.Background()))

	p, ok := plan.FromProductID("plus_12")
	require.True(t, ok)

	outcomes := make(chan model.PurchaseOutcome, 1)
	m.PurchaseProduct(context.Background(), p, 4799,
		func(outcome model.PurchaseOutcome) { outcomes <- outcome },
		func(err error) { t.Errorf("purchase failed: %v", err) },
		nil,
	)
	select {
	case <-outcomes:
	case <-time.After(5 * time.Second):
		t.Fatal("no purchase outcome")
	}

	// Bookkeeping for acknowledged-and-removed transactions must not
	// accumulate across the manager's lifetime.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.finished) == 0 && len(m.finishConfirm) == 0 && len(m.confirmedRemoved) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
