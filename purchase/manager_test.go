package purchase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corvomail/payments/backend"
	backendmemory "github.com/corvomail/payments/backend/memory"
	"github.com/corvomail/payments/model"
	"github.com/corvomail/payments/plan"
	planmemory "github.com/corvomail/payments/plan/memory"
	"github.com/corvomail/payments/platform"
	platformmemory "github.com/corvomail/payments/platform/memory"
	"github.com/corvomail/payments/purchase"
	"github.com/corvomail/payments/receipt"
)

type fakeSession struct {
	mu       sync.Mutex
	userID   string
	signedIn bool
	unlocked bool
}

func (s *fakeSession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *fakeSession) IsSignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signedIn
}

func (s *fakeSession) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked
}

func (s *fakeSession) ActiveUsername() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *fakeSession) set(userID string, signedIn, unlocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.signedIn = signedIn
	s.unlocked = unlocked
}

type bypassRequest struct {
	username string
	confirm  func()
	decline  func()
}

type fakeAlerter struct {
	shown    chan error
	bypasses chan bypassRequest
}

func newFakeAlerter() *fakeAlerter {
	return &fakeAlerter{
		shown:    make(chan error, 16),
		bypasses: make(chan bypassRequest, 16),
	}
}

func (a *fakeAlerter) ShowError(err error) {
	a.shown <- err
}

func (a *fakeAlerter) ConfirmBypass(username string, err error, confirm func(), decline func()) {
	a.bypasses <- bypassRequest{username: username, confirm: confirm, decline: decline}
}

type managerEnv struct {
	queue     *platformmemory.Queue
	client    *backendmemory.Client
	session   *fakeSession
	alerts    *fakeAlerter
	manager   *purchase.Manager
	refreshes chan struct{}
}

func newManagerEnv(t *testing.T, validator receipt.Validator) *managerEnv {
	t.Helper()

	client := backendmemory.NewClient()
	client.SetPlan(&backend.PlanDetails{
		ID:          "plan-plus",
		Name:        "plus",
		Pricing:     map[int]int64{1: 499, 12: 4799},
		Currency:    "USD",
		Purchasable: true,
	})

	log := zaptest.NewLogger(t)
	provider := plan.NewCatalogProvider(log, client, planmemory.NewInMemory())
	queue := platformmemory.NewQueue()
	session := &fakeSession{userID: "user-1", signedIn: true, unlocked: true}
	alerts := newFakeAlerter()
	refreshes := make(chan struct{}, 16)

	manager := purchase.NewManager(
		log,
		queue,
		client,
		provider,
		&receipt.StaticProvider{Receipt: "cmVjZWlwdA=="},
		validator,
		session,
		alerts,
		func() { refreshes <- struct{}{} },
	)
	manager.SubscribeToPaymentQueue()
	t.Cleanup(manager.Close)

	require.NoError(t, manager.UpdateAvailableProducts(context.Background()))

	return &managerEnv{
		queue:     queue,
		client:    client,
		session:   session,
		alerts:    alerts,
		manager:   manager,
		refreshes: refreshes,
	}
}

func (e *managerEnv) purchase(t *testing.T, productID string, amountDue int64) (chan model.PurchaseOutcome, chan error) {
	t.Helper()

	p, ok := plan.FromProductID(productID)
	require.True(t, ok)

	outcomes := make(chan model.PurchaseOutcome, 4)
	errs := make(chan error, 4)
	e.manager.PurchaseProduct(context.Background(), p, amountDue,
		func(outcome model.PurchaseOutcome) { outcomes <- outcome },
		func(err error) { errs <- err },
		nil,
	)
	return outcomes, errs
}

func waitOutcome(t *testing.T, ch chan model.PurchaseOutcome) model.PurchaseOutcome {
	t.Helper()
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("no purchase outcome")
		return model.PurchaseOutcome{}
	}
}

func waitErr(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("no purchase error")
		return nil
	}
}

func requireQueueDrained(t *testing.T, queue *platformmemory.Queue) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(queue.Transactions()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManager_IsValidPurchase(t *testing.T) {
	env := newManagerEnv(t, receipt.NoopValidator{})

	require.True(t, env.manager.IsValidPurchase(context.Background(), "plus_12"))
	require.False(t, env.manager.IsValidPurchase(context.Background(), "plus_24"))
	require.False(t, env.manager.IsValidPurchase(context.Background(), "nonexistent_12"))
	require.False(t, env.manager.IsValidPurchase(context.Background(), "not-a-product"))
}

func TestManager_PriceLabelForProduct(t *testing.T) {
	env := newManagerEnv(t, receipt.NoopValidator{})

	label, err := env.manager.PriceLabelForProduct(context.Background(), "plus_12")
	require.NoError(t, err)
	require.Equal(t, "$47.99", label)

	_, err = env.manager.PriceLabelForProduct(context.Background(), "plus_24")
	require.ErrorIs(t, err, purchase.ErrUnavailableProduct)
}

func TestManager_UnfinishedPurchase(t *testing.T) {
	env := newManagerEnv(t, receipt.NoopValidator{})

	require.False(t, env.manager.HasUnfinishedPurchase())
	require.False(t, env.manager.HasIAPInProgress())

	env.queue.Inject(&platform.Transaction{
		Payment: platform.Payment{ProductID: "plus_12", Quantity: 1},
		State:   platform.StatePurchased,
	})

	require.True(t, env.manager.HasUnfinishedPurchase())
	require.True(t, env.manager.HasIAPInProgress())

	p, ok := env.manager.UnfinishedPurchasePlan()
	require.True(t, ok)
	require.Equal(t, "plus", p.Name)
	require.Equal(t, 12, p.Cycle)
}

func TestManager_FailedTransactionsDoNotCountAsUnfinished(t *testing.T) {
	env := newManagerEnv(t, receipt.NoopValidator{})

	env.queue.Inject(&platform.Transaction{
		Payment: platform.Payment{ProductID: "plus_12", Quantity: 1},
		State:   platform.StateFailed,
		ErrCode: platform.ErrorCodePaymentCancelled,
	})

	require.False(t, env.manager.HasUnfinishedPurchase())
}

func TestManager_SecondPurchaseForSameIdentityRejected(t *testing.T) {
	env := newManagerEnv(t, receipt.NoopValidator{})
	env.queue.SetPaymentResolution(platform.StateDeferred, platform.ErrorCodeNone)

	p, ok := plan.FromProductID("plus_12")
	require.True(t, ok)

	deferred := make(chan struct{}, 4)
	env.manager.PurchaseProduct(context.Background(), p, 4799,
		func(model.PurchaseOutcome) { t.Error("unexpected success for a deferred purchase") },
		func(err error) { t.Errorf("unexpected error for a deferred purchase: %v", err) },
		func() { deferred <- struct{}{} },
	)
	select {
	case <-deferred:
	case <-time.After(5 * time.Second):
		t.Fatal("purchase was not deferred")
	}

	errs := make(chan error, 4)
	env.manager.PurchaseProduct(context.Background(), p, 4799,
		func(model.PurchaseOutcome) { t.Error("duplicate purchase must not succeed") },
		func(err error) { errs <- err },
		nil,
	)
	require.ErrorIs(t, waitErr(t, errs), purchase.ErrPurchaseAlreadyInProgress)

	// The duplicate never reached the platform, and the first attempt's
	// callbacks stay registered.
	require.Len(t, env.queue.Transactions(), 1)
	require.True(t, env.manager.HasUnfinishedPurchase())
}
