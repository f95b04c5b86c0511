package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvomail/payments/backend"
)

// Client is an in-memory backend used by tests and the simulator. Calls can
// be made to fail per method, and every mutating call is recorded.
type Client struct {
	mu sync.Mutex

	iapEnabled bool
	plans      map[string]*backend.PlanDetails
	validation map[string]*backend.Validation
	current    *backend.Subscription
	errs       map[string]error

	// When set, CreateSubscription succeeds but returns no subscription,
	// reproducing a broken success response from the backend.
	omitSubscriptionInResponse bool

	createdSubscriptions []*backend.CreateSubscriptionRequest
	zeroAmountPlans      []string
	topUps               []*backend.TopUpCreditsRequest
	registered           []*backend.RegisterPurchaseRequest
}

func NewClient() *Client {
	return &Client{
		iapEnabled: true,
		plans:      map[string]*backend.PlanDetails{},
		validation: map[string]*backend.Validation{},
		errs:       map[string]error{},
	}
}

func (c *Client) SetIAPEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iapEnabled = enabled
}

func (c *Client) SetPlan(details *backend.PlanDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[details.Name] = details
}

func (c *Client) RemovePlan(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plans, name)
}

func (c *Client) SetValidation(planName string, v *backend.Validation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validation[planName] = v
}

func (c *Client) SetCurrentSubscription(sub *backend.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = sub
}

// FailWith makes the named method return err until cleared with a nil err.
func (c *Client) FailWith(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errs, method)
		return
	}
	c.errs[method] = err
}

func (c *Client) OmitSubscriptionInResponse(omit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.omitSubscriptionInResponse = omit
}

func (c *Client) CreatedSubscriptions() []*backend.CreateSubscriptionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*backend.CreateSubscriptionRequest, len(c.createdSubscriptions))
	copy(out, c.createdSubscriptions)
	return out
}

func (c *Client) ZeroAmountPlans() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.zeroAmountPlans))
	copy(out, c.zeroAmountPlans)
	return out
}

func (c *Client) TopUps() []*backend.TopUpCreditsRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*backend.TopUpCreditsRequest, len(c.topUps))
	copy(out, c.topUps)
	return out
}

func (c *Client) Registered() []*backend.RegisterPurchaseRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*backend.RegisterPurchaseRequest, len(c.registered))
	copy(out, c.registered)
	return out
}

func (c *Client) PaymentStatus(ctx context.Context) (*backend.PaymentStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["PaymentStatus"]; err != nil {
		return nil, err
	}
	return &backend.PaymentStatus{IAPEnabled: c.iapEnabled}, nil
}

func (c *Client) Plans(ctx context.Context) ([]*backend.PlanDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["Plans"]; err != nil {
		return nil, err
	}

	var out []*backend.PlanDetails
	for _, details := range c.plans {
		out = append(out, details)
	}
	return out, nil
}

func (c *Client) PlanDetails(ctx context.Context, name string) (*backend.PlanDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["PlanDetails"]; err != nil {
		return nil, err
	}

	details, ok := c.plans[name]
	if !ok {
		return nil, backend.ErrPlanMismatch
	}
	return details, nil
}

func (c *Client) ValidateSubscription(ctx context.Context, planName string, cycle int) (*backend.Validation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["ValidateSubscription"]; err != nil {
		return nil, err
	}

	if v, ok := c.validation[planName]; ok {
		return v, nil
	}

	details, ok := c.plans[planName]
	if !ok {
		return nil, backend.ErrPlanMismatch
	}
	amount, ok := details.PricingFor(cycle)
	if !ok {
		return nil, backend.ErrPlanMismatch
	}
	return &backend.Validation{AmountDue: amount}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, req *backend.CreateSubscriptionRequest) (*backend.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["CreateSubscription"]; err != nil {
		return nil, err
	}

	c.createdSubscriptions = append(c.createdSubscriptions, req)

	if c.omitSubscriptionInResponse {
		return nil, nil
	}

	sub := &backend.Subscription{
		ID:        uuid.NewString(),
		PlanName:  planNameByID(c.plans, req.PlanID),
		Cycle:     req.Cycle,
		Amount:    req.Amount,
		PeriodEnd: time.Now().AddDate(0, req.Cycle, 0),
	}
	c.current = sub
	return sub, nil
}

func (c *Client) CreateZeroAmountSubscription(ctx context.Context, planID string, cycle int) (*backend.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["CreateZeroAmountSubscription"]; err != nil {
		return nil, err
	}

	c.zeroAmountPlans = append(c.zeroAmountPlans, planID)

	sub := &backend.Subscription{
		ID:        uuid.NewString(),
		PlanName:  planNameByID(c.plans, planID),
		Cycle:     cycle,
		PeriodEnd: time.Now().AddDate(0, cycle, 0),
	}
	c.current = sub
	return sub, nil
}

func (c *Client) TopUpCredits(ctx context.Context, req *backend.TopUpCreditsRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["TopUpCredits"]; err != nil {
		return err
	}

	c.topUps = append(c.topUps, req)
	return nil
}

func (c *Client) CurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["CurrentSubscription"]; err != nil {
		return nil, err
	}

	if c.current == nil {
		return nil, backend.ErrSubscriptionNotFound
	}
	return c.current, nil
}

func (c *Client) RegisterPendingPurchase(ctx context.Context, req *backend.RegisterPurchaseRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.errs["RegisterPendingPurchase"]; err != nil {
		return err
	}

	c.registered = append(c.registered, req)
	return nil
}

func planNameByID(plans map[string]*backend.PlanDetails, planID string) string {
	for name, details := range plans {
		if details.ID == planID {
			return name
		}
	}
	return planID
}
