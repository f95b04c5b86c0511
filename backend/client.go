// Package backend defines the remote subscription system the engine
// reconciles purchases against. The engine only depends on the narrow call
// surface below; the wire format belongs to the implementations.
package backend

import (
	"context"
	"time"
)

// PaymentStatus reports whether the backend currently accepts in-app
// purchases at all.
type PaymentStatus struct {
	IAPEnabled bool
}

// PlanDetails is the backend's description of a purchasable plan. Pricing is
// keyed by billing cycle in months, in minor currency units.
type PlanDetails struct {
	ID          string
	Name        string
	Pricing     map[int]int64
	Currency    string
	Purchasable bool
}

// PricingFor returns the list price for the given cycle.
func (d *PlanDetails) PricingFor(cycle int) (int64, bool) {
	amount, ok := d.Pricing[cycle]
	return amount, ok
}

// Validation is the backend's answer to "what would this user actually pay
// for this plan right now". AmountDue may be lower than list price due to
// account credit or coupons, down to zero.
type Validation struct {
	AmountDue int64
	Credit    int64
}

type Subscription struct {
	ID        string
	PlanName  string
	Cycle     int
	Amount    int64
	PeriodEnd time.Time
}

// HasMoreTime reports whether the subscription extends into the future, which
// is what turns a purchase into a credit top-up instead of a new subscription.
func (s *Subscription) HasMoreTime(now time.Time) bool {
	return s != nil && s.PeriodEnd.After(now)
}

type CreateSubscriptionRequest struct {
	PlanID  string
	Cycle   int
	Amount  int64
	Receipt string
}

type TopUpCreditsRequest struct {
	Amount  int64
	Receipt string
}

// RegisterPurchaseRequest attaches a completed platform purchase to a future
// account, for purchases made before sign-up finished.
type RegisterPurchaseRequest struct {
	PlanID  string
	Amount  int64
	Receipt string
}

type Client interface {
	PaymentStatus(ctx context.Context) (*PaymentStatus, error)

	// Plans fetches the full plan catalog.
	Plans(ctx context.Context) ([]*PlanDetails, error)

	// PlanDetails fetches a single plan through the legacy per-plan endpoint.
	PlanDetails(ctx context.Context, name string) (*PlanDetails, error)

	ValidateSubscription(ctx context.Context, planName string, cycle int) (*Validation, error)

	CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error)

	// CreateZeroAmountSubscription grants a plan fully covered by credit or
	// coupons without any platform payment behind it.
	CreateZeroAmountSubscription(ctx context.Context, planID string, cycle int) (*Subscription, error)

	TopUpCredits(ctx context.Context, req *TopUpCreditsRequest) error

	CurrentSubscription(ctx context.Context) (*Subscription, error)

	RegisterPendingPurchase(ctx context.Context, req *RegisterPurchaseRequest) error
}
