package purchase

import (
	"github.com/corvomail/payments/plan"
)

type ResultKind uint8

const (
	ResultUnknown ResultKind = iota
	ResultPurchasedPlan
	ResultToppedUpCredits
	ResultPlanPurchaseProcessingInProgress
	ResultPurchaseError
	ResultAPIMightBeBlocked
	ResultPurchaseCancelled
)

func (k ResultKind) String() string {
	switch k {
	case ResultPurchasedPlan:
		return "purchased_plan"
	case ResultToppedUpCredits:
		return "topped_up_credits"
	case ResultPlanPurchaseProcessingInProgress:
		return "plan_purchase_processing_in_progress"
	case ResultPurchaseError:
		return "purchase_error"
	case ResultAPIMightBeBlocked:
		return "api_might_be_blocked"
	case ResultPurchaseCancelled:
		return "purchase_cancelled"
	default:
		return "unknown"
	}
}

// Result is the single terminal outcome of a BuyPlan call.
type Result struct {
	Kind    ResultKind
	Plan    plan.InAppPurchasePlan
	Credits int64

	// Err carries the underlying error for ResultPurchaseError and
	// ResultAPIMightBeBlocked.
	Err error
}

func purchasedPlanResult(p plan.InAppPurchasePlan) Result {
	return Result{Kind: ResultPurchasedPlan, Plan: p}
}

func toppedUpCreditsResult(p plan.InAppPurchasePlan, credits int64) Result {
	return Result{Kind: ResultToppedUpCredits, Plan: p, Credits: credits}
}

func inProgressResult(p plan.InAppPurchasePlan) Result {
	return Result{Kind: ResultPlanPurchaseProcessingInProgress, Plan: p}
}

func errorResult(p plan.InAppPurchasePlan, err error) Result {
	return Result{Kind: ResultPurchaseError, Plan: p, Err: err}
}

func blockedResult(p plan.InAppPurchasePlan, err error) Result {
	return Result{Kind: ResultAPIMightBeBlocked, Plan: p, Err: err}
}

func cancelledResult(p plan.InAppPurchasePlan) Result {
	return Result{Kind: ResultPurchaseCancelled, Plan: p}
}

// Executor runs completion callbacks on a caller-chosen execution context, so
// UI-bound callers are not required to hop threads themselves.
type Executor interface {
	Execute(fn func())
}

// DirectExecutor runs callbacks inline on the delivering goroutine.
type DirectExecutor struct{}

func (DirectExecutor) Execute(fn func()) { fn() }

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }
