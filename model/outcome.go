package model

type OutcomeKind uint8

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeSubscriptionCreated
	OutcomeCreditsAdded
	OutcomePurchaseRegistered
)

// PurchaseOutcome describes how a purchased transaction was applied to the
// backend. Exactly one outcome is delivered per resolved purchase.
type PurchaseOutcome struct {
	Kind     OutcomeKind
	PlanName string
	Credits  int64
}

func SubscriptionCreatedOutcome(planName string) PurchaseOutcome {
	return PurchaseOutcome{Kind: OutcomeSubscriptionCreated, PlanName: planName}
}

func CreditsAddedOutcome(planName string, credits int64) PurchaseOutcome {
	return PurchaseOutcome{Kind: OutcomeCreditsAdded, PlanName: planName, Credits: credits}
}

func PurchaseRegisteredOutcome(planName string) PurchaseOutcome {
	return PurchaseOutcome{Kind: OutcomePurchaseRegistered, PlanName: planName}
}
