// Package plan maps platform product identifiers to backend plans and
// resolves their pricing.
package plan

import (
	"regexp"
	"strconv"
)

const FreePlanName = "free"

// productIDPattern matches store product identifiers such as "plus_12" or
// "iosmail_plus_12_usd_non_renewing": an optional platform prefix, the
// backend plan name, and the billing cycle in months.
var productIDPattern = regexp.MustCompile(`^(?:ios[a-z]*_)?([a-z0-9]+)_(\d+)(?:_.+)?$`)

// InAppPurchasePlan is a backend plan as purchasable through the platform
// store. The zero value denotes the free plan, which requires no purchase.
type InAppPurchasePlan struct {
	ProductID string
	Name      string
	Cycle     int
}

// FromProductID resolves a platform product identifier to a plan. It returns
// false when the identifier does not follow the product naming scheme.
func FromProductID(productID string) (InAppPurchasePlan, bool) {
	m := productIDPattern.FindStringSubmatch(productID)
	if m == nil {
		return InAppPurchasePlan{}, false
	}

	cycle, err := strconv.Atoi(m[2])
	if err != nil || cycle == 0 {
		return InAppPurchasePlan{}, false
	}

	return InAppPurchasePlan{
		ProductID: productID,
		Name:      m[1],
		Cycle:     cycle,
	}, true
}

func Free() InAppPurchasePlan {
	return InAppPurchasePlan{Name: FreePlanName}
}

// IsFree reports whether the plan denotes the absence of any paid plan.
func (p InAppPurchasePlan) IsFree() bool {
	return p.ProductID == "" || p.Name == FreePlanName
}
