package holding

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/corvomail/payments/plan"
	"github.com/corvomail/payments/platform"
)

func heldTxn(productID string) *platform.Transaction {
	return &platform.Transaction{
		ID: uuid.New(),
		Payment: platform.Payment{
			ProductID: productID,
			Quantity:  1,
		},
		State: platform.StatePurchased,
	}
}

func TestArea_AddRemoveContains(t *testing.T) {
	a := NewArea()
	txn := heldTxn("plus_12")

	require.False(t, a.Contains(txn))

	a.Add(txn)
	require.True(t, a.Contains(txn))

	// Re-adding the same transaction is a no-op.
	a.Add(txn)
	require.Len(t, a.Plans(), 1)

	a.Remove(txn)
	require.False(t, a.Contains(txn))
	require.Empty(t, a.Plans())

	// Removing an absent transaction is harmless.
	a.Remove(txn)
}

func TestArea_PlansInArrivalOrder(t *testing.T) {
	a := NewArea()
	a.Add(heldTxn("plus_12"))
	a.Add(heldTxn("unlimited_1"))
	a.Add(heldTxn("not-a-product"))

	plans := a.Plans()
	require.Len(t, plans, 2)
	require.Equal(t, "plus", plans[0].Name)
	require.Equal(t, 12, plans[0].Cycle)
	require.Equal(t, "unlimited", plans[1].Name)
	require.Equal(t, 1, plans[1].Cycle)
}

func TestArea_ObserverNotifiedOnChange(t *testing.T) {
	a := NewArea()
	a.Add(heldTxn("plus_12"))

	var notifications [][]string
	current := a.Observe(func(plans []plan.InAppPurchasePlan) {
		var names []string
		for _, p := range plans {
			names = append(names, p.Name)
		}
		notifications = append(notifications, names)
	})
	require.Len(t, current, 1)
	require.Equal(t, "plus", current[0].Name)

	txn := heldTxn("unlimited_1")
	a.Add(txn)
	require.Len(t, notifications, 1)
	require.Equal(t, []string{"plus", "unlimited"}, notifications[0])

	a.Remove(txn)
	require.Len(t, notifications, 2)
	require.Equal(t, []string{"plus"}, notifications[1])

	a.StopObserving()
	a.Add(heldTxn("unlimited_24"))
	require.Len(t, notifications, 2)
}
