package purchase

import (
	"github.com/pkg/errors"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/receipt"
	"github.com/corvomail/payments/reconcile"
)

var (
	// ErrPlanDetailsUnknown means a purchase was requested for a plan the
	// backend catalog cannot resolve. The caller should never offer such a
	// plan in the UI, so this is treated as a programmer error.
	ErrPlanDetailsUnknown = errors.New("details of the requested plan are unknown")

	ErrUnavailableProduct = errors.New("product is not available for purchase")

	// ErrPurchaseAlreadyInProgress rejects a second purchase attempt for a
	// product and user whose first attempt has not completed yet. The
	// callbacks of the in-flight attempt stay registered untouched.
	ErrPurchaseAlreadyInProgress = errors.New("a purchase for this product is already in progress")

	ErrPleaseSignIn = errors.New("please sign in before finishing the purchase")

	ErrAppIsLocked = errors.New("app is locked")

	ErrNoActiveUsername = errors.New("no active username")

	// ErrTransactionOfAnotherUser marks a transaction tagged with a hashed
	// user that does not match the account currently signed in. It triggers
	// the confirm-bypass flow instead of failing outright.
	ErrTransactionOfAnotherUser = errors.New("transaction belongs to another user")

	ErrBypassDeclined = errors.New("processing of another user's transaction was declined")

	ErrCancelled = errors.New("purchase was cancelled by the user")

	ErrNotAllowed = errors.New("user is not allowed to make payments")

	ErrUnknownPlatformError = errors.New("platform reported an unknown purchase error")

	ErrTransactionFailedUnknownReason = errors.New("transaction failed for an unknown reason")
)

// shouldFinishOnError reports whether a failed reconciliation should still
// acknowledge the transaction: deterministic failures are cleared from the
// platform queue since redelivery cannot change the result.
func shouldFinishOnError(err error) bool {
	switch {
	case errors.Is(err, receipt.ErrReceiptLost),
		errors.Is(err, backend.ErrReceiptInvalid),
		errors.Is(err, backend.ErrPlanMismatch),
		errors.Is(err, reconcile.ErrNoSubscriptionInResponse):
		return true
	}
	return false
}

// IsCancelled reports whether err represents a user-initiated cancellation,
// which is never surfaced as an error alert.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrBypassDeclined)
}
