package backend

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrReceiptInvalid means the backend rejected the platform receipt.
	// Retrying the same transaction will not help.
	ErrReceiptInvalid = errors.New("backend rejected the purchase receipt")

	// ErrPlanMismatch means the purchased product no longer maps to a plan
	// the backend knows. Retrying will not help.
	ErrPlanMismatch = errors.New("purchased plan does not match any backend plan")

	ErrSubscriptionNotFound = errors.New("no current subscription")
)

// APIError is a typed error returned by the backend API itself, as opposed to
// a transport failure.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend api error %d: %s", e.Code, e.Message)
}

// BlockedError marks a transport-level failure that looks like the API being
// unreachable or blocked, so the UI can suggest network troubleshooting.
type BlockedError struct {
	Err error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("api might be blocked: %v", e.Err)
}

func (e *BlockedError) Unwrap() error {
	return e.Err
}

func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// IsRetryable reports whether leaving the transaction in the platform queue
// and retrying on the next snapshot could succeed. Receipt and plan-mismatch
// failures are deterministic; everything else is assumed transient.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrReceiptInvalid) || errors.Is(err, ErrPlanMismatch) {
		return false
	}
	return true
}
