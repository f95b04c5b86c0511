package backend

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestIsBlocked(t *testing.T) {
	require.True(t, IsBlocked(&BlockedError{Err: errors.New("connection refused")}))
	require.True(t, IsBlocked(errors.Wrap(&BlockedError{Err: errors.New("timeout")}, "fetching plans")))
	require.False(t, IsBlocked(errors.New("some other failure")))
	require.False(t, IsBlocked(ErrReceiptInvalid))
}

func TestIsRetryable(t *testing.T) {
	require.False(t, IsRetryable(ErrReceiptInvalid))
	require.False(t, IsRetryable(ErrPlanMismatch))
	require.False(t, IsRetryable(errors.Wrap(ErrReceiptInvalid, "reporting purchase")))

	require.True(t, IsRetryable(errors.New("connection reset")))
	require.True(t, IsRetryable(&BlockedError{Err: errors.New("timeout")}))
	require.True(t, IsRetryable(&APIError{Code: 500, Message: "internal"}))
}
