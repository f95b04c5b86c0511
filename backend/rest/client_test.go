package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/corvomail/payments/backend"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(zaptest.NewLogger(t), server.URL, "test/1.0")
}

func TestClient_PaymentStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/payments/v4/status", r.URL.Path)
		require.Equal(t, "test/1.0", r.Header.Get("x-pm-appversion"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Code":1000,"Apple":true}`))
	}))

	status, err := client.PaymentStatus(context.Background())
	require.NoError(t, err)
	require.True(t, status.IAPEnabled)
}

func TestClient_PlansParsesCycles(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Plans": [
				{"ID":"plan-plus","Name":"plus","Currency":"USD","Purchasable":true,"Pricing":{"1":499,"12":4799,"bogus":1}}
			]
		}`))
	}))

	plans, err := client.Plans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, "plan-plus", plans[0].ID)
	require.Equal(t, map[int]int64{1: 499, 12: 4799}, plans[0].Pricing)
}

func TestClient_CreateSubscription(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments/v4/subscription", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "plan-plus", body["PlanID"])
		payment := body["Payment"].(map[string]interface{})
		require.Equal(t, "apple", payment["Type"])
		require.Equal(t, "cmVjZWlwdA==", payment["Receipt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Subscription":{"ID":"sub-1","PlanName":"plus","Cycle":12,"Amount":4799,"PeriodEnd":1790000000}}`))
	}))

	sub, err := client.CreateSubscription(context.Background(), &backend.CreateSubscriptionRequest{
		PlanID:  "plan-plus",
		Cycle:   12,
		Amount:  4799,
		Receipt: "cmVjZWlwdA==",
	})
	require.NoError(t, err)
	require.Equal(t, "sub-1", sub.ID)
	require.Equal(t, int64(1790000000), sub.PeriodEnd.Unix())
}

func TestClient_ClassifiesAPIErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want error
	}{
		{"receipt invalid", `{"Code":22914,"Error":"Invalid receipt"}`, backend.ErrReceiptInvalid},
		{"plan not found", `{"Code":2011,"Error":"No such plan"}`, backend.ErrPlanMismatch},
	} {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(tc.body))
			}))

			_, err := client.ValidateSubscription(context.Background(), "plus", 12)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestClient_OtherAPIErrorsAreTyped(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Code":2001,"Error":"Invalid input"}`))
	}))

	err := client.TopUpCredits(context.Background(), &backend.TopUpCreditsRequest{Amount: 499, Receipt: "r"})

	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 2001, apiErr.Code)
	require.Equal(t, "Invalid input", apiErr.Message)
	require.False(t, backend.IsBlocked(err))
}

func TestClient_TransportFailureIsBlocked(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // nothing listens anymore

	client := NewClient(zaptest.NewLogger(t), server.URL, "test/1.0")

	_, err := client.ValidateSubscription(context.Background(), "plus", 12)
	require.True(t, backend.IsBlocked(err))
}

func TestClient_NoSubscription(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Code":1000}`))
	}))

	_, err := client.CurrentSubscription(context.Background())
	require.ErrorIs(t, err, backend.ErrSubscriptionNotFound)
}
