// Package rest implements the backend client over plain HTTP+JSON.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/corvomail/payments/backend"
)

const (
	defaultTimeout = 30 * time.Second

	// API error codes the reconciliation flow treats as deterministic.
	apiCodeReceiptInvalid = 22914
	apiCodePlanNotFound   = 2011
)

type Client struct {
	log  *zap.Logger
	http *resty.Client
}

func NewClient(log *zap.Logger, baseURL, appVersion string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("x-pm-appversion", appVersion).
		SetHeader("Accept", "application/json")

	return &Client{
		log:  log,
		http: httpClient,
	}
}

type apiError struct {
	Code    int    `json:"Code"`
	Message string `json:"Error"`
}

type statusResponse struct {
	Apple bool `json:"Apple"`
}

type planPayload struct {
	ID          string           `json:"ID"`
	Name        string           `json:"Name"`
	Currency    string           `json:"Currency"`
	Purchasable bool             `json:"Purchasable"`
	Pricing     map[string]int64 `json:"Pricing"`
}

type plansResponse struct {
	Plans []*planPayload `json:"Plans"`
}

type planResponse struct {
	Plan *planPayload `json:"Plan"`
}

type checkRequest struct {
	PlanName string `json:"PlanName"`
	Cycle    int    `json:"Cycle"`
}

type checkResponse struct {
	AmountDue int64 `json:"AmountDue"`
	Credit    int64 `json:"Credit"`
}

type subscriptionPayload struct {
	ID        string `json:"ID"`
	PlanName  string `json:"PlanName"`
	Cycle     int    `json:"Cycle"`
	Amount    int64  `json:"Amount"`
	PeriodEnd int64  `json:"PeriodEnd"`
}

type subscriptionResponse struct {
	Subscription *subscriptionPayload `json:"Subscription"`
}

type paymentPayload struct {
	Type    string `json:"Type"`
	Receipt string `json:"Receipt,omitempty"`
}

type createSubscriptionRequest struct {
	PlanID  string          `json:"PlanID"`
	Cycle   int             `json:"Cycle"`
	Amount  int64           `json:"Amount"`
	Payment *paymentPayload `json:"Payment,omitempty"`
}

type topUpRequest struct {
	Amount  int64           `json:"Amount"`
	Payment *paymentPayload `json:"Payment"`
}

type registerPurchaseRequest struct {
	PlanID  string          `json:"PlanID"`
	Amount  int64           `json:"Amount"`
	Payment *paymentPayload `json:"Payment"`
}

func (c *Client) PaymentStatus(ctx context.Context) (*backend.PaymentStatus, error) {
	var out statusResponse
	err := c.get(ctx, "/payments/v4/status", &out)
	if err != nil {
		return nil, err
	}
	return &backend.PaymentStatus{IAPEnabled: out.Apple}, nil
}

func (c *Client) Plans(ctx context.Context) ([]*backend.PlanDetails, error) {
	var out plansResponse
	err := c.get(ctx, "/payments/v4/plans", &out)
	if err != nil {
		return nil, err
	}

	details := make([]*backend.PlanDetails, 0, len(out.Plans))
	for _, p := range out.Plans {
		details = append(details, p.toDetails())
	}
	return details, nil
}

func (c *Client) PlanDetails(ctx context.Context, name string) (*backend.PlanDetails, error) {
	var out planResponse
	err := c.get(ctx, "/payments/v4/plans/"+name, &out)
	if err != nil {
		return nil, err
	}
	if out.Plan == nil {
		return nil, backend.ErrPlanMismatch
	}
	return out.Plan.toDetails(), nil
}

func (c *Client) ValidateSubscription(ctx context.Context, planName string, cycle int) (*backend.Validation, error) {
	var out checkResponse
	err := c.post(ctx, "/payments/v4/subscription/check", &checkRequest{PlanName: planName, Cycle: cycle}, &out)
	if err != nil {
		return nil, err
	}
	return &backend.Validation{AmountDue: out.AmountDue, Credit: out.Credit}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, req *backend.CreateSubscriptionRequest) (*backend.Subscription, error) {
	body := &createSubscriptionRequest{
		PlanID: req.PlanID,
		Cycle:  req.Cycle,
		Amount: req.Amount,
		Payment: &paymentPayload{
			Type:    "apple",
			Receipt: req.Receipt,
		},
	}

	var out subscriptionResponse
	err := c.post(ctx, "/payments/v4/subscription", body, &out)
	if err != nil {
		return nil, err
	}
	if out.Subscription == nil {
		return nil, nil
	}
	return out.Subscription.toSubscription(), nil
}

func (c *Client) CreateZeroAmountSubscription(ctx context.Context, planID string, cycle int) (*backend.Subscription, error) {
	body := &createSubscriptionRequest{
		PlanID: planID,
		Cycle:  cycle,
		Amount: 0,
	}

	var out subscriptionResponse
	err := c.post(ctx, "/payments/v4/subscription", body, &out)
	if err != nil {
		return nil, err
	}
	if out.Subscription == nil {
		return nil, nil
	}
	return out.Subscription.toSubscription(), nil
}

func (c *Client) TopUpCredits(ctx context.Context, req *backend.TopUpCreditsRequest) error {
	body := &topUpRequest{
		Amount: req.Amount,
		Payment: &paymentPayload{
			Type:    "apple",
			Receipt: req.Receipt,
		},
	}
	return c.post(ctx, "/payments/v4/credits", body, nil)
}

func (c *Client) CurrentSubscription(ctx context.Context) (*backend.Subscription, error) {
	var out subscriptionResponse
	err := c.get(ctx, "/payments/v4/subscription", &out)
	if err != nil {
		return nil, err
	}
	if out.Subscription == nil {
		return nil, backend.ErrSubscriptionNotFound
	}
	return out.Subscription.toSubscription(), nil
}

func (c *Client) RegisterPendingPurchase(ctx context.Context, req *backend.RegisterPurchaseRequest) error {
	body := &registerPurchaseRequest{
		PlanID: req.PlanID,
		Amount: req.Amount,
		Payment: &paymentPayload{
			Type:    "apple",
			Receipt: req.Receipt,
		},
	}
	return c.post(ctx, "/payments/v4/tokens", body, nil)
}

// get retries transient failures with exponential backoff. Reads are safe to
// retry; writes are not, since the reconciliation flow relies on the platform
// queue for redelivery instead.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && !backend.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	var apiErr apiError
	req.SetError(&apiErr)

	resp, err := req.Execute(method, path)
	if err != nil {
		c.log.Warn("Backend request transport failure",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return &backend.BlockedError{Err: err}
	}

	if resp.IsError() {
		c.log.Warn("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.Int("api_code", apiErr.Code),
		)
		return classify(resp.StatusCode(), &apiErr)
	}

	return nil
}

func classify(status int, apiErr *apiError) error {
	switch apiErr.Code {
	case apiCodeReceiptInvalid:
		return errors.Wrap(backend.ErrReceiptInvalid, apiErr.Message)
	case apiCodePlanNotFound:
		return errors.Wrap(backend.ErrPlanMismatch, apiErr.Message)
	}
	if apiErr.Code != 0 {
		return &backend.APIError{Code: apiErr.Code, Message: apiErr.Message}
	}
	return &backend.APIError{Code: status, Message: http.StatusText(status)}
}

func (p *planPayload) toDetails() *backend.PlanDetails {
	pricing := make(map[int]int64, len(p.Pricing))
	for cycle, amount := range p.Pricing {
		months, err := parseCycle(cycle)
		if err != nil {
			continue
		}
		pricing[months] = amount
	}
	return &backend.PlanDetails{
		ID:          p.ID,
		Name:        p.Name,
		Pricing:     pricing,
		Currency:    p.Currency,
		Purchasable: p.Purchasable,
	}
}

func (s *subscriptionPayload) toSubscription() *backend.Subscription {
	return &backend.Subscription{
		ID:        s.ID,
		PlanName:  s.PlanName,
		Cycle:     s.Cycle,
		Amount:    s.Amount,
		PeriodEnd: time.Unix(s.PeriodEnd, 0),
	}
}

func parseCycle(s string) (int, error) {
	var months int
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.Errorf("bad cycle %q", s)
		}
		months = months*10 + int(r-'0')
	}
	if months == 0 {
		return 0, errors.Errorf("bad cycle %q", s)
	}
	return months, nil
}
