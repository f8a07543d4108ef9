package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/ratelimit"
	"github.com/goliatone/go-reconciler/transport"
)

const (
	ProviderID = "paystack"

	DefaultBaseURL = core.DefaultProviderBaseURL
	verifyPath     = "/transaction/verify/"
	verifyBucket   = "transaction.verify"
	defaultTimeout = 10 * time.Second
)

// Transaction statuses reported by the verify endpoint.
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusAbandoned  = "abandoned"
	StatusReversed   = "reversed"
	StatusPending    = "pending"
	StatusOngoing    = "ongoing"
	StatusProcessing = "processing"
	StatusQueued     = "queued"
)

// Limiter gates verify calls on the provider's rate limit signals.
type Limiter interface {
	BeforeCall(ctx context.Context, key ratelimit.Key) error
	AfterCall(ctx context.Context, key ratelimit.Key, res ratelimit.ResponseMeta) error
}

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	// Limiter is optional. A nil limiter never throttles.
	Limiter Limiter
}

type Client struct {
	baseURL   string
	secretKey string
	timeout   time.Duration
	transport transport.Doer
	limiter   Limiter
}

func New(cfg Config, doer transport.Doer) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, fmt.Errorf("paystack: secret key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("paystack: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if doer == nil {
		doer = transport.NewRESTAdapter(nil)
	}
	return &Client{
		baseURL:   baseURL,
		secretKey: secret,
		timeout:   timeout,
		transport: doer,
		limiter:   cfg.Limiter,
	}, nil
}

// FromConfig builds a client from the provider section of the service config
// with an in-memory adaptive rate limiter.
func FromConfig(cfg core.ProviderConfig, doer transport.Doer) (*Client, error) {
	return New(Config{
		BaseURL:   cfg.BaseURL,
		SecretKey: cfg.SecretKey,
		Timeout:   cfg.Timeout(),
		Limiter:   ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
	}, doer)
}

type verifyEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type verifyData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	GatewayResponse string `json:"gateway_response"`
	Currency        string `json:"currency"`
	Amount          int64  `json:"amount"`
}

// VerifyTransaction asks Paystack for the authoritative status of reference.
// Unknown references and non-final statuses are inconclusive. Transport
// failures, auth failures and 5xx responses return a provider query failure.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (core.PaymentStatusResult, error) {
	reference = strings.TrimSpace(reference)
	if c == nil || c.transport == nil {
		return core.PaymentStatusResult{}, core.Internal("paystack: client is not configured", nil)
	}
	if reference == "" {
		return core.PaymentStatusResult{}, core.BadInput("paystack: reference is required", nil)
	}
	metadata := map[string]any{"provider_id": ProviderID, "reference": reference}
	key := ratelimit.Key{ProviderID: ProviderID, BucketKey: verifyBucket}

	if c.limiter != nil {
		if err := c.limiter.BeforeCall(ctx, key); err != nil {
			var throttled ratelimit.ThrottledError
			if errors.As(err, &throttled) {
				return core.PaymentStatusResult{}, throttled.ToError()
			}
			return core.PaymentStatusResult{}, core.ProviderQueryFailure(err, "paystack: rate limit state", metadata)
		}
	}

	res, err := c.transport.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + verifyPath + url.PathEscape(reference),
		Headers: map[string]string{
			"Authorization": "Bearer " + c.secretKey,
		},
		Timeout: c.timeout,
	})
	if err != nil {
		if core.IsProviderQueryFailure(err) {
			return core.PaymentStatusResult{}, err
		}
		return core.PaymentStatusResult{}, core.ProviderQueryFailure(err, "paystack: verify transaction", metadata)
	}
	if c.limiter != nil {
		if err := c.limiter.AfterCall(ctx, key, ratelimit.ResponseMeta{
			StatusCode: res.StatusCode,
			Headers:    res.Headers,
		}); err != nil {
			return core.PaymentStatusResult{}, core.ProviderQueryFailure(err, "paystack: record rate limit state", metadata)
		}
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return inconclusive(reference, "not_found"), nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return core.PaymentStatusResult{}, core.ProviderQueryFailure(nil, "paystack: provider rejected credentials", withStatus(metadata, res.StatusCode))
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return core.PaymentStatusResult{}, core.ProviderQueryFailure(nil, "paystack: provider unavailable", withStatus(metadata, res.StatusCode))
	case res.StatusCode >= http.StatusBadRequest:
		return inconclusive(reference, fmt.Sprintf("http_%d", res.StatusCode)), nil
	}

	var envelope verifyEnvelope
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return core.PaymentStatusResult{}, core.ProviderQueryFailure(err, "paystack: decode verify response", withStatus(metadata, res.StatusCode))
	}
	if !envelope.Status || len(envelope.Data) == 0 {
		return inconclusive(reference, "unverified"), nil
	}
	var data verifyData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return core.PaymentStatusResult{}, core.ProviderQueryFailure(err, "paystack: decode verify data", withStatus(metadata, res.StatusCode))
	}

	status := strings.ToLower(strings.TrimSpace(data.Status))
	return core.PaymentStatusResult{
		Reference:      reference,
		Outcome:        OutcomeForStatus(status),
		ProviderStatus: status,
		Metadata: map[string]any{
			"gateway_response": data.GatewayResponse,
			"amount":           data.Amount,
			"currency":         data.Currency,
		},
	}, nil
}

// OutcomeForStatus maps a Paystack transaction status to a reconciliation
// outcome. Only success, failed, abandoned and reversed are definitive.
func OutcomeForStatus(status string) core.ProviderOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusSuccess:
		return core.ProviderOutcomeVerified
	case StatusFailed, StatusAbandoned, StatusReversed:
		return core.ProviderOutcomeFailed
	default:
		return core.ProviderOutcomeInconclusive
	}
}

func inconclusive(reference string, providerStatus string) core.PaymentStatusResult {
	return core.PaymentStatusResult{
		Reference:      reference,
		Outcome:        core.ProviderOutcomeInconclusive,
		ProviderStatus: providerStatus,
		Metadata:       map[string]any{},
	}
}

func withStatus(metadata map[string]any, statusCode int) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for key, value := range metadata {
		out[key] = value
	}
	out["status_code"] = statusCode
	return out
}

var _ core.PaymentStatusProvider = (*Client)(nil)
