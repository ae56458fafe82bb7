package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"payment-settlement/internal/config"
	"payment-settlement/internal/domain"
	"payment-settlement/internal/metrics"
)

const (
	opInitialize = "initialize"
	opVerify     = "verify"
)

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeBody struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Reference   string         `json:"reference"`
	Currency    string         `json:"currency"`
	CallbackURL string         `json:"callback_url"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Channel         string     `json:"channel"`
	PaidAt          *time.Time `json:"paid_at"`
	GatewayResponse string     `json:"gateway_response"`
}

type gatewayClient struct {
	http        *resty.Client
	maxAttempts int
	maxBackoff  time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewGatewayClient builds a stateless client value from configuration. It holds
// no per-order state, so one instance can serve every request.
func NewGatewayClient(cfg config.GatewayConfig, logger *slog.Logger, m *metrics.Metrics) PaymentGateway {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Accept", "application/json")

	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &gatewayClient{
		http:        httpClient,
		maxAttempts: attempts,
		maxBackoff:  maxBackoff,
		logger:      logger.With("component", "gateway"),
		metrics:     m,
	}
}

func (c *gatewayClient) InitializeTransaction(ctx context.Context, req InitializeRequest) (Authorization, error) {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return Authorization{}, permanent(opInitialize, 0, "invalid email address")
	}
	code, err := domain.NormalizeCurrency(req.Currency)
	if err != nil {
		return Authorization{}, permanent(opInitialize, 0, err.Error())
	}
	if !req.Amount.IsPositive() {
		return Authorization{}, permanent(opInitialize, 0, "amount must be positive")
	}

	body := initializeBody{
		Email:       req.Email,
		Amount:      domain.ToMinorUnits(req.Amount),
		Reference:   req.Reference,
		Currency:    code,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}

	var auth Authorization
	err = c.retry(ctx, opInitialize, func() error {
		var out envelope[initializeData]
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post("/transaction/initialize")
		if err != nil {
			return transient(opInitialize, 0, err.Error(), err)
		}
		if gerr := classify(opInitialize, resp); gerr != nil {
			return gerr
		}
		if !out.Status {
			return permanent(opInitialize, resp.StatusCode(), out.Message)
		}
		auth = Authorization{AuthorizationURL: out.Data.AuthorizationURL, Reference: out.Data.Reference}
		return nil
	})
	if err != nil {
		return Authorization{}, err
	}
	if auth.Reference == "" {
		auth.Reference = req.Reference
	}
	return auth, nil
}

func (c *gatewayClient) VerifyTransaction(ctx context.Context, reference string) (VerificationResult, error) {
	if strings.TrimSpace(reference) == "" {
		return VerificationResult{Message: "reference is required"}, nil
	}

	var result VerificationResult
	err := c.retry(ctx, opVerify, func() error {
		var out envelope[verifyData]
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("reference", reference).
			SetResult(&out).
			Get("/transaction/verify/{reference}")
		if err != nil {
			return transient(opVerify, 0, err.Error(), err)
		}
		if isNotFound(resp) {
			result = VerificationResult{Verified: false, Message: errorMessage(resp)}
			return nil
		}
		if gerr := classify(opVerify, resp); gerr != nil {
			return gerr
		}
		result = toVerification(reference, out)
		return nil
	})
	if err != nil {
		return VerificationResult{}, err
	}
	return result, nil
}

func toVerification(reference string, out envelope[verifyData]) VerificationResult {
	data := TransactionData{
		Reference: out.Data.Reference,
		Amount:    domain.FromMinorUnits(out.Data.Amount),
		Currency:  strings.ToUpper(out.Data.Currency),
		Channel:   out.Data.Channel,
		Status:    out.Data.Status,
	}
	if data.Reference == "" {
		data.Reference = reference
	}
	if out.Data.PaidAt != nil {
		data.PaidAt = out.Data.PaidAt.UTC()
	}

	if !out.Status || out.Data.Status != "success" {
		msg := out.Data.GatewayResponse
		if msg == "" {
			msg = out.Message
		}
		return VerificationResult{Verified: false, Data: data, Message: msg}
	}
	return VerificationResult{Verified: true, Data: data, Message: out.Message}
}

// retry runs fn with capped exponential backoff. Permanent errors stop immediately.
func (c *gatewayClient) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(100*time.Millisecond, c.maxBackoff)
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	operation := func() error {
		err := fn()
		switch {
		case err == nil:
			c.metrics.ObserveGatewayCall(op, "ok")
			return nil
		case errors.Is(err, ErrPermanent):
			c.metrics.ObserveGatewayCall(op, KindPermanent.String())
			return backoff.Permanent(err)
		default:
			c.metrics.ObserveGatewayCall(op, KindTransient.String())
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("gateway call failed, retrying", "op", op, "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}
	return transient(op, 0, err.Error(), err)
}

func classify(op string, resp *resty.Response) *GatewayError {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return transient(op, code, errorMessage(resp), nil)
	default:
		return permanent(op, code, errorMessage(resp))
	}
}

func isNotFound(resp *resty.Response) bool {
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(errorMessage(resp)), "not found")
	}
	return false
}

func errorMessage(resp *resty.Response) string {
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(resp.Body(), &env); err == nil && env.Message != "" {
		return env.Message
	}
	return resp.Status()
}
