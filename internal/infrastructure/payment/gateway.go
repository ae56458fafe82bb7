package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payment-settlement/internal/domain"
)

type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (Authorization, error)
	VerifyTransaction(ctx context.Context, reference string) (VerificationResult, error)
}

type InitializeRequest struct {
	Email       string
	Amount      decimal.Decimal // major units
	Reference   string
	Currency    string
	CallbackURL string
	Metadata    map[string]any
}

type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

type TransactionData struct {
	Reference string
	Amount    decimal.Decimal // major units
	Currency  string
	Channel   string
	PaidAt    time.Time
	Status    string
}

// VerificationResult is the tagged answer to a verify call. Data is only
// meaningful when Verified is true; Message explains a negative answer.
type VerificationResult struct {
	Verified bool
	Data     TransactionData
	Message  string
}

// PaymentEvent turns a positive verification into the engine's input.
func (r VerificationResult) PaymentEvent(source domain.EventSource, now time.Time) domain.PaymentEvent {
	verifiedAt := now
	if !r.Data.PaidAt.IsZero() {
		verifiedAt = r.Data.PaidAt.UTC()
	}
	return domain.PaymentEvent{
		Reference:  r.Data.Reference,
		Type:       domain.ChargeSuccess,
		Source:     source,
		Amount:     r.Data.Amount,
		Currency:   r.Data.Currency,
		Channel:    r.Data.Channel,
		VerifiedAt: verifiedAt,
	}
}

type ErrorKind int

const (
	KindTransient ErrorKind = iota + 1
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var (
	ErrTransient = errors.New("transient gateway error")
	ErrPermanent = errors.New("permanent gateway error")
)

// GatewayError carries the provider's message and whether a retry can help.
type GatewayError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: %s (%d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

func transient(op string, status int, msg string, err error) *GatewayError {
	return &GatewayError{Kind: KindTransient, Op: op, StatusCode: status, Message: msg, Err: err}
}

func permanent(op string, status int, msg string) *GatewayError {
	return &GatewayError{Kind: KindPermanent, Op: op, StatusCode: status, Message: msg}
}
