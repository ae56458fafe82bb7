package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-settlement/internal/domain"
)

const SignatureHeader = "X-Signature"

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrMalformedPayload = errors.New("webhook payload malformed")
)

type Customer struct {
	Email string `json:"email"`
}

type Data struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel,omitempty"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	Customer  Customer        `json:"customer"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type Notification struct {
	Event domain.EventType `json:"event"`
	Data  Data             `json:"data"`
}

// Verifier authenticates gateway notifications with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns hex(HMAC-SHA512(raw, secret)).
func (v *Verifier) Sign(raw []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the exact bytes received. raw must be the
// untouched request body: re-encoding JSON changes the digest.
func (v *Verifier) Verify(raw []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" || len(v.secret) == 0 {
		return ErrSignatureInvalid
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrSignatureInvalid
	}
	return nil
}

// Parse decodes an already verified body.
func (v *Verifier) Parse(raw []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return n, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if n.Data.Reference == "" {
		return n, fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}
	switch n.Event {
	case domain.ChargeSuccess, domain.ChargeFailure:
	default:
		return n, fmt.Errorf("%w: unsupported event %q", ErrMalformedPayload, n.Event)
	}
	return n, nil
}

// VerifyAndParse is the only way handlers should read a notification.
func (v *Verifier) VerifyAndParse(raw []byte, signature string) (Notification, error) {
	if err := v.Verify(raw, signature); err != nil {
		return Notification{}, err
	}
	return v.Parse(raw)
}

// PaymentEvent converts a notification into the engine's input. receivedAt is used
// when the gateway did not report a payment time.
func (n Notification) PaymentEvent(raw []byte, receivedAt time.Time) domain.PaymentEvent {
	verifiedAt := receivedAt
	if n.Data.PaidAt != nil && !n.Data.PaidAt.IsZero() {
		verifiedAt = n.Data.PaidAt.UTC()
	}
	return domain.PaymentEvent{
		Reference:  n.Data.Reference,
		Type:       n.Event,
		Source:     domain.SourceWebhook,
		Amount:     domain.FromMinorUnits(n.Data.Amount),
		Currency:   strings.ToUpper(n.Data.Currency),
		Channel:    n.Data.Channel,
		VerifiedAt: verifiedAt,
		Raw:        raw,
	}
}
