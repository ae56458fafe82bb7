package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/webhook"
)

var supportedCurrencies = map[string]bool{"NGN": true, "GHS": true, "ZAR": true, "KES": true, "USD": true}

type fakeTxn struct {
	Reference string
	Email     string
	Amount    int64
	Currency  string
	Status    string // "abandoned", "success", "failed"
	Channel   string
	PaidAt    *time.Time
	Metadata  map[string]any
}

// FakeProvider is an in-process stand-in for the payment gateway. It serves the
// initialize/verify API over HTTP and produces signed webhook bodies.
type FakeProvider struct {
	mu           sync.RWMutex
	secretKey    string
	signer       *webhook.Verifier
	transactions map[string]*fakeTxn

	failures   int
	failStatus int
}

func NewFakeProvider(secretKey string) *FakeProvider {
	return &FakeProvider{
		secretKey:    secretKey,
		signer:       webhook.NewVerifier(secretKey),
		transactions: make(map[string]*fakeTxn),
	}
}

// FailNext makes the next n API calls answer with status.
func (f *FakeProvider) FailNext(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.failStatus = status
}

func (f *FakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.secretKey {
		writeEnvelope(w, http.StatusUnauthorized, false, "Invalid key", nil)
		return
	}

	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		status := f.failStatus
		f.mu.Unlock()
		writeEnvelope(w, status, false, "Service temporarily unavailable", nil)
		return
	}
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/transaction/initialize":
		f.initialize(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transaction/verify/"):
		f.verify(w, strings.TrimPrefix(r.URL.Path, "/transaction/verify/"))
	default:
		writeEnvelope(w, http.StatusNotFound, false, "Route not found", nil)
	}
}

func (f *FakeProvider) initialize(w http.ResponseWriter, r *http.Request) {
	var body initializeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, "Invalid JSON", nil)
		return
	}
	switch {
	case !strings.Contains(body.Email, "@"):
		writeEnvelope(w, http.StatusBadRequest, false, "Invalid Email Address Passed", nil)
		return
	case !supportedCurrencies[body.Currency]:
		writeEnvelope(w, http.StatusBadRequest, false, "Currency not supported by merchant", nil)
		return
	case body.Amount <= 0:
		writeEnvelope(w, http.StatusBadRequest, false, "Invalid Amount Sent", nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.transactions[body.Reference]; exists {
		writeEnvelope(w, http.StatusBadRequest, false, "Duplicate Transaction Reference", nil)
		return
	}
	f.transactions[body.Reference] = &fakeTxn{
		Reference: body.Reference,
		Email:     body.Email,
		Amount:    body.Amount,
		Currency:  body.Currency,
		Status:    "abandoned",
		Metadata:  body.Metadata,
	}

	writeEnvelope(w, http.StatusOK, true, "Authorization URL created", initializeData{
		AuthorizationURL: "https://checkout.fake-gateway.test/" + body.Reference,
		AccessCode:       strings.ToLower(body.Reference),
		Reference:        body.Reference,
	})
}

func (f *FakeProvider) verify(w http.ResponseWriter, reference string) {
	f.mu.RLock()
	txn, ok := f.transactions[reference]
	var data verifyData
	if ok {
		data = verifyData{
			Status:          txn.Status,
			Reference:       txn.Reference,
			Amount:          txn.Amount,
			Currency:        txn.Currency,
			Channel:         txn.Channel,
			PaidAt:          txn.PaidAt,
			GatewayResponse: gatewayResponse(txn.Status),
		}
	}
	f.mu.RUnlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, "Transaction reference not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Verification successful", data)
}

// Charge records a successful customer payment for reference.
func (f *FakeProvider) Charge(reference, channel string, at time.Time) error {
	return f.settle(reference, "success", channel, at)
}

func (f *FakeProvider) Decline(reference string, at time.Time) error {
	return f.settle(reference, "failed", "card", at)
}

func (f *FakeProvider) settle(reference, status, channel string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.transactions[reference]
	if !ok {
		return fmt.Errorf("unknown reference %q", reference)
	}
	txn.Status = status
	txn.Channel = channel
	paidAt := at.UTC()
	txn.PaidAt = &paidAt
	return nil
}

// Simulate settles reference the way a real customer population would:
// mostly successful, some declines, and some charges the merchant never hears
// about synchronously. It reports whether money was taken.
func (f *FakeProvider) Simulate(reference string, at time.Time) (charged bool, err error) {
	switch chance := rand.IntN(100); {
	case chance < 70:
		return true, f.Charge(reference, "card", at)
	case chance < 90:
		return false, f.Decline(reference, at)
	default:
		// charged, but the customer closes the tab before returning
		return true, f.Charge(reference, "bank_transfer", at)
	}
}

// Webhook returns the body and signature the gateway would POST for reference.
func (f *FakeProvider) Webhook(reference string) ([]byte, string, error) {
	f.mu.RLock()
	stored, ok := f.transactions[reference]
	var txn fakeTxn
	if ok {
		txn = *stored
	}
	f.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("unknown reference %q", reference)
	}

	event := domain.ChargeSuccess
	switch txn.Status {
	case "success":
	case "failed":
		event = domain.ChargeFailure
	default:
		return nil, "", errors.New("transaction not settled")
	}

	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return nil, "", err
	}
	body, err := json.Marshal(webhook.Notification{
		Event: event,
		Data: webhook.Data{
			Reference: txn.Reference,
			Amount:    txn.Amount,
			Currency:  txn.Currency,
			Channel:   txn.Channel,
			PaidAt:    txn.PaidAt,
			Customer:  webhook.Customer{Email: txn.Email},
			Metadata:  metadata,
		},
	})
	if err != nil {
		return nil, "", err
	}
	return body, f.signer.Sign(body), nil
}

func gatewayResponse(status string) string {
	switch status {
	case "success":
		return "Approved"
	case "failed":
		return "Declined"
	default:
		return "The transaction was not completed"
	}
}

func writeEnvelope(w http.ResponseWriter, code int, ok bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": ok, "message": message, "data": data})
}
