package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	ChargeSuccess EventType = "charge.success"
	ChargeFailure EventType = "charge.failure"
)

// EventSource names the path a payment confirmation arrived on.
type EventSource string

const (
	SourceWebhook      EventSource = "webhook"
	SourceClientVerify EventSource = "client_verify"
	SourceSweep        EventSource = "sweep"
)

// PaymentEvent is a verified gateway confirmation. It is never persisted as an
// entity of its own; the ledger only remembers (Reference, Type) and the outcome.
type PaymentEvent struct {
	Reference  string
	Type       EventType
	Source     EventSource
	Amount     decimal.Decimal
	Currency   string
	Channel    string
	VerifiedAt time.Time
	Raw        []byte
}

func (e PaymentEvent) Details() PaymentDetails {
	return PaymentDetails{
		Channel:           e.Channel,
		Amount:            e.Amount,
		Currency:          e.Currency,
		VerifiedAt:        e.VerifiedAt,
		ProviderReference: e.Reference,
	}
}

type Outcome string

const (
	OutcomeReceived         Outcome = "received"
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeUnknownReference Outcome = "unknown_reference"
	OutcomeFailureRecorded  Outcome = "failure_recorded"
)

// LedgerEntry is the persisted trace of one (reference, event type) pair.
type LedgerEntry struct {
	Reference string
	Type      EventType
	Source    EventSource
	Outcome   Outcome
	Amount    decimal.Decimal
	Currency  string
	Note      string
	Payload   []byte
	CreatedAt time.Time
}
