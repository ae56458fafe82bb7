package service

import (
	"context"
	"time"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/repo"
)

// IdempotencyGuard remembers which (reference, event type) pairs have been
// seen. The payment itself is protected by the conditional update on isPaid;
// the ledger adds a durable trace and a duplicate verdict for logs and metrics.
type IdempotencyGuard struct {
	ledger repo.PaymentEventRepo
}

func NewIdempotencyGuard(ledger repo.PaymentEventRepo) *IdempotencyGuard {
	return &IdempotencyGuard{ledger: ledger}
}

// Admit records ev and reports whether it had been recorded before.
func (g *IdempotencyGuard) Admit(ctx context.Context, ev domain.PaymentEvent, at time.Time) (duplicate bool, err error) {
	return g.ledger.Record(ctx, domain.LedgerEntry{
		Reference: ev.Reference,
		Type:      ev.Type,
		Source:    ev.Source,
		Outcome:   domain.OutcomeReceived,
		Amount:    ev.Amount,
		Currency:  ev.Currency,
		Payload:   ev.Raw,
		CreatedAt: at,
	})
}

func (g *IdempotencyGuard) Settle(ctx context.Context, ev domain.PaymentEvent, outcome domain.Outcome, note string) error {
	return g.ledger.Resolve(ctx, ev.Reference, ev.Type, outcome, note)
}
