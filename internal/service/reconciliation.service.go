package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/metrics"
	"payment-settlement/internal/repo"
)

const maxApplyAttempts = 3

var ErrConcurrentUpdate = errors.New("order changed concurrently")

// ReconciliationEngine turns a verified payment event into at most one state
// change. The webhook handler, the client verify flow and the sweep worker all
// go through Reconcile.
type ReconciliationEngine interface {
	Reconcile(ctx context.Context, ev domain.PaymentEvent) (domain.Outcome, error)
}

type reconciliationEngine struct {
	orders    repo.OrderRepo
	guard     *IdempotencyGuard
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewReconciliationEngine(
	orders repo.OrderRepo,
	guard *IdempotencyGuard,
	publisher EventPublisher,
	logger *slog.Logger,
	m *metrics.Metrics,
) ReconciliationEngine {
	return &reconciliationEngine{
		orders:    orders,
		guard:     guard,
		publisher: publisher,
		logger:    logger.With("component", "reconciliation"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *reconciliationEngine) Reconcile(ctx context.Context, ev domain.PaymentEvent) (domain.Outcome, error) {
	log := e.logger.With("reference", ev.Reference, "event", ev.Type, "source", ev.Source)

	duplicate, err := e.guard.Admit(ctx, ev, e.now())
	if err != nil {
		return "", fmt.Errorf("guard.Admit: %w", err)
	}
	if duplicate {
		log.Info("event already recorded")
	}

	outcome, note, err := e.apply(ctx, ev, log)
	if err != nil {
		log.Error("reconcile failed", "error", err)
		return "", err
	}

	if err := e.guard.Settle(ctx, ev, outcome, note); err != nil {
		log.Warn("ledger outcome not stored", "outcome", outcome, "error", err)
	}
	e.metrics.ObserveReconciliation(string(ev.Source), string(outcome))
	log.Info("event reconciled", "outcome", outcome, "duplicate", duplicate)
	return outcome, nil
}

func (e *reconciliationEngine) apply(ctx context.Context, ev domain.PaymentEvent, log *slog.Logger) (domain.Outcome, string, error) {
	order, err := e.orders.FindByReference(ctx, ev.Reference)
	if err != nil {
		return "", "", fmt.Errorf("orders.FindByReference: %w", err)
	}
	if order == nil {
		log.Warn("no order for reference")
		return domain.OutcomeUnknownReference, "", nil
	}
	log = log.With("order_id", order.ID)

	if ev.Type == domain.ChargeFailure {
		log.Info("charge failed at gateway", "status", order.Status, "is_paid", order.IsPaid)
		return domain.OutcomeFailureRecorded, "", nil
	}

	note := mismatch(*order, ev)
	if note != "" {
		log.Warn("payment does not match order total", "note", note)
	}

	for range maxApplyAttempts {
		if order.IsPaid {
			return domain.OutcomeAlreadyProcessed, note, nil
		}

		now := e.now()
		change := domain.PlanPayment(*order, ev.Details(), ev.VerifiedAt)
		change.Patch.UpdatedAt = now

		applied, err := e.orders.ConditionalUpdate(ctx, order.ID, change.Predicate, change.Patch)
		if err != nil {
			return "", "", fmt.Errorf("orders.ConditionalUpdate: %w", err)
		}
		if applied {
			change.Patch.Apply(order)
			if refundReview(change.From) {
				log.Warn("payment on order that already left processing, refund follow-up needed", "status", change.From)
				note = joinNote(note, fmt.Sprintf("paid while %s", change.From))
			}
			publish(ctx, e.publisher, log, domain.NewOrderEvent(domain.OrderPaid, *order, change.From, now))
			return domain.OutcomeApplied, note, nil
		}

		log.Debug("conditional update lost, re-reading order")
		order, err = e.orders.FindById(ctx, order.ID)
		if err != nil {
			return "", "", fmt.Errorf("orders.FindById: %w", err)
		}
		if order == nil {
			return "", "", domain.ErrOrderNotFound
		}
	}
	return "", "", fmt.Errorf("apply payment %s: %w", ev.Reference, ErrConcurrentUpdate)
}

// refundReview reports whether money arriving for an order in status needs a
// person to look at it. A processing order is usually pay-on-delivery moved
// ahead by an admin, and the payment is expected.
func refundReview(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderShipped, domain.OrderDelivered, domain.OrderCancelled:
		return true
	}
	return false
}

func mismatch(o domain.Order, ev domain.PaymentEvent) string {
	var note string
	if ev.Currency != "" && ev.Currency != o.Currency {
		note = fmt.Sprintf("currency %s, expected %s", ev.Currency, o.Currency)
	}
	if !ev.Amount.Equal(o.Total) {
		note = joinNote(note, fmt.Sprintf("amount %s, expected %s", ev.Amount.StringFixed(2), o.Total.StringFixed(2)))
	}
	return note
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
