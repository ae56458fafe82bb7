package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payment-settlement/internal/domain"
)

// PaymentEventRepo is the ledger of processed gateway events, keyed by
// (reference, event type).
type PaymentEventRepo interface {
	// Record inserts entry unless its key is already present. duplicate
	// reports that an earlier delivery of the same event got there first.
	Record(ctx context.Context, entry domain.LedgerEntry) (duplicate bool, err error)
	// Resolve sets the outcome of an entry that is still in the received state.
	// OutcomeApplied always wins, so a racing delivery that lost the update
	// cannot mask the one that made it.
	Resolve(ctx context.Context, reference string, eventType domain.EventType, outcome domain.Outcome, note string) error
	FindByReference(ctx context.Context, reference string) ([]domain.LedgerEntry, error)
}

type paymentEventRepo struct {
	db *pgxpool.Pool
}

func NewPaymentEventRepo(db *pgxpool.Pool) PaymentEventRepo {
	return &paymentEventRepo{db: db}
}

func (r *paymentEventRepo) Record(ctx context.Context, e domain.LedgerEntry) (bool, error) {
	outcome := e.Outcome
	if outcome == "" {
		outcome = domain.OutcomeReceived
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO payment_events (reference, event_type, source, outcome, amount, currency, note, payload, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		ON CONFLICT (reference, event_type) DO NOTHING`,
		e.Reference, string(e.Type), string(e.Source), string(outcome), e.Amount.String(), e.Currency, e.Note, e.Payload, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment event %s/%s: %w", e.Reference, e.Type, err)
	}
	return tag.RowsAffected() == 0, nil
}

func (r *paymentEventRepo) Resolve(ctx context.Context, reference string, eventType domain.EventType, outcome domain.Outcome, note string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_events
		SET outcome = $3,
		    note = CASE WHEN $4::text = '' THEN note ELSE $4::text END
		WHERE reference = $1 AND event_type = $2
		  AND (outcome = $5 OR $3::text = $6::text)`,
		reference, string(eventType), string(outcome), note, string(domain.OutcomeReceived), string(domain.OutcomeApplied),
	)
	if err != nil {
		return fmt.Errorf("resolve payment event %s/%s: %w", reference, eventType, err)
	}
	return nil
}

func (r *paymentEventRepo) FindByReference(ctx context.Context, reference string) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT reference, event_type, source, outcome, amount::text, currency, note, payload, created_at
		FROM payment_events
		WHERE reference = $1
		ORDER BY created_at, event_type`,
		reference,
	)
	if err != nil {
		return nil, fmt.Errorf("query payment events: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e                       domain.LedgerEntry
			eventType, src, outcome string
			amount                  string
		)
		if err := rows.Scan(&e.Reference, &eventType, &src, &outcome, &amount, &e.Currency, &e.Note, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		e.Source = domain.EventSource(src)
		e.Outcome = domain.Outcome(outcome)
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment events: %w", err)
	}
	return entries, nil
}
