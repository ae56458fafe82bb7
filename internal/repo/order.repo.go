package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payment-settlement/internal/domain"
)

var ErrDuplicateOrder = errors.New("order number or payment reference already exists")

// OrderRepo is the persisted order store. Lookups return (nil, nil) when no row matches.
type OrderRepo interface {
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByReference(ctx context.Context, reference string) (*domain.Order, error)
	Create(ctx context.Context, order *domain.Order) error
	// ConditionalUpdate writes patch only if pred still holds for the stored row.
	// applied is false when the predicate no longer matches or the order is gone.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, pred domain.Predicate, patch domain.Patch) (applied bool, err error)
	// FindStalePending lists unpaid pending orders that have a reference and
	// have not changed since before, oldest first. limit < 1 means no limit.
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *pgxpool.Pool
}

func NewOrderRepo(db *pgxpool.Pool) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, order_number, customer_email, items, total::text, currency,
	COALESCE(payment_reference, ''), COALESCE(authorization_url, ''), status, is_paid,
	payment_details, COALESCE(tracking_number, ''), COALESCE(courier, ''), COALESCE(cancel_reason, ''),
	estimated_delivery, paid_at, processing_at, shipped_at, delivered_at, cancelled_at,
	created_at, updated_at`

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("scan order %s: %w", id, err)
	}
	return order, nil
}

func (r *orderRepo) FindByReference(ctx context.Context, reference string) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE payment_reference = $1", reference)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order by reference %q: %w", reference, err)
	}
	return order, nil
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	details, err := marshalDetails(order.PaymentDetails)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, customer_email, items, total, currency,
			payment_reference, authorization_url, status, is_paid, payment_details,
			tracking_number, courier, cancel_reason, estimated_delivery,
			paid_at, processing_at, shipped_at, delivered_at, cancelled_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22
		)`,
		order.ID, order.OrderNumber, order.CustomerEmail, items, order.Total.String(), order.Currency,
		nullIfEmpty(order.PaymentReference), nullIfEmpty(order.AuthorizationURL), string(order.Status), order.IsPaid, details,
		nullIfEmpty(order.TrackingNumber), nullIfEmpty(order.Courier), nullIfEmpty(order.CancelReason), order.EstimatedDelivery,
		order.PaidAt, order.ProcessingAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert order %s: %w", order.OrderNumber, ErrDuplicateOrder)
		}
		return fmt.Errorf("insert order %s: %w", order.OrderNumber, err)
	}
	return nil
}

func (r *orderRepo) ConditionalUpdate(ctx context.Context, id uuid.UUID, pred domain.Predicate, patch domain.Patch) (bool, error) {
	query, args, err := buildConditionalUpdate(id, pred, patch)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, fmt.Errorf("update order %s: %w", id, ErrDuplicateOrder)
		}
		return false, fmt.Errorf("update order %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *orderRepo) FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx, "SELECT "+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND NOT is_paid
		  AND payment_reference IS NOT NULL
		  AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`,
		before, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale orders: %w", err)
	}
	return orders, nil
}

// buildConditionalUpdate renders patch as a single UPDATE guarded by pred.
// Write-once columns go through COALESCE so a concurrent writer can never
// replace a value that is already set.
func buildConditionalUpdate(id uuid.UUID, pred domain.Predicate, patch domain.Patch) (string, []any, error) {
	args := []any{id}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var set []string
	if patch.Status != nil {
		set = append(set, "status = "+arg(string(*patch.Status)))
	}
	if patch.IsPaid != nil {
		set = append(set, "is_paid = "+arg(*patch.IsPaid))
	}
	once := func(col string, v *time.Time) {
		if v != nil {
			set = append(set, fmt.Sprintf("%s = COALESCE(%s, %s)", col, col, arg(*v)))
		}
	}
	once("paid_at", patch.PaidAt)
	once("processing_at", patch.ProcessingAt)
	once("shipped_at", patch.ShippedAt)
	once("delivered_at", patch.DeliveredAt)
	once("cancelled_at", patch.CancelledAt)
	once("estimated_delivery", patch.EstimatedDelivery)

	if patch.PaymentDetails != nil {
		details, err := marshalDetails(patch.PaymentDetails)
		if err != nil {
			return "", nil, err
		}
		set = append(set, "payment_details = COALESCE(payment_details, "+arg(details)+"::jsonb)")
	}
	if patch.PaymentReference != nil {
		set = append(set, "payment_reference = COALESCE(payment_reference, "+arg(*patch.PaymentReference)+")")
	}
	if patch.AuthorizationURL != nil {
		set = append(set, "authorization_url = COALESCE(authorization_url, "+arg(*patch.AuthorizationURL)+")")
	}
	if patch.TrackingNumber != nil {
		set = append(set, "tracking_number = "+arg(*patch.TrackingNumber))
	}
	if patch.Courier != nil {
		set = append(set, "courier = "+arg(*patch.Courier))
	}
	if patch.CancelReason != nil {
		set = append(set, "cancel_reason = COALESCE(cancel_reason, "+arg(*patch.CancelReason)+")")
	}
	if !patch.UpdatedAt.IsZero() {
		set = append(set, "updated_at = "+arg(patch.UpdatedAt))
	}
	if len(set) == 0 {
		return "", nil, errors.New("conditional update: empty patch")
	}

	where := []string{"id = $1"}
	if pred.Status != nil {
		where = append(where, "status = "+arg(string(*pred.Status)))
	}
	if pred.IsPaid != nil {
		where = append(where, "is_paid = "+arg(*pred.IsPaid))
	}
	if pred.ReferenceUnset {
		where = append(where, "payment_reference IS NULL")
	}

	query := "UPDATE orders SET " + strings.Join(set, ", ") + " WHERE " + strings.Join(where, " AND ")
	return query, args, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o       domain.Order
		items   []byte
		total   string
		status  string
		details []byte
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerEmail,
		&items,
		&total,
		&o.Currency,
		&o.PaymentReference,
		&o.AuthorizationURL,
		&status,
		&o.IsPaid,
		&details,
		&o.TrackingNumber,
		&o.Courier,
		&o.CancelReason,
		&o.EstimatedDelivery,
		&o.PaidAt,
		&o.ProcessingAt,
		&o.ShippedAt,
		&o.DeliveredAt,
		&o.CancelledAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total %q: %w", total, err)
	}
	o.Status = domain.OrderStatus(status)
	if len(details) > 0 {
		var d domain.PaymentDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, fmt.Errorf("unmarshal payment details: %w", err)
		}
		o.PaymentDetails = &d
	}
	o.Currency = strings.TrimSpace(o.Currency)
	for _, t := range []**time.Time{&o.EstimatedDelivery, &o.PaidAt, &o.ProcessingAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt} {
		if *t != nil {
			u := (*t).UTC()
			*t = &u
		}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func marshalDetails(d *domain.PaymentDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal payment details: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
