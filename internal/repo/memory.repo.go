package repo

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"payment-settlement/internal/domain"
)

var (
	_ OrderRepo        = (*MemoryOrderRepo)(nil)
	_ PaymentEventRepo = (*MemoryPaymentEventRepo)(nil)
)

// MemoryOrderRepo keeps orders in process memory. ConditionalUpdate checks the
// predicate and applies the patch under one lock, matching the guarded UPDATE
// of the Postgres store.
type MemoryOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	byRef  map[string]uuid.UUID
	byNum  map[string]uuid.UUID
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{
		orders: make(map[uuid.UUID]*domain.Order),
		byRef:  make(map[string]uuid.UUID),
		byNum:  make(map[string]uuid.UUID),
	}
}

func (r *MemoryOrderRepo) FindById(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	c := o.Clone()
	return &c, nil
}

func (r *MemoryOrderRepo) FindByReference(ctx context.Context, reference string) (*domain.Order, error) {
	r.mu.Lock()
	id, ok := r.byRef[reference]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.FindById(ctx, id)
}

func (r *MemoryOrderRepo) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byNum[order.OrderNumber]; exists {
		return fmt.Errorf("insert order %s: %w", order.OrderNumber, ErrDuplicateOrder)
	}
	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("insert order %s: %w", order.OrderNumber, ErrDuplicateOrder)
	}
	if order.PaymentReference != "" {
		if _, exists := r.byRef[order.PaymentReference]; exists {
			return fmt.Errorf("insert order %s: %w", order.OrderNumber, ErrDuplicateOrder)
		}
		r.byRef[order.PaymentReference] = order.ID
	}
	c := order.Clone()
	r.orders[order.ID] = &c
	r.byNum[order.OrderNumber] = order.ID
	return nil
}

func (r *MemoryOrderRepo) ConditionalUpdate(_ context.Context, id uuid.UUID, pred domain.Predicate, patch domain.Patch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || !pred.Matches(*o) {
		return false, nil
	}
	if patch.PaymentReference != nil && o.PaymentReference == "" {
		if owner, taken := r.byRef[*patch.PaymentReference]; taken && owner != id {
			return false, fmt.Errorf("update order %s: %w", id, ErrDuplicateOrder)
		}
		r.byRef[*patch.PaymentReference] = id
	}
	patch.Apply(o)
	return true, nil
}

func (r *MemoryOrderRepo) FindStalePending(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	stale := lo.FilterMap(lo.Values(r.orders), func(o *domain.Order, _ int) (domain.Order, bool) {
		ok := o.Status == domain.OrderPending && !o.IsPaid && o.PaymentReference != "" && o.UpdatedAt.Before(before)
		if !ok {
			return domain.Order{}, false
		}
		return o.Clone(), true
	})
	r.mu.Unlock()

	slices.SortFunc(stale, func(a, b domain.Order) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

type ledgerKey struct {
	reference string
	eventType domain.EventType
}

type MemoryPaymentEventRepo struct {
	mu      sync.Mutex
	entries map[ledgerKey]domain.LedgerEntry
	order   []ledgerKey
}

func NewMemoryPaymentEventRepo() *MemoryPaymentEventRepo {
	return &MemoryPaymentEventRepo{entries: make(map[ledgerKey]domain.LedgerEntry)}
}

func (r *MemoryPaymentEventRepo) Record(_ context.Context, e domain.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ledgerKey{e.Reference, e.Type}
	if _, exists := r.entries[key]; exists {
		return true, nil
	}
	if e.Outcome == "" {
		e.Outcome = domain.OutcomeReceived
	}
	e.Payload = slices.Clone(e.Payload)
	r.entries[key] = e
	r.order = append(r.order, key)
	return false, nil
}

func (r *MemoryPaymentEventRepo) Resolve(_ context.Context, reference string, eventType domain.EventType, outcome domain.Outcome, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ledgerKey{reference, eventType}
	e, ok := r.entries[key]
	if !ok || (e.Outcome != domain.OutcomeReceived && outcome != domain.OutcomeApplied) {
		return nil
	}
	e.Outcome = outcome
	if note != "" {
		e.Note = note
	}
	r.entries[key] = e
	return nil
}

func (r *MemoryPaymentEventRepo) FindByReference(_ context.Context, reference string) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, key := range r.order {
		if key.reference == reference {
			out = append(out, r.entries[key])
		}
	}
	return out, nil
}
