package repo_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/repo"
)

// orderStoreSuite runs the same behaviour checks against every store
// implementation. Concrete suites set newStores.
type orderStoreSuite struct {
	suite.Suite

	newStores func() (repo.OrderRepo, repo.PaymentEventRepo)

	orders repo.OrderRepo
	events repo.PaymentEventRepo
}

func (s *orderStoreSuite) SetupTest() {
	s.orders, s.events = s.newStores()
}

// ============================================
// Orders
// ============================================

func (s *orderStoreSuite) TestCreateAndFind() {
	t := s.T()
	ctx := t.Context()
	order := randomOrder()

	require.NoError(t, s.orders.Create(ctx, order))

	got, err := s.orders.FindById(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(*order, *got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func (s *orderStoreSuite) TestFindMissingReturnsNil() {
	t := s.T()
	ctx := t.Context()

	got, err := s.orders.FindById(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.orders.FindByReference(ctx, "NO-SUCH-REF")
	require.NoError(t, err)
	require.Nil(t, got)
}

func (s *orderStoreSuite) TestCreateDuplicateOrderNumber() {
	t := s.T()
	ctx := t.Context()
	first := randomOrder()
	require.NoError(t, s.orders.Create(ctx, first))

	second := randomOrder()
	second.OrderNumber = first.OrderNumber

	require.ErrorIs(t, s.orders.Create(ctx, second), repo.ErrDuplicateOrder)
}

func (s *orderStoreSuite) TestAssignReferenceOnce() {
	t := s.T()
	ctx := t.Context()
	order := randomOrder()
	require.NoError(t, s.orders.Create(ctx, order))
	pred := domain.Predicate{ReferenceUnset: true, Status: lo.ToPtr(domain.OrderPending)}
	at := order.CreatedAt.Add(time.Second)

	applied, err := s.orders.ConditionalUpdate(ctx, order.ID, pred, domain.Patch{
		PaymentReference: lo.ToPtr("BRAN-1"),
		AuthorizationURL: lo.ToPtr("https://pay/BRAN-1"),
		UpdatedAt:        at,
	})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.orders.ConditionalUpdate(ctx, order.ID, pred, domain.Patch{
		PaymentReference: lo.ToPtr("BRAN-2"),
		UpdatedAt:        at.Add(time.Second),
	})
	require.NoError(t, err)
	require.False(t, applied)

	got, err := s.orders.FindByReference(ctx, "BRAN-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, order.ID, got.ID)
	require.Equal(t, "https://pay/BRAN-1", got.AuthorizationURL)
	require.Equal(t, at, got.UpdatedAt)
}

func (s *orderStoreSuite) TestConditionalUpdatePredicateMismatchLeavesRow() {
	t := s.T()
	ctx := t.Context()
	order := randomOrder()
	require.NoError(t, s.orders.Create(ctx, order))
	before, err := s.orders.FindById(ctx, order.ID)
	require.NoError(t, err)

	applied, err := s.orders.ConditionalUpdate(ctx, order.ID,
		domain.Predicate{Status: lo.ToPtr(domain.OrderProcessing)},
		domain.Patch{Status: lo.ToPtr(domain.OrderShipped), UpdatedAt: order.CreatedAt.Add(time.Hour)},
	)
	require.NoError(t, err)
	require.False(t, applied)

	after, err := s.orders.FindById(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(before, after))
}

func (s *orderStoreSuite) TestConditionalUpdateMissingOrder() {
	t := s.T()

	applied, err := s.orders.ConditionalUpdate(t.Context(), uuid.New(), domain.Predicate{},
		domain.Patch{IsPaid: lo.ToPtr(true), UpdatedAt: time.Now()})

	require.NoError(t, err)
	require.False(t, applied)
}

func (s *orderStoreSuite) TestWriteOnceColumnsKeepFirstValue() {
	t := s.T()
	ctx := t.Context()
	order := randomOrder()
	require.NoError(t, s.orders.Create(ctx, order))
	first := order.CreatedAt.Add(time.Minute)
	second := first.Add(time.Second)

	paid := domain.PlanPayment(*order, domain.PaymentDetails{Channel: "card", Amount: order.Total, Currency: order.Currency, VerifiedAt: first, ProviderReference: "BRAN-1"}, first)
	applied, err := s.orders.ConditionalUpdate(ctx, order.ID, paid.Predicate, paid.Patch)
	require.NoError(t, err)
	require.True(t, applied)

	// No predicate: only COALESCE stands between the second write and the stored values.
	applied, err = s.orders.ConditionalUpdate(ctx, order.ID, domain.Predicate{}, domain.Patch{
		PaidAt:         &second,
		ProcessingAt:   &second,
		PaymentDetails: &domain.PaymentDetails{Channel: "bank_transfer", Amount: decimal.NewFromInt(1), Currency: "USD", VerifiedAt: second},
		UpdatedAt:      second,
	})
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.orders.FindById(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, got.IsPaid)
	require.Equal(t, domain.OrderProcessing, got.Status)
	require.Equal(t, first, *got.PaidAt)
	require.Equal(t, first, *got.ProcessingAt)
	require.Equal(t, "card", got.PaymentDetails.Channel)
	require.Equal(t, first, got.PaymentDetails.VerifiedAt)
	require.Equal(t, second, got.UpdatedAt)
}

func (s *orderStoreSuite) TestConcurrentPaymentAppliesOnce() {
	t := s.T()
	ctx := t.Context()
	order := randomOrder()
	require.NoError(t, s.orders.Create(ctx, order))

	const writers = 16
	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at := order.CreatedAt.Add(time.Duration(i+1) * time.Millisecond)
			change := domain.PlanPayment(*order, domain.PaymentDetails{Channel: "card", VerifiedAt: at}, at)
			ok, err := s.orders.ConditionalUpdate(ctx, order.ID, change.Predicate, change.Patch)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), applied.Load())
	got, err := s.orders.FindById(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, got.IsPaid)
	require.Equal(t, got.PaymentDetails.VerifiedAt, *got.PaidAt)
}

func (s *orderStoreSuite) TestFindStalePending() {
	t := s.T()
	ctx := t.Context()
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	mk := func(ref string, age time.Duration, mutate func(*domain.Order)) *domain.Order {
		o := randomOrder()
		o.PaymentReference = ref
		o.CreatedAt = base.Add(-age)
		o.UpdatedAt = base.Add(-age)
		if mutate != nil {
			mutate(o)
		}
		require.NoError(t, s.orders.Create(ctx, o))
		return o
	}

	oldest := mk("REF-OLDEST", 3*time.Hour, nil)
	old := mk("REF-OLD", 2*time.Hour, nil)
	mk("REF-FRESH", time.Minute, nil)
	mk("", 3*time.Hour, nil)
	mk("REF-PAID", 3*time.Hour, func(o *domain.Order) { o.IsPaid = true })
	mk("REF-CANCELLED", 3*time.Hour, func(o *domain.Order) { o.Status = domain.OrderCancelled })

	got, err := s.orders.FindStalePending(ctx, base.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{oldest.ID, old.ID}, lo.Map(got, func(o domain.Order, _ int) uuid.UUID { return o.ID }))

	got, err = s.orders.FindStalePending(ctx, base.Add(-time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, oldest.ID, got[0].ID)

	got, err = s.orders.FindStalePending(ctx, base.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// A sweep that could not confirm the oldest order stamps it; the next
	// batch starts with the one behind it.
	applied, err := s.orders.ConditionalUpdate(ctx, oldest.ID,
		domain.Predicate{Status: lo.ToPtr(domain.OrderPending), IsPaid: lo.ToPtr(false)},
		domain.Patch{UpdatedAt: base},
	)
	require.NoError(t, err)
	require.True(t, applied)

	got, err = s.orders.FindStalePending(ctx, base.Add(-time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, old.ID, got[0].ID)
}

// ============================================
// Payment event ledger
// ============================================

func (s *orderStoreSuite) TestLedgerRecordsEachEventOnce() {
	t := s.T()
	ctx := t.Context()
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	entry := domain.LedgerEntry{
		Reference: "BRAN123",
		Type:      domain.ChargeSuccess,
		Source:    domain.SourceWebhook,
		Amount:    decimal.NewFromInt(10000),
		Currency:  "NGN",
		Payload:   []byte(`{"event":"charge.success"}`),
		CreatedAt: at,
	}

	dup, err := s.events.Record(ctx, entry)
	require.NoError(t, err)
	require.False(t, dup)

	again := entry
	again.Source = domain.SourceClientVerify
	again.CreatedAt = at.Add(time.Second)
	dup, err = s.events.Record(ctx, again)
	require.NoError(t, err)
	require.True(t, dup)

	failure := entry
	failure.Type = domain.ChargeFailure
	failure.CreatedAt = at.Add(2 * time.Second)
	dup, err = s.events.Record(ctx, failure)
	require.NoError(t, err)
	require.False(t, dup)

	got, err := s.events.FindByReference(ctx, "BRAN123")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, domain.SourceWebhook, got[0].Source)
	require.Equal(t, domain.OutcomeReceived, got[0].Outcome)
	require.True(t, entry.Amount.Equal(got[0].Amount))
	require.Equal(t, entry.Payload, got[0].Payload)
	require.Equal(t, domain.ChargeFailure, got[1].Type)
}

func (s *orderStoreSuite) TestLedgerResolveOnlyOnce() {
	t := s.T()
	ctx := t.Context()
	_, err := s.events.Record(ctx, domain.LedgerEntry{
		Reference: "BRAN123", Type: domain.ChargeSuccess, Source: domain.SourceWebhook,
		Amount: decimal.Zero, CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	})
	require.NoError(t, err)

	require.NoError(t, s.events.Resolve(ctx, "BRAN123", domain.ChargeSuccess, domain.OutcomeApplied, "amount mismatch"))
	require.NoError(t, s.events.Resolve(ctx, "BRAN123", domain.ChargeSuccess, domain.OutcomeAlreadyProcessed, ""))
	require.NoError(t, s.events.Resolve(ctx, "UNKNOWN", domain.ChargeSuccess, domain.OutcomeApplied, ""))

	got, err := s.events.FindByReference(ctx, "BRAN123")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, domain.OutcomeApplied, got[0].Outcome)
	require.Equal(t, "amount mismatch", got[0].Note)
}

// ============================================
// Fixtures
// ============================================

func randomOrder() *domain.Order {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC).
		Add(time.Duration(gofakeit.Number(0, 3600)) * time.Second)

	var items []domain.OrderItem
	for i := 0; i < gofakeit.Number(1, 4); i++ {
		items = append(items, domain.OrderItem{
			ProductID: gofakeit.UUID(),
			Name:      gofakeit.ProductName(),
			Quantity:  gofakeit.Number(1, 3),
			UnitPrice: decimal.NewFromFloat(gofakeit.Price(1, 500)).Round(2),
		})
	}

	order, err := domain.NewOrder("ORD-"+gofakeit.DigitN(10), gofakeit.Email(), "NGN", items, now)
	if err != nil {
		panic(err)
	}
	return order
}
