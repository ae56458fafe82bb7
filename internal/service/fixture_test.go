package service_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"payment-settlement/internal/config"
	"payment-settlement/internal/domain"
	"payment-settlement/internal/infrastructure/payment"
	"payment-settlement/internal/logging"
	"payment-settlement/internal/metrics"
	"payment-settlement/internal/repo"
	"payment-settlement/internal/service"
	"payment-settlement/internal/webhook"
)

const secret = "sk_test_settlement"

// T is the provider's paid_at in every scenario: Wednesday 14 Oct 2026, 09:30 UTC.
var T = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(domain.OrderEvent))
	return nil
}

func (p *recordingPublisher) count(t domain.OrderEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	orders    *repo.MemoryOrderRepo
	ledger    *repo.MemoryPaymentEventRepo
	provider  *payment.FakeProvider
	gateway   payment.PaymentGateway
	verifier  *webhook.Verifier
	publisher *recordingPublisher
	metrics   *metrics.Metrics

	engine   service.ReconciliationEngine
	payments service.PaymentService
	orderSvc service.OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:    repo.NewMemoryOrderRepo(),
		ledger:    repo.NewMemoryPaymentEventRepo(),
		provider:  payment.NewFakeProvider(secret),
		verifier:  webhook.NewVerifier(secret),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	srv := httptest.NewServer(f.provider)
	t.Cleanup(srv.Close)

	logger := logging.Discard()
	f.gateway = payment.NewGatewayClient(config.GatewayConfig{
		BaseURL:     srv.URL,
		SecretKey:   secret,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		MaxBackoff:  5 * time.Millisecond,
	}, logger, f.metrics)
	f.engine = service.NewReconciliationEngine(f.orders, service.NewIdempotencyGuard(f.ledger), f.publisher, logger, f.metrics)
	f.payments = service.NewPaymentService(f.orders, f.gateway, f.engine, service.PaymentConfig{
		MerchantPrefix:  "BRAN",
		CallbackBaseURL: "https://shop.example.com/",
	}, logger)
	f.orderSvc = service.NewOrderService(f.orders, f.publisher, logger)
	return f
}

// seedOrder stores a pending unpaid order that already carries reference and
// registers the transaction with the fake provider.
func (f *fixture) seedOrder(t *testing.T, reference string, total decimal.Decimal) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder("O-"+reference, "buyer@example.com", "NGN", []domain.OrderItem{
		{ProductID: "p-1", Name: "Kettle", Quantity: 1, UnitPrice: total},
	}, T.Add(-time.Hour))
	require.NoError(t, err)
	order.PaymentReference = reference
	require.NoError(t, f.orders.Create(t.Context(), order))

	_, err = f.gateway.InitializeTransaction(t.Context(), payment.InitializeRequest{
		Email:     order.CustomerEmail,
		Amount:    total,
		Reference: reference,
		Currency:  "NGN",
	})
	require.NoError(t, err)
	return order
}

// webhookEvent charges reference at paidAt and returns the event the webhook
// handler would hand to the engine.
func (f *fixture) webhookEvent(t *testing.T, reference string, paidAt time.Time) domain.PaymentEvent {
	t.Helper()
	require.NoError(t, f.provider.Charge(reference, "card", paidAt))
	body, sig, err := f.provider.Webhook(reference)
	require.NoError(t, err)
	n, err := f.verifier.VerifyAndParse(body, sig)
	require.NoError(t, err)
	return n.PaymentEvent(body, paidAt.Add(500*time.Millisecond))
}

func (f *fixture) order(t *testing.T, reference string) domain.Order {
	t.Helper()
	o, err := f.orders.FindByReference(t.Context(), reference)
	require.NoError(t, err)
	require.NotNil(t, o)
	return *o
}
