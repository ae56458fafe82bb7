package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"payment-settlement/internal/api"
	"payment-settlement/internal/config"
	"payment-settlement/internal/database"
	"payment-settlement/internal/infrastructure/kafka"
	"payment-settlement/internal/infrastructure/payment"
	"payment-settlement/internal/logging"
	"payment-settlement/internal/metrics"
	"payment-settlement/internal/repo"
	"payment-settlement/internal/service"
	"payment-settlement/internal/webhook"
	"payment-settlement/internal/worker"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pool     *pgxpool.Pool

	orders    repo.OrderRepo
	ledger    repo.PaymentEventRepo
	publisher service.EventPublisher
	gateway   payment.PaymentGateway
	engine    service.ReconciliationEngine
	orderSvc  service.OrderService
	payments  service.PaymentService

	closers []func()
}

// newApp wires every component from cfg. With memory set the stores live in
// process and nothing survives a restart.
func newApp(ctx context.Context, cfg *config.Config, memory bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logging.New("payment-settlement", cfg.LogLevel),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if memory {
		a.logger.Warn("using in-memory stores")
		a.orders = repo.NewMemoryOrderRepo()
		a.ledger = repo.NewMemoryPaymentEventRepo()
	} else {
		pool, err := database.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.orders = repo.NewOrderRepo(pool)
		a.ledger = repo.NewPaymentEventRepo(pool)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.publisher = producer
		a.closers = append(a.closers, func() {
			if err := producer.Close(); err != nil {
				a.logger.Warn("kafka producer close", "error", err)
			}
		})
		a.logger.Info("publishing order events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		a.publisher = service.NoopPublisher{}
	}

	a.gateway = payment.NewGatewayClient(cfg.Gateway, a.logger, a.metrics)
	a.engine = service.NewReconciliationEngine(a.orders, service.NewIdempotencyGuard(a.ledger), a.publisher, a.logger, a.metrics)
	a.orderSvc = service.NewOrderService(a.orders, a.publisher, a.logger)
	a.payments = service.NewPaymentService(a.orders, a.gateway, a.engine, service.PaymentConfig{
		MerchantPrefix:  cfg.Gateway.MerchantPrefix,
		CallbackBaseURL: cfg.CallbackBaseURL,
	}, a.logger)
	return a, nil
}

func (a *app) server() *api.Server {
	deps := api.Deps{
		Orders:             a.orderSvc,
		Payments:           a.payments,
		Verifier:           webhook.NewVerifier(a.cfg.Gateway.SecretKey),
		Metrics:            a.metrics,
		Gatherer:           a.registry,
		AdminJWTSecret:     a.cfg.AdminJWTSecret,
		CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
		Logger:             a.logger,
	}
	if a.pool != nil {
		pool := a.pool
		deps.Health = func(ctx context.Context) map[string]string { return database.Health(ctx, pool) }
	}
	return api.NewServer(deps)
}

func (a *app) worker() *worker.ReconciliationWorker {
	return worker.NewReconciliationWorker(a.orders, a.gateway, a.engine, a.cfg.Reconcile, a.logger)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
