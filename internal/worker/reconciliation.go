package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"payment-settlement/internal/config"
	"payment-settlement/internal/domain"
	"payment-settlement/internal/infrastructure/payment"
	"payment-settlement/internal/repo"
	"payment-settlement/internal/service"
)

// ReconciliationWorker asks the gateway about orders that have sat in pending
// with a reference for too long. It catches payments whose webhook was lost
// and whose customer never came back to the verify page.
type ReconciliationWorker struct {
	orderRepo  repo.OrderRepo
	gateway    payment.PaymentGateway
	engine     service.ReconciliationEngine
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

type SweepResult struct {
	Checked     int
	Applied     int
	NotVerified int
	Failed      int
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	gateway payment.PaymentGateway,
	engine service.ReconciliationEngine,
	cfg config.ReconcileConfig,
	logger *slog.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orderRepo:  orderRepo,
		gateway:    gateway,
		engine:     engine,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		logger:     logger.With("component", "sweep"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started", "interval", rw.interval, "stale_after", rw.staleAfter)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil {
				rw.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep. A failure on one order is logged and the
// order is left for the next sweep.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	stale, err := rw.orderRepo.FindStalePending(ctx, rw.now().Add(-rw.staleAfter), rw.batchSize)
	if err != nil {
		return res, fmt.Errorf("orderRepo.FindStalePending: %w", err)
	}
	if len(stale) == 0 {
		return res, nil
	}

	rw.logger.Info("found stale pending orders", "count", len(stale))

	for _, order := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		log := rw.logger.With("order_id", order.ID, "reference", order.PaymentReference)

		result, err := rw.gateway.VerifyTransaction(ctx, order.PaymentReference)
		if err != nil {
			res.Failed++
			if errors.Is(err, payment.ErrPermanent) {
				log.Warn("gateway rejected verify, requeueing", "error", err)
				rw.requeue(ctx, order, log)
				continue
			}
			log.Warn("verify failed, will retry next sweep", "error", err)
			continue
		}
		if !result.Verified {
			log.Debug("still unpaid at gateway", "message", result.Message)
			res.NotVerified++
			rw.requeue(ctx, order, log)
			continue
		}

		outcome, err := rw.engine.Reconcile(ctx, result.PaymentEvent(domain.SourceSweep, rw.now()))
		if err != nil {
			log.Error("reconcile failed", "error", err)
			res.Failed++
			continue
		}
		if outcome == domain.OutcomeApplied {
			log.Info("recovered payment with no confirmation")
			res.Applied++
		}
	}
	return res, nil
}

// requeue stamps updated_at on an order the gateway could not confirm. The
// stale query is oldest first, so without it a batch full of abandoned
// checkouts would hide every newer order with a lost webhook.
func (rw *ReconciliationWorker) requeue(ctx context.Context, order domain.Order, log *slog.Logger) {
	_, err := rw.orderRepo.ConditionalUpdate(ctx, order.ID,
		domain.Predicate{Status: lo.ToPtr(domain.OrderPending), IsPaid: lo.ToPtr(false)},
		domain.Patch{UpdatedAt: rw.now()},
	)
	if err != nil {
		log.Warn("requeue failed", "error", err)
	}
}
