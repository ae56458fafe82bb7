package service

import (
	"context"
	"log/slog"
	"time"

	"payment-settlement/internal/domain"
)

const publishTimeout = 2 * time.Second

// EventPublisher delivers order events to downstream consumers
// (customer notifications, analytics). kafka.Producer implements it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

// publish never fails the caller: the order change is already stored.
func publish(ctx context.Context, p EventPublisher, logger *slog.Logger, ev domain.OrderEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, ev.OrderID.String(), ev); err != nil {
		logger.Error("publish order event failed", "order_id", ev.OrderID, "type", ev.Type, "error", err)
	}
}
