package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/repo"
)

const maxTransitionAttempts = 3

type CreateOrderInput struct {
	OrderNumber   string             `json:"order_number"`
	CustomerEmail string             `json:"customer_email"`
	Currency      string             `json:"currency"`
	Items         []domain.OrderItem `json:"items"`
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// Transition moves an order through the fulfilment lifecycle. Requesting
	// the status the order already has succeeds without writing.
	Transition(ctx context.Context, id uuid.UUID, req domain.TransitionRequest) (*domain.Order, error)
}

type orderService struct {
	orders    repo.OrderRepo
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrderService(orders repo.OrderRepo, publisher EventPublisher, logger *slog.Logger) OrderService {
	return &orderService{
		orders:    orders,
		publisher: publisher,
		logger:    logger.With("component", "orders"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	number := strings.TrimSpace(in.OrderNumber)
	if number == "" {
		number = "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	}

	order, err := domain.NewOrder(number, in.CustomerEmail, in.Currency, in.Items, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("orders.Create: %w", err)
	}

	s.logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total.StringFixed(2))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.FindById(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("orders.FindById: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) Transition(ctx context.Context, id uuid.UUID, req domain.TransitionRequest) (*domain.Order, error) {
	log := s.logger.With("order_id", id, "target", req.Target)

	for range maxTransitionAttempts {
		order, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}

		req.At = s.now()
		change, err := domain.Plan(*order, req)
		if err != nil {
			log.Info("transition rejected", "status", order.Status, "error", err)
			return nil, err
		}
		if change.Noop {
			return order, nil
		}

		applied, err := s.orders.ConditionalUpdate(ctx, id, change.Predicate, change.Patch)
		if err != nil {
			return nil, fmt.Errorf("orders.ConditionalUpdate: %w", err)
		}
		if !applied {
			log.Debug("order changed during transition, re-planning")
			continue
		}

		change.Patch.Apply(order)
		log.Info("order transitioned", "from", change.From, "override", req.AdminOverride)
		publish(ctx, s.publisher, log, domain.NewOrderEvent(domain.OrderStatusChanged, *order, change.From, req.At))
		return order, nil
	}
	return nil, fmt.Errorf("transition order %s: %w", id, ErrConcurrentUpdate)
}
