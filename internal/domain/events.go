package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderEventType string

const (
	OrderPaid          OrderEventType = "order.paid"
	OrderStatusChanged OrderEventType = "order.status_changed"
)

// OrderEvent is published after a change to an order has been stored.
// Notification consumers key on OrderID.
type OrderEvent struct {
	Type        OrderEventType `json:"type"`
	OrderID     uuid.UUID      `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Email       string         `json:"email"`
	Status      OrderStatus    `json:"status"`
	PrevStatus  OrderStatus    `json:"prev_status"`
	IsPaid      bool           `json:"is_paid"`
	Reference   string         `json:"reference,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func NewOrderEvent(t OrderEventType, o Order, prev OrderStatus, at time.Time) OrderEvent {
	return OrderEvent{
		Type:        t,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Email:       o.CustomerEmail,
		Status:      o.Status,
		PrevStatus:  prev,
		IsPaid:      o.IsPaid,
		Reference:   o.PaymentReference,
		OccurredAt:  at,
	}
}
