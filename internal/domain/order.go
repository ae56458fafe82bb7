package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrUnknownStatus          = errors.New("unknown order status")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidOrder           = errors.New("invalid order")
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if _, ok := transitions[status]; !ok {
		return "", ErrUnknownStatus
	}
	return status, nil
}

// OrderItem is the price snapshot taken at checkout. Catalog edits never reach it.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// PaymentDetails is the verified gateway snapshot stored on first payment.
type PaymentDetails struct {
	Channel           string          `json:"channel"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	VerifiedAt        time.Time       `json:"verified_at"`
	ProviderReference string          `json:"provider_reference"`
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	OrderNumber       string          `json:"order_number"`
	CustomerEmail     string          `json:"customer_email"`
	Items             []OrderItem     `json:"items"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
	PaymentReference  string          `json:"payment_reference,omitempty"`
	AuthorizationURL  string          `json:"authorization_url,omitempty"`
	Status            OrderStatus     `json:"status"`
	IsPaid            bool            `json:"is_paid"`
	PaymentDetails    *PaymentDetails `json:"payment_details,omitempty"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	Courier           string          `json:"courier,omitempty"`
	CancelReason      string          `json:"cancel_reason,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	ProcessingAt      *time.Time      `json:"processing_at,omitempty"`
	ShippedAt         *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewOrder builds a pending, unpaid order and computes its total from the item snapshot.
func NewOrder(orderNumber, email, currencyCode string, items []OrderItem, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: customer email is required", ErrInvalidOrder)
	}
	code, err := NormalizeCurrency(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	total := decimal.Zero
	snapshot := make([]OrderItem, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %q quantity must be positive", ErrInvalidOrder, item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %q has a negative price", ErrInvalidOrder, item.ProductID)
		}
		snapshot[i] = item
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return &Order{
		ID:            uuid.New(),
		OrderNumber:   orderNumber,
		CustomerEmail: email,
		Items:         snapshot,
		Total:         total,
		Currency:      code,
		Status:        OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Clone returns a deep copy so callers can't alias stored state.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.PaymentDetails != nil {
		d := *o.PaymentDetails
		c.PaymentDetails = &d
	}
	c.EstimatedDelivery = cloneTime(o.EstimatedDelivery)
	c.PaidAt = cloneTime(o.PaidAt)
	c.ProcessingAt = cloneTime(o.ProcessingAt)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
