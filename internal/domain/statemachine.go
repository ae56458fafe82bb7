package domain

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

var ErrPaymentRequired = fmt.Errorf("%w: order must be paid before processing", ErrInvalidStateTransition)

// transitions defines allowed forward moves. isPaid is a separate gate, not a state.
var transitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered, OrderCancelled},
	OrderDelivered:  {},
	OrderCancelled:  {},
}

func CanTransition(from, to OrderStatus) bool {
	return lo.Contains(transitions[from], to)
}

type TransitionRequest struct {
	Target         OrderStatus
	At             time.Time
	AdminOverride  bool
	TrackingNumber string
	Courier        string
	Reason         string
}

// Predicate is the precondition a conditional update checks at write time.
type Predicate struct {
	Status         *OrderStatus
	IsPaid         *bool
	ReferenceUnset bool
}

func (p Predicate) Matches(o Order) bool {
	if p.Status != nil && o.Status != *p.Status {
		return false
	}
	if p.IsPaid != nil && o.IsPaid != *p.IsPaid {
		return false
	}
	if p.ReferenceUnset && o.PaymentReference != "" {
		return false
	}
	return true
}

// Patch lists the fields a change writes. Timestamps, payment details, the
// reference and the delivery estimate are write-once: Apply keeps an existing value.
type Patch struct {
	Status            *OrderStatus
	IsPaid            *bool
	PaidAt            *time.Time
	ProcessingAt      *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	PaymentDetails    *PaymentDetails
	PaymentReference  *string
	AuthorizationURL  *string
	TrackingNumber    *string
	Courier           *string
	CancelReason      *string
	EstimatedDelivery *time.Time
	UpdatedAt         time.Time
}

func (p Patch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.IsPaid != nil {
		o.IsPaid = *p.IsPaid
	}
	setOnce(&o.PaidAt, p.PaidAt)
	setOnce(&o.ProcessingAt, p.ProcessingAt)
	setOnce(&o.ShippedAt, p.ShippedAt)
	setOnce(&o.DeliveredAt, p.DeliveredAt)
	setOnce(&o.CancelledAt, p.CancelledAt)
	setOnce(&o.EstimatedDelivery, p.EstimatedDelivery)
	if p.PaymentDetails != nil && o.PaymentDetails == nil {
		d := *p.PaymentDetails
		o.PaymentDetails = &d
	}
	if p.PaymentReference != nil && o.PaymentReference == "" {
		o.PaymentReference = *p.PaymentReference
	}
	if p.AuthorizationURL != nil && o.AuthorizationURL == "" {
		o.AuthorizationURL = *p.AuthorizationURL
	}
	if p.TrackingNumber != nil {
		o.TrackingNumber = *p.TrackingNumber
	}
	if p.Courier != nil {
		o.Courier = *p.Courier
	}
	if p.CancelReason != nil && o.CancelReason == "" {
		o.CancelReason = *p.CancelReason
	}
	if !p.UpdatedAt.IsZero() {
		o.UpdatedAt = p.UpdatedAt
	}
}

func setOnce(dst **time.Time, v *time.Time) {
	if v == nil || *dst != nil {
		return
	}
	t := *v
	*dst = &t
}

// Change is a planned mutation: write Patch only if Predicate still holds.
type Change struct {
	Noop      bool
	From      OrderStatus
	Predicate Predicate
	Patch     Patch
}

// Plan validates req against the transition table and the order's current state.
// Re-requesting the state the order is already in is a successful no-op.
func Plan(o Order, req TransitionRequest) (Change, error) {
	if _, ok := transitions[req.Target]; !ok {
		return Change{}, ErrUnknownStatus
	}
	if o.Status == req.Target {
		return Change{Noop: true, From: o.Status}, nil
	}
	if !CanTransition(o.Status, req.Target) {
		return Change{}, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, o.Status, req.Target)
	}

	at := req.At
	from := o.Status
	patch := Patch{Status: lo.ToPtr(req.Target), UpdatedAt: at}

	switch req.Target {
	case OrderProcessing:
		if !o.IsPaid && !req.AdminOverride {
			return Change{}, ErrPaymentRequired
		}
		patch.ProcessingAt = &at
	case OrderShipped:
		patch.ShippedAt = &at
		patch.EstimatedDelivery = lo.ToPtr(AddBusinessDays(at, deliveryBusinessDays))
		if req.TrackingNumber != "" {
			patch.TrackingNumber = lo.ToPtr(req.TrackingNumber)
		}
		if req.Courier != "" {
			patch.Courier = lo.ToPtr(req.Courier)
		}
	case OrderDelivered:
		// Delivery counts as proof of capture (cash on delivery).
		patch.DeliveredAt = &at
		patch.IsPaid = lo.ToPtr(true)
		patch.PaidAt = &at
	case OrderCancelled:
		patch.CancelledAt = &at
		if req.Reason != "" {
			patch.CancelReason = lo.ToPtr(req.Reason)
		}
	}

	return Change{
		From:      from,
		Predicate: Predicate{Status: &from},
		Patch:     patch,
	}, nil
}

// PlanPayment builds the guarded change that marks an order paid. A pending
// order also advances to processing; any later status is left where it is.
func PlanPayment(o Order, details PaymentDetails, at time.Time) Change {
	if o.IsPaid {
		return Change{Noop: true, From: o.Status}
	}

	from := o.Status
	patch := Patch{
		IsPaid:         lo.ToPtr(true),
		PaidAt:         &at,
		PaymentDetails: &details,
		UpdatedAt:      at,
	}
	if from == OrderPending {
		patch.Status = lo.ToPtr(OrderProcessing)
		patch.ProcessingAt = &at
	}

	return Change{
		From: from,
		Predicate: Predicate{
			Status: &from,
			IsPaid: lo.ToPtr(false),
		},
		Patch: patch,
	}
}
