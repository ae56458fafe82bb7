package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/infrastructure/payment"
	"payment-settlement/internal/repo"
	"payment-settlement/internal/webhook"
)

var ErrNotVerified = errors.New("payment not verified")

type PaymentService interface {
	// InitializePayment returns the checkout URL for an order, minting a
	// reference on first use and returning the stored one afterwards.
	InitializePayment(ctx context.Context, orderID uuid.UUID) (payment.Authorization, error)
	VerifyPayment(ctx context.Context, reference string) (VerifyResult, error)
	// ProcessWebhook reconciles an authenticated notification. raw is the
	// body the signature was checked against.
	ProcessWebhook(ctx context.Context, n webhook.Notification, raw []byte) (domain.Outcome, error)
}

type VerifyResult struct {
	Transaction payment.TransactionData
	Outcome     domain.Outcome
	Order       *domain.Order
}

type PaymentConfig struct {
	MerchantPrefix  string
	CallbackBaseURL string
}

type paymentService struct {
	orders  repo.OrderRepo
	gateway payment.PaymentGateway
	engine  ReconciliationEngine
	cfg     PaymentConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewPaymentService(
	orders repo.OrderRepo,
	gateway payment.PaymentGateway,
	engine ReconciliationEngine,
	cfg PaymentConfig,
	logger *slog.Logger,
) PaymentService {
	return &paymentService{
		orders:  orders,
		gateway: gateway,
		engine:  engine,
		cfg:     cfg,
		logger:  logger.With("component", "payment"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *paymentService) InitializePayment(ctx context.Context, orderID uuid.UUID) (payment.Authorization, error) {
	order, err := s.orders.FindById(ctx, orderID)
	if err != nil {
		return payment.Authorization{}, fmt.Errorf("orders.FindById: %w", err)
	}
	if order == nil {
		return payment.Authorization{}, domain.ErrOrderNotFound
	}
	if order.PaymentReference != "" {
		return storedAuthorization(order), nil
	}
	if order.IsPaid || order.Status != domain.OrderPending {
		return payment.Authorization{}, fmt.Errorf("%w: cannot start payment for %s order", domain.ErrInvalidStateTransition, order.Status)
	}

	now := s.now()
	reference := payment.NewReference(s.cfg.MerchantPrefix, now)
	log := s.logger.With("order_id", order.ID, "reference", reference)

	auth, err := s.gateway.InitializeTransaction(ctx, payment.InitializeRequest{
		Email:       order.CustomerEmail,
		Amount:      order.Total,
		Reference:   reference,
		Currency:    order.Currency,
		CallbackURL: strings.TrimRight(s.cfg.CallbackBaseURL, "/") + "/payment/callback",
		Metadata: map[string]any{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
		},
	})
	if err != nil {
		log.Error("initialize transaction failed", "error", err)
		return payment.Authorization{}, fmt.Errorf("gateway.InitializeTransaction: %w", err)
	}

	applied, err := s.orders.ConditionalUpdate(ctx, order.ID,
		domain.Predicate{
			Status:         lo.ToPtr(domain.OrderPending),
			IsPaid:         lo.ToPtr(false),
			ReferenceUnset: true,
		},
		domain.Patch{
			PaymentReference: lo.ToPtr(auth.Reference),
			AuthorizationURL: lo.ToPtr(auth.AuthorizationURL),
			UpdatedAt:        now,
		},
	)
	if err != nil {
		return payment.Authorization{}, fmt.Errorf("orders.ConditionalUpdate: %w", err)
	}
	if applied {
		log.Info("payment initialized")
		return auth, nil
	}

	// Another request initialized first; its reference is the one the gateway will report.
	current, err := s.orders.FindById(ctx, order.ID)
	if err != nil {
		return payment.Authorization{}, fmt.Errorf("orders.FindById: %w", err)
	}
	if current == nil {
		return payment.Authorization{}, domain.ErrOrderNotFound
	}
	if current.PaymentReference != "" {
		log.Info("concurrent initialize won, returning stored reference", "stored_reference", current.PaymentReference)
		return storedAuthorization(current), nil
	}
	return payment.Authorization{}, fmt.Errorf("%w: cannot start payment for %s order", domain.ErrInvalidStateTransition, current.Status)
}

func (s *paymentService) VerifyPayment(ctx context.Context, reference string) (VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return VerifyResult{}, fmt.Errorf("%w: reference is required", ErrNotVerified)
	}

	order, err := s.orders.FindByReference(ctx, reference)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("orders.FindByReference: %w", err)
	}
	if order == nil {
		return VerifyResult{}, domain.ErrOrderNotFound
	}

	res, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("gateway.VerifyTransaction: %w", err)
	}
	if !res.Verified {
		s.logger.Info("payment not verified", "reference", reference, "message", res.Message)
		return VerifyResult{Transaction: res.Data, Order: order}, fmt.Errorf("%w: %s", ErrNotVerified, res.Message)
	}

	outcome, err := s.engine.Reconcile(ctx, res.PaymentEvent(domain.SourceClientVerify, s.now()))
	if err != nil {
		return VerifyResult{}, err
	}

	order, err = s.orders.FindById(ctx, order.ID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("orders.FindById: %w", err)
	}
	return VerifyResult{Transaction: res.Data, Outcome: outcome, Order: order}, nil
}

func (s *paymentService) ProcessWebhook(ctx context.Context, n webhook.Notification, raw []byte) (domain.Outcome, error) {
	if n.Event != domain.ChargeSuccess || (n.Data.PaidAt != nil && !n.Data.PaidAt.IsZero()) {
		return s.engine.Reconcile(ctx, n.PaymentEvent(raw, s.now()))
	}
	// Unknown references and orders already paid are not worth a gateway call.
	order, err := s.orders.FindByReference(ctx, n.Data.Reference)
	if err != nil {
		return "", fmt.Errorf("orders.FindByReference: %w", err)
	}
	if order == nil || order.IsPaid {
		return s.engine.Reconcile(ctx, n.PaymentEvent(raw, s.now()))
	}

	// Without paid_at the receive time would become the payment time, and the
	// verify path would disagree. Ask the gateway for the settled record instead.
	log := s.logger.With("reference", n.Data.Reference)
	res, err := s.gateway.VerifyTransaction(ctx, n.Data.Reference)
	if err != nil {
		log.Warn("webhook without paid_at could not be resolved, leaving it to the sweep", "error", err)
		return "", fmt.Errorf("gateway.VerifyTransaction: %w", err)
	}
	if !res.Verified {
		log.Warn("webhook reports success but gateway does not", "message", res.Message)
		return "", fmt.Errorf("%w: %s", ErrNotVerified, res.Message)
	}

	ev := res.PaymentEvent(domain.SourceWebhook, s.now())
	ev.Raw = raw
	return s.engine.Reconcile(ctx, ev)
}

func storedAuthorization(o *domain.Order) payment.Authorization {
	return payment.Authorization{AuthorizationURL: o.AuthorizationURL, Reference: o.PaymentReference}
}
