package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payment-settlement/internal/webhook"
)

const maxWebhookBytes = 1 << 20

type initializeRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

type verifyRequest struct {
	Reference string `json:"reference" binding:"required"`
}

type transactionView struct {
	Reference string     `json:"reference"`
	Amount    string     `json:"amount"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	Channel   string     `json:"channel"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Outcome   string     `json:"outcome"`
	OrderID   string     `json:"order_id,omitempty"`
	IsPaid    bool       `json:"is_paid"`
}

func (s *Server) handleInitialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "order_id is required"})
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "order_id must be a UUID"})
		return
	}

	auth, err := s.deps.Payments.InitializePayment(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": auth})
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "reference is required"})
		return
	}
	s.verify(c, req.Reference)
}

// handleCallback is where the gateway redirects the customer after checkout.
func (s *Server) handleCallback(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		reference = c.Query("trxref")
	}
	s.verify(c, reference)
}

func (s *Server) verify(c *gin.Context, reference string) {
	res, err := s.deps.Payments.VerifyPayment(c.Request.Context(), reference)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	view := transactionView{
		Reference: res.Transaction.Reference,
		Amount:    res.Transaction.Amount.StringFixed(2),
		Currency:  res.Transaction.Currency,
		Status:    res.Transaction.Status,
		Channel:   res.Transaction.Channel,
		Outcome:   string(res.Outcome),
	}
	if res.Order != nil {
		view.OrderID = res.Order.ID.String()
		view.IsPaid = res.Order.IsPaid
		view.PaidAt = res.Order.PaidAt
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "payment verified", "data": view})
}

// handleWebhook acknowledges every authentic delivery with 200, whatever the
// outcome, so the gateway stops retrying. Only an unverifiable body gets 400.
func (s *Server) handleWebhook(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		s.deps.Metrics.ObserveSignatureFailure()
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}

	n, err := s.deps.Verifier.VerifyAndParse(raw, c.GetHeader(webhook.SignatureHeader))
	switch {
	case errors.Is(err, webhook.ErrSignatureInvalid):
		s.deps.Metrics.ObserveSignatureFailure()
		s.logger.Warn("webhook rejected", "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid signature"})
		return
	case err != nil:
		s.logger.Warn("ignoring webhook", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
		return
	}

	outcome, err := s.deps.Payments.ProcessWebhook(c.Request.Context(), n, raw)
	if err != nil {
		s.logger.Error("webhook reconcile failed", "reference", n.Data.Reference, "error", err)
	} else {
		s.logger.Info("webhook processed", "reference", n.Data.Reference, "event", n.Event, "outcome", outcome)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
