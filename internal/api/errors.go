package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/infrastructure/payment"
	"payment-settlement/internal/repo"
	"payment-settlement/internal/service"
	"payment-settlement/internal/webhook"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrSignatureInvalid),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, service.ErrNotVerified),
		errors.Is(err, payment.ErrPermanent):
		return http.StatusBadRequest
	case errors.Is(err, repo.ErrDuplicateOrder),
		errors.Is(err, service.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, payment.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the mapped status. Internal errors are logged and
// never shown to the caller.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		message = "internal server error"
	}
	c.JSON(status, gin.H{"success": false, "message": message})
}
