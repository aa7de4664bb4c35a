package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pos-ledger/internal/models"
	"pos-ledger/internal/services"
	"pos-ledger/internal/split"
	"pos-ledger/internal/storage"
	"pos-ledger/internal/utils"
)

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		recErr *services.ReconciliationError
		valErr *split.ValidationError
	)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, storage.ErrTableNotFound):
		return http.StatusNotFound, "Table not found"
	case errors.As(err, &recErr):
		return http.StatusConflict, "Payment does not match the session balance"
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity, "Validation failed"
	case services.IsValidation(err),
		errors.Is(err, models.ErrRowIndexOutOfRange),
		errors.Is(err, services.ErrInvalidWindow):
		return http.StatusBadRequest, "Validation failed"
	case errors.Is(err, services.ErrSessionNotPayable),
		errors.Is(err, services.ErrSessionNotOpen),
		errors.Is(err, services.ErrNothingOwed),
		errors.Is(err, services.ErrTableOccupied),
		errors.Is(err, services.ErrRowPartiallyPaid),
		errors.Is(err, services.ErrRemovalBelowPaid),
		errors.Is(err, services.ErrSessionHasPayments):
		return http.StatusConflict, "Session state does not allow this operation"
	case errors.Is(err, services.ErrSubmitInProgress):
		return http.StatusTooManyRequests, "Submission already in progress"
	case errors.Is(err, storage.ErrTxConflict):
		return http.StatusServiceUnavailable, "Session is busy, retry the operation"
	case errors.Is(err, services.ErrChargeNotCompleted):
		return http.StatusPaymentRequired, "Card charge was not completed"
	case errors.Is(err, services.ErrStripeAPIError):
		return http.StatusBadGateway, "Card processor error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func respondError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, utils.ErrorResponse(message, err.Error()))
}
