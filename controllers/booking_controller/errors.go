package booking_controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/services/payments"
)

// respondError maps booking errors onto HTTP. attempt, when known, is
// returned alongside so the client can show the booking's final state.
func respondError(c *gin.Context, err error, attempt *booking_models.BookingAttempt) {
	status, code := classify(err)
	body := gin.H{"code": code, "error": err.Error()}

	var conflict *shared_models.SeatConflictError
	if errors.As(err, &conflict) {
		body["seat_ids"] = conflict.SeatIDs
	}
	var invalid *shared_models.ValidationError
	if errors.As(err, &invalid) {
		body["field"] = invalid.Field
		body["error"] = invalid.Message
	}
	if attempt != nil {
		body["booking"] = attempt
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.ErrorLogger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		if status == http.StatusInternalServerError {
			body["error"] = "internal server error"
		}
	case errors.Is(err, shared_models.ErrInvalidTransition):
		logger.WarnLogger.Warnf("%s %s rejected: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared_models.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, shared_models.ErrSeatConflict):
		return http.StatusConflict, shared_models.ReasonSeatsTaken
	case errors.Is(err, shared_models.ErrHoldExpired):
		return http.StatusGone, shared_models.ReasonSessionExpired
	case errors.Is(err, shared_models.ErrPaymentFailed):
		return http.StatusPaymentRequired, shared_models.ReasonPaymentDeclined
	case errors.Is(err, shared_models.ErrPaymentTimeout):
		return http.StatusGatewayTimeout, shared_models.ReasonPaymentTimedOut
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case errors.Is(err, shared_models.ErrLedgerConflict):
		return http.StatusUnprocessableEntity, "attempt_conflict"
	case errors.Is(err, shared_models.ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, shared_models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, shared_models.ErrTicketUsed):
		return http.StatusConflict, "ticket_used"
	case errors.Is(err, shared_models.ErrInvalidTicket):
		return http.StatusBadRequest, "invalid_ticket"
	case errors.Is(err, shared_models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared_models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, payments.ErrInvalidWebhookSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
