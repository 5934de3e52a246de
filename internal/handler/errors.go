package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/eventhive/internal/domain"
	"github.com/prohmpiriya/eventhive/pkg/logger"
	"github.com/prohmpiriya/eventhive/pkg/response"
)

// errorCodes maps domain errors to their API error code
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrEventNotFound, http.StatusNotFound, "EVENT_NOT_FOUND"},
	{domain.ErrUnknownTicketClass, http.StatusNotFound, "UNKNOWN_TICKET_CLASS"},
	{domain.ErrBookingNotFound, http.StatusNotFound, "BOOKING_NOT_FOUND"},
	{domain.ErrInvalidBuyer, http.StatusBadRequest, "INVALID_BUYER"},
	{domain.ErrInvalidEvent, http.StatusBadRequest, "INVALID_EVENT"},
	{domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{domain.ErrSalesWindowClosed, http.StatusConflict, "SALES_WINDOW_CLOSED"},
	{domain.ErrOrderLimitExceeded, http.StatusConflict, "ORDER_LIMIT_EXCEEDED"},
	{domain.ErrUserLimitExceeded, http.StatusConflict, "USER_LIMIT_EXCEEDED"},
	{domain.ErrInsufficientInventory, http.StatusConflict, "INSUFFICIENT_INVENTORY"},
	{domain.ErrAlreadyCancelled, http.StatusConflict, "ALREADY_CANCELLED"},
	{domain.ErrEventAlreadyExists, http.StatusConflict, "EVENT_ALREADY_EXISTS"},
	{domain.ErrNotCheckInEligible, http.StatusConflict, "NOT_CHECK_IN_ELIGIBLE"},
	{domain.ErrNotAuthorized, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrTransientFailure, http.StatusServiceUnavailable, "TRANSIENT_FAILURE"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
}

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			if e.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "1")
			}
			response.Error(c, e.status, e.code, e.err.Error(), "")
			return
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		response.Error(c, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", "")
		return
	}

	logger.Get().ErrorContext(c.Request.Context(), "unhandled error",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	response.InternalError(c)
}
