package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/eventhive/internal/dto"
	"github.com/prohmpiriya/eventhive/internal/service"
	"github.com/prohmpiriya/eventhive/pkg/middleware"
	"github.com/prohmpiriya/eventhive/pkg/response"
	"github.com/prohmpiriya/eventhive/pkg/telemetry"
)

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookingService service.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookingService service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// Reserve handles POST /bookings
func (h *BookingHandler) Reserve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.reserve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "User not authenticated")
		return
	}

	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.SetSpanError(span, err)
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("event_id", req.EventID),
		attribute.String("ticket_class", req.TicketClass),
		attribute.Int("quantity", req.Quantity),
	)

	result, err := h.bookingService.Reserve(ctx, userID, &req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", result.ID))
	span.SetStatus(codes.Ok, "")
	response.Created(c, result)
}

// ListMine handles GET /bookings
func (h *BookingHandler) ListMine(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	bookings, err := h.bookingService.ListBookingsForBuyer(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, bookings, len(bookings))
}

// Get handles GET /bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	booking, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, booking)
}

// Cancel handles POST /bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "User not authenticated")
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.bookingService.Cancel(ctx, bookingID, userID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// CancelAsOrganizer handles POST /bookings/:id/cancel-by-organizer
func (h *BookingHandler) CancelAsOrganizer(c *gin.Context) {
	result, err := h.bookingService.CancelAsOrganizer(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// CheckIn handles POST /bookings/:id/check-in
func (h *BookingHandler) CheckIn(c *gin.Context) {
	result, err := h.bookingService.CheckIn(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
