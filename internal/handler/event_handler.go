package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/eventhive/internal/dto"
	"github.com/prohmpiriya/eventhive/internal/service"
	"github.com/prohmpiriya/eventhive/pkg/response"
)

// EventHandler serves organizer event setup and availability reads
type EventHandler struct {
	bookingService service.BookingService
}

func NewEventHandler(bookingService service.BookingService) *EventHandler {
	return &EventHandler{bookingService: bookingService}
}

// Create handles POST /events
func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err.Error())
		return
	}

	result, err := h.bookingService.CreateEvent(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, result)
}

// Availability handles GET /events/:id/availability
func (h *EventHandler) Availability(c *gin.Context) {
	result, err := h.bookingService.GetAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// Bookings handles GET /events/:id/bookings
func (h *EventHandler) Bookings(c *gin.Context) {
	bookings, err := h.bookingService.ListBookingsForEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, bookings, len(bookings))
}
