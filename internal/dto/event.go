package dto

import (
	"time"

	"github.com/prohmpiriya/eventhive/internal/domain"
)

// TicketClassRequest defines one ticket class on event creation
type TicketClassRequest struct {
	Name        string     `json:"name" binding:"required"`
	Price       float64    `json:"price" binding:"min=0"`
	Capacity    int        `json:"capacity" binding:"min=0"`
	SalesStart  *time.Time `json:"sales_start,omitempty"`
	SalesEnd    *time.Time `json:"sales_end,omitempty"`
	MaxPerUser  int        `json:"max_per_user,omitempty" binding:"min=0"`
	MaxPerOrder int        `json:"max_per_order,omitempty" binding:"min=0"`
}

// CreateEventRequest seeds an event and its ticket class ledgers
type CreateEventRequest struct {
	ID            string               `json:"id" binding:"required"`
	Title         string               `json:"title" binding:"required"`
	TicketClasses []TicketClassRequest `json:"ticket_classes" binding:"required,min=1,dive"`
}

// ToDomain builds an event whose classes start fully available
func (r *CreateEventRequest) ToDomain(now time.Time) *domain.Event {
	event := &domain.Event{
		ID:            r.ID,
		Title:         r.Title,
		TicketClasses: make([]domain.TicketClass, 0, len(r.TicketClasses)),
		CreatedAt:     now,
	}
	for _, tc := range r.TicketClasses {
		event.TicketClasses = append(event.TicketClasses, domain.TicketClass{
			Name:              tc.Name,
			Price:             tc.Price,
			Capacity:          tc.Capacity,
			QuantityAvailable: tc.Capacity,
			SalesStart:        tc.SalesStart,
			SalesEnd:          tc.SalesEnd,
			MaxPerUser:        tc.MaxPerUser,
			MaxPerOrder:       tc.MaxPerOrder,
		})
	}
	event.SortClasses()
	return event
}

// TicketClassAvailability is the public view of one ledger
type TicketClassAvailability struct {
	Name              string     `json:"name"`
	Price             float64    `json:"price"`
	Capacity          int        `json:"capacity"`
	QuantityAvailable int        `json:"quantity_available"`
	SoldOut           bool       `json:"sold_out"`
	OnSale            bool       `json:"on_sale"`
	SalesStart        *time.Time `json:"sales_start,omitempty"`
	SalesEnd          *time.Time `json:"sales_end,omitempty"`
	MaxPerUser        int        `json:"max_per_user,omitempty"`
	MaxPerOrder       int        `json:"max_per_order,omitempty"`
}

// AvailabilityResponse lists an event's ticket classes
type AvailabilityResponse struct {
	EventID       string                    `json:"event_id"`
	Title         string                    `json:"title"`
	TicketClasses []TicketClassAvailability `json:"ticket_classes"`
}

// AvailabilityFromDomain renders an event snapshot as seen at now
func AvailabilityFromDomain(e *domain.Event, now time.Time) *AvailabilityResponse {
	resp := &AvailabilityResponse{
		EventID:       e.ID,
		Title:         e.Title,
		TicketClasses: make([]TicketClassAvailability, 0, len(e.TicketClasses)),
	}
	for i := range e.TicketClasses {
		tc := &e.TicketClasses[i]
		resp.TicketClasses = append(resp.TicketClasses, TicketClassAvailability{
			Name:              tc.Name,
			Price:             tc.Price,
			Capacity:          tc.Capacity,
			QuantityAvailable: tc.QuantityAvailable,
			SoldOut:           tc.SoldOut(),
			OnSale:            tc.InSalesWindow(now) && !tc.SoldOut(),
			SalesStart:        tc.SalesStart,
			SalesEnd:          tc.SalesEnd,
			MaxPerUser:        tc.MaxPerUser,
			MaxPerOrder:       tc.MaxPerOrder,
		})
	}
	return resp
}
