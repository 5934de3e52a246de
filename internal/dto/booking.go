package dto

import (
	"time"

	"github.com/prohmpiriya/eventhive/internal/domain"
)

// BuyerRequest is the contact triple captured at registration
type BuyerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ReserveRequest represents a request to book tickets of one class.
// Quantity is range-checked by the ledger, not by binding, so an
// out-of-range value reports the per-order limit.
type ReserveRequest struct {
	EventID     string       `json:"event_id" binding:"required"`
	TicketClass string       `json:"ticket_class" binding:"required"`
	Quantity    int          `json:"quantity"`
	Buyer       BuyerRequest `json:"buyer"`
}

// ToBuyer converts the request buyer into the domain type
func (r *ReserveRequest) ToBuyer() domain.Buyer {
	return domain.Buyer{Name: r.Buyer.Name, Email: r.Buyer.Email, Phone: r.Buyer.Phone}
}

// BookingResponse represents a booking in API responses
type BookingResponse struct {
	ID          string       `json:"id"`
	EventID     string       `json:"event_id"`
	TicketClass string       `json:"ticket_class"`
	Quantity    int          `json:"quantity"`
	UnitPrice   float64      `json:"unit_price"`
	TotalPrice  float64      `json:"total_price"`
	BuyerID     string       `json:"buyer_id"`
	Buyer       BuyerRequest `json:"buyer"`
	Status      string       `json:"status"`
	CheckedIn   bool         `json:"checked_in"`
	CreatedAt   time.Time    `json:"created_at"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking) *BookingResponse {
	return &BookingResponse{
		ID:          b.ID,
		EventID:     b.EventID,
		TicketClass: b.TicketClassName,
		Quantity:    b.Quantity,
		UnitPrice:   b.UnitPrice,
		TotalPrice:  b.TotalPrice,
		BuyerID:     b.BuyerID,
		Buyer:       BuyerRequest{Name: b.Buyer.Name, Email: b.Buyer.Email, Phone: b.Buyer.Phone},
		Status:      b.Status.String(),
		CheckedIn:   b.CheckedIn,
		CreatedAt:   b.CreatedAt,
		CancelledAt: b.CancelledAt,
	}
}

// FromDomainList converts a slice of bookings, never returning nil
func FromDomainList(bookings []*domain.Booking) []*BookingResponse {
	out := make([]*BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, FromDomain(b))
	}
	return out
}
