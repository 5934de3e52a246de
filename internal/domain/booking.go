package domain

import (
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of BookingStatus
func (s BookingStatus) String() string {
	return string(s)
}

// Buyer is the contact triple captured at registration
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Validate requires all three fields and a parseable email
func (b Buyer) Validate() error {
	if strings.TrimSpace(b.Name) == "" ||
		strings.TrimSpace(b.Email) == "" ||
		strings.TrimSpace(b.Phone) == "" {
		return ErrInvalidBuyer
	}
	if _, err := mail.ParseAddress(b.Email); err != nil {
		return ErrInvalidBuyer
	}
	return nil
}

// Booking is a confirmed or cancelled claim on a ticket class
type Booking struct {
	ID              string        `json:"id"`
	EventID         string        `json:"event_id"`
	TicketClassName string        `json:"ticket_class"`
	Quantity        int           `json:"quantity"`
	UnitPrice       float64       `json:"unit_price"`
	TotalPrice      float64       `json:"total_price"`
	BuyerID         string        `json:"buyer_id"`
	Buyer           Buyer         `json:"buyer"`
	Status          BookingStatus `json:"status"`
	CheckedIn       bool          `json:"checked_in"`
	CreatedAt       time.Time     `json:"created_at"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
}

// NewBooking builds a confirmed booking from a grant
func NewBooking(id, buyerID string, buyer Buyer, grant *Grant, now time.Time) *Booking {
	return &Booking{
		ID:              id,
		EventID:         grant.EventID,
		TicketClassName: grant.TicketClassName,
		Quantity:        grant.Quantity,
		UnitPrice:       grant.UnitPrice,
		TotalPrice:      grant.UnitPrice * float64(grant.Quantity),
		BuyerID:         buyerID,
		Buyer:           buyer,
		Status:          BookingStatusConfirmed,
		CreatedAt:       now,
	}
}

// IsConfirmed checks if the booking is in confirmed status
func (b *Booking) IsConfirmed() bool {
	return b.Status == BookingStatusConfirmed
}

// IsCancelled checks if the booking is in cancelled status
func (b *Booking) IsCancelled() bool {
	return b.Status == BookingStatusCancelled
}

// BelongsToUser checks if the booking belongs to the specified buyer
func (b *Booking) BelongsToUser(buyerID string) bool {
	return b.BuyerID == buyerID
}

// CheckCancellable applies the cancellation preconditions. Ownership is
// only enforced when enforceOwner is set.
func (b *Booking) CheckCancellable(requestedBy string, enforceOwner bool) error {
	if b.IsCancelled() {
		return ErrAlreadyCancelled
	}
	if enforceOwner && !b.BelongsToUser(requestedBy) {
		return ErrNotAuthorized
	}
	return nil
}

// Cancel flips the booking to cancelled. The transition is one-way.
func (b *Booking) Cancel(now time.Time) error {
	if b.IsCancelled() {
		return ErrAlreadyCancelled
	}
	b.Status = BookingStatusCancelled
	b.CancelledAt = &now
	return nil
}

// CheckIn marks attendance and reports whether this call changed anything.
// Repeating it is a no-op.
func (b *Booking) CheckIn() (bool, error) {
	if !b.IsConfirmed() {
		return false, ErrNotCheckInEligible
	}
	if b.CheckedIn {
		return false, nil
	}
	b.CheckedIn = true
	return true, nil
}

// Clone returns a copy safe to hand out of a store
func (b *Booking) Clone() *Booking {
	out := *b
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		out.CancelledAt = &t
	}
	return &out
}

// BookingIDPrefix prefixes every generated booking id
const BookingIDPrefix = "BK"

// NewBookingID returns a candidate booking id. Uniqueness is enforced by
// the store, not assumed here.
func NewBookingID() string {
	id := uuid.New()
	return BookingIDPrefix + strings.ToUpper(hex.EncodeToString(id[:6]))
}
