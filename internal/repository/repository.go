package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/eventhive/internal/domain"
)

// MaxIDAttempts bounds booking id allocation when candidates collide
const MaxIDAttempts = 5

// EventRepository reads and seeds events with their ticket class ledgers
type EventRepository interface {
	// GetEvent returns a snapshot of the event, or domain.ErrEventNotFound
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	// CreateEvent stores a new event, or returns domain.ErrEventAlreadyExists
	CreateEvent(ctx context.Context, event *domain.Event) error
}

// EventSeeder inserts an event only when the target does not have it yet
type EventSeeder interface {
	SeedEvent(ctx context.Context, event *domain.Event) (bool, error)
}

// ReserveCommand carries one reservation attempt
type ReserveCommand struct {
	EventID     string
	TicketClass string
	Quantity    int
	BuyerID     string
	Buyer       domain.Buyer
	Now         time.Time
	// NewID generates booking id candidates; nil means domain.NewBookingID
	NewID func() string
}

func (c *ReserveCommand) nextID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return domain.NewBookingID()
}

// CancelCommand carries one cancellation attempt
type CancelCommand struct {
	BookingID        string
	RequestedBy      string
	EnforceOwnership bool
	Now              time.Time
}

// BookingStore is the atomic reservation and cancellation executor plus the
// booking registry. Reserve and Cancel are each all-or-nothing per ticket class.
type BookingStore interface {
	Reserve(ctx context.Context, cmd *ReserveCommand) (*domain.Booking, error)
	Cancel(ctx context.Context, cmd *CancelCommand) (*domain.Booking, error)
	// CheckIn reports whether the booking was checked in by this call
	CheckIn(ctx context.Context, bookingID string) (*domain.Booking, bool, error)
	GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
	// ListByBuyer and ListByEvent return bookings ordered by creation time
	ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Booking, error)
	ListByEvent(ctx context.Context, eventID string) ([]*domain.Booking, error)
}
