package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/prohmpiriya/eventhive/internal/domain"
)

// memoryLedger guards one ticket class. holdings tracks confirmed
// quantity per buyer so the per-user limit is checked under the same lock.
type memoryLedger struct {
	mu       sync.Mutex
	class    domain.TicketClass
	holdings map[string]int
}

type memoryEvent struct {
	event   *domain.Event
	ledgers map[string]*memoryLedger
}

// MemoryStore keeps events, ledgers and bookings in process memory.
// Lock order is ledger first, then the registry lock.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string]*memoryEvent
	bookings map[string]*domain.Booking
	byBuyer  map[string][]string
	byEvent  map[string][]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*memoryEvent),
		bookings: make(map[string]*domain.Booking),
		byBuyer:  make(map[string][]string),
		byEvent:  make(map[string][]string),
	}
}

// CreateEvent registers an event and one ledger per ticket class
func (s *MemoryStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := event.Clone()
	stored.SortClasses()
	me := &memoryEvent{
		event:   stored,
		ledgers: make(map[string]*memoryLedger, len(stored.TicketClasses)),
	}
	for _, tc := range stored.TicketClasses {
		me.ledgers[tc.Name] = &memoryLedger{class: tc, holdings: make(map[string]int)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return domain.ErrEventAlreadyExists
	}
	s.events[event.ID] = me
	return nil
}

// SeedEvent inserts the event unless it is already present
func (s *MemoryStore) SeedEvent(ctx context.Context, event *domain.Event) (bool, error) {
	err := s.CreateEvent(ctx, event)
	if errors.Is(err, domain.ErrEventAlreadyExists) {
		return false, nil
	}
	return err == nil, err
}

// GetEvent returns a snapshot of the event with current availability
func (s *MemoryStore) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	me, ok := s.events[eventID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrEventNotFound
	}

	out := me.event.Clone()
	for i := range out.TicketClasses {
		ledger := me.ledgers[out.TicketClasses[i].Name]
		ledger.mu.Lock()
		out.TicketClasses[i].QuantityAvailable = ledger.class.QuantityAvailable
		ledger.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) ledger(eventID, className string) (*memoryLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	me, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	ledger, ok := me.ledgers[className]
	if !ok {
		return nil, domain.ErrUnknownTicketClass
	}
	return ledger, nil
}

// Reserve decrements the ledger and registers the booking while holding
// the class lock, so no other reservation can interleave.
func (s *MemoryStore) Reserve(ctx context.Context, cmd *ReserveCommand) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ledger, err := s.ledger(cmd.EventID, cmd.TicketClass)
	if err != nil {
		return nil, err
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	held := ledger.holdings[cmd.BuyerID]
	grant, err := ledger.class.TryReserve(cmd.Quantity, held, cmd.Now)
	if err != nil {
		return nil, err
	}
	grant.EventID = cmd.EventID

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < MaxIDAttempts; attempt++ {
		id := cmd.nextID()
		if _, taken := s.bookings[id]; taken {
			continue
		}
		booking := domain.NewBooking(id, cmd.BuyerID, cmd.Buyer, grant, cmd.Now)
		s.bookings[id] = booking
		s.byBuyer[booking.BuyerID] = append(s.byBuyer[booking.BuyerID], id)
		s.byEvent[booking.EventID] = append(s.byEvent[booking.EventID], id)
		ledger.holdings[cmd.BuyerID] = grant.BuyerHeld
		return booking.Clone(), nil
	}

	ledger.class.Release(grant.Quantity)
	return nil, domain.ErrBookingIDExhausted
}

// Cancel flips a confirmed booking and returns its quantity to the ledger
func (s *MemoryStore) Cancel(ctx context.Context, cmd *CancelCommand) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	booking, ok := s.bookings[cmd.BookingID]
	var eventID, className string
	if ok {
		eventID, className = booking.EventID, booking.TicketClassName
	}
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrBookingNotFound
	}

	ledger, err := s.ledger(eventID, className)
	if err != nil {
		return nil, err
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	s.mu.Lock()
	if err := booking.CheckCancellable(cmd.RequestedBy, cmd.EnforceOwnership); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	_ = booking.Cancel(cmd.Now)
	out := booking.Clone()
	s.mu.Unlock()

	ledger.class.Release(out.Quantity)
	if remaining := ledger.holdings[out.BuyerID] - out.Quantity; remaining > 0 {
		ledger.holdings[out.BuyerID] = remaining
	} else {
		delete(ledger.holdings, out.BuyerID)
	}
	return out, nil
}

// CheckIn marks a confirmed booking as attended
func (s *MemoryStore) CheckIn(ctx context.Context, bookingID string) (*domain.Booking, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, false, domain.ErrBookingNotFound
	}
	first, err := booking.CheckIn()
	if err != nil {
		return nil, false, err
	}
	return booking.Clone(), first, nil
}

// GetBooking returns a copy of the booking
func (s *MemoryStore) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return booking.Clone(), nil
}

// ListByBuyer returns the buyer's bookings, oldest first
func (s *MemoryStore) ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Booking, error) {
	return s.list(ctx, func() []string { return s.byBuyer[buyerID] })
}

// ListByEvent returns the event's bookings, oldest first
func (s *MemoryStore) ListByEvent(ctx context.Context, eventID string) ([]*domain.Booking, error) {
	return s.list(ctx, func() []string { return s.byEvent[eventID] })
}

func (s *MemoryStore) list(ctx context.Context, ids func() []string) ([]*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	keys := ids()
	out := make([]*domain.Booking, 0, len(keys))
	for _, id := range keys {
		out = append(out, s.bookings[id].Clone())
	}
	s.mu.RUnlock()

	sortBookings(out)
	return out, nil
}

// sortBookings orders by creation time, breaking ties by id
func sortBookings(bookings []*domain.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
