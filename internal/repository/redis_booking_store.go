package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/eventhive/internal/domain"
	pkgredis "github.com/prohmpiriya/eventhive/pkg/redis"
)

//go:embed scripts/reserve_tickets.lua
var reserveTicketsScript string

//go:embed scripts/cancel_booking.lua
var cancelBookingScript string

//go:embed scripts/check_in.lua
var checkInScript string

// Script names for caching
const (
	scriptReserveTickets = "reserve_tickets"
	scriptCancelBooking  = "cancel_booking"
	scriptCheckIn        = "check_in"
)

// RedisBookingStore runs each reservation and cancellation as one Lua
// script, so the check and the decrement cannot interleave. Keys span
// several hash slots; a single Redis node (or a proxy that pins them) is
// assumed.
type RedisBookingStore struct {
	client *pkgredis.Client
}

// NewRedisBookingStore creates a new RedisBookingStore
func NewRedisBookingStore(client *pkgredis.Client) *RedisBookingStore {
	return &RedisBookingStore{client: client}
}

// LoadScripts loads all Lua scripts into Redis
func (s *RedisBookingStore) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptReserveTickets: reserveTicketsScript,
		scriptCancelBooking:  cancelBookingScript,
		scriptCheckIn:        checkInScript,
		scriptSeedEvent:      seedEventScript,
	}

	for name, script := range scripts {
		if _, err := s.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}
	return nil
}

// Reserve runs reserve_tickets.lua, drawing a fresh id on collision
func (s *RedisBookingStore) Reserve(ctx context.Context, cmd *ReserveCommand) (*domain.Booking, error) {
	for attempt := 0; attempt < MaxIDAttempts; attempt++ {
		booking, err := s.reserveOnce(ctx, cmd, cmd.nextID())
		if errors.Is(err, errIDCollision) {
			continue
		}
		return booking, err
	}
	return nil, domain.ErrBookingIDExhausted
}

var errIDCollision = errors.New("booking id collision")

func (s *RedisBookingStore) reserveOnce(ctx context.Context, cmd *ReserveCommand, bookingID string) (*domain.Booking, error) {
	keys := []string{
		eventKey(cmd.EventID),
		ticketClassKey(cmd.EventID, cmd.TicketClass),
		holdingsKey(cmd.EventID, cmd.TicketClass),
		bookingKey(bookingID),
		buyerBookingsKey(cmd.BuyerID),
		eventBookingsKey(cmd.EventID),
	}
	args := []interface{}{
		cmd.Quantity,                           // ARGV[1]: quantity
		cmd.BuyerID,                            // ARGV[2]: buyer_id
		cmd.Now.Unix(),                         // ARGV[3]: now (unix s)
		bookingID,                              // ARGV[4]: booking_id
		cmd.Now.UTC().Format(time.RFC3339Nano), // ARGV[5]: created_at
		cmd.Now.UnixMicro(),                    // ARGV[6]: score
		cmd.Buyer.Name,                         // ARGV[7]: buyer_name
		cmd.Buyer.Email,                        // ARGV[8]: buyer_email
		cmd.Buyer.Phone,                        // ARGV[9]: buyer_phone
		cmd.EventID,                            // ARGV[10]: event_id
		cmd.TicketClass,                        // ARGV[11]: class name
		cmd.Now.Nanosecond(),                   // ARGV[12]: now (ns part)
	}

	values, err := s.client.EvalWithFallback(ctx, scriptReserveTickets, reserveTicketsScript, keys, args...).Slice()
	if err != nil {
		return nil, mapStoreError("reserve", fmt.Errorf("failed to execute reserve_tickets script: %w", err))
	}

	rest, code, err := parseScriptResult(values, 2)
	if err != nil {
		return nil, err
	}
	if code == codeIDCollision {
		return nil, errIDCollision
	}
	if code != "" {
		return nil, scriptError(code)
	}
	if len(rest) < 3 {
		return nil, fmt.Errorf("unexpected reserve result length: %d", len(rest))
	}

	price, _ := rest[0].(string)
	unitPrice, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return nil, fmt.Errorf("bad unit price %q: %w", price, err)
	}
	remaining, _ := toInt64(rest[1])
	held, _ := toInt64(rest[2])

	grant := &domain.Grant{
		EventID:            cmd.EventID,
		TicketClassName:    cmd.TicketClass,
		Quantity:           cmd.Quantity,
		UnitPrice:          unitPrice,
		RemainingAvailable: int(remaining),
		BuyerHeld:          int(held),
	}
	return domain.NewBooking(bookingID, cmd.BuyerID, cmd.Buyer, grant, cmd.Now.UTC()), nil
}

// Cancel reads the booking to locate its ledger keys, then lets
// cancel_booking.lua re-check the status atomically.
func (s *RedisBookingStore) Cancel(ctx context.Context, cmd *CancelCommand) (*domain.Booking, error) {
	booking, err := s.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}

	enforce := "0"
	if cmd.EnforceOwnership {
		enforce = "1"
	}
	cancelledAt := cmd.Now.UTC()
	keys := []string{
		bookingKey(booking.ID),
		ticketClassKey(booking.EventID, booking.TicketClassName),
		holdingsKey(booking.EventID, booking.TicketClassName),
	}
	args := []interface{}{cmd.RequestedBy, enforce, cancelledAt.Format(time.RFC3339Nano)}

	values, err := s.client.EvalWithFallback(ctx, scriptCancelBooking, cancelBookingScript, keys, args...).Slice()
	if err != nil {
		return nil, mapStoreError("cancel", fmt.Errorf("failed to execute cancel_booking script: %w", err))
	}
	_, code, err := parseScriptResult(values, 2)
	if err != nil {
		return nil, err
	}
	if code != "" {
		return nil, scriptError(code)
	}

	booking.Status = domain.BookingStatusCancelled
	booking.CancelledAt = &cancelledAt
	return booking, nil
}

// CheckIn marks a confirmed booking as attended
func (s *RedisBookingStore) CheckIn(ctx context.Context, bookingID string) (*domain.Booking, bool, error) {
	values, err := s.client.EvalWithFallback(ctx, scriptCheckIn, checkInScript, []string{bookingKey(bookingID)}).Slice()
	if err != nil {
		return nil, false, mapStoreError("check in", fmt.Errorf("failed to execute check_in script: %w", err))
	}
	rest, code, err := parseScriptResult(values, 2)
	if err != nil {
		return nil, false, err
	}
	if code != "" {
		return nil, false, scriptError(code)
	}
	wasCheckedIn, _ := toInt64(rest[0])

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	return booking, wasCheckedIn == 0, nil
}

// GetBooking returns the booking by id
func (s *RedisBookingStore) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	h, err := s.client.HGetAll(ctx, bookingKey(bookingID)).Result()
	if err != nil {
		return nil, mapStoreError("get booking", err)
	}
	if len(h) == 0 {
		return nil, domain.ErrBookingNotFound
	}
	return bookingFromHash(h)
}

// ListByBuyer returns the buyer's bookings, oldest first
func (s *RedisBookingStore) ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Booking, error) {
	return s.list(ctx, buyerBookingsKey(buyerID))
}

// ListByEvent returns the event's bookings, oldest first
func (s *RedisBookingStore) ListByEvent(ctx context.Context, eventID string) ([]*domain.Booking, error) {
	return s.list(ctx, eventBookingsKey(eventID))
}

func (s *RedisBookingStore) list(ctx context.Context, indexKey string) ([]*domain.Booking, error) {
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, mapStoreError("list bookings", err)
	}
	bookings := make([]*domain.Booking, 0, len(ids))
	if len(ids) == 0 {
		return bookings, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, bookingKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, mapStoreError("list bookings", err)
	}

	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		booking, err := bookingFromHash(h)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	sortBookings(bookings)
	return bookings, nil
}
