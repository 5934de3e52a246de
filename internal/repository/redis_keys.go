package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prohmpiriya/eventhive/internal/domain"
)

// Redis key layout. Every key an operation touches is passed to its script
// through KEYS, so scripts never build names themselves.
//
// Each family has its own prefix and ends in a single id. Ids are length
// prefixed, so no two (event, class) pairs share a key whatever they contain.
func eventKey(eventID string) string        { return "event:" + keyPart(eventID) }
func eventClassesKey(eventID string) string { return "event_classes:" + keyPart(eventID) }
func bookingKey(bookingID string) string    { return "booking:" + keyPart(bookingID) }
func buyerBookingsKey(buyerID string) string {
	return "bookings:buyer:" + keyPart(buyerID)
}
func eventBookingsKey(eventID string) string {
	return "bookings:event:" + keyPart(eventID)
}
func ticketClassKey(eventID, class string) string {
	return "ticket_class:" + keyPart(eventID) + ":" + keyPart(class)
}
func holdingsKey(eventID, class string) string {
	return "holdings:" + keyPart(eventID) + ":" + keyPart(class)
}

// keyPart encodes s as <byte length>:<s>
func keyPart(s string) string {
	return strconv.Itoa(len(s)) + ":" + s
}

// Script error codes
const (
	codeEventNotFound         = "EVENT_NOT_FOUND"
	codeUnknownTicketClass    = "UNKNOWN_TICKET_CLASS"
	codeSalesWindowClosed     = "SALES_WINDOW_CLOSED"
	codeOrderLimitExceeded    = "ORDER_LIMIT_EXCEEDED"
	codeUserLimitExceeded     = "USER_LIMIT_EXCEEDED"
	codeInsufficientInventory = "INSUFFICIENT_INVENTORY"
	codeIDCollision           = "ID_COLLISION"
	codeBookingNotFound       = "BOOKING_NOT_FOUND"
	codeAlreadyCancelled      = "ALREADY_CANCELLED"
	codeNotAuthorized         = "NOT_AUTHORIZED"
	codeNotCheckInEligible    = "NOT_CHECK_IN_ELIGIBLE"
)

var scriptErrors = map[string]error{
	codeEventNotFound:         domain.ErrEventNotFound,
	codeUnknownTicketClass:    domain.ErrUnknownTicketClass,
	codeSalesWindowClosed:     domain.ErrSalesWindowClosed,
	codeOrderLimitExceeded:    domain.ErrOrderLimitExceeded,
	codeUserLimitExceeded:     domain.ErrUserLimitExceeded,
	codeInsufficientInventory: domain.ErrInsufficientInventory,
	codeBookingNotFound:       domain.ErrBookingNotFound,
	codeAlreadyCancelled:      domain.ErrAlreadyCancelled,
	codeNotAuthorized:         domain.ErrNotAuthorized,
	codeNotCheckInEligible:    domain.ErrNotCheckInEligible,
}

func scriptError(code string) error {
	if err, ok := scriptErrors[code]; ok {
		return err
	}
	return fmt.Errorf("unknown script error code %q", code)
}

// parseScriptResult splits a {status, ...} reply. A zero status yields the
// mapped error code.
func parseScriptResult(values []interface{}, minLen int) ([]interface{}, string, error) {
	if len(values) < minLen {
		return nil, "", fmt.Errorf("unexpected script result length: %d", len(values))
	}
	status, _ := toInt64(values[0])
	if status == 1 {
		return values[1:], "", nil
	}
	code, _ := values[1].(string)
	return nil, code, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// formatUnix splits t into unix seconds and nanoseconds. Both fit a Lua
// number exactly, so scripts compare instants at full precision.
func formatUnix(t *time.Time) (string, string) {
	if t == nil {
		return "", ""
	}
	return strconv.FormatInt(t.Unix(), 10), strconv.Itoa(t.Nanosecond())
}

func parseUnix(sec, nsec string) (*time.Time, error) {
	if sec == "" {
		return nil, nil
	}
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return nil, err
	}
	var ns int64
	if nsec != "" {
		if ns, err = strconv.ParseInt(nsec, 10, 64); err != nil {
			return nil, err
		}
	}
	t := time.Unix(s, ns).UTC()
	return &t, nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// ticketClassFromHash decodes a ticket_class hash written by seed_event.lua
func ticketClassFromHash(h map[string]string) (*domain.TicketClass, error) {
	var tc domain.TicketClass
	var err error
	tc.Name = h["name"]
	if tc.Price, err = strconv.ParseFloat(h["price"], 64); err != nil {
		return nil, fmt.Errorf("bad price for class %s: %w", tc.Name, err)
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{"capacity", &tc.Capacity},
		{"available", &tc.QuantityAvailable},
		{"max_per_user", &tc.MaxPerUser},
		{"max_per_order", &tc.MaxPerOrder},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(h[f.field]); err != nil {
			return nil, fmt.Errorf("bad %s for class %s: %w", f.field, tc.Name, err)
		}
	}
	if tc.SalesStart, err = parseUnix(h["sales_start"], h["sales_start_nsec"]); err != nil {
		return nil, fmt.Errorf("bad sales_start for class %s: %w", tc.Name, err)
	}
	if tc.SalesEnd, err = parseUnix(h["sales_end"], h["sales_end_nsec"]); err != nil {
		return nil, fmt.Errorf("bad sales_end for class %s: %w", tc.Name, err)
	}
	return &tc, nil
}

// bookingFromHash decodes a booking hash written by reserve_tickets.lua
func bookingFromHash(h map[string]string) (*domain.Booking, error) {
	b := &domain.Booking{
		ID:              h["id"],
		EventID:         h["event_id"],
		TicketClassName: h["ticket_class"],
		BuyerID:         h["buyer_id"],
		Buyer: domain.Buyer{
			Name:  h["buyer_name"],
			Email: h["buyer_email"],
			Phone: h["buyer_phone"],
		},
		Status:    domain.BookingStatus(h["status"]),
		CheckedIn: h["checked_in"] == "1",
	}

	var err error
	if b.Quantity, err = strconv.Atoi(h["quantity"]); err != nil {
		return nil, fmt.Errorf("bad quantity for booking %s: %w", b.ID, err)
	}
	if b.UnitPrice, err = strconv.ParseFloat(h["unit_price"], 64); err != nil {
		return nil, fmt.Errorf("bad unit price for booking %s: %w", b.ID, err)
	}
	b.TotalPrice = b.UnitPrice * float64(b.Quantity)

	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, h["created_at"]); err != nil {
		return nil, fmt.Errorf("bad created_at for booking %s: %w", b.ID, err)
	}
	if v := h["cancelled_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("bad cancelled_at for booking %s: %w", b.ID, err)
		}
		b.CancelledAt = &t
	}
	return b, nil
}
