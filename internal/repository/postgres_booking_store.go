package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/eventhive/internal/domain"
	"github.com/prohmpiriya/eventhive/pkg/database"
)

const bookingColumns = `
	id, event_id, ticket_class_name, quantity,
	unit_price::float8, total_price::float8,
	buyer_id, buyer_name, buyer_email, buyer_phone,
	status, checked_in, created_at, cancelled_at
`

// PostgresBookingStore runs reservations and cancellations as row-locked
// transactions and writes the matching outbox message in the same commit.
type PostgresBookingStore struct {
	pool        *pgxpool.Pool
	outbox      OutboxRepository
	lockTimeout time.Duration
}

// NewPostgresBookingStore creates a new PostgresBookingStore. A positive
// lockTimeout turns long row-lock waits into concurrent modification errors.
func NewPostgresBookingStore(pool *pgxpool.Pool, outbox OutboxRepository, lockTimeout time.Duration) *PostgresBookingStore {
	return &PostgresBookingStore{pool: pool, outbox: outbox, lockTimeout: lockTimeout}
}

// Reserve locks the ticket class row, applies the admissibility rules and
// inserts the booking, all in one transaction.
func (s *PostgresBookingStore) Reserve(ctx context.Context, cmd *ReserveCommand) (*domain.Booking, error) {
	now := cmd.Now.Truncate(time.Microsecond)

	var booking *domain.Booking
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		tc, err := s.lockTicketClass(ctx, tx, cmd.EventID, cmd.TicketClass)
		if err != nil {
			return err
		}

		var held int
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(quantity), 0)
			FROM bookings
			WHERE event_id = $1 AND ticket_class_name = $2
			  AND buyer_id = $3 AND status = 'confirmed'
		`, cmd.EventID, cmd.TicketClass, cmd.BuyerID).Scan(&held)
		if err != nil {
			return fmt.Errorf("failed to read buyer holdings: %w", err)
		}

		grant, err := tc.TryReserve(cmd.Quantity, held, now)
		if err != nil {
			return err
		}
		grant.EventID = cmd.EventID

		_, err = tx.Exec(ctx, `
			UPDATE ticket_classes SET quantity_available = $3
			WHERE event_id = $1 AND name = $2
		`, cmd.EventID, cmd.TicketClass, grant.RemainingAvailable)
		if err != nil {
			return fmt.Errorf("failed to decrement inventory: %w", err)
		}

		booking, err = s.insertBooking(ctx, tx, cmd, grant, now)
		if err != nil {
			return err
		}
		return s.appendOutbox(ctx, tx, domain.BookingEventCreated, booking)
	})
	if err != nil {
		return nil, mapStoreError("reserve", err)
	}
	return booking, nil
}

func (s *PostgresBookingStore) insertBooking(ctx context.Context, tx pgx.Tx, cmd *ReserveCommand, grant *domain.Grant, now time.Time) (*domain.Booking, error) {
	for attempt := 0; attempt < MaxIDAttempts; attempt++ {
		booking := domain.NewBooking(cmd.nextID(), cmd.BuyerID, cmd.Buyer, grant, now)
		tag, err := tx.Exec(ctx, `
			INSERT INTO bookings (
				id, event_id, ticket_class_name, quantity, unit_price, total_price,
				buyer_id, buyer_name, buyer_email, buyer_phone, status, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING
		`,
			booking.ID, booking.EventID, booking.TicketClassName, booking.Quantity,
			booking.UnitPrice, booking.TotalPrice,
			booking.BuyerID, booking.Buyer.Name, booking.Buyer.Email, booking.Buyer.Phone,
			booking.Status.String(), booking.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert booking: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return booking, nil
		}
	}
	return nil, domain.ErrBookingIDExhausted
}

// Cancel locks the booking then its ticket class and restores the quantity
func (s *PostgresBookingStore) Cancel(ctx context.Context, cmd *CancelCommand) (*domain.Booking, error) {
	now := cmd.Now.Truncate(time.Microsecond)

	var booking *domain.Booking
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		var err error
		booking, err = s.lockBooking(ctx, tx, cmd.BookingID)
		if err != nil {
			return err
		}
		if err := booking.CheckCancellable(cmd.RequestedBy, cmd.EnforceOwnership); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE ticket_classes
			SET quantity_available = LEAST(capacity, quantity_available + $3)
			WHERE event_id = $1 AND name = $2
		`, booking.EventID, booking.TicketClassName, booking.Quantity)
		if err != nil {
			return fmt.Errorf("failed to restore inventory: %w", err)
		}

		if err := booking.Cancel(now); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE bookings SET status = $2, cancelled_at = $3 WHERE id = $1
		`, booking.ID, booking.Status.String(), booking.CancelledAt)
		if err != nil {
			return fmt.Errorf("failed to cancel booking: %w", err)
		}
		return s.appendOutbox(ctx, tx, domain.BookingEventCancelled, booking)
	})
	if err != nil {
		return nil, mapStoreError("cancel", err)
	}
	return booking, nil
}

// CheckIn marks a confirmed booking as attended. Repeat check-ins emit nothing.
func (s *PostgresBookingStore) CheckIn(ctx context.Context, bookingID string) (*domain.Booking, bool, error) {
	var booking *domain.Booking
	var first bool
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		booking, err = s.lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if first, err = booking.CheckIn(); err != nil || !first {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE bookings SET checked_in = TRUE WHERE id = $1`, booking.ID); err != nil {
			return fmt.Errorf("failed to check in booking: %w", err)
		}
		return s.appendOutbox(ctx, tx, domain.BookingEventCheckedIn, booking)
	})
	if err != nil {
		return nil, false, mapStoreError("check in", err)
	}
	return booking, first, nil
}

// GetBooking returns the booking by id
func (s *PostgresBookingStore) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
	booking, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, mapStoreError("get booking", err)
	}
	return booking, nil
}

// ListByBuyer returns the buyer's bookings, oldest first
func (s *PostgresBookingStore) ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE buyer_id = $1 ORDER BY created_at, id`, buyerID)
}

// ListByEvent returns the event's bookings, oldest first
func (s *PostgresBookingStore) ListByEvent(ctx context.Context, eventID string) ([]*domain.Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE event_id = $1 ORDER BY created_at, id`, eventID)
}

func (s *PostgresBookingStore) list(ctx context.Context, query string, arg string) ([]*domain.Booking, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, mapStoreError("list bookings", err)
	}
	defer rows.Close()

	bookings := make([]*domain.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, mapStoreError("scan booking", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError("iterate bookings", err)
	}
	return bookings, nil
}

func (s *PostgresBookingStore) setLockTimeout(ctx context.Context, tx pgx.Tx) error {
	if s.lockTimeout <= 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
	return err
}

func (s *PostgresBookingStore) lockTicketClass(ctx context.Context, tx pgx.Tx, eventID, className string) (*domain.TicketClass, error) {
	row := tx.QueryRow(ctx, `
		SELECT name, price::float8, capacity, quantity_available,
		       sales_start, sales_end, max_per_user, max_per_order
		FROM ticket_classes
		WHERE event_id = $1 AND name = $2
		FOR UPDATE
	`, eventID, className)
	tc, err := scanTicketClass(row)
	if err == nil {
		return tc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock ticket class: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up event: %w", err)
	}
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	return nil, domain.ErrUnknownTicketClass
}

func (s *PostgresBookingStore) lockBooking(ctx context.Context, tx pgx.Tx, bookingID string) (*domain.Booking, error) {
	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID)
	booking, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	return booking, nil
}

func (s *PostgresBookingStore) appendOutbox(ctx context.Context, tx pgx.Tx, eventType domain.BookingEventType, booking *domain.Booking) error {
	msg, err := domain.BookingOutboxEvent(eventType, booking)
	if err != nil {
		return fmt.Errorf("failed to build outbox message: %w", err)
	}
	return s.outbox.CreateTx(ctx, tx, msg)
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var status string
	err := row.Scan(
		&b.ID,
		&b.EventID,
		&b.TicketClassName,
		&b.Quantity,
		&b.UnitPrice,
		&b.TotalPrice,
		&b.BuyerID,
		&b.Buyer.Name,
		&b.Buyer.Email,
		&b.Buyer.Phone,
		&status,
		&b.CheckedIn,
		&b.CreatedAt,
		&b.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}
