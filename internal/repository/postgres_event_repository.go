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

// PostgresEventRepository implements EventRepository using PostgreSQL
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventRepository creates a new PostgresEventRepository
func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

// CreateEvent inserts the event and its ticket classes in one transaction
func (r *PostgresEventRepository) CreateEvent(ctx context.Context, event *domain.Event) error {
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO events (id, title, created_at)
			VALUES ($1, $2, $3)
		`, event.ID, event.Title, event.CreatedAt)
		if isUniqueViolation(err) {
			return domain.ErrEventAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		batch := &pgx.Batch{}
		for _, tc := range event.TicketClasses {
			batch.Queue(`
				INSERT INTO ticket_classes (
					event_id, name, price, capacity, quantity_available,
					sales_start, sales_end, max_per_user, max_per_order
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, event.ID, tc.Name, tc.Price, tc.Capacity, tc.QuantityAvailable,
				tc.SalesStart, tc.SalesEnd, tc.MaxPerUser, tc.MaxPerOrder)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert ticket classes: %w", err)
		}
		return nil
	})
	return mapStoreError("create event", err)
}

// GetEvent loads the event with the current availability of every class
func (r *PostgresEventRepository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	event := &domain.Event{ID: eventID}
	err := r.pool.QueryRow(ctx, `
		SELECT title, created_at FROM events WHERE id = $1
	`, eventID).Scan(&event.Title, &event.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, mapStoreError("get event", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT name, price::float8, capacity, quantity_available,
		       sales_start, sales_end, max_per_user, max_per_order
		FROM ticket_classes
		WHERE event_id = $1
		ORDER BY name
	`, eventID)
	if err != nil {
		return nil, mapStoreError("get ticket classes", err)
	}
	defer rows.Close()

	for rows.Next() {
		tc, err := scanTicketClass(rows)
		if err != nil {
			return nil, mapStoreError("scan ticket class", err)
		}
		event.TicketClasses = append(event.TicketClasses, *tc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError("iterate ticket classes", err)
	}
	return event, nil
}

// SeedEvent inserts the event unless it already exists
func (r *PostgresEventRepository) SeedEvent(ctx context.Context, event *domain.Event) (bool, error) {
	err := r.CreateEvent(ctx, event)
	if errors.Is(err, domain.ErrEventAlreadyExists) {
		return false, nil
	}
	return err == nil, err
}

func scanTicketClass(row pgx.Row) (*domain.TicketClass, error) {
	var tc domain.TicketClass
	var start, end *time.Time
	err := row.Scan(
		&tc.Name,
		&tc.Price,
		&tc.Capacity,
		&tc.QuantityAvailable,
		&start,
		&end,
		&tc.MaxPerUser,
		&tc.MaxPerOrder,
	)
	if err != nil {
		return nil, err
	}
	tc.SalesStart, tc.SalesEnd = start, end
	return &tc, nil
}
