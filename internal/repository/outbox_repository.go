package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/eventhive/internal/domain"
	"github.com/prohmpiriya/eventhive/pkg/database"
)

// OutboxRepository persists booking events next to the booking change
type OutboxRepository interface {
	// CreateTx inserts a message inside the caller's transaction
	CreateTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error

	// ProcessBatch locks up to limit messages in the given status, hands each
	// to fn and stores whatever state fn leaves on it. Rows locked by another
	// worker are skipped.
	ProcessBatch(ctx context.Context, status domain.OutboxStatus, limit int, fn func(ctx context.Context, msg *domain.OutboxMessage)) (int, error)

	// DeletePublished deletes published messages older than the given days
	DeletePublished(ctx context.Context, olderThanDays int) (int64, error)
}

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOutboxRepository creates a new PostgresOutboxRepository
func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

// CreateTx creates a new outbox message within a transaction
func (r *PostgresOutboxRepository) CreateTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	query := `
		INSERT INTO outbox (
			id, aggregate_type, aggregate_id, event_type,
			payload, topic, partition_key, status,
			retry_count, max_retries, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := tx.Exec(ctx, query,
		msg.ID,
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.Payload,
		msg.Topic,
		msg.PartitionKey,
		msg.Status.String(),
		msg.RetryCount,
		msg.MaxRetries,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

// ProcessBatch runs fn over a locked batch and commits the new states together
func (r *PostgresOutboxRepository) ProcessBatch(
	ctx context.Context,
	status domain.OutboxStatus,
	limit int,
	fn func(ctx context.Context, msg *domain.OutboxMessage),
) (int, error) {
	query := `
		SELECT id::text, aggregate_type, aggregate_id, event_type,
		       payload, topic, partition_key, status,
		       retry_count, max_retries, COALESCE(last_error, ''),
		       created_at, published_at
		FROM outbox
		WHERE status = $1 AND retry_count < max_retries
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	var processed int
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, status.String(), limit)
		if err != nil {
			return fmt.Errorf("failed to query outbox messages: %w", err)
		}
		messages, err := scanOutboxMessages(rows)
		if err != nil {
			return err
		}

		for _, msg := range messages {
			fn(ctx, msg)
			if err := r.saveState(ctx, tx, msg); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

func (r *PostgresOutboxRepository) saveState(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	query := `
		UPDATE outbox
		SET status = $2,
		    retry_count = $3,
		    last_error = NULLIF($4, ''),
		    published_at = $5
		WHERE id = $1
	`

	_, err := tx.Exec(ctx, query, msg.ID, msg.Status.String(), msg.RetryCount, msg.LastError, msg.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to update outbox message %s: %w", msg.ID, err)
	}
	return nil
}

// DeletePublished deletes old published messages for cleanup
func (r *PostgresOutboxRepository) DeletePublished(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE status = 'published'
		  AND published_at < $1
	`

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published messages: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanOutboxMessages(rows pgx.Rows) ([]*domain.OutboxMessage, error) {
	defer rows.Close()

	var messages []*domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		var status string
		err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.Topic,
			&msg.PartitionKey,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msg.Status = domain.OutboxStatus(status)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}
	return messages, nil
}
