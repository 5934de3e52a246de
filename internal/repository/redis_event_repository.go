package repository

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/eventhive/internal/domain"
	pkgredis "github.com/prohmpiriya/eventhive/pkg/redis"
)

//go:embed scripts/seed_event.lua
var seedEventScript string

const scriptSeedEvent = "seed_event"

// RedisEventRepository stores events and live ticket class ledgers in Redis
type RedisEventRepository struct {
	client *pkgredis.Client
}

// NewRedisEventRepository creates a new RedisEventRepository
func NewRedisEventRepository(client *pkgredis.Client) *RedisEventRepository {
	return &RedisEventRepository{client: client}
}

// SeedEvent writes the event and its ledgers unless the event key exists
func (r *RedisEventRepository) SeedEvent(ctx context.Context, event *domain.Event) (bool, error) {
	keys := make([]string, 0, len(event.TicketClasses)+2)
	keys = append(keys, eventKey(event.ID), eventClassesKey(event.ID))
	args := make([]interface{}, 0, 3+10*len(event.TicketClasses))
	args = append(args, event.ID, event.Title, event.CreatedAt.UTC().Format(time.RFC3339Nano))

	for _, tc := range event.TicketClasses {
		keys = append(keys, ticketClassKey(event.ID, tc.Name))
		startSec, startNsec := formatUnix(tc.SalesStart)
		endSec, endNsec := formatUnix(tc.SalesEnd)
		args = append(args,
			tc.Name,
			formatPrice(tc.Price),
			tc.Capacity,
			tc.QuantityAvailable,
			startSec,
			startNsec,
			endSec,
			endNsec,
			tc.MaxPerUser,
			tc.MaxPerOrder,
		)
	}

	written, err := r.client.EvalWithFallback(ctx, scriptSeedEvent, seedEventScript, keys, args...).Int64()
	if err != nil {
		return false, mapStoreError("seed event", fmt.Errorf("failed to execute seed_event script: %w", err))
	}
	return written == 1, nil
}

// CreateEvent seeds the event and reports an existing one as a conflict
func (r *RedisEventRepository) CreateEvent(ctx context.Context, event *domain.Event) error {
	created, err := r.SeedEvent(ctx, event)
	if err != nil {
		return err
	}
	if !created {
		return domain.ErrEventAlreadyExists
	}
	return nil
}

// GetEvent reads the event header and every ticket class hash
func (r *RedisEventRepository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	header, err := r.client.HGetAll(ctx, eventKey(eventID)).Result()
	if err != nil {
		return nil, mapStoreError("get event", err)
	}
	if len(header) == 0 {
		return nil, domain.ErrEventNotFound
	}

	event := &domain.Event{ID: eventID, Title: header["title"]}
	if event.CreatedAt, err = time.Parse(time.RFC3339Nano, header["created_at"]); err != nil {
		return nil, fmt.Errorf("bad created_at for event %s: %w", eventID, err)
	}

	names, err := r.client.Client().SMembers(ctx, eventClassesKey(eventID)).Result()
	if err != nil {
		return nil, mapStoreError("get ticket classes", err)
	}
	sort.Strings(names)

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, ticketClassKey(eventID, name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, mapStoreError("get ticket classes", err)
	}

	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		tc, err := ticketClassFromHash(h)
		if err != nil {
			return nil, err
		}
		event.TicketClasses = append(event.TicketClasses, *tc)
	}
	return event, nil
}
