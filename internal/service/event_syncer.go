package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/prohmpiriya/eventhive/internal/repository"
)

// EventSyncer copies an event from the catalog into the live ledger store
type EventSyncer interface {
	// SyncEvent seeds the ledger for eventID. Concurrent calls for the same
	// event share one load.
	SyncEvent(ctx context.Context, eventID string) error
}

// DefaultEventSyncer warms a Redis ledger from the Postgres catalog
type DefaultEventSyncer struct {
	source  repository.EventRepository
	target  repository.EventSeeder
	sfGroup singleflight.Group
}

// NewEventSyncer creates a new event syncer
func NewEventSyncer(source repository.EventRepository, target repository.EventSeeder) *DefaultEventSyncer {
	return &DefaultEventSyncer{source: source, target: target}
}

// SyncEvent loads the event once per burst of callers. Seeding never
// overwrites a ledger that already exists, so live counts are kept.
func (s *DefaultEventSyncer) SyncEvent(ctx context.Context, eventID string) error {
	_, err, _ := s.sfGroup.Do(eventID, func() (interface{}, error) {
		return nil, s.doSync(ctx, eventID)
	})
	return err
}

func (s *DefaultEventSyncer) doSync(ctx context.Context, eventID string) error {
	event, err := s.source.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	if _, err := s.target.SeedEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to seed event %s: %w", eventID, err)
	}
	return nil
}
