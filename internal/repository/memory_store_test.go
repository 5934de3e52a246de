package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/eventhive/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) (EventRepository, BookingStore) {
		s := NewMemoryStore()
		return s, s
	})
}

func TestMemoryStore_LastTicketExactlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateEvent(ctx, testEvent("e1", testClass("GA", 1))))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Reserve(ctx, reserveCmd("e1", "GA", fmt.Sprintf("u%d", i), 1))
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if assert.ErrorIs(t, err, domain.ErrInsufficientInventory) {
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}

func TestMemoryStore_ConcurrentReadsDoNotDeadlock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateEvent(ctx, testEvent("e1", testClass("GA", 500), testClass("VIP", 50))))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			b, err := s.Reserve(ctx, reserveCmd("e1", "GA", fmt.Sprintf("u%d", i), 2))
			if err == nil {
				_, _ = s.Cancel(ctx, &CancelCommand{BookingID: b.ID, RequestedBy: b.BuyerID, Now: time.Now()})
			}
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.GetEvent(ctx, "e1")
		}()
		go func() {
			defer wg.Done()
			_, _ = s.ListByEvent(ctx, "e1")
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("store operations deadlocked")
	}

	assert.Equal(t, 500, available(t, s, "e1", "GA"))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateEvent(ctx, testEvent("e1", testClass("GA", 5))))

	e, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	e.TicketClasses[0].QuantityAvailable = 0
	assert.Equal(t, 5, available(t, s, "e1", "GA"))

	b, err := s.Reserve(ctx, reserveCmd("e1", "GA", "u1", 1))
	require.NoError(t, err)
	b.Status = domain.BookingStatusCancelled
	got, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsConfirmed())
}

func TestMemoryStore_SeedEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.SeedEvent(ctx, testEvent("e1", testClass("GA", 5)))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SeedEvent(ctx, testEvent("e1", testClass("GA", 99)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 5, available(t, s, "e1", "GA"))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Reserve(ctx, reserveCmd("e1", "GA", "u1", 1))
	assert.ErrorIs(t, err, context.Canceled)
}
