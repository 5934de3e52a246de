package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/eventhive/internal/domain"
)

// storeFactory returns a fresh, empty backend for one subtest
type storeFactory func(t *testing.T) (EventRepository, BookingStore)

var testBuyer = domain.Buyer{Name: "Ada", Email: "ada@example.com", Phone: "+1555"}

func testEvent(id string, classes ...domain.TicketClass) *domain.Event {
	return &domain.Event{
		ID:            id,
		Title:         "Event " + id,
		TicketClasses: classes,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testClass(name string, capacity int) domain.TicketClass {
	return domain.TicketClass{
		Name:              name,
		Price:             50,
		Capacity:          capacity,
		QuantityAvailable: capacity,
	}
}

func reserveCmd(eventID, class, buyerID string, qty int) *ReserveCommand {
	return &ReserveCommand{
		EventID:     eventID,
		TicketClass: class,
		Quantity:    qty,
		BuyerID:     buyerID,
		Buyer:       testBuyer,
		Now:         time.Now().UTC().Truncate(time.Microsecond),
	}
}

func available(t *testing.T, events EventRepository, eventID, class string) int {
	t.Helper()
	e, err := events.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	tc, err := e.TicketClass(class)
	require.NoError(t, err)
	return tc.QuantityAvailable
}

// runStoreSuite exercises the behaviour every backend must share
func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("CreateEventTwice", func(t *testing.T) {
		events, _ := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("dup", testClass("GA", 10))))
		assert.ErrorIs(t, events.CreateEvent(ctx, testEvent("dup", testClass("GA", 10))), domain.ErrEventAlreadyExists)
	})

	t.Run("ReserveAndReadBack", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 10))))

		booking, err := store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 3))
		require.NoError(t, err)
		assert.Len(t, booking.ID, 14)
		assert.Equal(t, domain.BookingStatusConfirmed, booking.Status)
		assert.Equal(t, 150.0, booking.TotalPrice)
		assert.Equal(t, 7, available(t, events, "e1", "GA"))

		got, err := store.GetBooking(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, booking.ID, got.ID)
		assert.Equal(t, booking.Quantity, got.Quantity)
		assert.Equal(t, booking.Buyer, got.Buyer)
		assert.Equal(t, booking.TotalPrice, got.TotalPrice)
		assert.True(t, booking.CreatedAt.Equal(got.CreatedAt))

		byBuyer, err := store.ListByBuyer(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, byBuyer, 1)
		byEvent, err := store.ListByEvent(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, byEvent, 1)
	})

	t.Run("LookupErrors", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 10))))

		_, err := store.Reserve(ctx, reserveCmd("missing", "GA", "u1", 1))
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
		_, err = store.Reserve(ctx, reserveCmd("e1", "Balcony", "u1", 1))
		assert.ErrorIs(t, err, domain.ErrUnknownTicketClass)
		_, err = store.GetBooking(ctx, "BK000000000000")
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
		_, err = events.GetEvent(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("InsufficientInventoryLeavesLedger", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 2))))

		_, err := store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 3))
		assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
		assert.Equal(t, 2, available(t, events, "e1", "GA"))
	})

	t.Run("SalesWindow", func(t *testing.T) {
		events, store := newStore(t)
		start := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond).Add(250 * time.Microsecond)
		end := start.Add(time.Hour)
		tc := testClass("Early", 10)
		tc.SalesStart = &start
		tc.SalesEnd = &end
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", tc)))

		_, err := store.Reserve(ctx, reserveCmd("e1", "Early", "u1", 1))
		assert.ErrorIs(t, err, domain.ErrSalesWindowClosed)

		at := func(now time.Time) error {
			cmd := reserveCmd("e1", "Early", "u1", 1)
			cmd.Now = now
			_, err := store.Reserve(ctx, cmd)
			return err
		}
		assert.ErrorIs(t, at(start.Add(-time.Microsecond)), domain.ErrSalesWindowClosed)
		assert.NoError(t, at(start))
		assert.NoError(t, at(end))
		assert.ErrorIs(t, at(end.Add(time.Microsecond)), domain.ErrSalesWindowClosed)
		assert.Equal(t, 8, available(t, events, "e1", "Early"))
	})

	t.Run("SeparatorsInIDs", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("a", testClass("b:c", 5))))
		require.NoError(t, events.CreateEvent(ctx, testEvent("a:b", testClass("c", 100))))

		_, err := store.Reserve(ctx, reserveCmd("a:b", "c", "u1", 3))
		require.NoError(t, err)
		assert.Equal(t, 97, available(t, events, "a:b", "c"))
		assert.Equal(t, 5, available(t, events, "a", "b:c"))

		_, err = store.Reserve(ctx, reserveCmd("a", "b:c", "u1", 6))
		assert.ErrorIs(t, err, domain.ErrInsufficientInventory)

		require.NoError(t, events.CreateEvent(ctx, testEvent("x:classes", testClass("GA", 1))))
		require.NoError(t, events.CreateEvent(ctx, testEvent("x", testClass("GA", 2))))
		x, err := events.GetEvent(ctx, "x")
		require.NoError(t, err)
		require.Len(t, x.TicketClasses, 1)
		assert.Equal(t, 2, x.TicketClasses[0].Capacity)
	})

	t.Run("PerUserLimit", func(t *testing.T) {
		events, store := newStore(t)
		tc := testClass("GA", 10)
		tc.MaxPerUser = 4
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", tc)))

		first, err := store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 3))
		require.NoError(t, err)
		_, err = store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 2))
		assert.ErrorIs(t, err, domain.ErrUserLimitExceeded)
		_, err = store.Reserve(ctx, reserveCmd("e1", "GA", "u2", 2))
		assert.NoError(t, err)

		_, err = store.Cancel(ctx, &CancelCommand{BookingID: first.ID, RequestedBy: "u1", EnforceOwnership: true, Now: time.Now()})
		require.NoError(t, err)
		_, err = store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 4))
		assert.NoError(t, err)
	})

	t.Run("CancelRestoresOnce", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 5))))

		booking, err := store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 2))
		require.NoError(t, err)
		cancel := &CancelCommand{BookingID: booking.ID, RequestedBy: "u1", EnforceOwnership: true, Now: time.Now()}

		cancelled, err := store.Cancel(ctx, cancel)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CancelledAt)
		assert.Equal(t, 5, available(t, events, "e1", "GA"))

		_, err = store.Cancel(ctx, cancel)
		assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
		assert.Equal(t, 5, available(t, events, "e1", "GA"))

		_, err = store.Cancel(ctx, &CancelCommand{BookingID: "BK000000000000", Now: time.Now()})
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("CancelOwnership", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 5))))
		booking, err := store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 1))
		require.NoError(t, err)

		_, err = store.Cancel(ctx, &CancelCommand{BookingID: booking.ID, RequestedBy: "intruder", EnforceOwnership: true, Now: time.Now()})
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
		assert.Equal(t, 4, available(t, events, "e1", "GA"))

		_, err = store.Cancel(ctx, &CancelCommand{BookingID: booking.ID, RequestedBy: "organizer", Now: time.Now()})
		assert.NoError(t, err)
	})

	t.Run("CheckIn", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 5))))
		booking, err := store.Reserve(ctx, reserveCmd("e1", "GA", "u1", 1))
		require.NoError(t, err)

		checked, first, err := store.CheckIn(ctx, booking.ID)
		require.NoError(t, err)
		assert.True(t, checked.CheckedIn)
		assert.True(t, first)

		again, first, err := store.CheckIn(ctx, booking.ID)
		require.NoError(t, err)
		assert.True(t, again.CheckedIn)
		assert.False(t, first)

		_, err = store.Cancel(ctx, &CancelCommand{BookingID: booking.ID, RequestedBy: "u1", Now: time.Now()})
		require.NoError(t, err)
		_, _, err = store.CheckIn(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrNotCheckInEligible)
	})

	t.Run("IDCollisionRetriesThenExhausts", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 10))))

		fixed := func() string { return "BKAAAAAAAAAAAA" }
		cmd := reserveCmd("e1", "GA", "u1", 1)
		cmd.NewID = fixed
		_, err := store.Reserve(ctx, cmd)
		require.NoError(t, err)

		var calls int
		cmd = reserveCmd("e1", "GA", "u1", 1)
		cmd.NewID = func() string {
			calls++
			if calls < 3 {
				return "BKAAAAAAAAAAAA"
			}
			return "BKBBBBBBBBBBBB"
		}
		booking, err := store.Reserve(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "BKBBBBBBBBBBBB", booking.ID)

		cmd = reserveCmd("e1", "GA", "u1", 1)
		cmd.NewID = fixed
		_, err = store.Reserve(ctx, cmd)
		assert.ErrorIs(t, err, domain.ErrBookingIDExhausted)
		assert.Equal(t, 8, available(t, events, "e1", "GA"))
	})

	t.Run("ListOrdering", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 10))))

		base := time.Now().UTC().Truncate(time.Microsecond)
		var ids []string
		for i := 0; i < 3; i++ {
			cmd := reserveCmd("e1", "GA", "u1", 1)
			cmd.Now = base.Add(time.Duration(i) * time.Second)
			b, err := store.Reserve(ctx, cmd)
			require.NoError(t, err)
			ids = append(ids, b.ID)
		}

		list, err := store.ListByBuyer(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, b := range list {
			assert.Equal(t, ids[i], b.ID)
		}

		empty, err := store.ListByBuyer(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("NoOversellUnderContention", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 25))))

		var wg sync.WaitGroup
		var granted atomic.Int64
		for i := 0; i < 60; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Reserve(ctx, reserveCmd("e1", "GA", fmt.Sprintf("u%d", i), 1))
				if err == nil {
					granted.Add(1)
				} else if !domain.IsRetryable(err) {
					assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
				}
			}(i)
		}
		wg.Wait()

		list, err := store.ListByEvent(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, int(granted.Load()), len(list))
		assert.Equal(t, 25-len(list), available(t, events, "e1", "GA"))
		assert.LessOrEqual(t, len(list), 25)
	})

	t.Run("LastTicketRace", func(t *testing.T) {
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", 1))))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.Reserve(ctx, reserveCmd("e1", "GA", fmt.Sprintf("u%d", i), 1))
			}(i)
		}
		wg.Wait()

		var wins, soldOut int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrInsufficientInventory):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, soldOut)
		assert.Equal(t, 0, available(t, events, "e1", "GA"))
	})

	t.Run("ConcurrentReserveAndCancel", func(t *testing.T) {
		const capacity = 20
		events, store := newStore(t)
		require.NoError(t, events.CreateEvent(ctx, testEvent("e1", testClass("GA", capacity))))

		var owned []*domain.Booking
		for i := 0; i < 10; i++ {
			b, err := store.Reserve(ctx, reserveCmd("e1", "GA", fmt.Sprintf("owner%d", i), 1))
			require.NoError(t, err)
			owned = append(owned, b)
		}

		var wg sync.WaitGroup
		cancelErrs := make([][2]error, len(owned))
		for i, b := range owned {
			for j := 0; j < 2; j++ {
				wg.Add(1)
				go func(i, j int, b *domain.Booking) {
					defer wg.Done()
					cancelErrs[i][j] = untilSettled(func() error {
						_, err := store.Cancel(ctx, &CancelCommand{
							BookingID:        b.ID,
							RequestedBy:      b.BuyerID,
							EnforceOwnership: true,
							Now:              time.Now(),
						})
						return err
					})
				}(i, j, b)
			}
		}
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := untilSettled(func() error {
					_, err := store.Reserve(ctx, reserveCmd("e1", "GA", fmt.Sprintf("r%d", i), 1))
					return err
				})
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
				}
			}(i)
		}
		wg.Wait()

		for i, errs := range cancelErrs {
			var ok, already int
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, domain.ErrAlreadyCancelled):
					already++
				default:
					t.Errorf("booking %d: unexpected cancel error: %v", i, err)
				}
			}
			assert.Equal(t, 1, ok, "booking %d cancelled %d times", i, ok)
			assert.Equal(t, 1, already)
		}

		list, err := store.ListByEvent(ctx, "e1")
		require.NoError(t, err)
		var confirmed int
		for _, b := range list {
			if b.IsConfirmed() {
				confirmed += b.Quantity
			}
		}
		left := available(t, events, "e1", "GA")
		assert.GreaterOrEqual(t, left, 0)
		assert.Equal(t, capacity, left+confirmed)
	})
}

// untilSettled repeats fn while it reports a retryable conflict
func untilSettled(fn func() error) error {
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		if err = fn(); !domain.IsRetryable(err) {
			return err
		}
	}
	return err
}
