package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prohmpiriya/eventhive/internal/domain"
	"github.com/prohmpiriya/eventhive/internal/dto"
	"github.com/prohmpiriya/eventhive/internal/repository"
	"github.com/prohmpiriya/eventhive/pkg/logger"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *BookingServiceConfig {
	return &BookingServiceConfig{
		MaxAttempts:      3,
		RetryInterval:    time.Millisecond,
		EnforceOwnership: true,
		Now:              func() time.Time { return fixedNow },
	}
}

func newMemoryService(t *testing.T, publisher EventPublisher) BookingService {
	t.Helper()
	store := repository.NewMemoryStore()
	return NewBookingService(&Dependencies{
		Catalog:   store,
		Store:     store,
		Publisher: publisher,
		Logger:    logger.NewNop(),
	}, testConfig())
}

func buyer() dto.BuyerRequest {
	return dto.BuyerRequest{Name: "Ada Lovelace", Email: "ada@example.com", Phone: "+44 20 7946 0000"}
}

func reserveReq(eventID, class string, qty int) *dto.ReserveRequest {
	return &dto.ReserveRequest{EventID: eventID, TicketClass: class, Quantity: qty, Buyer: buyer()}
}

func createEvent(t *testing.T, svc BookingService, id string, classes ...dto.TicketClassRequest) {
	t.Helper()
	_, err := svc.CreateEvent(context.Background(), &dto.CreateEventRequest{
		ID:            id,
		Title:         "Event " + id,
		TicketClasses: classes,
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
}

func availableOf(t *testing.T, svc BookingService, eventID, class string) int {
	t.Helper()
	resp, err := svc.GetAvailability(context.Background(), eventID)
	if err != nil {
		t.Fatalf("GetAvailability() error = %v", err)
	}
	for _, tc := range resp.TicketClasses {
		if tc.Name == class {
			return tc.QuantityAvailable
		}
	}
	t.Fatalf("class %s not found", class)
	return 0
}

func TestBookingService_VIPScenario(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService(t, nil)
	createEvent(t, svc, "E", dto.TicketClassRequest{Name: "VIP", Price: 250, Capacity: 2})

	a, err := svc.Reserve(ctx, "buyer-a", reserveReq("E", "VIP", 2))
	if err != nil {
		t.Fatalf("buyer A reserve error = %v", err)
	}
	if got := availableOf(t, svc, "E", "VIP"); got != 0 {
		t.Errorf("available after A = %d, want 0", got)
	}

	if _, err := svc.Reserve(ctx, "buyer-b", reserveReq("E", "VIP", 1)); !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Errorf("buyer B reserve error = %v, want %v", err, domain.ErrInsufficientInventory)
	}

	if _, err := svc.Cancel(ctx, a.ID, "buyer-a"); err != nil {
		t.Fatalf("buyer A cancel error = %v", err)
	}
	if got := availableOf(t, svc, "E", "VIP"); got != 2 {
		t.Errorf("available after cancel = %d, want 2", got)
	}

	b, err := svc.Reserve(ctx, "buyer-b", reserveReq("E", "VIP", 1))
	if err != nil {
		t.Fatalf("buyer B second reserve error = %v", err)
	}
	if b.TotalPrice != 250 || b.Status != "confirmed" {
		t.Errorf("buyer B booking = %+v", b)
	}
}

func TestBookingService_ReserveValidation(t *testing.T) {
	svc := newMemoryService(t, nil)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 10})

	tests := []struct {
		name    string
		buyerID string
		req     *dto.ReserveRequest
		wantErr error
	}{
		{"nil request", "u1", nil, domain.ErrInvalidRequest},
		{"missing buyer id", "", reserveReq("e1", "GA", 1), domain.ErrInvalidRequest},
		{"missing event", "u1", reserveReq("", "GA", 1), domain.ErrInvalidRequest},
		{"missing class", "u1", reserveReq("e1", " ", 1), domain.ErrInvalidRequest},
		{"missing phone", "u1", &dto.ReserveRequest{EventID: "e1", TicketClass: "GA", Quantity: 1,
			Buyer: dto.BuyerRequest{Name: "A", Email: "a@example.com"}}, domain.ErrInvalidBuyer},
		{"bad email", "u1", &dto.ReserveRequest{EventID: "e1", TicketClass: "GA", Quantity: 1,
			Buyer: dto.BuyerRequest{Name: "A", Email: "not-an-email", Phone: "1"}}, domain.ErrInvalidBuyer},
		{"zero quantity", "u1", reserveReq("e1", "GA", 0), domain.ErrOrderLimitExceeded},
		{"negative quantity", "u1", reserveReq("e1", "GA", -2), domain.ErrOrderLimitExceeded},
		{"unknown event", "u1", reserveReq("nope", "GA", 1), domain.ErrEventNotFound},
		{"unknown class", "u1", reserveReq("e1", "Balcony", 1), domain.ErrUnknownTicketClass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Reserve(context.Background(), tt.buyerID, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Reserve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := availableOf(t, svc, "e1", "GA"); got != 10 {
		t.Errorf("available = %d, rejected requests must not touch the ledger", got)
	}
}

func TestBookingService_AdmissionRules(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService(t, nil)
	later := fixedNow.Add(time.Hour)
	earlier := fixedNow.Add(-time.Hour)
	createEvent(t, svc, "e1",
		dto.TicketClassRequest{Name: "Early", Capacity: 10, SalesStart: &later},
		dto.TicketClassRequest{Name: "Late", Capacity: 10, SalesEnd: &earlier},
		dto.TicketClassRequest{Name: "Limited", Capacity: 10, MaxPerUser: 3, MaxPerOrder: 2},
		dto.TicketClassRequest{Name: "Open", Capacity: 10, SalesStart: &fixedNow, SalesEnd: &fixedNow},
	)

	tests := []struct {
		name    string
		class   string
		qty     int
		wantErr error
	}{
		{"before window", "Early", 1, domain.ErrSalesWindowClosed},
		{"after window", "Late", 1, domain.ErrSalesWindowClosed},
		{"window bounds inclusive", "Open", 1, nil},
		{"per order limit", "Limited", 3, domain.ErrOrderLimitExceeded},
		{"first order", "Limited", 2, nil},
		{"per user limit", "Limited", 2, domain.ErrUserLimitExceeded},
		{"up to per user limit", "Limited", 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, "u1", reserveReq("e1", tt.class, tt.qty))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Reserve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBookingService_RetriesConflicts(t *testing.T) {
	booking := &domain.Booking{ID: "BK000000000001", EventID: "e1", TicketClassName: "GA", Quantity: 1, Status: domain.BookingStatusConfirmed}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", nil, 1, nil},
		{"recovers after two conflicts", []error{domain.ErrConcurrentModification, domain.ErrConcurrentModification}, 3, nil},
		{"id exhaustion is retried", []error{domain.ErrBookingIDExhausted}, 2, nil},
		{"persistent conflict becomes transient", []error{
			domain.ErrConcurrentModification, domain.ErrConcurrentModification, domain.ErrConcurrentModification,
		}, 3, domain.ErrTransientFailure},
		{"admission errors are not retried", []error{domain.ErrInsufficientInventory}, 1, domain.ErrInsufficientInventory},
		{"store unavailable is not retried", []error{domain.ErrStoreUnavailable}, 1, domain.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			store := &MockBookingStore{
				ReserveFunc: func(ctx context.Context, cmd *repository.ReserveCommand) (*domain.Booking, error) {
					calls++
					if calls <= len(tt.errs) {
						return nil, tt.errs[calls-1]
					}
					return booking, nil
				},
			}
			svc := NewBookingService(&Dependencies{Catalog: repository.NewMemoryStore(), Store: store, Logger: logger.NewNop()}, testConfig())

			_, err := svc.Reserve(context.Background(), "u1", reserveReq("e1", "GA", 1))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Reserve() error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("store calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestBookingService_TransientFailureKeepsCause(t *testing.T) {
	store := &MockBookingStore{
		CancelFunc: func(ctx context.Context, cmd *repository.CancelCommand) (*domain.Booking, error) {
			return nil, fmt.Errorf("cancel: %w", domain.ErrConcurrentModification)
		},
	}
	svc := NewBookingService(&Dependencies{Catalog: repository.NewMemoryStore(), Store: store, Logger: logger.NewNop()}, testConfig())

	_, err := svc.Cancel(context.Background(), "BK000000000001", "u1")
	if !errors.Is(err, domain.ErrTransientFailure) || !errors.Is(err, domain.ErrConcurrentModification) {
		t.Errorf("Cancel() error = %v, want transient failure wrapping the conflict", err)
	}
}

func TestBookingService_CancelRules(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService(t, nil)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 5})

	b, err := svc.Reserve(ctx, "owner", reserveReq("e1", "GA", 2))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if _, err := svc.Cancel(ctx, b.ID, "intruder"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("Cancel() by non-owner error = %v, want %v", err, domain.ErrNotAuthorized)
	}
	if _, err := svc.Cancel(ctx, "BKFFFFFFFFFFFF", "owner"); !errors.Is(err, domain.ErrBookingNotFound) {
		t.Errorf("Cancel() unknown error = %v, want %v", err, domain.ErrBookingNotFound)
	}
	if _, err := svc.Cancel(ctx, "", "owner"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("Cancel() empty id error = %v, want %v", err, domain.ErrInvalidRequest)
	}

	cancelled, err := svc.Cancel(ctx, b.ID, "owner")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != "cancelled" || cancelled.CancelledAt == nil {
		t.Errorf("cancelled booking = %+v", cancelled)
	}

	if _, err := svc.Cancel(ctx, b.ID, "owner"); !errors.Is(err, domain.ErrAlreadyCancelled) {
		t.Errorf("second Cancel() error = %v, want %v", err, domain.ErrAlreadyCancelled)
	}
	if got := availableOf(t, svc, "e1", "GA"); got != 5 {
		t.Errorf("available = %d, want 5 (restored exactly once)", got)
	}

	got, err := svc.GetBooking(ctx, b.ID, "owner")
	if err != nil || got.Status != "cancelled" {
		t.Errorf("cancelled booking must stay readable, got %+v, %v", got, err)
	}
}

func TestBookingService_CancelAsOrganizer(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService(t, nil)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 5})

	b, err := svc.Reserve(ctx, "owner", reserveReq("e1", "GA", 1))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if _, err := svc.CancelAsOrganizer(ctx, b.ID); err != nil {
		t.Errorf("CancelAsOrganizer() error = %v", err)
	}
}

func TestBookingService_OwnershipCheckDisabled(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	cfg := testConfig()
	cfg.EnforceOwnership = false
	svc := NewBookingService(&Dependencies{Catalog: store, Store: store, Logger: logger.NewNop()}, cfg)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 5})

	b, err := svc.Reserve(ctx, "owner", reserveReq("e1", "GA", 1))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if _, err := svc.Cancel(ctx, b.ID, "someone-else"); err != nil {
		t.Errorf("Cancel() error = %v, want nil when ownership is not enforced", err)
	}
}

func TestBookingService_ReadBackAndLists(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	clock := fixedNow
	cfg := testConfig()
	cfg.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	svc := NewBookingService(&Dependencies{Catalog: store, Store: store, Logger: logger.NewNop()}, cfg)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Price: 10, Capacity: 10})

	first, err := svc.Reserve(ctx, "u1", reserveReq("e1", "GA", 2))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	second, err := svc.Reserve(ctx, "u2", reserveReq("e1", "GA", 1))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	third, err := svc.Reserve(ctx, "u1", reserveReq("e1", "GA", 1))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	got, err := svc.GetBooking(ctx, first.ID, "u1")
	if err != nil {
		t.Fatalf("GetBooking() error = %v", err)
	}
	if got.ID != first.ID || got.Quantity != 2 || got.TotalPrice != 20 || got.Buyer != buyer() {
		t.Errorf("GetBooking() = %+v, want %+v", got, first)
	}
	if _, err := svc.GetBooking(ctx, first.ID, "u2"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("GetBooking() by other buyer error = %v, want %v", err, domain.ErrNotAuthorized)
	}

	mine, err := svc.ListBookingsForBuyer(ctx, "u1")
	if err != nil {
		t.Fatalf("ListBookingsForBuyer() error = %v", err)
	}
	if len(mine) != 2 || mine[0].ID != first.ID || mine[1].ID != third.ID {
		t.Errorf("ListBookingsForBuyer() = %v", mine)
	}

	all, err := svc.ListBookingsForEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("ListBookingsForEvent() error = %v", err)
	}
	if len(all) != 3 || all[1].ID != second.ID {
		t.Errorf("ListBookingsForEvent() = %v", all)
	}

	if _, err := svc.ListBookingsForBuyer(ctx, ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("ListBookingsForBuyer(\"\") error = %v", err)
	}
}

func TestBookingService_CheckIn(t *testing.T) {
	ctx := context.Background()
	publisher := &MockEventPublisher{}
	svc := newMemoryService(t, publisher)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 5})

	b, err := svc.Reserve(ctx, "u1", reserveReq("e1", "GA", 1))
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := svc.CheckIn(ctx, b.ID)
		if err != nil || !got.CheckedIn {
			t.Fatalf("CheckIn() #%d = %+v, %v", i+1, got, err)
		}
	}

	if _, err := svc.Cancel(ctx, b.ID, "u1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := svc.CheckIn(ctx, b.ID); !errors.Is(err, domain.ErrNotCheckInEligible) {
		t.Errorf("CheckIn() on cancelled error = %v, want %v", err, domain.ErrNotCheckInEligible)
	}

	want := []domain.BookingEventType{
		domain.BookingEventCreated,
		domain.BookingEventCheckedIn,
		domain.BookingEventCancelled,
	}
	if fmt.Sprint(publisher.Published) != fmt.Sprint(want) {
		t.Errorf("published = %v, want %v", publisher.Published, want)
	}
}

func TestBookingService_PublishFailureDoesNotFailReservation(t *testing.T) {
	svc := newMemoryService(t, &MockEventPublisher{Err: errors.New("broker down")})
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 5})

	if _, err := svc.Reserve(context.Background(), "u1", reserveReq("e1", "GA", 1)); err != nil {
		t.Errorf("Reserve() error = %v", err)
	}
}

func TestBookingService_NoOversell(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService(t, nil)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 40})

	var wg sync.WaitGroup
	var sold atomic.Int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := svc.Reserve(ctx, fmt.Sprintf("u%d", i), reserveReq("e1", "GA", 1+i%3))
			if err == nil {
				sold.Add(int64(b.Quantity))
			} else if !errors.Is(err, domain.ErrInsufficientInventory) {
				t.Errorf("Reserve() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	left := availableOf(t, svc, "e1", "GA")
	if int(sold.Load())+left != 40 {
		t.Errorf("sold %d + left %d != capacity 40", sold.Load(), left)
	}
	if left < 0 {
		t.Errorf("available went negative: %d", left)
	}
}

func TestBookingService_NoOversellWithCancellations(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService(t, nil)
	createEvent(t, svc, "e1", dto.TicketClassRequest{Name: "GA", Capacity: 30})

	var wg sync.WaitGroup
	var mu sync.Mutex
	cancels := make(map[string]int)
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyerID := fmt.Sprintf("u%d", i)
			b, err := svc.Reserve(ctx, buyerID, reserveReq("e1", "GA", 1+i%2))
			if err != nil {
				if !errors.Is(err, domain.ErrInsufficientInventory) {
					t.Errorf("Reserve() unexpected error = %v", err)
				}
				return
			}
			if i%2 == 0 {
				return
			}

			var inner sync.WaitGroup
			for j := 0; j < 2; j++ {
				inner.Add(1)
				go func() {
					defer inner.Done()
					_, err := svc.Cancel(ctx, b.ID, buyerID)
					switch {
					case err == nil:
						mu.Lock()
						cancels[b.ID]++
						mu.Unlock()
					case !errors.Is(err, domain.ErrAlreadyCancelled):
						t.Errorf("Cancel() unexpected error = %v", err)
					}
				}()
			}
			inner.Wait()
		}(i)
	}
	wg.Wait()

	for id, n := range cancels {
		if n != 1 {
			t.Errorf("booking %s cancelled %d times", id, n)
		}
	}

	list, err := svc.ListBookingsForEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("ListBookingsForEvent() error = %v", err)
	}
	var held, cancelled int
	for _, b := range list {
		if b.Status == domain.BookingStatusConfirmed.String() {
			held += b.Quantity
		} else {
			cancelled++
		}
	}
	if cancelled != len(cancels) {
		t.Errorf("cancelled bookings = %d, want %d", cancelled, len(cancels))
	}
	left := availableOf(t, svc, "e1", "GA")
	if left < 0 || held+left != 30 {
		t.Errorf("held %d + left %d != capacity 30", held, left)
	}
}

func TestBookingService_CreateEvent(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService(t, nil)

	resp, err := svc.CreateEvent(ctx, &dto.CreateEventRequest{
		ID:    "e1",
		Title: "Launch",
		TicketClasses: []dto.TicketClassRequest{
			{Name: "VIP", Price: 100, Capacity: 2},
			{Name: "GA", Price: 20, Capacity: 100},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if len(resp.TicketClasses) != 2 || resp.TicketClasses[0].Name != "GA" || !resp.TicketClasses[0].OnSale {
		t.Errorf("CreateEvent() = %+v", resp)
	}

	_, err = svc.CreateEvent(ctx, &dto.CreateEventRequest{ID: "e1", Title: "Again",
		TicketClasses: []dto.TicketClassRequest{{Name: "GA", Capacity: 1}}})
	if !errors.Is(err, domain.ErrEventAlreadyExists) {
		t.Errorf("duplicate CreateEvent() error = %v, want %v", err, domain.ErrEventAlreadyExists)
	}

	_, err = svc.CreateEvent(ctx, &dto.CreateEventRequest{ID: "e2", Title: "Dup classes",
		TicketClasses: []dto.TicketClassRequest{{Name: "GA", Capacity: 1}, {Name: "GA", Capacity: 2}}})
	if !errors.Is(err, domain.ErrInvalidEvent) {
		t.Errorf("duplicate class CreateEvent() error = %v, want %v", err, domain.ErrInvalidEvent)
	}

	if _, err := svc.GetAvailability(ctx, "missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("GetAvailability() error = %v, want %v", err, domain.ErrEventNotFound)
	}
}

type stubSyncer struct {
	calls int
	err   error
	onSync func()
}

func (s *stubSyncer) SyncEvent(ctx context.Context, eventID string) error {
	s.calls++
	if s.onSync != nil {
		s.onSync()
	}
	return s.err
}

func TestBookingService_SeedsLedgerOnMissingEvent(t *testing.T) {
	var seeded bool
	booking := &domain.Booking{ID: "BK000000000001", EventID: "e1", TicketClassName: "GA", Quantity: 1, Status: domain.BookingStatusConfirmed}
	store := &MockBookingStore{
		ReserveFunc: func(ctx context.Context, cmd *repository.ReserveCommand) (*domain.Booking, error) {
			if !seeded {
				return nil, domain.ErrEventNotFound
			}
			return booking, nil
		},
	}
	syncer := &stubSyncer{onSync: func() { seeded = true }}
	svc := NewBookingService(&Dependencies{
		Catalog: repository.NewMemoryStore(),
		Store:   store,
		Syncer:  syncer,
		Logger:  logger.NewNop(),
	}, testConfig())

	if _, err := svc.Reserve(context.Background(), "u1", reserveReq("e1", "GA", 1)); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if syncer.calls != 1 {
		t.Errorf("sync calls = %d, want 1", syncer.calls)
	}

	seeded = false
	syncer.onSync = nil
	syncer.err = fmt.Errorf("load: %w", domain.ErrEventNotFound)
	if _, err := svc.Reserve(context.Background(), "u1", reserveReq("e1", "GA", 1)); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("Reserve() error = %v, want %v", err, domain.ErrEventNotFound)
	}
}
