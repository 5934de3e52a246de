package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/eventhive/internal/domain"
	"github.com/prohmpiriya/eventhive/internal/dto"
	"github.com/prohmpiriya/eventhive/internal/metrics"
	"github.com/prohmpiriya/eventhive/internal/repository"
	"github.com/prohmpiriya/eventhive/pkg/logger"
	"github.com/prohmpiriya/eventhive/pkg/retry"
	"github.com/prohmpiriya/eventhive/pkg/telemetry"
)

// BookingService defines the interface for booking business logic
type BookingService interface {
	// Reserve books tickets of one class for a buyer
	Reserve(ctx context.Context, buyerID string, req *dto.ReserveRequest) (*dto.BookingResponse, error)

	// Cancel cancels a booking on behalf of its owner
	Cancel(ctx context.Context, bookingID, requestedBy string) (*dto.BookingResponse, error)

	// CancelAsOrganizer cancels any booking without the ownership check
	CancelAsOrganizer(ctx context.Context, bookingID string) (*dto.BookingResponse, error)

	// CheckIn marks a confirmed booking as attended
	CheckIn(ctx context.Context, bookingID string) (*dto.BookingResponse, error)

	// GetBooking retrieves a booking owned by requesterID
	GetBooking(ctx context.Context, bookingID, requesterID string) (*dto.BookingResponse, error)

	// ListBookingsForBuyer lists a buyer's bookings, oldest first
	ListBookingsForBuyer(ctx context.Context, buyerID string) ([]*dto.BookingResponse, error)

	// ListBookingsForEvent lists an event's bookings, oldest first
	ListBookingsForEvent(ctx context.Context, eventID string) ([]*dto.BookingResponse, error)

	// CreateEvent seeds an event and its ticket class ledgers
	CreateEvent(ctx context.Context, req *dto.CreateEventRequest) (*dto.AvailabilityResponse, error)

	// GetAvailability reads the live state of an event's ticket classes
	GetAvailability(ctx context.Context, eventID string) (*dto.AvailabilityResponse, error)
}

// Dependencies are the collaborators of the booking service
type Dependencies struct {
	// Catalog is where organizers create events
	Catalog repository.EventRepository
	// Ledger holds live availability; it equals Catalog except when the
	// Redis ledger is backed by a Postgres catalog
	Ledger repository.EventRepository
	Store  repository.BookingStore
	// Syncer is optional and only set when Ledger differs from Catalog
	Syncer    EventSyncer
	Publisher EventPublisher
	Logger    *logger.Logger
}

// BookingServiceConfig contains configuration for booking service
type BookingServiceConfig struct {
	MaxAttempts      int
	RetryInterval    time.Duration
	EnforceOwnership bool
	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// bookingService implements BookingService
type bookingService struct {
	catalog          repository.EventRepository
	ledger           repository.EventRepository
	store            repository.BookingStore
	syncer           EventSyncer
	publisher        EventPublisher
	log              *logger.Logger
	retrier          *retry.Retrier
	enforceOwnership bool
	now              func() time.Time
	newID            func() string
}

// NewBookingService creates a new booking service
func NewBookingService(deps *Dependencies, cfg *BookingServiceConfig) BookingService {
	maxAttempts := 3
	interval := 20 * time.Millisecond
	enforce := true
	now := func() time.Time { return time.Now().UTC() }
	var newID func() string
	if cfg != nil {
		if cfg.MaxAttempts > 0 {
			maxAttempts = cfg.MaxAttempts
		}
		if cfg.RetryInterval > 0 {
			interval = cfg.RetryInterval
		}
		enforce = cfg.EnforceOwnership
		if cfg.Now != nil {
			now = cfg.Now
		}
		newID = cfg.NewID
	}

	ledger := deps.Ledger
	if ledger == nil {
		ledger = deps.Catalog
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	log := deps.Logger
	if log == nil {
		log = logger.Get()
	}

	return &bookingService{
		catalog:          deps.Catalog,
		ledger:           ledger,
		store:            deps.Store,
		syncer:           deps.Syncer,
		publisher:        publisher,
		log:              log,
		retrier:          retry.New(retry.ForAttempts(maxAttempts, interval, domain.IsRetryable)),
		enforceOwnership: enforce,
		now:              now,
		newID:            newID,
	}
}

// Reserve books tickets of one class for a buyer
func (s *bookingService) Reserve(ctx context.Context, buyerID string, req *dto.ReserveRequest) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.reserve")
	defer span.End()
	start := time.Now()

	if err := validateReserve(buyerID, req); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("buyer_id", buyerID),
		attribute.String("event_id", req.EventID),
		attribute.String("ticket_class", req.TicketClass),
		attribute.Int("quantity", req.Quantity),
	)

	cmd := &repository.ReserveCommand{
		EventID:     req.EventID,
		TicketClass: req.TicketClass,
		Quantity:    req.Quantity,
		BuyerID:     buyerID,
		Buyer:       req.ToBuyer(),
		NewID:       s.newID,
	}

	var booking *domain.Booking
	err := s.withRetry(ctx, "reserve", func(ctx context.Context) error {
		cmd.Now = s.now()
		b, err := s.reserveOnce(ctx, cmd)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "reserve", req.EventID, err)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if err := s.publisher.PublishBookingCreated(ctx, booking); err != nil {
		s.log.WarnContext(ctx, "failed to publish booking created event",
			zap.String("booking_id", booking.ID), zap.Error(err))
	}

	metrics.RecordReservation(ctx, booking.EventID, booking.TicketClassName, booking.Quantity, time.Since(start).Seconds())
	span.AddEvent("booking_confirmed", trace.WithAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.Float64("total_price", booking.TotalPrice),
	))
	span.SetStatus(codes.Ok, "")

	s.log.InfoContext(ctx, "booking confirmed",
		zap.String("booking_id", booking.ID),
		zap.String("event_id", booking.EventID),
		zap.String("ticket_class", booking.TicketClassName),
		zap.Int("quantity", booking.Quantity),
	)
	return dto.FromDomain(booking), nil
}

// reserveOnce runs one reservation. A ledger missing from Redis is seeded
// from the catalog and the reservation is tried again.
func (s *bookingService) reserveOnce(ctx context.Context, cmd *repository.ReserveCommand) (*domain.Booking, error) {
	booking, err := s.store.Reserve(ctx, cmd)
	if !errors.Is(err, domain.ErrEventNotFound) || s.syncer == nil {
		return booking, err
	}

	if syncErr := s.syncer.SyncEvent(ctx, cmd.EventID); syncErr != nil {
		if errors.Is(syncErr, domain.ErrEventNotFound) {
			return nil, err
		}
		return nil, syncErr
	}
	return s.store.Reserve(ctx, cmd)
}

func validateReserve(buyerID string, req *dto.ReserveRequest) error {
	if req == nil {
		return domain.ErrInvalidRequest
	}
	if strings.TrimSpace(buyerID) == "" {
		return fmt.Errorf("%w: buyer id is required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.EventID) == "" {
		return fmt.Errorf("%w: event_id is required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.TicketClass) == "" {
		return fmt.Errorf("%w: ticket_class is required", domain.ErrInvalidRequest)
	}
	if err := req.ToBuyer().Validate(); err != nil {
		return err
	}
	if req.Quantity <= 0 {
		return domain.ErrOrderLimitExceeded
	}
	return nil
}

// Cancel cancels a booking on behalf of its owner
func (s *bookingService) Cancel(ctx context.Context, bookingID, requestedBy string) (*dto.BookingResponse, error) {
	if strings.TrimSpace(requestedBy) == "" {
		return nil, fmt.Errorf("%w: requester id is required", domain.ErrInvalidRequest)
	}
	return s.cancel(ctx, &repository.CancelCommand{
		BookingID:        bookingID,
		RequestedBy:      requestedBy,
		EnforceOwnership: s.enforceOwnership,
	})
}

// CancelAsOrganizer cancels any booking without the ownership check
func (s *bookingService) CancelAsOrganizer(ctx context.Context, bookingID string) (*dto.BookingResponse, error) {
	return s.cancel(ctx, &repository.CancelCommand{BookingID: bookingID})
}

func (s *bookingService) cancel(ctx context.Context, cmd *repository.CancelCommand) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", cmd.BookingID),
		attribute.Bool("enforce_ownership", cmd.EnforceOwnership),
	)

	if strings.TrimSpace(cmd.BookingID) == "" {
		err := fmt.Errorf("%w: booking id is required", domain.ErrInvalidRequest)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	var booking *domain.Booking
	err := s.withRetry(ctx, "cancel", func(ctx context.Context) error {
		cmd.Now = s.now()
		b, err := s.store.Cancel(ctx, cmd)
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "cancel", "", err)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if err := s.publisher.PublishBookingCancelled(ctx, booking); err != nil {
		s.log.WarnContext(ctx, "failed to publish booking cancelled event",
			zap.String("booking_id", booking.ID), zap.Error(err))
	}

	metrics.RecordCancellation(ctx, booking.EventID, booking.TicketClassName, booking.Quantity)
	span.SetStatus(codes.Ok, "")
	s.log.InfoContext(ctx, "booking cancelled",
		zap.String("booking_id", booking.ID),
		zap.String("event_id", booking.EventID),
		zap.Int("released", booking.Quantity),
	)
	return dto.FromDomain(booking), nil
}

// CheckIn marks a confirmed booking as attended
func (s *bookingService) CheckIn(ctx context.Context, bookingID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.check_in")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	if strings.TrimSpace(bookingID) == "" {
		err := fmt.Errorf("%w: booking id is required", domain.ErrInvalidRequest)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	var booking *domain.Booking
	var first bool
	err := s.withRetry(ctx, "check_in", func(ctx context.Context) error {
		b, changed, err := s.store.CheckIn(ctx, bookingID)
		if err != nil {
			return err
		}
		booking, first = b, changed
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "check_in", "", err)
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	if !first {
		span.SetStatus(codes.Ok, "")
		return dto.FromDomain(booking), nil
	}
	if err := s.publisher.PublishBookingCheckedIn(ctx, booking); err != nil {
		s.log.WarnContext(ctx, "failed to publish booking checked in event",
			zap.String("booking_id", booking.ID), zap.Error(err))
	}
	metrics.RecordCheckIn(ctx, booking.EventID)
	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}

// GetBooking retrieves a booking owned by requesterID
func (s *bookingService) GetBooking(ctx context.Context, bookingID, requesterID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("buyer_id", requesterID),
	)

	if bookingID == "" || requesterID == "" {
		span.SetStatus(codes.Error, "invalid request")
		return nil, domain.ErrInvalidRequest
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	// Verify ownership
	if !booking.BelongsToUser(requesterID) {
		span.SetStatus(codes.Error, "not owner")
		return nil, domain.ErrNotAuthorized
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(booking), nil
}

// ListBookingsForBuyer lists a buyer's bookings, oldest first
func (s *bookingService) ListBookingsForBuyer(ctx context.Context, buyerID string) ([]*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list_buyer")
	defer span.End()
	span.SetAttributes(attribute.String("buyer_id", buyerID))

	if buyerID == "" {
		span.SetStatus(codes.Error, "invalid buyer_id")
		return nil, domain.ErrInvalidRequest
	}

	bookings, err := s.store.ListByBuyer(ctx, buyerID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return dto.FromDomainList(bookings), nil
}

// ListBookingsForEvent lists an event's bookings, oldest first
func (s *bookingService) ListBookingsForEvent(ctx context.Context, eventID string) ([]*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	if eventID == "" {
		span.SetStatus(codes.Error, "invalid event_id")
		return nil, domain.ErrInvalidRequest
	}

	bookings, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return dto.FromDomainList(bookings), nil
}

// CreateEvent seeds an event and its ticket class ledgers
func (s *bookingService) CreateEvent(ctx context.Context, req *dto.CreateEventRequest) (*dto.AvailabilityResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.create")
	defer span.End()

	if req == nil {
		return nil, domain.ErrInvalidRequest
	}
	now := s.now()
	event := req.ToDomain(now)
	if err := event.Validate(); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.Int("ticket_classes", len(event.TicketClasses)),
	)

	if err := s.catalog.CreateEvent(ctx, event); err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if s.syncer != nil {
		if err := s.syncer.SyncEvent(ctx, event.ID); err != nil {
			// the ledger is seeded lazily on first reservation
			s.log.WarnContext(ctx, "failed to seed ledger", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	s.log.InfoContext(ctx, "event created",
		zap.String("event_id", event.ID),
		zap.Int("ticket_classes", len(event.TicketClasses)),
	)
	span.SetStatus(codes.Ok, "")
	return dto.AvailabilityFromDomain(event, now), nil
}

// GetAvailability reads the live state of an event's ticket classes
func (s *bookingService) GetAvailability(ctx context.Context, eventID string) (*dto.AvailabilityResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.availability")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	event, err := s.ledger.GetEvent(ctx, eventID)
	if errors.Is(err, domain.ErrEventNotFound) && s.syncer != nil {
		if syncErr := s.syncer.SyncEvent(ctx, eventID); syncErr == nil {
			event, err = s.ledger.GetEvent(ctx, eventID)
		}
	}
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dto.AvailabilityFromDomain(event, s.now()), nil
}

// withRetry replays op on retryable conflicts. Running out of attempts
// surfaces ErrTransientFailure wrapping the last cause.
func (s *bookingService) withRetry(ctx context.Context, op string, fn retry.Operation) error {
	result := s.retrier.DoWithCallback(ctx, fn, func(attempt int, err error, next time.Duration) {
		metrics.RecordRetry(ctx, op)
		s.log.WarnContext(ctx, "retrying after conflict",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})

	switch {
	case result.Err == nil:
		return nil
	case result.Exhausted():
		metrics.RecordTransientFailure(ctx, op)
		return fmt.Errorf("%w: %s after %d attempts: %w", domain.ErrTransientFailure, op, result.Attempts, result.LastError)
	case errors.Is(result.Err, retry.ErrContextCanceled):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return result.Err
	default:
		return result.Err
	}
}

func (s *bookingService) recordFailure(ctx context.Context, op, eventID string, err error) {
	switch {
	case domain.IsAdmissionError(err):
		metrics.RecordRejection(ctx, eventID, errorType(err))
	case domain.IsNotFoundError(err), domain.IsValidationError(err), domain.IsConflictError(err),
		errors.Is(err, domain.ErrNotAuthorized):
	default:
		metrics.RecordError(ctx, errorType(err), op)
		s.log.ErrorContext(ctx, "booking operation failed", zap.String("operation", op), zap.Error(err))
	}
}

// errorType returns a low-cardinality label for err
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrSalesWindowClosed):
		return "sales_window_closed"
	case errors.Is(err, domain.ErrOrderLimitExceeded):
		return "order_limit_exceeded"
	case errors.Is(err, domain.ErrUserLimitExceeded):
		return "user_limit_exceeded"
	case errors.Is(err, domain.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, domain.ErrTransientFailure):
		return "transient_failure"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "internal"
	}
}
