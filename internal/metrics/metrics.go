package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/eventhive/pkg/telemetry"
)

var (
	// Booking counters
	BookingsReserved   *telemetry.Counter
	BookingsCancelled  *telemetry.Counter
	BookingsCheckedIn  *telemetry.Counter
	BookingsRejected   *telemetry.Counter
	ReservationRetries *telemetry.Counter
	TransientFailures  *telemetry.Counter

	// Outbox counters
	OutboxPublished    *telemetry.Counter
	OutboxFailed       *telemetry.Counter
	OutboxDeadLettered *telemetry.Counter

	// Error tracking
	ErrorsTotal *telemetry.Counter

	// Histograms
	ReserveDuration *telemetry.Histogram

	// Gauges
	TicketsHeld *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all booking metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		dst  **telemetry.Counter
		name string
		desc string
	}{
		{&BookingsReserved, "booking_reservations_total", "Total number of confirmed reservations"},
		{&BookingsCancelled, "booking_cancellations_total", "Total number of cancelled bookings"},
		{&BookingsCheckedIn, "booking_check_ins_total", "Total number of attendee check-ins"},
		{&BookingsRejected, "booking_rejections_total", "Reservations refused by the ledger rules"},
		{&ReservationRetries, "booking_retries_total", "Reservation attempts replayed after a conflict"},
		{&TransientFailures, "booking_transient_failures_total", "Requests that ran out of retries"},
		{&OutboxPublished, "outbox_published_total", "Outbox messages published to Kafka"},
		{&OutboxFailed, "outbox_failed_total", "Outbox publish attempts that failed"},
		{&OutboxDeadLettered, "outbox_dead_lettered_total", "Outbox messages moved to the DLQ"},
		{&ErrorsTotal, "booking_errors_total", "Errors by type and operation"},
	}

	for _, c := range counters {
		counter, err := telemetry.NewCounter(telemetry.MetricOpts{
			Name:        c.name,
			Description: c.desc,
			Unit:        "1",
		})
		if err != nil {
			return err
		}
		*c.dst = counter
	}

	var err error
	ReserveDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "booking_reserve_duration_seconds",
		Description: "Time to run a reservation including retries",
		Unit:        "s",
	}, []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1})
	if err != nil {
		return err
	}

	TicketsHeld, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "booking_tickets_held",
		Description: "Tickets currently held by confirmed bookings",
		Unit:        "1",
	})
	return err
}

// RecordReservation records a confirmed reservation
func RecordReservation(ctx context.Context, eventID, ticketClass string, quantity int, durationSeconds float64) {
	attrs := []attribute.KeyValue{
		telemetry.EventIDAttr(eventID),
		telemetry.TicketClassAttr(ticketClass),
	}
	if BookingsReserved != nil {
		BookingsReserved.Inc(ctx, attrs...)
	}
	if TicketsHeld != nil {
		TicketsHeld.Add(ctx, int64(quantity), attrs...)
	}
	if ReserveDuration != nil {
		ReserveDuration.Record(ctx, durationSeconds, telemetry.EventIDAttr(eventID))
	}
}

// RecordRejection records a reservation refused by an admissibility rule
func RecordRejection(ctx context.Context, eventID, reason string) {
	if BookingsRejected != nil {
		BookingsRejected.Inc(ctx,
			telemetry.EventIDAttr(eventID),
			attribute.String("reason", reason),
		)
	}
}

// RecordCancellation records a cancellation and the tickets it released
func RecordCancellation(ctx context.Context, eventID, ticketClass string, quantity int) {
	attrs := []attribute.KeyValue{
		telemetry.EventIDAttr(eventID),
		telemetry.TicketClassAttr(ticketClass),
	}
	if BookingsCancelled != nil {
		BookingsCancelled.Inc(ctx, attrs...)
	}
	if TicketsHeld != nil {
		TicketsHeld.Add(ctx, -int64(quantity), attrs...)
	}
}

// RecordCheckIn records an attendee check-in
func RecordCheckIn(ctx context.Context, eventID string) {
	if BookingsCheckedIn != nil {
		BookingsCheckedIn.Inc(ctx, telemetry.EventIDAttr(eventID))
	}
}

// RecordRetry records one replayed attempt
func RecordRetry(ctx context.Context, operation string) {
	if ReservationRetries != nil {
		ReservationRetries.Inc(ctx, telemetry.OperationAttr(operation))
	}
}

// RecordTransientFailure records a request that exhausted its retries
func RecordTransientFailure(ctx context.Context, operation string) {
	if TransientFailures != nil {
		TransientFailures.Inc(ctx, telemetry.OperationAttr(operation))
	}
}

// RecordOutbox records the outcome of one outbox publish attempt
func RecordOutbox(ctx context.Context, eventType string, published, deadLettered bool) {
	attr := attribute.String("event_type", eventType)
	switch {
	case published && OutboxPublished != nil:
		OutboxPublished.Inc(ctx, attr)
	case !published && OutboxFailed != nil:
		OutboxFailed.Inc(ctx, attr)
	}
	if deadLettered && OutboxDeadLettered != nil {
		OutboxDeadLettered.Inc(ctx, attr)
	}
}

// RecordError records an error by type and operation
func RecordError(ctx context.Context, errorType, operation string) {
	if ErrorsTotal != nil {
		ErrorsTotal.Inc(ctx,
			telemetry.ErrorTypeAttr(errorType),
			telemetry.OperationAttr(operation),
		)
	}
}
