package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BookingEventsTopic is the Kafka topic for booking lifecycle events
const BookingEventsTopic = "booking-events"

// BookingEventType identifies a booking lifecycle transition
type BookingEventType string

const (
	BookingEventCreated   BookingEventType = "booking.created"
	BookingEventCancelled BookingEventType = "booking.cancelled"
	BookingEventCheckedIn BookingEventType = "booking.checked_in"
)

// BookingEvent is the payload published for a booking transition
type BookingEvent struct {
	EventID    string           `json:"event_id"`
	EventType  BookingEventType `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Booking    *Booking         `json:"booking"`
}

// NewBookingEvent wraps a booking snapshot. An empty eventID gets a uuid.
func NewBookingEvent(eventType BookingEventType, booking *Booking, eventID string) *BookingEvent {
	if eventID == "" {
		eventID = uuid.New().String()
	}
	return &BookingEvent{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Booking:    booking.Clone(),
	}
}

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// IsValid checks if the status is a valid OutboxStatus
func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusPublished, OutboxStatusFailed:
		return true
	}
	return false
}

// String returns the string representation of OutboxStatus
func (s OutboxStatus) String() string {
	return string(s)
}

// OutboxMessage is a booking event persisted alongside the change that caused it
type OutboxMessage struct {
	ID            string       `json:"id"`
	AggregateType string       `json:"aggregate_type"`
	AggregateID   string       `json:"aggregate_id"`
	EventType     string       `json:"event_type"`
	Payload       []byte       `json:"payload"`
	Topic         string       `json:"topic"`
	PartitionKey  string       `json:"partition_key"`
	Status        OutboxStatus `json:"status"`
	RetryCount    int          `json:"retry_count"`
	MaxRetries    int          `json:"max_retries"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	PublishedAt   *time.Time   `json:"published_at,omitempty"`
}

// NewOutboxMessage creates a pending outbox message keyed by partitionKey
func NewOutboxMessage(aggregateType, aggregateID, eventType, topic, partitionKey string, payload interface{}) (*OutboxMessage, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if partitionKey == "" {
		partitionKey = aggregateID
	}

	return &OutboxMessage{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payloadBytes,
		Topic:         topic,
		PartitionKey:  partitionKey,
		Status:        OutboxStatusPending,
		MaxRetries:    5,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// CanRetry checks if the message can be retried
func (m *OutboxMessage) CanRetry() bool {
	return m.Status == OutboxStatusFailed && m.RetryCount < m.MaxRetries
}

// Exhausted reports whether the message has used up its retries
func (m *OutboxMessage) Exhausted() bool {
	return m.RetryCount >= m.MaxRetries
}

// MarkAsPublished marks the message as successfully published
func (m *OutboxMessage) MarkAsPublished() {
	now := time.Now().UTC()
	m.Status = OutboxStatusPublished
	m.PublishedAt = &now
}

// MarkAsFailed records a failed publish attempt
func (m *OutboxMessage) MarkAsFailed(err string) {
	m.Status = OutboxStatusFailed
	m.LastError = err
	m.RetryCount++
}

// GetPayload unmarshals the payload into the given interface
func (m *OutboxMessage) GetPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// BookingOutboxEvent creates an outbox message for a booking event.
// Messages are partitioned by event id so per-event ordering holds.
func BookingOutboxEvent(eventType BookingEventType, booking *Booking) (*OutboxMessage, error) {
	event := NewBookingEvent(eventType, booking, "")
	return NewOutboxMessage(
		"booking",
		booking.ID,
		string(eventType),
		BookingEventsTopic,
		booking.EventID,
		event,
	)
}
