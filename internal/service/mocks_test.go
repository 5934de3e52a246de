package service

import (
	"context"
	"sync"

	"github.com/prohmpiriya/eventhive/internal/domain"
	"github.com/prohmpiriya/eventhive/internal/repository"
	"github.com/prohmpiriya/eventhive/pkg/kafka"
)

// MockBookingStore is a mock implementation of repository.BookingStore
type MockBookingStore struct {
	ReserveFunc     func(ctx context.Context, cmd *repository.ReserveCommand) (*domain.Booking, error)
	CancelFunc      func(ctx context.Context, cmd *repository.CancelCommand) (*domain.Booking, error)
	CheckInFunc     func(ctx context.Context, id string) (*domain.Booking, bool, error)
	GetBookingFunc  func(ctx context.Context, id string) (*domain.Booking, error)
	ListByBuyerFunc func(ctx context.Context, buyerID string) ([]*domain.Booking, error)
	ListByEventFunc func(ctx context.Context, eventID string) ([]*domain.Booking, error)
}

func (m *MockBookingStore) Reserve(ctx context.Context, cmd *repository.ReserveCommand) (*domain.Booking, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, cmd)
	}
	return nil, domain.ErrEventNotFound
}

func (m *MockBookingStore) Cancel(ctx context.Context, cmd *repository.CancelCommand) (*domain.Booking, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, cmd)
	}
	return nil, domain.ErrBookingNotFound
}

func (m *MockBookingStore) CheckIn(ctx context.Context, id string) (*domain.Booking, bool, error) {
	if m.CheckInFunc != nil {
		return m.CheckInFunc(ctx, id)
	}
	return nil, false, domain.ErrBookingNotFound
}

func (m *MockBookingStore) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, id)
	}
	return nil, domain.ErrBookingNotFound
}

func (m *MockBookingStore) ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Booking, error) {
	if m.ListByBuyerFunc != nil {
		return m.ListByBuyerFunc(ctx, buyerID)
	}
	return []*domain.Booking{}, nil
}

func (m *MockBookingStore) ListByEvent(ctx context.Context, eventID string) ([]*domain.Booking, error) {
	if m.ListByEventFunc != nil {
		return m.ListByEventFunc(ctx, eventID)
	}
	return []*domain.Booking{}, nil
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu        sync.Mutex
	Published []domain.BookingEventType
	Err       error
}

func (m *MockEventPublisher) record(t domain.BookingEventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, t)
	return m.Err
}

func (m *MockEventPublisher) PublishBookingCreated(ctx context.Context, b *domain.Booking) error {
	return m.record(domain.BookingEventCreated)
}

func (m *MockEventPublisher) PublishBookingCancelled(ctx context.Context, b *domain.Booking) error {
	return m.record(domain.BookingEventCancelled)
}

func (m *MockEventPublisher) PublishBookingCheckedIn(ctx context.Context, b *domain.Booking) error {
	return m.record(domain.BookingEventCheckedIn)
}

func (m *MockEventPublisher) Close() error { return nil }

// MockProducer captures produced Kafka messages
type MockProducer struct {
	Messages []*kafka.Message
	Err      error
}

func (m *MockProducer) Produce(ctx context.Context, msg *kafka.Message) error {
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	return nil
}
