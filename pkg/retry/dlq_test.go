package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type mockProducer struct {
	topic   string
	key     string
	data    interface{}
	headers map[string]string
	err     error
}

func (m *mockProducer) ProduceJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	m.topic = topic
	m.key = key
	m.data = data
	m.headers = headers
	return m.err
}

func TestKafkaDLQPublisher_GetDLQTopic(t *testing.T) {
	p := NewKafkaDLQPublisher(&mockProducer{}, nil)
	if got := p.GetDLQTopic("booking-events"); got != "booking-events.dlq" {
		t.Errorf("GetDLQTopic() = %q, want booking-events.dlq", got)
	}
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	producer := &mockProducer{}
	p := NewKafkaDLQPublisher(producer, &DLQConfig{TopicSuffix: ".dead", Source: "outbox-worker"})

	msg := &DLQMessage{
		ID:            "msg-1",
		OriginalTopic: "booking-events",
		OriginalKey:   "evt-1",
		Payload:       json.RawMessage(`{"event_type":"booking.created"}`),
		Headers:       map[string]string{"event_type": "booking.created", "source": "x"},
		Error:         "broker unavailable",
		Attempts:      5,
	}

	if err := p.PublishToDLQ(context.Background(), msg); err != nil {
		t.Fatalf("PublishToDLQ() error = %v", err)
	}

	if producer.topic != "booking-events.dead" || producer.key != "evt-1" {
		t.Errorf("published to %s/%s", producer.topic, producer.key)
	}
	if producer.headers["attempts"] != "5" || producer.headers["source"] != "outbox-worker" {
		t.Errorf("headers = %v", producer.headers)
	}
	if producer.headers["original_event_type"] != "booking.created" {
		t.Errorf("original header not carried: %v", producer.headers)
	}
	if msg.MovedToDLQAt.IsZero() || msg.Source != "outbox-worker" {
		t.Errorf("message not stamped: %+v", msg)
	}
}

func TestKafkaDLQPublisher_Errors(t *testing.T) {
	p := NewKafkaDLQPublisher(&mockProducer{}, nil)
	if err := p.PublishToDLQ(context.Background(), nil); err == nil {
		t.Error("expected error for nil message")
	}

	failing := NewKafkaDLQPublisher(&mockProducer{err: errors.New("down")}, nil)
	if err := failing.PublishToDLQ(context.Background(), &DLQMessage{OriginalTopic: "t"}); err == nil {
		t.Error("expected producer error to surface")
	}
}

func TestNoOpDLQPublisher(t *testing.T) {
	var p DLQPublisher = NoOpDLQPublisher{}
	if err := p.PublishToDLQ(context.Background(), &DLQMessage{}); err != nil {
		t.Errorf("PublishToDLQ() error = %v", err)
	}
	if p.GetDLQTopic("a") != "a.dlq" {
		t.Errorf("GetDLQTopic() = %q", p.GetDLQTopic("a"))
	}
}
