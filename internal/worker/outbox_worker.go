package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/eventhive/internal/domain"
	"github.com/prohmpiriya/eventhive/internal/metrics"
	"github.com/prohmpiriya/eventhive/internal/repository"
	"github.com/prohmpiriya/eventhive/pkg/kafka"
	"github.com/prohmpiriya/eventhive/pkg/logger"
	"github.com/prohmpiriya/eventhive/pkg/retry"
)

// OutboxWorkerConfig contains configuration for the outbox worker
type OutboxWorkerConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to lock in each poll
	BatchSize int
	// RetryInterval is the interval between retrying failed messages
	RetryInterval time.Duration
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// CleanupRetentionDays is the number of days to retain published messages
	CleanupRetentionDays int
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() *OutboxWorkerConfig {
	return &OutboxWorkerConfig{
		PollInterval:         100 * time.Millisecond,
		BatchSize:            100,
		RetryInterval:        5 * time.Second,
		CleanupInterval:      time.Hour,
		CleanupRetentionDays: 7,
	}
}

// Producer is the subset of the Kafka producer the worker needs
type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// OutboxWorker relays booking events written by the Postgres store to Kafka
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	producer   Producer
	dlq        retry.DLQPublisher
	config     *OutboxWorkerConfig
	log        *logger.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewOutboxWorker creates a new outbox worker. A nil dlq drops exhausted
// messages after logging them.
func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	producer Producer,
	dlq retry.DLQPublisher,
	config *OutboxWorkerConfig,
	log *logger.Logger,
) *OutboxWorker {
	if config == nil {
		config = DefaultOutboxWorkerConfig()
	}
	if dlq == nil {
		dlq = retry.NoOpDLQPublisher{}
	}
	if log == nil {
		log = logger.Get()
	}

	return &OutboxWorker{
		outboxRepo: outboxRepo,
		producer:   producer,
		dlq:        dlq,
		config:     config,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the pending, retry and cleanup loops
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting outbox worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(3)
	go w.loop(ctx, w.config.PollInterval, func(ctx context.Context) {
		w.processBatch(ctx, domain.OutboxStatusPending)
	})
	go w.loop(ctx, w.config.RetryInterval, func(ctx context.Context) {
		w.processBatch(ctx, domain.OutboxStatusFailed)
	})
	go w.loop(ctx, w.config.CleanupInterval, w.cleanup)

	return nil
}

// Stop stops the worker and waits for in-flight batches
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("stopping outbox worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("outbox worker stopped")
}

// IsRunning reports whether Start has been called without Stop
func (w *OutboxWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *OutboxWorker) loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// processBatch publishes one locked batch of messages in the given status
func (w *OutboxWorker) processBatch(ctx context.Context, status domain.OutboxStatus) int {
	n, err := w.outboxRepo.ProcessBatch(ctx, status, w.config.BatchSize, w.handle)
	if err != nil {
		w.log.Error("failed to process outbox batch",
			zap.String("status", status.String()),
			zap.Error(err),
		)
		return 0
	}
	return n
}

// handle publishes one message and records the outcome on it
func (w *OutboxWorker) handle(ctx context.Context, msg *domain.OutboxMessage) {
	err := w.publishMessage(ctx, msg)
	if err == nil {
		if msg.RetryCount > 0 {
			w.log.Info("outbox message published after retry",
				zap.String("message_id", msg.ID),
				zap.Int("attempts", msg.RetryCount+1),
			)
		}
		msg.MarkAsPublished()
		metrics.RecordOutbox(ctx, msg.EventType, true, false)
		return
	}

	msg.MarkAsFailed(err.Error())
	w.log.Warn("failed to publish outbox message",
		zap.String("message_id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.Int("attempt", msg.RetryCount),
		zap.Int("max_retries", msg.MaxRetries),
		zap.Error(err),
	)

	if !msg.Exhausted() {
		metrics.RecordOutbox(ctx, msg.EventType, false, false)
		return
	}

	metrics.RecordOutbox(ctx, msg.EventType, false, true)
	if dlqErr := w.dlq.PublishToDLQ(ctx, toDLQMessage(msg)); dlqErr != nil {
		w.log.Error("failed to move outbox message to DLQ",
			zap.String("message_id", msg.ID),
			zap.String("dlq_topic", w.dlq.GetDLQTopic(msg.Topic)),
			zap.Error(dlqErr),
		)
	}
}

func (w *OutboxWorker) cleanup(ctx context.Context) {
	deleted, err := w.outboxRepo.DeletePublished(ctx, w.config.CleanupRetentionDays)
	if err != nil {
		w.log.Error("failed to clean up published outbox messages", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.log.Info("cleaned up published outbox messages", zap.Int64("deleted", deleted))
	}
}

// publishMessage publishes a message keyed by its partition key
func (w *OutboxWorker) publishMessage(ctx context.Context, msg *domain.OutboxMessage) error {
	kafkaMsg := &kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.PartitionKey),
		Value: msg.Payload,
		Headers: map[string]string{
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateID,
			"content_type":   "application/json",
			"source":         "outbox-worker",
		},
		Timestamp: time.Now(),
	}

	return w.producer.Produce(ctx, kafkaMsg)
}

func toDLQMessage(msg *domain.OutboxMessage) *retry.DLQMessage {
	return &retry.DLQMessage{
		ID:            msg.ID,
		OriginalTopic: msg.Topic,
		OriginalKey:   msg.PartitionKey,
		Payload:       msg.Payload,
		Headers: map[string]string{
			"event_type":   msg.EventType,
			"aggregate_id": msg.AggregateID,
		},
		Error:     msg.LastError,
		Attempts:  msg.RetryCount,
		CreatedAt: msg.CreatedAt,
	}
}
