package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"catsync/internal/logger"
	"catsync/internal/models"

	"github.com/segmentio/kafka-go"
)

const (
	// TopicSyncRequests carries on-demand full-sync triggers for the worker.
	TopicSyncRequests = "catalog.sync.requests"
	// TopicSyncEvents receives the result of every finished run.
	TopicSyncEvents = "catalog.sync.events"

	consumerGroup = "catsync-worker"
)

// SyncRequest asks the worker to run a full sync.
type SyncRequest struct {
	RequestedBy string    `json:"requested_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// SyncEvent reports a finished (or failed) run.
type SyncEvent struct {
	Type      string             `json:"type"` // sync.completed | sync.failed
	Result    *models.SyncResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type Producer struct {
	writer *kafka.Writer
	logger *logger.Logger
}

func NewProducer(brokers string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}
	return &Producer{writer: writer, logger: log}
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	p.logger.Debug("published %s to %s", key, topic)
	return nil
}

// PublishSyncRequest enqueues an on-demand sync for the worker.
func (p *Producer) PublishSyncRequest(ctx context.Context, requestedBy string) error {
	return p.publish(ctx, TopicSyncRequests, "sync.requested", SyncRequest{
		RequestedBy: requestedBy,
		Timestamp:   time.Now(),
	})
}

// PublishSyncEvent reports a run result; callers treat failures as
// best-effort.
func (p *Producer) PublishSyncEvent(ctx context.Context, event SyncEvent) error {
	event.Timestamp = time.Now()
	return p.publish(ctx, TopicSyncEvents, event.Type, event)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewSyncRequestConsumer subscribes to the sync-request topic.
func NewSyncRequestConsumer(brokers string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(brokers, ","),
		GroupID:        consumerGroup,
		Topic:          TopicSyncRequests,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return &Consumer{reader: reader, logger: log}
}

// Consume blocks reading sync requests and invoking handle per message
// until ctx is cancelled. Malformed messages are logged and dropped.
func (c *Consumer) Consume(ctx context.Context, handle func(ctx context.Context, req SyncRequest)) error {
	for {
		message, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read message: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var request SyncRequest
		if err := json.Unmarshal(message.Value, &request); err != nil {
			c.logger.Error("failed to parse sync request: %v", err)
			continue
		}
		handle(ctx, request)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
