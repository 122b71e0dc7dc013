package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/config"
	"github.com/cfprelay/cfprelay/pkg/dlq"
	"github.com/cfprelay/cfprelay/pkg/metrics"
	"github.com/cfprelay/cfprelay/pkg/model"
)

// DomainEvent is the message shape the CFP application publishes for
// federation subscribers.
type DomainEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	WebhookURL string          `json:"webhook_url"`
}

// Enqueuer is satisfied by *dlq.Manager.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventID string, eventType model.EventType, payload, webhookURL string) (*model.WebhookQueueEntry, error)
}

type Consumer struct {
	reader   *kafka.Reader
	enqueuer Enqueuer
	logger   *zap.Logger
}

func NewConsumer(cfg *config.KafkaConfig, enqueuer Enqueuer, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.EventTopic,
		Dialer: &kafka.Dialer{
			ClientID: cfg.ClientID,
		},
	})
	return &Consumer{reader: reader, enqueuer: enqueuer, logger: logger}
}

// Run consumes domain events until the context is cancelled. Malformed
// messages are skipped and committed so a bad producer cannot wedge the
// partition; store outages stop the consumer so offsets are not lost.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("fetching message: %w", err)
		}

		if err := c.handleMessage(ctx, msg.Value); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("committing offset: %w", err)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	var event DomainEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.Warn("skipping undecodable domain event", zap.Error(err))
		metrics.IngestSkippedTotal.WithLabelValues("decode").Inc()
		return nil
	}

	_, err := c.enqueuer.Enqueue(ctx, event.EventID, model.EventType(event.Type), string(event.Payload), event.WebhookURL)
	if err != nil {
		if errors.Is(err, dlq.ErrValidation) {
			c.logger.Warn("skipping invalid domain event",
				zap.String("event_id", event.EventID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
			metrics.IngestSkippedTotal.WithLabelValues("validation").Inc()
			return nil
		}
		return fmt.Errorf("enqueueing event %s: %w", event.EventID, err)
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
