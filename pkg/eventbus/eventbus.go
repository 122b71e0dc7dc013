package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cfprelay/cfprelay/pkg/model"
)

// Channels consumed by the admin dashboard for live queue updates.
const (
	ChannelDelivered  = "cfprelay:events:delivered"
	ChannelDeadLetter = "cfprelay:events:deadletter"
)

type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EntryEvent is the notification body for delivered and dead-lettered
// entries. The webhook payload itself is not rebroadcast.
type EntryEvent struct {
	EntryID   string `json:"entry_id"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
}

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

// NotifyDelivered and NotifyDeadLettered satisfy dlq.Notifier.

func (b *Bus) NotifyDelivered(ctx context.Context, entry *model.WebhookQueueEntry) error {
	return b.publishEntry(ctx, ChannelDelivered, "webhook.delivered", entry)
}

func (b *Bus) NotifyDeadLettered(ctx context.Context, entry *model.WebhookQueueEntry) error {
	return b.publishEntry(ctx, ChannelDeadLetter, "webhook.dead_lettered", entry)
}

func (b *Bus) publishEntry(ctx context.Context, channel, eventType string, entry *model.WebhookQueueEntry) error {
	body := EntryEvent{
		EntryID:   entry.ID.String(),
		EventID:   entry.EventID,
		EventType: string(entry.Type),
		Attempt:   entry.Attempt,
	}
	if entry.LastError != nil {
		body.LastError = *entry.LastError
	}

	event, err := NewEvent(eventType, body)
	if err != nil {
		return err
	}
	return b.Publish(ctx, channel, event)
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			ch <- &event
		}
	}()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return ch
}
