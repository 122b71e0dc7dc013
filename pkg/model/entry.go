package model

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingRetry Status = "pending_retry"
	StatusDeadLetter   Status = "dead_letter"
	StatusSuccess      Status = "success"
)

// Engine constants. These are part of the contract with operators and the
// admin dashboard; changing them changes persisted scheduling state.
const (
	MaxRetryAttempts   = 5
	BaseRetryDelay     = 1 * time.Second
	MaxRetryDelay      = 1 * time.Hour
	AbandonedThreshold = 7 * 24 * time.Hour

	// MaxErrorLength bounds last_error so a chatty endpoint cannot bloat rows.
	MaxErrorLength = 1000
)

// WebhookQueueEntry is one outbound delivery lineage. Retries mutate the
// same row; the entry never forks.
type WebhookQueueEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EventID       string    `gorm:"not null;index"`
	Type          EventType `gorm:"type:varchar(50);not null;index"`
	Payload       string    `gorm:"type:text;not null"`
	WebhookURL    string    `gorm:"not null"`
	Attempt       int       `gorm:"not null;default:0"`
	LastError     *string
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time `gorm:"index"`
	Status        Status     `gorm:"type:varchar(20);not null;default:'pending_retry';index"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;not null"`
}

func (WebhookQueueEntry) TableName() string {
	return "webhook_queue_entries"
}

// FailedWebhook is the operator-facing projection of a queue entry, the
// shape consumed by the admin dashboard.
type FailedWebhook struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	Type          EventType  `json:"type"`
	Payload       string     `json:"payload"`
	WebhookURL    string     `json:"webhookUrl"`
	Attempt       int        `json:"attempt"`
	LastError     *string    `json:"lastError"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	NextRetryAt   *time.Time `json:"nextRetryAt"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (e *WebhookQueueEntry) ToFailedWebhook() FailedWebhook {
	return FailedWebhook{
		ID:            e.ID.String(),
		EventID:       e.EventID,
		Type:          e.Type,
		Payload:       e.Payload,
		WebhookURL:    e.WebhookURL,
		Attempt:       e.Attempt,
		LastError:     e.LastError,
		LastAttemptAt: e.LastAttemptAt,
		NextRetryAt:   e.NextRetryAt,
		Status:        e.Status,
		CreatedAt:     e.CreatedAt,
	}
}

// QueueStats is the monitoring contract with the admin dashboard; the JSON
// key names are fixed.
type QueueStats struct {
	PendingRetry      int64      `json:"pendingRetry"`
	DeadLetter        int64      `json:"deadLetter"`
	SuccessfulRetries int64      `json:"successfulRetries"`
	OldestPending     *time.Time `json:"oldestPending"`
}
