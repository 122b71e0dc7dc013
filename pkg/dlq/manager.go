package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/backoff"
	"github.com/cfprelay/cfprelay/pkg/delivery"
	"github.com/cfprelay/cfprelay/pkg/metrics"
	"github.com/cfprelay/cfprelay/pkg/model"
	"github.com/cfprelay/cfprelay/pkg/store"
)

var (
	// ErrNotFound is returned by Replay when the entry does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidState is returned by Replay when the entry is not dead-lettered.
	ErrInvalidState = errors.New("webhook entry is not dead-lettered")
	// ErrValidation marks enqueue rejections; broken events never enter the queue.
	ErrValidation = errors.New("invalid webhook event")
)

const (
	defaultParallelism = 8
	defaultClaimLease  = 60 * time.Second
)

// Sender performs a single delivery attempt. Satisfied by delivery.Sender.
type Sender interface {
	Attempt(ctx context.Context, webhookURL, payload string) delivery.Outcome
}

// Notifier pushes terminal-transition events to the admin dashboard.
// Notification failures are logged, never surfaced: the persisted status is
// the source of truth.
type Notifier interface {
	NotifyDelivered(ctx context.Context, entry *model.WebhookQueueEntry) error
	NotifyDeadLettered(ctx context.Context, entry *model.WebhookQueueEntry) error
}

// Manager orchestrates the webhook delivery queue: enqueue, batch retry
// processing, stats, operator replay and abandoned-entry cleanup. It keeps
// no state between invocations; everything lives in the store.
type Manager struct {
	store       store.EntryStore
	sender      Sender
	notifier    Notifier
	logger      *zap.Logger
	parallelism int
	claimLease  time.Duration
	now         func() time.Time
}

func NewManager(entryStore store.EntryStore, sender Sender, notifier Notifier, logger *zap.Logger, parallelism int, claimLease time.Duration) *Manager {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	if claimLease <= 0 {
		claimLease = defaultClaimLease
	}
	return &Manager{
		store:       entryStore,
		sender:      sender,
		notifier:    notifier,
		logger:      logger,
		parallelism: parallelism,
		claimLease:  claimLease,
		now:         time.Now,
	}
}

// Enqueue creates a pending entry eligible for immediate processing.
// Malformed input is rejected synchronously with ErrValidation.
func (m *Manager) Enqueue(ctx context.Context, eventID string, eventType model.EventType, payload, webhookURL string) (*model.WebhookQueueEntry, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrValidation)
	}
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, eventType)
	}
	if err := validateWebhookURL(webhookURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}

	now := m.now()
	entry := &model.WebhookQueueEntry{
		ID:          uuid.New(),
		EventID:     eventID,
		Type:        eventType,
		Payload:     payload,
		WebhookURL:  webhookURL,
		Attempt:     0,
		Status:      model.StatusPendingRetry,
		NextRetryAt: &now,
		CreatedAt:   now,
	}

	if err := m.store.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueueing webhook: %w", err)
	}

	metrics.EnqueuedTotal.WithLabelValues(string(eventType)).Inc()
	m.logger.Info("webhook enqueued",
		zap.String("entry_id", entry.ID.String()),
		zap.String("event_id", eventID),
		zap.String("type", string(eventType)),
	)
	return entry, nil
}

// ProcessDueRetries claims and delivers up to limit due entries, oldest-due
// first, with bounded concurrency. One entry's delivery failure never blocks
// another's; store errors are joined and surfaced so the scheduler can retry
// the batch next cycle. Returns the number of entries processed.
func (m *Manager) ProcessDueRetries(ctx context.Context, limit int) (int, error) {
	now := m.now()

	entries, err := m.store.ListDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("listing due entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, m.parallelism)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var errs []error
	processed := 0

	for i := range entries {
		entry := entries[i]

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			claimed, err := m.store.ClaimDue(ctx, entry.ID, now, m.claimLease)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("claiming entry %s: %w", entry.ID, err))
				mu.Unlock()
				return
			}
			if !claimed {
				// Another scheduler run owns this entry.
				return
			}

			if err := m.processEntry(ctx, &entry); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}

			mu.Lock()
			processed++
			mu.Unlock()
		}()
	}

	wg.Wait()
	return processed, errors.Join(errs...)
}

// processEntry performs one attempt and persists the resulting transition.
// Only store failures return an error; delivery failures become queue state.
func (m *Manager) processEntry(ctx context.Context, entry *model.WebhookQueueEntry) error {
	outcome := m.sender.Attempt(ctx, entry.WebhookURL, entry.Payload)
	now := m.now()

	entry.Attempt++
	entry.LastAttemptAt = &now
	metrics.DeliveryDuration.Observe(outcome.Duration.Seconds())

	switch {
	case outcome.Success:
		entry.Status = model.StatusSuccess
		entry.NextRetryAt = nil
		metrics.AttemptsTotal.WithLabelValues("success").Inc()

	case delivery.ShouldDeadLetter(entry.Attempt, false):
		message := delivery.TruncateErrorMessage(outcome.Error)
		entry.LastError = &message
		entry.Status = model.StatusDeadLetter
		entry.NextRetryAt = nil
		metrics.AttemptsTotal.WithLabelValues("failure").Inc()
		metrics.DeadLettersTotal.WithLabelValues(string(entry.Type)).Inc()

	default:
		message := delivery.TruncateErrorMessage(outcome.Error)
		entry.LastError = &message
		next := now.Add(backoff.Delay(entry.Attempt))
		entry.NextRetryAt = &next
		metrics.AttemptsTotal.WithLabelValues("failure").Inc()
	}

	if err := m.store.Update(ctx, entry); err != nil {
		return fmt.Errorf("recording attempt outcome for %s: %w", entry.ID, err)
	}

	switch entry.Status {
	case model.StatusSuccess:
		m.logger.Info("webhook delivered",
			zap.String("entry_id", entry.ID.String()),
			zap.Int("attempt", entry.Attempt),
		)
		m.notify(ctx, entry)
	case model.StatusDeadLetter:
		m.logger.Warn("webhook dead-lettered",
			zap.String("entry_id", entry.ID.String()),
			zap.String("event_id", entry.EventID),
			zap.Int("attempt", entry.Attempt),
			zap.Stringp("last_error", entry.LastError),
		)
		m.notify(ctx, entry)
	default:
		m.logger.Info("webhook delivery failed, retry scheduled",
			zap.String("entry_id", entry.ID.String()),
			zap.Int("attempt", entry.Attempt),
			zap.Timep("next_retry_at", entry.NextRetryAt),
		)
	}

	return nil
}

func (m *Manager) notify(ctx context.Context, entry *model.WebhookQueueEntry) {
	if m.notifier == nil {
		return
	}

	var err error
	switch entry.Status {
	case model.StatusSuccess:
		err = m.notifier.NotifyDelivered(ctx, entry)
	case model.StatusDeadLetter:
		err = m.notifier.NotifyDeadLettered(ctx, entry)
	}
	if err != nil {
		m.logger.Warn("failed to publish dashboard notification",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
	}
}

// GetStats returns the monitoring snapshot consumed by the admin dashboard.
func (m *Manager) GetStats(ctx context.Context) (*model.QueueStats, error) {
	pending, err := m.store.CountByStatus(ctx, model.StatusPendingRetry)
	if err != nil {
		return nil, fmt.Errorf("counting pending entries: %w", err)
	}
	dead, err := m.store.CountByStatus(ctx, model.StatusDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("counting dead-lettered entries: %w", err)
	}
	succeeded, err := m.store.CountByStatus(ctx, model.StatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("counting successful entries: %w", err)
	}
	oldest, err := m.store.OldestPendingCreatedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding oldest pending entry: %w", err)
	}

	return &model.QueueStats{
		PendingRetry:      pending,
		DeadLetter:        dead,
		SuccessfulRetries: succeeded,
		OldestPending:     oldest,
	}, nil
}

// ListFailedWebhooks returns entries matching the filter, projected into the
// operator-facing shape.
func (m *Manager) ListFailedWebhooks(ctx context.Context, filter store.ListFilter) ([]model.FailedWebhook, error) {
	entries, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}

	failed := make([]model.FailedWebhook, 0, len(entries))
	for i := range entries {
		failed = append(failed, entries[i].ToFailedWebhook())
	}
	return failed, nil
}

// Replay is the operator action that re-queues a dead-lettered entry with a
// fresh attempt budget. The error history is kept for diagnosis.
func (m *Manager) Replay(ctx context.Context, id uuid.UUID) (*model.WebhookQueueEntry, error) {
	entry, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.StatusDeadLetter {
		return nil, fmt.Errorf("%w: entry %s has status %s", ErrInvalidState, id, entry.Status)
	}

	now := m.now()
	entry.Attempt = 0
	entry.Status = model.StatusPendingRetry
	entry.NextRetryAt = &now

	if err := m.store.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("replaying entry %s: %w", id, err)
	}

	metrics.ReplaysTotal.Inc()
	m.logger.Info("dead-lettered webhook replayed",
		zap.String("entry_id", entry.ID.String()),
		zap.String("event_id", entry.EventID),
	)
	return entry, nil
}

// CleanupAbandoned hard-deletes entries older than the abandoned threshold,
// whatever their status. Idempotent: a second immediate sweep deletes nothing.
func (m *Manager) CleanupAbandoned(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-model.AbandonedThreshold)

	deleted, err := m.store.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up abandoned entries: %w", err)
	}

	if deleted > 0 {
		metrics.CleanupDeletedTotal.Add(float64(deleted))
		m.logger.Info("abandoned webhook entries deleted",
			zap.Int64("count", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}

func validateWebhookURL(webhookURL string) error {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("parsing webhook url: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("webhook url must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("webhook url has no host")
	}
	return nil
}
