package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cfprelay/cfprelay/pkg/model"
	"github.com/cfprelay/cfprelay/pkg/store"
)

type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (r *EntryRepository) Create(ctx context.Context, entry *model.WebhookQueueEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *EntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.WebhookQueueEntry, error) {
	var entry model.WebhookQueueEntry
	err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *EntryRepository) List(ctx context.Context, filter store.ListFilter) ([]model.WebhookQueueEntry, error) {
	query := r.db.WithContext(ctx).Model(&model.WebhookQueueEntry{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var entries []model.WebhookQueueEntry
	err := query.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *EntryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.WebhookQueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.WebhookQueueEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", model.StatusPendingRetry, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ClaimDue is the row-level claim that keeps overlapping scheduler runs from
// double-processing an entry: the conditional update succeeds for exactly one
// caller, and pushing next_retry_at forward acts as a lease until the attempt
// outcome is persisted.
func (r *EntryRepository) ClaimDue(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WebhookQueueEntry{}).
		Where("id = ? AND status = ? AND next_retry_at <= ?", id, model.StatusPendingRetry, now).
		Update("next_retry_at", now.Add(lease))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *EntryRepository) Update(ctx context.Context, entry *model.WebhookQueueEntry) error {
	updates := map[string]interface{}{
		"attempt":         entry.Attempt,
		"last_error":      entry.LastError,
		"last_attempt_at": entry.LastAttemptAt,
		"next_retry_at":   entry.NextRetryAt,
		"status":          entry.Status,
	}
	result := r.db.WithContext(ctx).
		Model(&model.WebhookQueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *EntryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&model.WebhookQueueEntry{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *EntryRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.WebhookQueueEntry{})
	return result.RowsAffected, result.Error
}

func (r *EntryRepository) CountByStatus(ctx context.Context, status model.Status) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.WebhookQueueEntry{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *EntryRepository) OldestPendingCreatedAt(ctx context.Context) (*time.Time, error) {
	var entry model.WebhookQueueEntry
	err := r.db.WithContext(ctx).
		Where("status = ?", model.StatusPendingRetry).
		Order("created_at ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	createdAt := entry.CreatedAt
	return &createdAt, nil
}
