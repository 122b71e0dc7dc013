package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cfprelay/cfprelay/pkg/model"
	"github.com/cfprelay/cfprelay/pkg/store"
)

// Store is an in-memory EntryStore used by tests and local development.
// All operations hold a single mutex, which gives the same single-row
// atomicity the postgres implementation gets from conditional updates.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]model.WebhookQueueEntry
}

func NewStore() *Store {
	return &Store{entries: make(map[uuid.UUID]model.WebhookQueueEntry)}
}

func (s *Store) Create(ctx context.Context, entry *model.WebhookQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.ID] = *entry
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*model.WebhookQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) List(ctx context.Context, filter store.ListFilter) ([]model.WebhookQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []model.WebhookQueueEntry
	for _, entry := range s.entries {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]model.WebhookQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []model.WebhookQueueEntry
	for _, entry := range s.entries {
		if entry.Status != model.StatusPendingRetry {
			continue
		}
		if entry.NextRetryAt == nil || entry.NextRetryAt.After(now) {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].NextRetryAt.Before(*entries[j].NextRetryAt)
	})

	if limit <= 0 {
		limit = 100
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) ClaimDue(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.Status != model.StatusPendingRetry {
		return false, nil
	}
	if entry.NextRetryAt == nil || entry.NextRetryAt.After(now) {
		return false, nil
	}

	claimed := now.Add(lease)
	entry.NextRetryAt = &claimed
	s.entries[id] = entry
	return true, nil
}

func (s *Store) Update(ctx context.Context, entry *model.WebhookQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[entry.ID]
	if !ok {
		return store.ErrNotFound
	}

	existing.Attempt = entry.Attempt
	existing.LastError = entry.LastError
	existing.LastAttemptAt = entry.LastAttemptAt
	existing.NextRetryAt = entry.NextRetryAt
	existing.Status = entry.Status
	s.entries[entry.ID] = existing
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *Store) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CountByStatus(ctx context.Context, status model.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, entry := range s.entries {
		if entry.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *Store) OldestPendingCreatedAt(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *time.Time
	for _, entry := range s.entries {
		if entry.Status != model.StatusPendingRetry {
			continue
		}
		createdAt := entry.CreatedAt
		if oldest == nil || createdAt.Before(*oldest) {
			oldest = &createdAt
		}
	}
	return oldest, nil
}
