package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cfprelay/cfprelay/pkg/model"
)

var ErrNotFound = errors.New("webhook queue entry not found")

// ListFilter narrows ListEntries results. Zero values mean "any".
type ListFilter struct {
	Status model.Status
	Type   model.EventType
	Limit  int
}

// EntryStore is the queue's system of record. Implementations must make
// every single-row operation atomic; the engine keeps no scheduling state
// outside the store.
type EntryStore interface {
	Create(ctx context.Context, entry *model.WebhookQueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.WebhookQueueEntry, error)
	List(ctx context.Context, filter ListFilter) ([]model.WebhookQueueEntry, error)

	/* ListDue returns pending entries whose next_retry_at has passed,
	 * oldest-due first. ClaimDue is the per-entry claim: it atomically
	 * pushes next_retry_at forward by the lease iff the entry is still
	 * pending and due, and reports whether this caller won the claim.
	 * A crashed worker's claim simply expires with the lease.
	 */
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.WebhookQueueEntry, error)
	ClaimDue(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error)

	Update(ctx context.Context, entry *model.WebhookQueueEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CountByStatus(ctx context.Context, status model.Status) (int64, error)
	// OldestPendingCreatedAt returns nil when no pending entries exist.
	OldestPendingCreatedAt(ctx context.Context) (*time.Time, error)
}
