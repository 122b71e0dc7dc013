package dlq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/delivery"
	"github.com/cfprelay/cfprelay/pkg/model"
	"github.com/cfprelay/cfprelay/pkg/store"
	"github.com/cfprelay/cfprelay/pkg/store/memory"
)

// fakeSender scripts delivery outcomes per attempt.
type fakeSender struct {
	mu       sync.Mutex
	calls    int
	outcome  func(call int) delivery.Outcome
	perCall  time.Duration
	lastURL  string
	lastBody string
}

func (f *fakeSender) Attempt(ctx context.Context, webhookURL, payload string) delivery.Outcome {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.lastURL = webhookURL
	f.lastBody = payload
	f.mu.Unlock()

	if f.perCall > 0 {
		time.Sleep(f.perCall)
	}
	return f.outcome(call)
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func alwaysFail(message string) func(int) delivery.Outcome {
	return func(int) delivery.Outcome {
		return delivery.Outcome{Error: message, StatusCode: 503}
	}
}

func newTestManager(t *testing.T, sender Sender) (*Manager, *memory.Store) {
	t.Helper()
	memStore := memory.NewStore()
	manager := NewManager(memStore, sender, nil, zap.NewNop(), 4, time.Minute)
	return manager, memStore
}

func TestEnqueueRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t, &fakeSender{outcome: alwaysFail("unused")})

	cases := []struct {
		name       string
		eventID    string
		eventType  model.EventType
		payload    string
		webhookURL string
	}{
		{"missing event id", "", model.EventSubmissionCreated, `{}`, "https://cfp.directory/hooks"},
		{"unknown event type", "evt-1", "submission.deleted", `{}`, "https://cfp.directory/hooks"},
		{"invalid payload", "evt-1", model.EventSubmissionCreated, `{not json`, "https://cfp.directory/hooks"},
		{"bad scheme", "evt-1", model.EventSubmissionCreated, `{}`, "ftp://cfp.directory/hooks"},
		{"no host", "evt-1", model.EventSubmissionCreated, `{}`, "https://"},
	}

	for _, tc := range cases {
		_, err := manager.Enqueue(ctx, tc.eventID, tc.eventType, tc.payload, tc.webhookURL)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestEnqueueCreatesImmediatelyDueEntry(t *testing.T) {
	ctx := context.Background()
	manager, memStore := newTestManager(t, &fakeSender{outcome: alwaysFail("unused")})

	entry, err := manager.Enqueue(ctx, "evt-42", model.EventMessageSent, `{"body":"hi"}`, "https://cfp.directory/hooks")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if entry.Attempt != 0 {
		t.Fatalf("expected attempt 0, got %d", entry.Attempt)
	}
	if entry.Status != model.StatusPendingRetry {
		t.Fatalf("expected pending_retry, got %s", entry.Status)
	}
	if entry.NextRetryAt == nil || entry.NextRetryAt.After(time.Now()) {
		t.Fatal("entry must be eligible for immediate processing")
	}

	due, err := memStore.ListDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due entry, got %d", len(due))
	}
}

func TestFiveConsecutiveFailuresDeadLetter(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{outcome: alwaysFail("connection refused")}
	manager, memStore := newTestManager(t, sender)

	clock := time.Now()
	manager.now = func() time.Time { return clock }

	entry, err := manager.Enqueue(ctx, "evt-1", model.EventSubmissionCreated, `{"id":1}`, "https://cfp.directory/hooks")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for round := 1; round <= 5; round++ {
		processed, err := manager.ProcessDueRetries(ctx, 10)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if processed != 1 {
			t.Fatalf("round %d: expected 1 processed, got %d", round, processed)
		}
		// Jump past any scheduled backoff before the next round.
		clock = clock.Add(2 * time.Hour)
	}

	final, err := memStore.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != model.StatusDeadLetter {
		t.Fatalf("expected dead_letter, got %s", final.Status)
	}
	if final.Attempt != 5 {
		t.Fatalf("expected attempt 5, got %d", final.Attempt)
	}
	if final.NextRetryAt != nil {
		t.Fatal("dead-lettered entry must have nil nextRetryAt")
	}
	if final.LastError == nil || *final.LastError != "connection refused" {
		t.Fatalf("expected recorded last error, got %v", final.LastError)
	}

	// Dead-lettered entries stay put: no further attempts happen.
	processed, err := manager.ProcessDueRetries(ctx, 10)
	if err != nil {
		t.Fatalf("post-dead-letter batch: %v", err)
	}
	if processed != 0 || sender.callCount() != 5 {
		t.Fatalf("expected no further attempts, processed=%d calls=%d", processed, sender.callCount())
	}
}

func TestSuccessOnThirdAttempt(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{outcome: func(call int) delivery.Outcome {
		if call < 3 {
			return delivery.Outcome{Error: "upstream 500", StatusCode: 500}
		}
		return delivery.Outcome{Success: true, StatusCode: 200}
	}}
	manager, memStore := newTestManager(t, sender)

	clock := time.Now()
	manager.now = func() time.Time { return clock }

	entry, err := manager.Enqueue(ctx, "evt-2", model.EventStatusUpdated, `{"status":"accepted"}`, "https://cfp.directory/hooks")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for round := 1; round <= 3; round++ {
		if _, err := manager.ProcessDueRetries(ctx, 10); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		clock = clock.Add(2 * time.Hour)
	}

	final, err := memStore.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %s", final.Status)
	}
	if final.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", final.Attempt)
	}
	if final.NextRetryAt != nil {
		t.Fatal("successful entry must have nil nextRetryAt")
	}
}

func TestRetryFailureSchedulesBackoff(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{outcome: alwaysFail("timeout")}
	manager, memStore := newTestManager(t, sender)

	clock := time.Now()
	manager.now = func() time.Time { return clock }

	entry, err := manager.Enqueue(ctx, "evt-3", model.EventSpeakerReply, `{}`, "https://cfp.directory/hooks")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := manager.ProcessDueRetries(ctx, 10); err != nil {
		t.Fatalf("ProcessDueRetries: %v", err)
	}

	after, err := memStore.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.Status != model.StatusPendingRetry {
		t.Fatalf("expected pending_retry, got %s", after.Status)
	}
	if after.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", after.Attempt)
	}
	// First failure reschedules exactly base delay ahead.
	want := clock.Add(1000 * time.Millisecond)
	if after.NextRetryAt == nil || !after.NextRetryAt.Equal(want) {
		t.Fatalf("expected nextRetryAt %v, got %v", want, after.NextRetryAt)
	}
}

func TestLastErrorTruncatedTo1000Characters(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{outcome: alwaysFail(strings.Repeat("e", 2000))}
	manager, memStore := newTestManager(t, sender)

	entry, err := manager.Enqueue(ctx, "evt-4", model.EventProfileUpdated, `{}`, "https://cfp.directory/hooks")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := manager.ProcessDueRetries(ctx, 10); err != nil {
		t.Fatalf("ProcessDueRetries: %v", err)
	}

	after, err := memStore.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.LastError == nil || len(*after.LastError) != 1000 {
		t.Fatalf("expected exactly 1000 characters of last error, got %v", after.LastError)
	}
}

func TestReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	manager, memStore := newTestManager(t, &fakeSender{outcome: alwaysFail("down")})

	lastError := "gone"
	dead := &model.WebhookQueueEntry{
		ID:         uuid.New(),
		EventID:    "evt-5",
		Type:       model.EventConsentRevoked,
		Payload:    `{}`,
		WebhookURL: "https://cfp.directory/hooks",
		Attempt:    5,
		LastError:  &lastError,
		Status:     model.StatusDeadLetter,
		CreatedAt:  time.Now(),
	}
	if err := memStore.Create(ctx, dead); err != nil {
		t.Fatalf("create: %v", err)
	}

	replayed, err := manager.Replay(ctx, dead.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.Status != model.StatusPendingRetry {
		t.Fatalf("expected pending_retry, got %s", replayed.Status)
	}
	if replayed.Attempt != 0 {
		t.Fatalf("expected attempt reset to 0, got %d", replayed.Attempt)
	}
	if replayed.NextRetryAt == nil || replayed.NextRetryAt.After(time.Now()) {
		t.Fatal("replayed entry must be due immediately")
	}
	if replayed.LastError == nil {
		t.Fatal("replay must keep the error history")
	}
}

func TestReplayErrorKinds(t *testing.T) {
	ctx := context.Background()
	manager, memStore := newTestManager(t, &fakeSender{outcome: alwaysFail("down")})

	if _, err := manager.Replay(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Now()
	pending := &model.WebhookQueueEntry{
		ID:          uuid.New(),
		EventID:     "evt-6",
		Type:        model.EventMessageRead,
		Payload:     `{}`,
		WebhookURL:  "https://cfp.directory/hooks",
		Status:      model.StatusPendingRetry,
		NextRetryAt: &now,
		CreatedAt:   now,
	}
	if err := memStore.Create(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := manager.Replay(ctx, pending.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	manager, memStore := newTestManager(t, &fakeSender{outcome: alwaysFail("down")})

	stats, err := manager.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.PendingRetry != 0 || stats.DeadLetter != 0 || stats.SuccessfulRetries != 0 {
		t.Fatalf("expected zero counts, got %+v", stats)
	}
	if stats.OldestPending != nil {
		t.Fatal("expected nil oldestPending for empty queue")
	}

	base := time.Now()
	oldest := base.Add(-30 * time.Minute)
	seed := func(status model.Status, count int, createdAt time.Time) {
		for i := 0; i < count; i++ {
			next := base
			entry := &model.WebhookQueueEntry{
				ID:          uuid.New(),
				EventID:     "evt",
				Type:        model.EventSubmissionUpdated,
				Payload:     `{}`,
				WebhookURL:  "https://cfp.directory/hooks",
				Status:      status,
				NextRetryAt: &next,
				CreatedAt:   createdAt,
			}
			if err := memStore.Create(ctx, entry); err != nil {
				t.Fatalf("create: %v", err)
			}
			createdAt = createdAt.Add(time.Minute)
		}
	}
	seed(model.StatusPendingRetry, 5, oldest)
	seed(model.StatusDeadLetter, 2, base)
	seed(model.StatusSuccess, 10, base)

	stats, err = manager.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.PendingRetry != 5 || stats.DeadLetter != 2 || stats.SuccessfulRetries != 10 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.OldestPending == nil || !stats.OldestPending.Equal(oldest) {
		t.Fatalf("expected oldestPending %v, got %v", oldest, stats.OldestPending)
	}
}

func TestCleanupAbandonedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	manager, memStore := newTestManager(t, &fakeSender{outcome: alwaysFail("down")})

	now := time.Now()
	stale := &model.WebhookQueueEntry{
		ID:         uuid.New(),
		EventID:    "evt-old",
		Type:       model.EventSubmissionCreated,
		Payload:    `{}`,
		WebhookURL: "https://cfp.directory/hooks",
		Status:     model.StatusDeadLetter,
		CreatedAt:  now.Add(-8 * 24 * time.Hour),
	}
	fresh := &model.WebhookQueueEntry{
		ID:          uuid.New(),
		EventID:     "evt-new",
		Type:        model.EventSubmissionCreated,
		Payload:     `{}`,
		WebhookURL:  "https://cfp.directory/hooks",
		Status:      model.StatusPendingRetry,
		NextRetryAt: &now,
		CreatedAt:   now,
	}
	if err := memStore.Create(ctx, stale); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := memStore.Create(ctx, fresh); err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := manager.CleanupAbandoned(ctx)
	if err != nil {
		t.Fatalf("CleanupAbandoned: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}

	deleted, err = manager.CleanupAbandoned(ctx)
	if err != nil {
		t.Fatalf("CleanupAbandoned: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("second sweep must delete nothing, got %d", deleted)
	}

	if _, err := memStore.GetByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh entry must survive cleanup: %v", err)
	}
}

func TestConcurrentBatchesRecordSingleAttempt(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{outcome: alwaysFail("down"), perCall: 20 * time.Millisecond}
	manager, memStore := newTestManager(t, sender)

	entry, err := manager.Enqueue(ctx, "evt-7", model.EventSubmissionCreated, `{}`, "https://cfp.directory/hooks")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.ProcessDueRetries(ctx, 10); err != nil {
				t.Errorf("ProcessDueRetries: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := sender.callCount(); got != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", got)
	}
	after, err := memStore.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", after.Attempt)
	}
}

// failingStore simulates an unreachable queue store for the batch call.
type failingStore struct {
	store.EntryStore
}

func (f *failingStore) ListDue(ctx context.Context, now time.Time, limit int) ([]model.WebhookQueueEntry, error) {
	return nil, errors.New("connection reset by peer")
}

func TestProcessDueRetriesPropagatesStoreOutage(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(&failingStore{EntryStore: memory.NewStore()}, &fakeSender{outcome: alwaysFail("down")}, nil, zap.NewNop(), 4, time.Minute)

	if _, err := manager.ProcessDueRetries(ctx, 10); err == nil {
		t.Fatal("expected store outage to fail the batch call")
	}
}
