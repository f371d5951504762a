package queue

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/taduranmiggy/loveyou/internal/events"
	"github.com/taduranmiggy/loveyou/internal/model"
	"github.com/taduranmiggy/loveyou/internal/store"
)

func openTestStore(t *testing.T, name string) *store.LocalStore {
	t.Helper()
	s, err := store.OpenLocal(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("OpenLocal() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

// flakyStore wraps a real store and fails the first failUpserts intake
// writes with a retryable error.
type flakyStore struct {
	store.Store
	failUpserts int
	calls       int
}

func (f *flakyStore) UpsertIntakeEvent(ctx context.Context, userID, date string, taken bool, note string) (*model.IntakeEvent, error) {
	f.calls++
	if f.calls <= f.failUpserts {
		return nil, fmt.Errorf("simulated outage: %w", store.ErrUnavailable)
	}
	return f.Store.UpsertIntakeEvent(ctx, userID, date, taken, note)
}

func setupManager(t *testing.T, target store.Store) (*Manager, *store.LocalStore, string) {
	t.Helper()
	journal := openTestStore(t, "journal.db")
	user, err := journal.CreateUser(context.Background(), "q@example.com", "pw-123456", "")
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	m := New(journal, target, events.NewBus(), quietConfig())
	return m, journal, user.ID
}

// TestDrain_AppliesInOrder tests that queued mutations reach the target
// in insertion order and are removed once applied
func TestDrain_AppliesInOrder(t *testing.T) {
	target := openTestStore(t, "target.db")
	m, journal, _ := setupManager(t, target)
	ctx := context.Background()

	targetUser, err := target.CreateUser(ctx, "q@example.com", "pw-123456", "")
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}

	dates := []string{"2026-04-01", "2026-04-02", "2026-04-03"}
	for _, d := range dates {
		if err := m.EnqueueUpsertIntake(ctx, targetUser.ID, d, true, ""); err != nil {
			t.Fatalf("EnqueueUpsertIntake(%s) failed: %v", d, err)
		}
	}

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	history, err := target.IntakeHistory(ctx, targetUser.ID, "", "")
	if err != nil {
		t.Fatalf("IntakeHistory() failed: %v", err)
	}
	if len(history) != len(dates) {
		t.Fatalf("Target has %d events, want %d", len(history), len(dates))
	}
	for i, d := range dates {
		if history[i].Date != d {
			t.Errorf("history[%d].Date = %s, want %s", i, history[i].Date, d)
		}
	}

	n, err := journal.QueueLen(ctx)
	if err != nil {
		t.Fatalf("QueueLen() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("QueueLen() = %d after drain, want 0", n)
	}
}

// TestDrain_HaltsOnFailure tests that the first retryable failure stops
// the cycle with everything still queued in position
func TestDrain_HaltsOnFailure(t *testing.T) {
	backing := openTestStore(t, "target.db")
	target := &flakyStore{Store: backing, failUpserts: 1}
	m, journal, userID := setupManager(t, target)
	ctx := context.Background()

	for _, d := range []string{"2026-04-01", "2026-04-02"} {
		if err := m.EnqueueUpsertIntake(ctx, userID, d, true, ""); err != nil {
			t.Fatalf("EnqueueUpsertIntake(%s) failed: %v", d, err)
		}
	}

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain() returned %v, want nil on halted cycle", err)
	}

	items, err := journal.QueueList(ctx)
	if err != nil {
		t.Fatalf("QueueList() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Queue has %d items after halted drain, want 2", len(items))
	}
	if items[0].RetryCount != 1 {
		t.Errorf("First item RetryCount = %d, want 1", items[0].RetryCount)
	}
	if items[1].RetryCount != 0 {
		t.Errorf("Second item RetryCount = %d, want 0 (never attempted)", items[1].RetryCount)
	}
	if target.calls != 1 {
		t.Errorf("Target saw %d attempts, want 1", target.calls)
	}
}

// TestDrain_DeadLetterAfterCap tests that an item failing MaxRetries
// times is reported exactly once and discarded
func TestDrain_DeadLetterAfterCap(t *testing.T) {
	backing := openTestStore(t, "target.db")
	target := &flakyStore{Store: backing, failUpserts: 1 << 30}

	journal := openTestStore(t, "journal.db")
	user, err := journal.CreateUser(context.Background(), "q@example.com", "pw-123456", "")
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}

	var deadLettered []store.QueueItem
	cfg := quietConfig()
	cfg.OnDeadLetter = func(item store.QueueItem, err error) {
		deadLettered = append(deadLettered, item)
	}
	m := New(journal, target, events.NewBus(), cfg)
	ctx := context.Background()

	if err := m.EnqueueUpsertIntake(ctx, user.ID, "2026-04-01", true, ""); err != nil {
		t.Fatalf("EnqueueUpsertIntake() failed: %v", err)
	}

	for i := 0; i < MaxRetries; i++ {
		if err := m.Drain(ctx); err != nil {
			t.Fatalf("Drain() #%d failed: %v", i+1, err)
		}
	}

	if len(deadLettered) != 1 {
		t.Fatalf("OnDeadLetter called %d times, want exactly 1", len(deadLettered))
	}
	if target.calls != MaxRetries {
		t.Errorf("Target saw %d attempts, want %d", target.calls, MaxRetries)
	}

	n, err := journal.QueueLen(ctx)
	if err != nil {
		t.Fatalf("QueueLen() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("QueueLen() = %d, want 0 after dead-letter", n)
	}

	// Further drains are no-ops.
	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain() on empty queue failed: %v", err)
	}
	if target.calls != MaxRetries {
		t.Errorf("Dead-lettered item was retried: %d attempts", target.calls)
	}
}

// TestDrain_HaltsAfterOutageDeadLetter tests that dead-lettering an item
// over a transient failure stops the cycle instead of burning a retry on
// every item behind it
func TestDrain_HaltsAfterOutageDeadLetter(t *testing.T) {
	backing := openTestStore(t, "target.db")
	target := &flakyStore{Store: backing, failUpserts: 1 << 30}
	m, journal, userID := setupManager(t, target)
	ctx := context.Background()

	for _, d := range []string{"2026-04-01", "2026-04-02"} {
		if err := m.EnqueueUpsertIntake(ctx, userID, d, true, ""); err != nil {
			t.Fatalf("EnqueueUpsertIntake(%s) failed: %v", d, err)
		}
	}

	items, err := journal.QueueList(ctx)
	if err != nil {
		t.Fatalf("QueueList() failed: %v", err)
	}
	// Head is one attempt away from the cap.
	if err := journal.QueueSetRetry(ctx, items[0].ID, MaxRetries-1); err != nil {
		t.Fatalf("QueueSetRetry() failed: %v", err)
	}

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain() returned %v, want nil on halted cycle", err)
	}

	if target.calls != 1 {
		t.Errorf("Target saw %d attempts, want 1 (second item untouched)", target.calls)
	}
	items, err = journal.QueueList(ctx)
	if err != nil {
		t.Fatalf("QueueList() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Queue has %d items, want only the untouched second item", len(items))
	}
	if items[0].RetryCount != 0 {
		t.Errorf("Second item RetryCount = %d, want 0", items[0].RetryCount)
	}
}

// TestDrain_MalformedPayloadDeadLettersImmediately tests that a payload
// the target can never apply does not burn retries
func TestDrain_MalformedPayloadDeadLettersImmediately(t *testing.T) {
	target := openTestStore(t, "target.db")

	journal := openTestStore(t, "journal.db")
	ctx := context.Background()
	if _, err := journal.QueueAppend(ctx, "bad-1", "no_such_action", []byte(`{}`), time.Now()); err != nil {
		t.Fatalf("QueueAppend() failed: %v", err)
	}

	var reported int
	cfg := quietConfig()
	cfg.OnDeadLetter = func(item store.QueueItem, err error) { reported++ }
	m := New(journal, target, events.NewBus(), cfg)

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if reported != 1 {
		t.Errorf("OnDeadLetter called %d times, want 1", reported)
	}
	n, _ := journal.QueueLen(ctx)
	if n != 0 {
		t.Errorf("QueueLen() = %d, want 0", n)
	}
}

// TestEnqueue_RejectsInvalidMutation tests validation before journaling
func TestEnqueue_RejectsInvalidMutation(t *testing.T) {
	target := openTestStore(t, "target.db")
	m, journal, userID := setupManager(t, target)
	ctx := context.Background()

	if err := m.EnqueueUpsertIntake(ctx, userID, "not-a-date", true, ""); err == nil {
		t.Error("EnqueueUpsertIntake() with bad date succeeded, want error")
	}
	if err := m.EnqueueUpsertIntake(ctx, "", "2026-04-01", true, ""); err == nil {
		t.Error("EnqueueUpsertIntake() with empty user succeeded, want error")
	}

	n, err := journal.QueueLen(ctx)
	if err != nil {
		t.Fatalf("QueueLen() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("QueueLen() = %d, want 0 after rejected enqueues", n)
	}
}
