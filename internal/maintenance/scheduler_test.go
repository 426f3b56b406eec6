package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/devtrackhq/devtrack/internal/storage/bolt"
	"github.com/rs/zerolog"
)

type countingCleaner struct {
	calls int
}

func (c *countingCleaner) CleanupExpiredSessions() int {
	c.calls++
	return 0
}

func TestSchedulerRejectsBadTime(t *testing.T) {
	if _, err := NewScheduler(nil, nil, nil, "25:99", 0, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid run time")
	}
}

func TestRunPrunesOldSessions(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "devtrack.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.Users().Upsert(ctx, storage.User{ID: "user-1", Email: "ada@example.com"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	now := time.Now().UTC()
	sessions := []storage.Session{
		{ID: "old", UserID: "user-1", ProjectID: "p", ProjectName: "P", StartTime: now.AddDate(0, 0, -120), EndTime: now.AddDate(0, 0, -120).Add(time.Hour), DurationMinutes: 60},
		{ID: "recent", UserID: "user-1", ProjectID: "p", ProjectName: "P", StartTime: now.Add(-time.Hour), EndTime: now, DurationMinutes: 60},
	}
	for _, sess := range sessions {
		if err := store.Sessions().Append(ctx, sess); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cleaner := &countingCleaner{}
	sched, err := NewScheduler(store.Users(), store.Sessions(), cleaner, "03:00", 90, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	sched.Run()

	if cleaner.calls != 1 {
		t.Fatalf("expected 1 cleanup call, got %d", cleaner.calls)
	}

	remaining, err := store.Sessions().ListByUser(ctx, "user-1", storage.SessionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "recent" {
		t.Fatalf("expected only the recent session to survive, got %v", remaining)
	}
}

func TestCalculateNextRunIsInFuture(t *testing.T) {
	sched, err := NewScheduler(nil, nil, nil, "03:00", 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	next := sched.calculateNextRun()
	if !next.After(time.Now()) {
		t.Fatalf("next run %v is not in the future", next)
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Fatalf("next run %v is not at 03:00", next)
	}
}
