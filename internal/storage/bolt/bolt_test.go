package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/google/uuid"
)

func TestUserStoreEmailIndex(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	users := store.Users()

	if err := users.Upsert(context.Background(), storage.User{
		ID:          "user-1",
		Email:       "Ada@Example.com",
		DisplayName: "Ada",
	}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	got, err := users.GetByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != "user-1" {
		t.Fatalf("expected user-1, got %s", got.ID)
	}
	if got.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %s", got.Email)
	}

	err = users.Upsert(context.Background(), storage.User{
		ID:    "user-2",
		Email: "ada@example.com",
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}
}

func TestUserStoreOAuthIndex(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	users := store.Users()

	if err := users.Upsert(context.Background(), storage.User{
		ID:            "user-1",
		Email:         "ada@example.com",
		OAuthProvider: "github",
		OAuthSubject:  "12345",
	}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	got, err := users.GetByOAuthSubject(context.Background(), "github", "12345")
	if err != nil {
		t.Fatalf("get by oauth subject: %v", err)
	}
	if got.ID != "user-1" {
		t.Fatalf("expected user-1, got %s", got.ID)
	}

	if _, err := users.GetByOAuthSubject(context.Background(), "google", "12345"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown provider, got %v", err)
	}
}

func TestProjectStoreOwnership(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	projects := store.Projects()

	for _, p := range []storage.Project{
		{ID: "proj-a", UserID: "user-1", Name: "API"},
		{ID: "proj-b", UserID: "user-1", Name: "Docs"},
		{ID: "proj-c", UserID: "user-2", Name: "Other"},
	} {
		if err := projects.Upsert(context.Background(), p); err != nil {
			t.Fatalf("upsert project: %v", err)
		}
	}

	mine, err := projects.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(mine))
	}

	if _, err := projects.Get(context.Background(), "user-1", "proj-c"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user's project, got %v", err)
	}
}

func TestSessionStoreOrderAndFilter(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Sessions()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	for i, projectID := range []string{"proj-a", "proj-b", "proj-a"} {
		start := base.Add(time.Duration(i) * time.Hour)
		if err := sessions.Append(context.Background(), storage.Session{
			ID:              "session-" + projectID + "-" + start.Format("15"),
			UserID:          "user-1",
			ProjectID:       projectID,
			ProjectName:     projectID,
			StartTime:       start,
			EndTime:         start.Add(30 * time.Minute),
			DurationMinutes: 30,
		}); err != nil {
			t.Fatalf("append session: %v", err)
		}
	}

	all, err := sessions.ListByUser(context.Background(), "user-1", storage.SessionFilter{})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.After(all[i-1].StartTime) {
			t.Fatalf("expected most-recent-first ordering")
		}
	}

	filtered, err := sessions.ListByUser(context.Background(), "user-1", storage.SessionFilter{ProjectID: "proj-a"})
	if err != nil {
		t.Fatalf("list filtered sessions: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 proj-a sessions, got %d", len(filtered))
	}

	limited, err := sessions.ListByUser(context.Background(), "user-1", storage.SessionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list limited sessions: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 session, got %d", len(limited))
	}
	if !limited[0].StartTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected second-newest session, got start %v", limited[0].StartTime)
	}
}

func TestSessionStoreRetention(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Sessions()
	old := time.Now().Add(-100 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	for i, start := range []time.Time{old, recent} {
		if err := sessions.Append(context.Background(), storage.Session{
			ID:        "session-" + string(rune('a'+i)),
			UserID:    "user-1",
			ProjectID: "proj-a",
			StartTime: start,
			EndTime:   start.Add(time.Hour),
		}); err != nil {
			t.Fatalf("append session: %v", err)
		}
	}

	deleted, err := sessions.DeleteOlderThan(context.Background(), "user-1", time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted session, got %d", deleted)
	}
}

func TestActiveSessionClaimRelease(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	active := store.ActiveSessions()
	session := storage.ActiveSession{
		UserID:      "user-1",
		ProjectID:   "proj-a",
		ProjectName: "API",
		StartTime:   time.Now().UTC(),
	}

	if err := active.Claim(context.Background(), session); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := active.Claim(context.Background(), session); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict on second claim, got %v", err)
	}

	released, err := active.Release(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.ProjectID != "proj-a" {
		t.Fatalf("expected proj-a, got %s", released.ProjectID)
	}

	if _, err := active.Release(context.Background(), "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second release, got %v", err)
	}
}

func TestActiveSessionConcurrentClaims(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	active := store.ActiveSessions()
	session := storage.ActiveSession{
		UserID:    "user-1",
		ProjectID: "proj-a",
		StartTime: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- active.Claim(context.Background(), session)
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected 1 winner and 1 conflict, got %d/%d", wins, conflicts)
	}
}

func TestMailQueueFIFO(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	mail := store.Mail()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	for i, subject := range []string{"first", "second", "third"} {
		if err := mail.Enqueue(context.Background(), storage.QueuedMail{
			To:         "ada@example.com",
			Subject:    subject,
			Body:       "hello",
			EnqueuedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	batch, err := mail.DequeueBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("dequeue batch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(batch))
	}
	if batch[0].Subject != "first" || batch[1].Subject != "second" {
		t.Fatalf("expected FIFO order, got %s, %s", batch[0].Subject, batch[1].Subject)
	}
	for _, m := range batch {
		if _, err := uuid.Parse(m.ID); err != nil {
			t.Fatalf("expected uuid mail id, got %q", m.ID)
		}
	}

	rest, err := mail.DequeueBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dequeue rest: %v", err)
	}
	if len(rest) != 1 || rest[0].Subject != "third" {
		t.Fatalf("expected remaining third message, got %v", rest)
	}
}

func TestMailQueueRequeueKeepsPosition(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	mail := store.Mail()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	for i, subject := range []string{"first", "second"} {
		if err := mail.Enqueue(context.Background(), storage.QueuedMail{
			To:         "ada@example.com",
			Subject:    subject,
			EnqueuedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	batch, err := mail.DequeueBatch(context.Background(), 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 1 || batch[0].Subject != "first" {
		t.Fatalf("expected oldest message, got %v", batch)
	}

	failed := batch[0]
	failed.Attempts++
	if err := mail.Requeue(context.Background(), failed); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	rest, err := mail.DequeueBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dequeue rest: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(rest))
	}
	if rest[0].Subject != "first" || rest[0].Attempts != 1 {
		t.Fatalf("expected requeued message first with attempt recorded, got %+v", rest[0])
	}
	if rest[0].ID != failed.ID {
		t.Fatalf("expected requeued message to keep its id")
	}
}

func TestActiveSessionCount(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	active := store.ActiveSessions()

	if n, err := active.Count(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected empty count, got %d (%v)", n, err)
	}

	for _, userID := range []string{"user-1", "user-2"} {
		if err := active.Claim(context.Background(), storage.ActiveSession{
			UserID:    userID,
			ProjectID: "proj-a",
			StartTime: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("claim for %s: %v", userID, err)
		}
	}

	if n, err := active.Count(context.Background()); err != nil || n != 2 {
		t.Fatalf("expected count 2, got %d (%v)", n, err)
	}

	if _, err := active.Release(context.Background(), "user-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, err := active.Count(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected count 1 after release, got %d (%v)", n, err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "devtrack.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
