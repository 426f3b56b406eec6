package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devtrackhq/devtrack/internal/clock"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/devtrackhq/devtrack/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func setupTracker(t *testing.T) (*Tracker, *clock.TestClock, storage.Store) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "devtrack.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Projects().Upsert(context.Background(), storage.Project{
		ID:     "proj-a",
		UserID: "user-1",
		Name:   "API",
	}); err != nil {
		t.Fatalf("upsert project: %v", err)
	}

	clk := &clock.TestClock{CurrentTime: time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)}
	return New(store, nil, clk, zerolog.Nop()), clk, store
}

func TestStartRecordsClockTime(t *testing.T) {
	tracker, clk, _ := setupTracker(t)

	active, err := tracker.Start(context.Background(), "user-1", "proj-a")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !active.StartTime.Equal(clk.CurrentTime) {
		t.Fatalf("expected start time %v, got %v", clk.CurrentTime, active.StartTime)
	}
	if active.ProjectName != "API" {
		t.Fatalf("expected denormalized project name, got %q", active.ProjectName)
	}
}

func TestStartValidation(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	if _, err := tracker.Start(context.Background(), "user-1", ""); !errors.Is(err, ErrProjectRequired) {
		t.Fatalf("expected ErrProjectRequired, got %v", err)
	}

	if _, err := tracker.Start(context.Background(), "user-1", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
}

func TestStartWhileRunningConflicts(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); !errors.Is(err, ErrSessionRunning) {
		t.Fatalf("expected ErrSessionRunning, got %v", err)
	}
}

func TestConcurrentStartsOneWinner(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Start(context.Background(), "user-1", "proj-a")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	running, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			running++
		case errors.Is(err, ErrSessionRunning):
			conflicts++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if running != 1 || conflicts != 1 {
		t.Fatalf("expected 1 running and 1 conflict, got %d/%d", running, conflicts)
	}
}

func TestStopComputesRoundedMinutes(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want    int
	}{
		{"ninety minutes", 90 * time.Minute, 90},
		{"rounds up", 25*time.Minute + 40*time.Second, 26},
		{"rounds down", 25*time.Minute + 20*time.Second, 25},
		{"zero elapsed", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, clk, _ := setupTracker(t)

			if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
				t.Fatalf("start: %v", err)
			}
			clk.Advance(tt.advance)

			session, err := tracker.Stop(context.Background(), "user-1", "")
			if err != nil {
				t.Fatalf("stop: %v", err)
			}
			if session.DurationMinutes != tt.want {
				t.Fatalf("expected %d minutes, got %d", tt.want, session.DurationMinutes)
			}
			if session.DurationMinutes < 0 {
				t.Fatalf("duration must never be negative")
			}
			if session.EndTime.Before(session.StartTime) {
				t.Fatalf("end time before start time")
			}
		})
	}
}

func TestStopAttachesNotesVerbatim(t *testing.T) {
	tracker, clk, _ := setupTracker(t)

	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(10 * time.Minute)

	notes := "  refactored the handler \n"
	session, err := tracker.Stop(context.Background(), "user-1", notes)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if session.Notes != notes {
		t.Fatalf("expected notes verbatim, got %q", session.Notes)
	}
}

func TestStopWithoutNotesLeavesNotesEmpty(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	session, err := tracker.Stop(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if session.Notes != "" {
		t.Fatalf("expected empty notes, got %q", session.Notes)
	}
}

func TestStopNotesLengthBound(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	tooLong := strings.Repeat("x", MaxNotesLength+1)
	if _, err := tracker.Stop(context.Background(), "user-1", tooLong); !errors.Is(err, ErrNotesTooLong) {
		t.Fatalf("expected ErrNotesTooLong, got %v", err)
	}

	// The rejected stop must not have released the session.
	atLimit := strings.Repeat("x", MaxNotesLength)
	session, err := tracker.Stop(context.Background(), "user-1", atLimit)
	if err != nil {
		t.Fatalf("stop at limit: %v", err)
	}
	if len(session.Notes) != MaxNotesLength {
		t.Fatalf("expected notes kept at limit, got %d chars", len(session.Notes))
	}
}

type failingLedger struct {
	storage.SessionStore
	appendErr error
}

func (f *failingLedger) Append(context.Context, storage.Session) error {
	return f.appendErr
}

type failingLedgerStore struct {
	storage.Store
	ledger *failingLedger
}

func (s *failingLedgerStore) Sessions() storage.SessionStore { return s.ledger }

func TestStopRestoresSessionOnLedgerError(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "devtrack.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Projects().Upsert(context.Background(), storage.Project{
		ID:     "proj-a",
		UserID: "user-1",
		Name:   "API",
	}); err != nil {
		t.Fatalf("upsert project: %v", err)
	}

	failing := &failingLedgerStore{
		Store:  store,
		ledger: &failingLedger{SessionStore: store.Sessions(), appendErr: errors.New("disk full")},
	}
	clk := &clock.TestClock{CurrentTime: time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)}
	tracker := New(failing, nil, clk, zerolog.Nop())

	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(20 * time.Minute)

	if _, err := tracker.Stop(context.Background(), "user-1", ""); err == nil {
		t.Fatalf("expected stop to fail when the ledger write fails")
	}

	// The failed stop must leave the session running and recoverable.
	active, elapsed, err := tracker.Active(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("active after failed stop: %v", err)
	}
	if active.ProjectID != "proj-a" {
		t.Fatalf("expected proj-a still running, got %s", active.ProjectID)
	}
	if elapsed != 20 {
		t.Fatalf("expected 20 elapsed minutes preserved, got %d", elapsed)
	}

	ledger, err := store.Sessions().ListByUser(context.Background(), "user-1", storage.SessionFilter{})
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(ledger) != 0 {
		t.Fatalf("expected empty ledger, got %d entries", len(ledger))
	}
}

func TestStopWhenIdleConflicts(t *testing.T) {
	tracker, _, _ := setupTracker(t)

	if _, err := tracker.Stop(context.Background(), "user-1", ""); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestStopAppendsToLedger(t *testing.T) {
	tracker, clk, store := setupTracker(t)

	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(45 * time.Minute)

	session, err := tracker.Stop(context.Background(), "user-1", "done")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	stored, err := store.Sessions().Get(context.Background(), "user-1", session.ID)
	if err != nil {
		t.Fatalf("get stored session: %v", err)
	}
	if stored.DurationMinutes != 45 {
		t.Fatalf("expected 45 minutes in ledger, got %d", stored.DurationMinutes)
	}
}

func TestActiveReportsElapsed(t *testing.T) {
	tracker, clk, _ := setupTracker(t)

	if _, _, err := tracker.Active(context.Background(), "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when idle, got %v", err)
	}

	if _, err := tracker.Start(context.Background(), "user-1", "proj-a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(30 * time.Minute)

	active, elapsed, err := tracker.Active(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ProjectID != "proj-a" {
		t.Fatalf("expected proj-a, got %s", active.ProjectID)
	}
	if elapsed != 30 {
		t.Fatalf("expected 30 elapsed minutes, got %d", elapsed)
	}
}
