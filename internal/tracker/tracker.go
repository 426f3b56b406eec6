package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/devtrackhq/devtrack/internal/clock"
	"github.com/devtrackhq/devtrack/internal/metrics"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxNotesLength is the longest notes text accepted at stop time.
const MaxNotesLength = 2000

var (
	// ErrProjectRequired is returned by Start when no project id is given.
	ErrProjectRequired = errors.New("tracker: project id required")

	// ErrSessionRunning is returned by Start when a session is already running.
	ErrSessionRunning = errors.New("tracker: a session is already running")

	// ErrNoActiveSession is returned by Stop when no session is running.
	ErrNoActiveSession = errors.New("tracker: no active session")

	// ErrNotesTooLong is returned by Stop when notes exceed MaxNotesLength.
	ErrNotesTooLong = errors.New("tracker: notes too long")
)

// Tracker owns the session lifecycle: Start claims the per-user active
// slot, Stop releases it and appends the completed session to the ledger.
// Atomicity of the claim lives in the storage layer, so two concurrent
// starts resolve to one running session and one ErrSessionRunning.
type Tracker struct {
	store  storage.Store
	active storage.ActiveSessionStore
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a session tracker. The active store may differ from the
// primary store's when claims are delegated to Redis.
func New(store storage.Store, active storage.ActiveSessionStore, clk clock.Clock, logger zerolog.Logger) *Tracker {
	if active == nil {
		active = store.ActiveSessions()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{
		store:  store,
		active: active,
		clock:  clk,
		logger: logger.With().Str("component", "tracker").Logger(),
	}
}

// Start begins a session on the given project.
func (t *Tracker) Start(ctx context.Context, userID, projectID string) (*storage.ActiveSession, error) {
	if projectID == "" {
		return nil, ErrProjectRequired
	}

	project, err := t.store.Projects().Get(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}

	active := storage.ActiveSession{
		UserID:      userID,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		StartTime:   t.clock.Now().UTC(),
	}

	if err := t.active.Claim(ctx, active); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrSessionRunning
		}
		return nil, fmt.Errorf("claim active session: %w", err)
	}

	metrics.SessionsStarted.Inc()

	t.logger.Info().
		Str("user_id", userID).
		Str("project_id", project.ID).
		Time("start_time", active.StartTime).
		Msg("Session started")

	return &active, nil
}

// Stop ends the running session, attaching notes, and appends the result
// to the ledger. Duration is whole minutes, rounded, never negative.
func (t *Tracker) Stop(ctx context.Context, userID, notes string) (*storage.Session, error) {
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return nil, ErrNotesTooLong
	}

	active, err := t.active.Release(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("release active session: %w", err)
	}

	end := t.clock.Now().UTC()
	if end.Before(active.StartTime) {
		end = active.StartTime
	}

	session := storage.Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProjectID:       active.ProjectID,
		ProjectName:     active.ProjectName,
		StartTime:       active.StartTime,
		EndTime:         end,
		DurationMinutes: durationMinutes(active.StartTime, end),
		Notes:           notes,
	}

	if err := t.store.Sessions().Append(ctx, session); err != nil {
		// Put the claim back so a ledger failure leaves the session
		// running instead of losing the tracked time.
		if claimErr := t.active.Claim(ctx, *active); claimErr != nil {
			t.logger.Error().Err(claimErr).
				Str("user_id", userID).
				Msg("Failed to restore active session after ledger error")
		}
		return nil, fmt.Errorf("append session: %w", err)
	}

	metrics.SessionsCompleted.WithLabelValues(session.ProjectName).Inc()
	metrics.SessionMinutesRecorded.WithLabelValues(session.ProjectName).Add(float64(session.DurationMinutes))

	t.logger.Info().
		Str("user_id", userID).
		Str("session_id", session.ID).
		Str("project_id", session.ProjectID).
		Int("duration_minutes", session.DurationMinutes).
		Msg("Session stopped")

	return &session, nil
}

// Active returns the running session and its elapsed whole minutes, or
// storage.ErrNotFound when the user is idle.
func (t *Tracker) Active(ctx context.Context, userID string) (*storage.ActiveSession, int, error) {
	active, err := t.active.Get(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return active, durationMinutes(active.StartTime, t.clock.Now().UTC()), nil
}

func durationMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}
