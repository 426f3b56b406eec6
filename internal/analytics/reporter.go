package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/devtrackhq/devtrack/internal/clock"
	"github.com/devtrackhq/devtrack/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultCacheSize bounds the per-user summary cache.
const DefaultCacheSize = 1024

// Summary is the dashboard read model for one user.
type Summary struct {
	TotalHours    float64   `json:"total_hours"`
	AverageDaily  float64   `json:"average_daily"`
	CurrentStreak int       `json:"current_streak"`
	SessionsCount int       `json:"sessions_count"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Reporter computes analytics read models from the ledger, caching
// per-user summaries until the next session stop invalidates them.
type Reporter struct {
	store  storage.Store
	clock  clock.Clock
	loc    *time.Location
	cache  *lru.Cache[string, Summary]
	logger zerolog.Logger
}

// NewReporter creates a Reporter. loc is the time zone used for calendar
// bucketing; nil means the process-local zone.
func NewReporter(store storage.Store, clk clock.Clock, loc *time.Location, logger zerolog.Logger) (*Reporter, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	cache, err := lru.New[string, Summary](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create summary cache: %w", err)
	}
	return &Reporter{
		store:  store,
		clock:  clk,
		loc:    loc,
		cache:  cache,
		logger: logger.With().Str("component", "analytics").Logger(),
	}, nil
}

// Summary returns the cached dashboard summary for a user, computing it
// from the ledger on a miss.
func (r *Reporter) Summary(ctx context.Context, userID string) (Summary, error) {
	if cached, ok := r.cache.Get(userID); ok {
		return cached, nil
	}

	sessions, err := r.store.Sessions().ListByUser(ctx, userID, storage.SessionFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("list sessions: %w", err)
	}

	now := r.clock.Now()
	summary := Summary{
		TotalHours:    TotalHours(sessions),
		AverageDaily:  AverageDaily(sessions, now, r.loc),
		CurrentStreak: CurrentStreak(sessions, now, r.loc),
		SessionsCount: len(sessions),
		GeneratedAt:   now.UTC(),
	}

	r.cache.Add(userID, summary)
	return summary, nil
}

// Daily returns per-day hour totals for the trailing windowDays days.
func (r *Reporter) Daily(ctx context.Context, userID string, windowDays int) ([]DayTotal, error) {
	sessions, err := r.store.Sessions().ListByUser(ctx, userID, storage.SessionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return DailyHours(sessions, r.clock.Now(), windowDays, r.loc), nil
}

// ByProject returns the per-project hour distribution, zero-session
// projects included.
func (r *Reporter) ByProject(ctx context.Context, userID string) ([]ProjectHours, error) {
	projects, err := r.store.Projects().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	sessions, err := r.store.Sessions().ListByUser(ctx, userID, storage.SessionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return HoursByProject(projects, sessions), nil
}

// Streak returns the current consecutive-day streak.
func (r *Reporter) Streak(ctx context.Context, userID string) (int, error) {
	sessions, err := r.store.Sessions().ListByUser(ctx, userID, storage.SessionFilter{})
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	return CurrentStreak(sessions, r.clock.Now(), r.loc), nil
}

// Invalidate drops the cached summary for a user. Called after a session
// stop so the next read reflects the new ledger entry.
func (r *Reporter) Invalidate(userID string) {
	r.cache.Remove(userID)
}
