package maintenance

import (
	"context"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/rs/zerolog"
)

// SessionCleaner prunes expired login sessions. The web auth service
// implements this.
type SessionCleaner interface {
	CleanupExpiredSessions() int
}

// Scheduler runs daily maintenance: ledger retention and login session
// cleanup.
type Scheduler struct {
	users       storage.UserStore
	ledger      storage.SessionStore
	cleaner     SessionCleaner
	runAt       time.Time // Time of day to run (only hour and minute are used)
	sessionDays int       // 0 disables ledger pruning
	logger      zerolog.Logger
	stopChan    chan struct{}
}

// NewScheduler creates a new maintenance scheduler. runAt is HH:MM.
func NewScheduler(users storage.UserStore, ledger storage.SessionStore, cleaner SessionCleaner, runAt string, sessionDays int, logger zerolog.Logger) (*Scheduler, error) {
	parsedTime, err := time.Parse("15:04", runAt)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		users:       users,
		ledger:      ledger,
		cleaner:     cleaner,
		runAt:       parsedTime,
		sessionDays: sessionDays,
		logger:      logger.With().Str("component", "maintenance").Logger(),
		stopChan:    make(chan struct{}),
	}, nil
}

// Start begins the maintenance scheduler.
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().
		Str("run_at", s.runAt.Format("15:04")).
		Int("session_days", s.sessionDays).
		Msg("Daily maintenance scheduler started")
}

// Stop stops the maintenance scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Daily maintenance scheduler stopped")
}

// run is the main scheduler loop.
func (s *Scheduler) run() {
	for {
		nextRun := s.calculateNextRun()
		waitDuration := time.Until(nextRun)

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next maintenance run")

		select {
		case <-time.After(waitDuration):
			s.Run()
		case <-s.stopChan:
			return
		}
	}
}

// calculateNextRun calculates the next run time.
func (s *Scheduler) calculateNextRun() time.Time {
	now := time.Now()

	todayRun := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.runAt.Hour(), s.runAt.Minute(), 0, 0,
		now.Location(),
	)

	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1)
	}

	return todayRun
}

// Run performs one maintenance pass.
func (s *Scheduler) Run() {
	s.logger.Info().Msg("Performing daily maintenance")

	if s.cleaner != nil {
		count := s.cleaner.CleanupExpiredSessions()
		if count > 0 {
			s.logger.Info().Int("count", count).Msg("Expired login sessions removed")
		}
	}

	if s.sessionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	users, err := s.users.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users for retention")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.sessionDays)
	deleted := 0
	for _, user := range users {
		n, err := s.ledger.DeleteOlderThan(ctx, user.ID, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to prune session ledger")
			continue
		}
		deleted += n
	}

	s.logger.Info().
		Int("sessions_deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Daily maintenance complete")
}
