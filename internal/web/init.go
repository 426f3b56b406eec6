package web

import (
	"context"
	"errors"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EnsureInitialUser creates the bootstrap account if no users exist.
func EnsureInitialUser(ctx context.Context, store storage.UserStore, email, password string, logger zerolog.Logger) error {
	users, err := store.List(ctx)
	if err != nil {
		return err
	}

	if len(users) > 0 {
		logger.Info().Int("count", len(users)).Msg("Users already exist")
		return nil
	}

	if email == "" {
		email = "admin@localhost"
	}

	if password == "" {
		return errors.New("initial password cannot be empty")
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	user := storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  "Administrator",
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.Upsert(ctx, user); err != nil {
		return err
	}

	logger.Info().
		Str("email", email).
		Msg("Created initial user")

	// Warn if using default password
	if password == "changeme" || password == "password" {
		logger.Warn().
			Msg("Using default initial password! Please change it immediately.")
	}

	return nil
}
