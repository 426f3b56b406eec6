package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when a write loses an atomicity check, such as
// claiming the active-session slot while a session is already running.
var ErrConflict = errors.New("storage: conflict")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Users() UserStore
	Projects() ProjectStore
	Sessions() SessionStore
	ActiveSessions() ActiveSessionStore
	Mail() MailStore
}

// UserStore manages user accounts.
type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByOAuthSubject(ctx context.Context, provider, subject string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Upsert(ctx context.Context, user User) error
	Delete(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, loginTime time.Time) error
}

// ProjectStore manages per-user projects.
type ProjectStore interface {
	Get(ctx context.Context, userID, id string) (*Project, error)
	ListByUser(ctx context.Context, userID string) ([]Project, error)
	Upsert(ctx context.Context, project Project) error
	Delete(ctx context.Context, userID, id string) error
}

// SessionStore is the append-only ledger of completed sessions.
type SessionStore interface {
	Append(ctx context.Context, session Session) error
	Get(ctx context.Context, userID, id string) (*Session, error)
	ListByUser(ctx context.Context, userID string, filter SessionFilter) ([]Session, error)
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int, error)
}

// SessionFilter defines criteria for querying the session ledger.
// Results are always ordered most-recent-first.
type SessionFilter struct {
	ProjectID string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// ActiveSessionStore manages the single running session per user.
//
// Claim atomically creates the record and fails with ErrConflict if one
// already exists. Release atomically fetches and deletes it, failing with
// ErrNotFound when nothing is running. Two concurrent Claims for the same
// user resolve to exactly one winner.
type ActiveSessionStore interface {
	Get(ctx context.Context, userID string) (*ActiveSession, error)
	Claim(ctx context.Context, active ActiveSession) error
	Release(ctx context.Context, userID string) (*ActiveSession, error)
	Count(ctx context.Context) (int, error)
}

// MailStore manages the outbound email queue. DequeueBatch removes the
// messages it returns; failed deliveries go back through Requeue.
type MailStore interface {
	Enqueue(ctx context.Context, mail QueuedMail) error
	DequeueBatch(ctx context.Context, max int) ([]QueuedMail, error)
	Requeue(ctx context.Context, mail QueuedMail) error
}
