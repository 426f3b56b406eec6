package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// User represents an account. PasswordHash is empty for OAuth-only accounts.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	PasswordHash  string     `json:"password_hash,omitempty"`
	OAuthProvider string     `json:"oauth_provider,omitempty"`
	OAuthSubject  string     `json:"oauth_subject,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
}

// Project groups sessions for one user.
type Project struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       Color     `json:"color,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Color is a display color in #rrggbb form. Empty means unset.
type Color string

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// UnmarshalJSON implements json.Unmarshaler to validate the hex form.
func (c *Color) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s != "" && !colorPattern.MatchString(s) {
		return fmt.Errorf("invalid color: %s (must be #rrggbb)", s)
	}
	*c = Color(s)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

// Session is a completed block of work. Immutable once written.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ProjectID       string    `json:"project_id"`
	ProjectName     string    `json:"project_name"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
}

// ActiveSession is the in-progress session for a user. At most one exists
// per user at any time.
type ActiveSession struct {
	UserID      string    `json:"user_id"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	StartTime   time.Time `json:"start_time"`
}

// QueuedMail is an outbound message waiting for delivery.
type QueuedMail struct {
	ID         string    `json:"id"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}
