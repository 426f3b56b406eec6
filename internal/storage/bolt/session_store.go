package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

// Append writes a completed session to the ledger. Keys embed the start
// timestamp so a prefix walk yields chronological order per user.
func (s *sessionStore) Append(ctx context.Context, session storage.Session) error {
	if session.UserID == "" || session.ID == "" {
		return fmt.Errorf("session missing user or id")
	}
	key, err := timeKey(session.UserID, session.StartTime)
	if err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketSessions, key, session)
}

// Get retrieves a session by id via a prefix scan over the user's ledger.
func (s *sessionStore) Get(ctx context.Context, userID, id string) (*storage.Session, error) {
	var found *storage.Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketSessions))
		if bucket == nil {
			return storage.ErrNotFound
		}
		c := bucket.Cursor()
		prefix := []byte(userID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.ID == id {
				found = &session
				return nil
			}
		}
		return storage.ErrNotFound
	})

	if err != nil {
		return nil, err
	}

	return found, nil
}

// ListByUser walks the user's ledger most-recent-first, applying the filter.
func (s *sessionStore) ListByUser(ctx context.Context, userID string, filter storage.SessionFilter) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0)
	skipped := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketSessions))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		prefix := []byte(userID + "/")

		// Position past the last key under the prefix, then walk backwards.
		upper := append(append([]byte{}, prefix...), 0xff)
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if !matchesFilter(session, filter) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			sessions = append(sessions, session)
			if filter.Limit > 0 && len(sessions) >= filter.Limit {
				return nil
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return sessions, nil
}

func matchesFilter(session storage.Session, filter storage.SessionFilter) bool {
	if filter.ProjectID != "" && session.ProjectID != filter.ProjectID {
		return false
	}
	if filter.StartTime != nil && session.StartTime.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && session.StartTime.After(*filter.EndTime) {
		return false
	}
	return true
}

// DeleteOlderThan prunes ledger entries whose start time is before cutoff.
func (s *sessionStore) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketSessions))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		prefix := []byte(userID + "/")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.StartTime.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}
