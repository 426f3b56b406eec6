package bolt

import (
	"context"
	"fmt"

	"github.com/devtrackhq/devtrack/internal/storage"
	"go.etcd.io/bbolt"
)

type activeSessionStore struct {
	db *bbolt.DB
}

// Get retrieves the running session for a user.
func (s *activeSessionStore) Get(ctx context.Context, userID string) (*storage.ActiveSession, error) {
	return getBucketValue[storage.ActiveSession](ctx, s.db, bucketActiveSessions, userID)
}

// Claim records a running session for a user. The existence check and the
// write share one transaction, so concurrent claims resolve to one winner.
func (s *activeSessionStore) Claim(ctx context.Context, active storage.ActiveSession) error {
	data, err := marshal(active)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketActiveSessions))
		if bucket == nil {
			return fmt.Errorf("active_sessions bucket not found")
		}
		if bucket.Get([]byte(active.UserID)) != nil {
			return storage.ErrConflict
		}
		return bucket.Put([]byte(active.UserID), data)
	})
}

// Count reports how many sessions are currently running.
func (s *activeSessionStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketActiveSessions))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Release removes and returns the running session for a user.
func (s *activeSessionStore) Release(ctx context.Context, userID string) (*storage.ActiveSession, error) {
	var active storage.ActiveSession

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketActiveSessions))
		if bucket == nil {
			return storage.ErrNotFound
		}
		data := bucket.Get([]byte(userID))
		if data == nil {
			return storage.ErrNotFound
		}
		if err := unmarshal(data, &active); err != nil {
			return err
		}
		return bucket.Delete([]byte(userID))
	})

	if err != nil {
		return nil, err
	}

	return &active, nil
}
