package bolt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"go.etcd.io/bbolt"
)

type userStore struct {
	db *bbolt.DB
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func oauthKey(provider, subject string) string {
	return provider + "/" + subject
}

// Get retrieves a user by id.
func (s *userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	return getBucketValue[storage.User](ctx, s.db, bucketUsers, id)
}

// GetByEmail retrieves a user by email through the email index.
func (s *userStore) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	var user storage.User

	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emails := tx.Bucket([]byte(bucketUserEmails))
		if emails == nil {
			return storage.ErrNotFound
		}
		id := emails.Get([]byte(normalizeEmail(email)))
		if id == nil {
			return storage.ErrNotFound
		}
		users := tx.Bucket([]byte(bucketUsers))
		if users == nil {
			return storage.ErrNotFound
		}
		data := users.Get(id)
		if data == nil {
			return storage.ErrNotFound
		}
		return unmarshal(data, &user)
	})

	if err != nil {
		return nil, err
	}

	return &user, nil
}

// GetByOAuthSubject retrieves a user by linked OAuth identity.
func (s *userStore) GetByOAuthSubject(ctx context.Context, provider, subject string) (*storage.User, error) {
	var user storage.User

	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		oauth := tx.Bucket([]byte(bucketUserOAuth))
		if oauth == nil {
			return storage.ErrNotFound
		}
		id := oauth.Get([]byte(oauthKey(provider, subject)))
		if id == nil {
			return storage.ErrNotFound
		}
		users := tx.Bucket([]byte(bucketUsers))
		if users == nil {
			return storage.ErrNotFound
		}
		data := users.Get(id)
		if data == nil {
			return storage.ErrNotFound
		}
		return unmarshal(data, &user)
	})

	if err != nil {
		return nil, err
	}

	return &user, nil
}

// List retrieves all users.
func (s *userStore) List(ctx context.Context) ([]storage.User, error) {
	var users []storage.User

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketUsers))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var user storage.User
			if err := unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, user)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return users, nil
}

// Upsert creates or updates a user and maintains the email and OAuth
// indexes in the same transaction. A new email already claimed by another
// user yields ErrConflict.
func (s *userStore) Upsert(ctx context.Context, user storage.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = normalizeEmail(user.Email)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		users := tx.Bucket([]byte(bucketUsers))
		emails := tx.Bucket([]byte(bucketUserEmails))
		oauth := tx.Bucket([]byte(bucketUserOAuth))
		if users == nil || emails == nil || oauth == nil {
			return fmt.Errorf("user buckets not found")
		}

		if owner := emails.Get([]byte(user.Email)); owner != nil && string(owner) != user.ID {
			return fmt.Errorf("email %s: %w", user.Email, storage.ErrConflict)
		}

		// Drop stale index entries when email or identity changed.
		if prev := users.Get([]byte(user.ID)); prev != nil {
			var old storage.User
			if err := unmarshal(prev, &old); err != nil {
				return err
			}
			if old.Email != user.Email {
				if err := emails.Delete([]byte(old.Email)); err != nil {
					return err
				}
			}
			if old.OAuthProvider != "" && (old.OAuthProvider != user.OAuthProvider || old.OAuthSubject != user.OAuthSubject) {
				if err := oauth.Delete([]byte(oauthKey(old.OAuthProvider, old.OAuthSubject))); err != nil {
					return err
				}
			}
		}

		data, err := marshal(user)
		if err != nil {
			return err
		}
		if err := users.Put([]byte(user.ID), data); err != nil {
			return err
		}
		if err := emails.Put([]byte(user.Email), []byte(user.ID)); err != nil {
			return err
		}
		if user.OAuthProvider != "" {
			return oauth.Put([]byte(oauthKey(user.OAuthProvider, user.OAuthSubject)), []byte(user.ID))
		}
		return nil
	})
}

// Delete removes a user and its index entries.
func (s *userStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		users := tx.Bucket([]byte(bucketUsers))
		if users == nil {
			return storage.ErrNotFound
		}
		data := users.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		var user storage.User
		if err := unmarshal(data, &user); err != nil {
			return err
		}
		if emails := tx.Bucket([]byte(bucketUserEmails)); emails != nil {
			if err := emails.Delete([]byte(user.Email)); err != nil {
				return err
			}
		}
		if user.OAuthProvider != "" {
			if oauth := tx.Bucket([]byte(bucketUserOAuth)); oauth != nil {
				if err := oauth.Delete([]byte(oauthKey(user.OAuthProvider, user.OAuthSubject))); err != nil {
					return err
				}
			}
		}
		return users.Delete([]byte(id))
	})
}

// UpdateLastLogin updates the last login timestamp for a user.
func (s *userStore) UpdateLastLogin(ctx context.Context, id string, loginTime time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketUsers))
		if bucket == nil {
			return storage.ErrNotFound
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}

		var user storage.User
		if err := unmarshal(data, &user); err != nil {
			return err
		}

		user.LastLogin = &loginTime
		user.UpdatedAt = time.Now()

		newData, err := marshal(user)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), newData)
	})
}
