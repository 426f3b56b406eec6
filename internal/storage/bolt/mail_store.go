package bolt

import (
	"context"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

type mailStore struct {
	db *bbolt.DB
}

// Enqueue appends a message to the delivery queue. Messages get uuid ids;
// the bucket key embeds the enqueue timestamp so DequeueBatch drains in
// FIFO order.
func (s *mailStore) Enqueue(ctx context.Context, mail storage.QueuedMail) error {
	if mail.EnqueuedAt.IsZero() {
		mail.EnqueuedAt = time.Now().UTC()
	}
	if mail.ID == "" {
		mail.ID = uuid.NewString()
	}
	key, err := timeKey("mail", mail.EnqueuedAt)
	if err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketMailQueue, key, mail)
}

// DequeueBatch removes and returns up to max oldest queued messages.
func (s *mailStore) DequeueBatch(ctx context.Context, max int) ([]storage.QueuedMail, error) {
	batch := make([]storage.QueuedMail, 0, max)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketMailQueue))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil && len(batch) < max; k, v = c.Next() {
			var mail storage.QueuedMail
			if err := unmarshal(v, &mail); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
			batch = append(batch, mail)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return batch, nil
}

// Requeue puts a failed message back for another attempt. The key reuses
// the original enqueue timestamp, so the message keeps its queue position.
func (s *mailStore) Requeue(ctx context.Context, mail storage.QueuedMail) error {
	key, err := timeKey("mail", mail.EnqueuedAt)
	if err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketMailQueue, key, mail)
}
