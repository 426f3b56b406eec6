package bolt

import (
	"context"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
	"go.etcd.io/bbolt"
)

type projectStore struct {
	db *bbolt.DB
}

func projectKey(userID, id string) string {
	return userID + "/" + id
}

// Get retrieves a project owned by userID.
func (s *projectStore) Get(ctx context.Context, userID, id string) (*storage.Project, error) {
	return getBucketValue[storage.Project](ctx, s.db, bucketProjects, projectKey(userID, id))
}

// ListByUser retrieves all projects for a user.
func (s *projectStore) ListByUser(ctx context.Context, userID string) ([]storage.Project, error) {
	return listPrefix[storage.Project](ctx, s.db, bucketProjects, userID+"/")
}

// Upsert creates or updates a project.
func (s *projectStore) Upsert(ctx context.Context, project storage.Project) error {
	now := time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	return putBucketValue(ctx, s.db, bucketProjects, projectKey(project.UserID, project.ID), project)
}

// Delete removes a project owned by userID.
func (s *projectStore) Delete(ctx context.Context, userID, id string) error {
	return deleteBucketValue(ctx, s.db, bucketProjects, projectKey(userID, id))
}
