package redis

import (
	"fmt"
	"time"

	"github.com/devtrackhq/devtrack/internal/storage"
)

// parseActiveSession converts a Redis hash to an ActiveSession
func parseActiveSession(data map[string]string) (*storage.ActiveSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startTime, err := time.Parse(time.RFC3339Nano, data["start_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	return &storage.ActiveSession{
		UserID:      data["user_id"],
		ProjectID:   data["project_id"],
		ProjectName: data["project_name"],
		StartTime:   startTime,
	}, nil
}
