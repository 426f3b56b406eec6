package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/devtrackhq/devtrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

// ActiveStore implements storage.ActiveSessionStore using Redis. It exists
// for multi-instance deployments where the active-session claim must be
// atomic across processes; the rest of storage stays on the primary backend.
type ActiveStore struct {
	client        *redis.Client
	claimScript   *redis.Script
	releaseScript *redis.Script
}

// Open creates a Redis-backed active session store.
func Open(cfg config.RedisConfig) (*ActiveStore, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ActiveStore{
		client:        client,
		claimScript:   redis.NewScript(claimActiveSessionScript),
		releaseScript: redis.NewScript(releaseActiveSessionScript),
	}, nil
}

// Close closes the Redis connection.
func (s *ActiveStore) Close() error {
	return s.client.Close()
}

func activeKey(userID string) string {
	return "devtrack:active:" + userID
}

// Get retrieves the running session for a user.
func (s *ActiveStore) Get(ctx context.Context, userID string) (*storage.ActiveSession, error) {
	data, err := s.client.HGetAll(ctx, activeKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return parseActiveSession(data)
}

// Claim records a running session. The script refuses the write when the
// key already exists, so concurrent claims resolve to one winner.
func (s *ActiveStore) Claim(ctx context.Context, active storage.ActiveSession) error {
	result, err := s.claimScript.Run(ctx, s.client,
		[]string{activeKey(active.UserID)},
		active.UserID,
		active.ProjectID,
		active.ProjectName,
		active.StartTime.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("claim active session: %w", err)
	}
	if result == 0 {
		return storage.ErrConflict
	}
	return nil
}

// Count reports how many sessions are currently running. Claims abandoned
// past their expiry drop out of the count once Redis evicts the key.
func (s *ActiveStore) Count(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, activeKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

// Release removes and returns the running session for a user.
func (s *ActiveStore) Release(ctx context.Context, userID string) (*storage.ActiveSession, error) {
	result, err := s.releaseScript.Run(ctx, s.client, []string{activeKey(userID)}).Result()
	if err != nil {
		return nil, fmt.Errorf("release active session: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) == 0 {
		return nil, storage.ErrNotFound
	}

	data := make(map[string]string, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		key, _ := values[i].(string)
		value, _ := values[i+1].(string)
		data[key] = value
	}

	return parseActiveSession(data)
}
