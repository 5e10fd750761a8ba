package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisStatePrefix namespaces state keys.
const DefaultRedisStatePrefix = "gmail-chat:oauth_state:"

// RedisStateStore keeps pending states in Redis so any replica can finish
// a login another replica started.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore wraps client. An empty prefix uses DefaultRedisStatePrefix.
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = DefaultRedisStatePrefix
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

// NewRedisStateStoreFromURL connects to a redis:// URL and checks the
// connection.
func NewRedisStateStoreFromURL(ctx context.Context, url string) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStateStore(client, ""), nil
}

// Add stores state with an expiry of ttl.
func (s *RedisStateStore) Add(ctx context.Context, state string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+state, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes state.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	_, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return true, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
