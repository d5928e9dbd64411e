package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore owns the Redis connection shared by the delivery queue, the
// circuit breaker and the rate limiter. All of that state is advisory: the
// delivery state machine in Postgres stays authoritative if Redis is lost.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping reports Redis liveness for the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
