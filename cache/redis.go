package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Shared is a network tier reachable by every process. Implementations
// return ErrMiss for absent keys and any other error for a failed call.
type Shared interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// ErrMiss is returned by a Shared tier when the key is absent
var ErrMiss = errors.New("cache miss")

// Redis is the Shared tier backed by a Redis server
type Redis struct {
	client    redis.UniversalClient
	scanCount int64
}

// NewRedis wraps an existing client
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, scanCount: 100}
}

// DialRedis parses a redis:// URL and pings the server. Callers treat any
// error as "no shared tier".
func DialRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client), nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.SetEx(ctx, key, value, ttl).Err()
}

// DeletePrefix scans for prefix* and deletes the matches
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	return int(n), err
}

// Close releases the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}
