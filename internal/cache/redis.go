package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces answer entries in a shared redis instance.
const keyPrefix = "answer:"

// Redis is a Store backed by a redis instance, so cached answers
// survive process restarts. TTL is enforced by redis itself; SET with
// expiry replaces the previous entry atomically per key.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}

	return &Redis{client: client, ttl: ttl}, nil
}

// Get returns the cached answer for key. redis.Nil (absent or expired)
// is a miss, not an error.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

// Put stores the answer with the configured TTL, replacing any
// previous entry for the key.
func (r *Redis) Put(ctx context.Context, key, answer string) error {
	if err := r.client.Set(ctx, keyPrefix+key, answer, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
