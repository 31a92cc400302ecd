package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/l88labs/paramanandha/errors"
)

const redisKeyPrefix = "paramanandha:answer:"

// Redis is a Cache backed by a Redis server, for deployments where several
// processes serve the same sessions. Entries expire by TTL; a per-session set
// tracks keys so Invalidate can drop them all.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache from a redis URL such as
// redis://localhost:6379/0.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts), ttl: ttl}, nil
}

// NewRedisFromClient wraps an existing client, mainly for tests.
func NewRedisFromClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func entryKey(key string) string {
	return redisKeyPrefix + key
}

func sessionSetKey(sessionID string) string {
	return redisKeyPrefix + "session:" + sessionID
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, sessionID, query string) ([]byte, error) {
	payload, err := r.client.Get(ctx, entryKey(Key(sessionID, query))).Bytes()
	if err == redis.Nil {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return payload, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, sessionID, query string, payload []byte) error {
	key := Key(sessionID, query)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, entryKey(key), payload, r.ttl)
	pipe.SAdd(ctx, sessionSetKey(sessionID), key)
	// The set outlives its entries slightly so Invalidate still sees them.
	pipe.Expire(ctx, sessionSetKey(sessionID), r.ttl+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate implements Cache.
func (r *Redis) Invalidate(ctx context.Context, sessionID string) error {
	setKey := sessionSetKey(sessionID)
	keys, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}

	pipe := r.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, entryKey(key))
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
