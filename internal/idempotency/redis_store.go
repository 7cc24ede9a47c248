// Package idempotency remembers the outcome of create requests by client key so
// a retried create returns the first result instead of adding a second item.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cebarrett/todo/internal/store"
	"github.com/cebarrett/todo/internal/todo"
	"github.com/redis/go-redis/v9"
)

const pending = "pending"

// ErrInFlight means another request holding the same key has not finished yet.
var ErrInFlight = fmt.Errorf("%w: a request with this idempotency key is in progress", store.ErrUnavailable)

// RedisStore keeps one entry per (owner, key): "pending" while the create runs,
// then the created item as JSON until the TTL expires.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed idempotency store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "idem:create:",
		ttl:    ttl,
	}
}

// key is length-prefixed on owner so no (owner, key) pair can collide with another.
func (s *RedisStore) key(owner, key string) string {
	return s.prefix + strconv.Itoa(len(owner)) + ":" + owner + ":" + key
}

// Reserve claims key for owner. When reserved is true the caller must finish
// with Complete or Release. When false, prior holds the item an earlier request
// created under the same key.
func (s *RedisStore) Reserve(ctx context.Context, owner, key string) (prior todo.Item, reserved bool, err error) {
	k := s.key(owner, key)
	ok, err := s.client.SetNX(ctx, k, pending, s.ttl).Result()
	if err != nil {
		return todo.Item{}, false, fmt.Errorf("reserve idempotency key: %w: %w", store.ErrUnavailable, err)
	}
	if ok {
		return todo.Item{}, true, nil
	}

	value, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return todo.Item{}, false, ErrInFlight
	}
	if err != nil {
		return todo.Item{}, false, fmt.Errorf("lookup idempotency key: %w: %w", store.ErrUnavailable, err)
	}
	if value == pending {
		return todo.Item{}, false, ErrInFlight
	}

	if err := json.Unmarshal([]byte(value), &prior); err != nil {
		return todo.Item{}, false, fmt.Errorf("decode idempotency record: %w: %w", store.ErrInternal, err)
	}
	return prior, false, nil
}

// Complete records the created item under key.
func (s *RedisStore) Complete(ctx context.Context, owner, key string, item todo.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(owner, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// Release drops a reservation after a failed create so the client can retry.
func (s *RedisStore) Release(ctx context.Context, owner, key string) error {
	if err := s.client.Del(ctx, s.key(owner, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
