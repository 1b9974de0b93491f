// Package cache remembers provider callbacks that were already applied so
// retried deliveries can be acknowledged without touching the database.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCallbackTTL is how long an applied callback is remembered
const DefaultCallbackTTL = 24 * time.Hour

// CallbackStore records applied callbacks with the outcome they produced
type CallbackStore interface {
	Seen(ctx context.Context, key string) (outcome string, ok bool, err error)
	Mark(ctx context.Context, key, outcome string, ttl time.Duration) error
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCallbackStore keeps applied callbacks in redis
type RedisCallbackStore struct {
	client *redis.Client
}

// NewRedisCallbackStore ...
func NewRedisCallbackStore(client *redis.Client) *RedisCallbackStore {
	return &RedisCallbackStore{client: client}
}

func callbackKey(key string) string {
	return "payments:callback:" + key
}

// Seen returns the outcome stored for key, if it was marked and has not
// expired
func (s *RedisCallbackStore) Seen(ctx context.Context, key string) (string, bool, error) {
	outcome, err := s.client.Get(ctx, callbackKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return outcome, true, nil
}

// Mark remembers the outcome of key for ttl
func (s *RedisCallbackStore) Mark(ctx context.Context, key, outcome string, ttl time.Duration) error {
	return s.client.Set(ctx, callbackKey(key), outcome, ttl).Err()
}

// MemoryCallbackStore is the in-process CallbackStore used when no redis is
// configured
type MemoryCallbackStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFn   func() time.Time
}

type memoryEntry struct {
	outcome string
	expires time.Time
}

// NewMemoryCallbackStore ...
func NewMemoryCallbackStore() *MemoryCallbackStore {
	return &MemoryCallbackStore{
		entries: make(map[string]memoryEntry),
		nowFn:   time.Now,
	}
}

// Seen ...
func (s *MemoryCallbackStore) Seen(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !s.nowFn().Before(entry.expires) {
		delete(s.entries, key)
		return "", false, nil
	}
	return entry.outcome, true, nil
}

// Mark ...
func (s *MemoryCallbackStore) Mark(_ context.Context, key, outcome string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	for k, entry := range s.entries {
		if !now.Before(entry.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memoryEntry{outcome: outcome, expires: now.Add(ttl)}
	return nil
}
