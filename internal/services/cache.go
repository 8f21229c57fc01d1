package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-sync-platform/internal/config"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is absent or the cache is disabled
var ErrCacheMiss = errors.New("cache miss")

// CacheService is the Redis-backed second level behind the in-process
// property and reference caches. A nil client disables it.
type CacheService struct {
	client *redis.Client
	prefix string
}

// NewCacheService creates a new cache service
func NewCacheService(client *redis.Client, config *config.Config) *CacheService {
	prefix := config.Cache.KeyPrefix
	if prefix == "" {
		prefix = "crm-sync"
	}
	return &CacheService{
		client: client,
		prefix: prefix,
	}
}

// Enabled reports whether a Redis client is configured
func (cs *CacheService) Enabled() bool {
	return cs != nil && cs.client != nil
}

// Get retrieves a value from cache
func (cs *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if !cs.Enabled() {
		return ErrCacheMiss
	}

	val, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}

	return nil
}

// Set stores a value in cache with expiration
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !cs.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if err := cs.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}

	return nil
}

// Delete removes keys from cache
func (cs *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !cs.Enabled() || len(keys) == 0 {
		return nil
	}
	if err := cs.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys %v: %w", keys, err)
	}
	return nil
}

// DeletePattern removes all keys matching a pattern
func (cs *CacheService) DeletePattern(ctx context.Context, pattern string) error {
	if !cs.Enabled() {
		return nil
	}

	keys, err := cs.client.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to get keys for pattern %s: %w", pattern, err)
	}

	return cs.Delete(ctx, keys...)
}

// Ping checks the Redis connection
func (cs *CacheService) Ping(ctx context.Context) error {
	if !cs.Enabled() {
		return nil
	}
	return cs.client.Ping(ctx).Err()
}

// Cache key builders

func (cs *CacheService) BuildPropertiesKey(objectType string) string {
	return fmt.Sprintf("%s:properties:%s", cs.prefix, objectType)
}

func (cs *CacheService) BuildOwnersKey() string {
	return fmt.Sprintf("%s:owners", cs.prefix)
}

func (cs *CacheService) BuildTeamsKey() string {
	return fmt.Sprintf("%s:teams", cs.prefix)
}

// BuildPattern matches every key written by this service
func (cs *CacheService) BuildPattern() string {
	return fmt.Sprintf("%s:*", cs.prefix)
}
