package database

import (
	"fmt"
	"time"

	"crm-sync-platform/internal/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient creates a new Redis client, or nil when Redis is disabled
func NewRedisClient(config *config.Config) *redis.Client {
	if !config.Redis.Enabled {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
		MaxRetries:   3,
	})
}
