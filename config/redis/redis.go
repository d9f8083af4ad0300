package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/joy095/gobus/logger"
	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	redisErr    error
	redisOnce   sync.Once
)

// GetRedisClient returns a process-wide client for redisURL. The first call
// decides the outcome; an empty URL means Redis is not configured.
func GetRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	redisOnce.Do(func() {
		if redisURL == "" {
			redisErr = fmt.Errorf("redis not configured: REDIS_URL is empty")
			return
		}

		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			redisErr = fmt.Errorf("failed to parse REDIS_URL: %w", err)
			return
		}

		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			redisErr = fmt.Errorf("failed to connect to redis: %w", err)
			return
		}

		redisClient = client
		logger.InfoLogger.Info("Connected to Redis")
	})

	if redisClient == nil {
		return nil, redisErr
	}
	return redisClient, nil
}

// CloseRedis closes the shared client if one was opened.
func CloseRedis() {
	if redisClient == nil {
		return
	}
	if err := redisClient.Close(); err != nil {
		logger.ErrorLogger.Errorf("Error closing Redis connection: %v", err)
		return
	}
	logger.InfoLogger.Info("Redis connection closed")
}
