package redisstore

import (
	"github.com/chatauth/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient creates the Redis client backing the Challenge Store.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
