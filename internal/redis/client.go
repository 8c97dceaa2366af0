package redis

import (
	"github.com/redis/go-redis/v9"

	"github.com/cifer55/email-progress-tracker-sub002/internal/config"
)

// NewClient builds a Redis client from config.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
