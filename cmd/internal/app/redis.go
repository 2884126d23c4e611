package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis when a URL is configured. Redis is
// optional: a nil client makes the session cache and denylist no-ops, which
// only costs extra Postgres reads, never correctness.
func NewRedisClient(ctx context.Context, cfg Config, log Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("redis.config.invalid", "err", err)
		return nil
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Error("redis.connect.fail", "err", err)
		_ = rdb.Close()
		return nil
	}

	log.Info("redis.connected")
	return rdb
}
