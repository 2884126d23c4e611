package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"perch/cmd/security/token"
)

const denyKeyPrefix = "perch:deny:"

// Denylist records access tokens that must be rejected before their natural
// expiry, keyed by token hash. Entries carry a TTL matching the token's
// remaining lifetime so the list stays small.
type Denylist interface {
	Add(ctx context.Context, accessToken string, expiresAt time.Time, now time.Time) error
	Contains(ctx context.Context, accessToken string) (bool, error)
}

// RedisDenylist implements Denylist on a Redis client.
type RedisDenylist struct {
	rdb *redis.Client
}

// NewRedisDenylist creates a Redis-backed access-token denylist.
func NewRedisDenylist(rdb *redis.Client) *RedisDenylist {
	return &RedisDenylist{rdb: rdb}
}

func denyKey(accessToken string) string {
	return denyKeyPrefix + token.HashSHA256Hex(accessToken)
}

// Add records the token until it would have expired anyway. Tokens already
// past expiry are not recorded.
func (d *RedisDenylist) Add(ctx context.Context, accessToken string, expiresAt time.Time, now time.Time) error {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	return d.rdb.Set(ctx, denyKey(accessToken), "1", ttl).Err()
}

// Contains reports whether the token has been denied.
func (d *RedisDenylist) Contains(ctx context.Context, accessToken string) (bool, error) {
	err := d.rdb.Get(ctx, denyKey(accessToken)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NoopDenylist is used when Redis is not configured; nothing is ever denied
// early, tokens simply age out.
type NoopDenylist struct{}

func (NoopDenylist) Add(ctx context.Context, accessToken string, expiresAt time.Time, now time.Time) error {
	return nil
}

func (NoopDenylist) Contains(ctx context.Context, accessToken string) (bool, error) {
	return false, nil
}
