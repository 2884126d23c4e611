package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "perch:sess:"

// ErrCacheMiss reports that the cache holds no entry for a session. Callers
// fall through to the durable store; a miss is never an authentication
// decision.
var ErrCacheMiss = errors.New("session: cache miss")

// CacheEntry is the cached projection of an active session. It carries enough
// to validate without touching Postgres on the hot path.
type CacheEntry struct {
	SessionID      string    `json:"sid"`
	PrincipalID    string    `json:"pid"`
	Role           string    `json:"role"`
	GuardianID     string    `json:"gid"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Cache is the best-effort session cache. Every method may fail without
// affecting correctness; the durable store is authoritative.
type Cache interface {
	PutLogin(ctx context.Context, entry CacheEntry, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (CacheEntry, error)
	Touch(ctx context.Context, sessionID string, now time.Time, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisCache implements Cache on a Redis client. Entries are JSON blobs with
// a server-side TTL equal to the idle timeout, so an untouched entry ages out
// on its own.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache creates a Redis-backed session cache.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func cacheKey(sessionID string) string {
	return cacheKeyPrefix + sessionID
}

// PutLogin stores the entry under its session id with the given TTL.
func (c *RedisCache) PutLogin(ctx context.Context, entry CacheEntry, ttl time.Duration) error {
	blob, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(entry.SessionID), blob, ttl).Err()
}

// Get loads a cached entry. Returns ErrCacheMiss when absent or undecodable;
// a corrupt blob is deleted and treated as a miss.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (CacheEntry, error) {
	blob, err := c.rdb.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, ErrCacheMiss
	}
	if err != nil {
		return CacheEntry{}, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(blob, &entry); err != nil || entry.SessionID != sessionID {
		_ = c.rdb.Del(ctx, cacheKey(sessionID)).Err()
		return CacheEntry{}, ErrCacheMiss
	}
	return entry, nil
}

// Touch advances the entry's last-activity time and resets its TTL. A miss is
// not an error; the durable store is touched separately.
func (c *RedisCache) Touch(ctx context.Context, sessionID string, now time.Time, ttl time.Duration) error {
	entry, err := c.Get(ctx, sessionID)
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return err
	}
	entry.LastActivityAt = now
	return c.PutLogin(ctx, entry, ttl)
}

// Delete removes the entry. Deleting an absent entry is not an error.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, cacheKey(sessionID)).Err()
}

// NoopCache is the cache used when Redis is not configured. Every read is a
// miss, so validation always takes the durable path.
type NoopCache struct{}

func (NoopCache) PutLogin(ctx context.Context, entry CacheEntry, ttl time.Duration) error {
	return nil
}

func (NoopCache) Get(ctx context.Context, sessionID string) (CacheEntry, error) {
	return CacheEntry{}, ErrCacheMiss
}

func (NoopCache) Touch(ctx context.Context, sessionID string, now time.Time, ttl time.Duration) error {
	return nil
}

func (NoopCache) Delete(ctx context.Context, sessionID string) error {
	return nil
}
