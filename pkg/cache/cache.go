// Package cache provides a Redis-backed cache for single-issue lookups.
// After a crash-and-resume, re-enrichment of already-seen issues is served
// from cache instead of spending rate-limited network calls.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Key identifies a cached issue lookup.
type Key struct {
	// IssueKey is the issue identifier, e.g. "KAFKA-12345".
	IssueKey string

	// Fields is the requested field list; different field sets cache
	// independently.
	Fields []string
}

// String generates a deterministic cache key string.
// Format: jira:issue:KAFKA-12345:fields=comment,summary
func (k Key) String() string {
	parts := []string{"jira", "issue", k.IssueKey}

	if len(k.Fields) > 0 {
		fields := make([]string, len(k.Fields))
		copy(fields, k.Fields)
		sort.Strings(fields)
		parts = append(parts, "fields="+strings.Join(fields, ","))
	}

	return strings.Join(parts, ":")
}

// Entry is one cached issue payload.
type Entry struct {
	// Data is the raw issue JSON as returned by the server.
	Data json.RawMessage `json:"data"`

	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry is stale.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Cache handles issue caching with a Redis backend.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates an issue cache. Entries live for ttl.
func New(redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) (*Cache, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be > 0 (got %v)", ttl)
	}
	return &Cache{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (c *Cache) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := c.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = c.Delete(ctx, key)
		cacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	cacheHits.Inc()
	return &entry, nil
}

// Set stores an issue payload under key with the cache's TTL. Redis drops
// the entry on expiry; the Expires field guards against clock drift.
func (c *Cache) Set(ctx context.Context, key Key, payload []byte) error {
	now := time.Now()
	entry := Entry{
		Data:     payload,
		CachedAt: now,
		Expires:  now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.redis.Set(ctx, key.String(), data, c.ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	c.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", c.ttl).
		Msg("Cached issue")

	return nil
}

// Delete removes a cache entry.
func (c *Cache) Delete(ctx context.Context, key Key) error {
	if err := c.redis.Del(ctx, key.String()).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
