// Package cache implements C5: a tenant-scoped key/value cache with TTL
// tiers per retrieval family, backed by Redis with graceful degradation when
// the backend is unavailable or unconfigured (spec §4.5).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sinew/internal/tenant"
)

// Family identifies a cache tier with its key prefix and TTL (spec §4.5 table).
type Family string

const (
	FamilyVectorSearch Family = "vs"
	FamilyGraphSearch  Family = "gs"
	FamilyHybridSearch Family = "hs"
	FamilyEmbedding    Family = "emb"
	FamilyDocument     Family = "doc"
)

var familyTTL = map[Family]time.Duration{
	FamilyVectorSearch: 30 * time.Minute,
	FamilyGraphSearch:  2 * time.Hour,
	FamilyHybridSearch: 45 * time.Minute,
	FamilyEmbedding:    24 * time.Hour,
	FamilyDocument:     6 * time.Hour,
}

// TTL returns the configured TTL for a family, per spec §4.5.
func TTL(f Family) time.Duration { return familyTTL[f] }

// Metrics reports hit/miss/error counts per operation (spec §4.5).
type Metrics interface {
	IncCounter(name string, labels map[string]string)
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, map[string]string) {}

// Cache is the C5 contract. All operations degrade to false on
// backend unavailability — callers must never fail a user request because
// the cache is down (spec §4.5, §7).
type Cache struct {
	client  *redis.Client
	log     *zerolog.Logger
	metrics Metrics
}

// New constructs a Cache against redisURL. An empty redisURL yields a Cache
// whose every operation is a no-op (spec §6.3: "absence disables cache").
func New(redisURL string, log *zerolog.Logger, metrics Metrics) (*Cache, error) {
	c := &Cache{log: log, metrics: metrics}
	if metrics == nil {
		c.metrics = noopMetrics{}
	}
	if redisURL == "" {
		return c, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c.client = redis.NewClient(opts)
	return c, nil
}

func (c *Cache) enabled() bool { return c.client != nil }

// Key builds the canonical `<prefix>:<tenant_id>:<hash(payload)>` cache key
// (spec §4.5). payload should be a canonicalized (stable-field-order) value;
// callers pass a struct/map that json.Marshal renders deterministically.
func Key(family Family, t tenant.ID, payload any) string {
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return string(family) + ":" + t.String() + ":" + hex.EncodeToString(sum[:])
}

// Get decodes the cached value for key into dest and reports whether it did.
// Returns false on miss, decode failure or backend unavailability; cache
// misses and outages are never surfaced as errors (spec §4.5, §7: "degrade
// silently, continue").
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if !c.enabled() {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	raw, err := c.client.Get(cctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.metrics.IncCounter("cache_errors_total", map[string]string{"op": "get"})
			c.warn("cache get failed", key, err)
		} else {
			c.metrics.IncCounter("cache_misses_total", nil)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.warn("cache value unmarshal failed", key, err)
		return false
	}
	c.metrics.IncCounter("cache_hits_total", nil)
	return true
}

// Set stores value under key with the given TTL. Failures are swallowed
// (spec §4.5).
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if !c.enabled() {
		return false
	}
	b, err := json.Marshal(value)
	if err != nil {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Set(cctx, key, b, ttl).Err(); err != nil {
		c.metrics.IncCounter("cache_errors_total", map[string]string{"op": "set"})
		c.warn("cache set failed", key, err)
		return false
	}
	return true
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.enabled() {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Del(cctx, key).Err(); err != nil {
		c.warn("cache delete failed", key, err)
		return false
	}
	return true
}

// ClearTenant removes every key whose tenant_id segment matches t, across
// every family prefix. Uses non-blocking SCAN+DEL, never the blocking KEYS
// command, per the domain-stack wiring note in SPEC_FULL.md.
func (c *Cache) ClearTenant(ctx context.Context, t tenant.ID) bool {
	if !c.enabled() {
		return false
	}
	pattern := "*:" + t.String() + ":*"
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var cursor uint64
	ok := true
	for {
		keys, next, err := c.client.Scan(cctx, cursor, pattern, 200).Result()
		if err != nil {
			c.warn("cache clear_tenant scan failed", pattern, err)
			return false
		}
		if len(keys) > 0 {
			if err := c.client.Del(cctx, keys...).Err(); err != nil {
				c.warn("cache clear_tenant del failed", pattern, err)
				ok = false
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ok
}

// Health exercises a short-TTL round trip through the cache backend.
func (c *Cache) Health(ctx context.Context) bool {
	if !c.enabled() {
		return false
	}
	key := "health:probe"
	if !c.Set(ctx, key, "ok", 5*time.Second) {
		return false
	}
	var out string
	return c.Get(ctx, key, &out) && out == "ok"
}

func (c *Cache) warn(msg, key string, err error) {
	if c.log == nil {
		return
	}
	c.log.Warn().Str("key", key).Err(err).Msg(msg)
}
