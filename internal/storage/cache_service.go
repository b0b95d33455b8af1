package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/portfolio-tracker/internal/models"
)

// ErrCacheMiss is returned when a key is not cached
var ErrCacheMiss = errors.New("cache miss")

// CacheService provides JSON caching on top of Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyQuote is for resolved live quotes
	CacheKeyQuote CacheKeyType = "quote"
	// CacheKeySeries is for the last history refresh result
	CacheKeySeries CacheKeyType = "series"
)

// GenerateCacheKey generates a cache key for a given type and parameters.
// Format: <type>:<PARAM1>:<PARAM2>... with parameters upper-cased like instrument ids.
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToUpper(strings.TrimSpace(p)))
	}
	return strings.Join(parts, ":")
}

// GenerateQuoteKey generates a cache key for an instrument's live quote.
// Format: quote:<ID>
func (c *CacheService) GenerateQuoteKey(instrumentID string) string {
	return c.GenerateCacheKey(CacheKeyQuote, instrumentID)
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidatePattern removes all keys matching a pattern, e.g. "quote:*"
func (c *CacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.ScanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// GetTTL returns the configured TTL for this cache service
func (c *CacheService) GetTTL() time.Duration {
	return c.ttl
}

// QuoteStore is the table behind the quote cache
type QuoteStore interface {
	Get(ctx context.Context, id string) (*models.LiveQuote, error)
	Upsert(ctx context.Context, lq *models.LiveQuote) error
}

// QuoteCache fronts the live_quotes table with Redis. The database row is
// the source of truth; a Redis failure degrades to a database read.
type QuoteCache struct {
	cache  *CacheService
	quotes QuoteStore

	hits   atomic.Int64
	misses atomic.Int64
}

// NewQuoteCache creates a quote cache. cache may be nil to read the table only.
func NewQuoteCache(cache *CacheService, quotes QuoteStore) *QuoteCache {
	return &QuoteCache{cache: cache, quotes: quotes}
}

// Get returns the stored quote of id, or nil when none exists
func (q *QuoteCache) Get(ctx context.Context, id string) (*models.LiveQuote, error) {
	if q.cache != nil {
		var lq models.LiveQuote
		found, err := q.cache.Get(ctx, q.cache.GenerateQuoteKey(id), &lq)
		if err == nil && found {
			q.hits.Add(1)
			return &lq, nil
		}
	}
	q.misses.Add(1)

	lq, err := q.quotes.Get(ctx, id)
	if err != nil || lq == nil {
		return lq, err
	}
	q.store(ctx, lq)
	return lq, nil
}

// Put upserts the quote row and refreshes the cached copy
func (q *QuoteCache) Put(ctx context.Context, lq *models.LiveQuote) error {
	if err := q.quotes.Upsert(ctx, lq); err != nil {
		return err
	}
	q.Invalidate(ctx, lq.InstrumentID)
	return nil
}

// Invalidate drops the cached copies of ids. Errors are ignored; the TTL bounds staleness.
func (q *QuoteCache) Invalidate(ctx context.Context, ids ...string) {
	if q.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.cache.GenerateQuoteKey(id)
	}
	_ = q.cache.Invalidate(ctx, keys...)
}

func (q *QuoteCache) store(ctx context.Context, lq *models.LiveQuote) {
	if q.cache == nil {
		return
	}
	_ = q.cache.Set(ctx, q.cache.GenerateQuoteKey(lq.InstrumentID), lq)
}

// CacheStats holds cache hit/miss counters
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Stats returns the hit/miss counters of this process
func (q *QuoteCache) Stats() CacheStats {
	hits, misses := q.hits.Load(), q.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Hits: hits, Misses: misses, HitRate: rate}
}
