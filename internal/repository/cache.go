package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/market"
)

// DefaultCacheTTL is how long a cached bar query stays valid.
const DefaultCacheTTL = 15 * time.Minute

// Cache is a byte-value cache with expiry.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// NopCache caches nothing.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopCache) Close() error                                             { return nil }

// RedisCache stores values in Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis server at url (redis://host:port/db).
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedRepository reads bars through a Cache. Writes go to the underlying
// repository and bump a per-symbol generation so older entries are never
// read again.
type CachedRepository struct {
	Repository
	cache Cache
	ttl   time.Duration
	log   *logging.Logger
}

// NewCachedRepository wraps repo. A zero ttl selects DefaultCacheTTL.
func NewCachedRepository(repo Repository, cache Cache, ttl time.Duration) *CachedRepository {
	if cache == nil {
		cache = NopCache{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedRepository{Repository: repo, cache: cache, ttl: ttl, log: logging.With("component", "cache")}
}

// Bars returns cached bars when present, otherwise reads the repository and
// caches non-empty results. Cache failures fall back to the repository.
func (c *CachedRepository) Bars(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error) {
	symbol = market.NormalizeSymbol(symbol)
	key := c.barsKey(ctx, symbol, r)

	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("cache read failed", "key", key, "error", err)
	} else if ok {
		var bars []market.PriceBar
		if err := json.Unmarshal(data, &bars); err == nil {
			return bars, nil
		}
		c.log.Warn("discarding corrupt cache entry", "key", key)
	}

	bars, err := c.Repository.Bars(ctx, symbol, r)
	if err != nil || len(bars) == 0 {
		return bars, err
	}
	if data, err := json.Marshal(bars); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.log.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return bars, nil
}

// UpsertBars writes through and invalidates cached queries for the symbols
// written.
func (c *CachedRepository) UpsertBars(ctx context.Context, bars []market.PriceBar) (int, error) {
	n, err := c.Repository.UpsertBars(ctx, bars)
	if err != nil {
		return n, err
	}
	seen := make(map[string]bool)
	for _, b := range bars {
		sym := market.NormalizeSymbol(b.Symbol)
		if seen[sym] {
			continue
		}
		seen[sym] = true
		gen := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := c.cache.Set(ctx, generationKey(sym), []byte(gen), 0); err != nil {
			c.log.Warn("cache invalidation failed", "symbol", sym, "error", err)
		}
	}
	return n, nil
}

// Close closes the cache and the repository.
func (c *CachedRepository) Close() error {
	return errors.Join(c.cache.Close(), c.Repository.Close())
}

func (c *CachedRepository) barsKey(ctx context.Context, symbol string, r market.DateRange) string {
	gen := "0"
	if data, ok, err := c.cache.Get(ctx, generationKey(symbol)); err == nil && ok {
		gen = string(data)
	}
	return fmt.Sprintf("findata:bars:%s:%s:%s:%s", symbol, gen, r.Start.Format(market.DateLayout), r.End.Format(market.DateLayout))
}

func generationKey(symbol string) string {
	return "findata:gen:" + symbol
}
