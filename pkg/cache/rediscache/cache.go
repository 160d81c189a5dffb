// Package rediscache implements the distributed fragment cache on Redis.
//
// Key layout per user:
//
//	memory:user:{id}:active      hash  fragment id -> fragment json  (active TTL)
//	memory:user:{id}:important   hash  importance above threshold    (important TTL)
//	memory:user:{id}:context:{s} string ranked retrieval result       (context TTL)
//	memory:user:{id}:contexts    set   live context keys, for invalidation
//
// Every call carries a short timeout; failures surface as cache.ErrUnavailable
// so callers fall through to the next tier.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/cache"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// Config holds configuration for the distributed cache.
type Config struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix defaults to "memory:user:".
	KeyPrefix string

	// Capacity is the per-user active set size (default 50).
	Capacity int

	// ActiveTTL (default 1h), ContextTTL (default 30m), ImportantTTL (default 7d).
	ActiveTTL    time.Duration
	ContextTTL   time.Duration
	ImportantTTL time.Duration

	// ImportantThreshold selects fragments for the important set (default 0.7).
	ImportantThreshold float64

	// ImportantLimit bounds the important set (default 10).
	ImportantLimit int

	// OpTimeout bounds every Redis call (default 50ms).
	OpTimeout time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "memory:user:"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	if cfg.ActiveTTL <= 0 {
		cfg.ActiveTTL = time.Hour
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = 30 * time.Minute
	}
	if cfg.ImportantTTL <= 0 {
		cfg.ImportantTTL = 7 * 24 * time.Hour
	}
	if cfg.ImportantThreshold <= 0 {
		cfg.ImportantThreshold = 0.7
	}
	if cfg.ImportantLimit <= 0 {
		cfg.ImportantLimit = 10
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 50 * time.Millisecond
	}
}

// Cache is the distributed tier.
type Cache struct {
	rdb redis.UniversalClient
	cfg Config
}

var (
	_ cache.CacheTier          = (*Cache)(nil)
	_ cache.ContextStore       = (*Cache)(nil)
	_ cache.ContextInvalidator = (*Cache)(nil)
	_ cache.ImportantSource    = (*Cache)(nil)
	_ cache.Pinger             = (*Cache)(nil)
	_ cache.Bounded            = (*Cache)(nil)
)

// NewClient connects to Redis and validates the connection.
func NewClient(cfg Config) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(rdb, cfg), nil
}

// New wraps an existing Redis client.
func New(rdb redis.UniversalClient, cfg Config) *Cache {
	cfg.applyDefaults()
	return &Cache{rdb: rdb, cfg: cfg}
}

// Name implements cache.Tier.
func (c *Cache) Name() string { return "distributed" }

// Capacity implements cache.Bounded.
func (c *Cache) Capacity() int { return c.cfg.Capacity }

func (c *Cache) activeKey(userID string) string    { return c.cfg.KeyPrefix + userID + ":active" }
func (c *Cache) importantKey(userID string) string { return c.cfg.KeyPrefix + userID + ":important" }
func (c *Cache) contextsKey(userID string) string  { return c.cfg.KeyPrefix + userID + ":contexts" }
func (c *Cache) contextKey(userID, sig string) string {
	return c.cfg.KeyPrefix + userID + ":context:" + sig
}

func field(id int64) string { return strconv.FormatInt(id, 10) }

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", cache.ErrUnavailable, op, err)
}

// Get implements cache.Tier.
func (c *Cache) Get(ctx context.Context, userID string, id int64) (*storage.Fragment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.rdb.HGet(ctx, c.activeKey(userID), field(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, unavailable("Get", err)
	}

	return decode(raw)
}

// GetAll implements cache.Tier.
func (c *Cache) GetAll(ctx context.Context, userID string) ([]*storage.Fragment, error) {
	return c.getHash(ctx, "GetAll", c.activeKey(userID))
}

// GetImportant implements cache.ImportantSource.
func (c *Cache) GetImportant(ctx context.Context, userID string) ([]*storage.Fragment, error) {
	return c.getHash(ctx, "GetImportant", c.importantKey(userID))
}

func (c *Cache) getHash(ctx context.Context, op, key string) ([]*storage.Fragment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vals, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable(op, err)
	}
	if len(vals) == 0 {
		return nil, cache.ErrMiss
	}

	frags := make([]*storage.Fragment, 0, len(vals))
	for _, raw := range vals {
		f, err := decode(raw)
		if err != nil {
			return nil, err
		}
		frags = append(frags, f)
	}
	intelligence.SortByRank(frags)

	return frags, nil
}

// Put replaces or inserts one fragment in a cached active set. A user without
// an active set stays uncached, so a partial set is never served.
func (c *Cache) Put(ctx context.Context, userID string, f *storage.Fragment, ttl time.Duration) error {
	if f == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.cfg.ActiveTTL
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	active := c.activeKey(userID)
	n, err := c.rdb.Exists(ctx, active).Result()
	if err != nil {
		return unavailable("Put", err)
	}
	if n == 0 {
		return c.InvalidateContexts(ctx, userID)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	important := c.importantKey(userID)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, active, field(f.ID), data)
	pipe.Expire(ctx, active, ttl)
	if f.ImportanceScore > c.cfg.ImportantThreshold {
		pipe.HSet(ctx, important, field(f.ID), data)
		pipe.Expire(ctx, important, c.cfg.ImportantTTL)
	} else {
		pipe.HDel(ctx, important, field(f.ID))
	}
	lenCmd := pipe.HLen(ctx, active)
	impLenCmd := pipe.HLen(ctx, important)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("Put", err)
	}

	switch {
	case lenCmd.Val() > int64(c.cfg.Capacity):
		frags, err := c.GetAll(ctx, userID)
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			return err
		}
		if err := c.write(ctx, userID, frags, ttl); err != nil {
			return err
		}
	case impLenCmd.Val() > int64(c.cfg.ImportantLimit):
		if err := c.trimImportant(ctx, userID); err != nil {
			return err
		}
	}

	return c.InvalidateContexts(ctx, userID)
}

// trimImportant drops the lowest ranked members beyond ImportantLimit.
func (c *Cache) trimImportant(ctx context.Context, userID string) error {
	frags, err := c.getHash(ctx, "trimImportant", c.importantKey(userID))
	if errors.Is(err, cache.ErrMiss) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(frags) <= c.cfg.ImportantLimit {
		return nil
	}

	fields := make([]string, 0, len(frags)-c.cfg.ImportantLimit)
	for _, f := range frags[c.cfg.ImportantLimit:] {
		fields = append(fields, field(f.ID))
	}
	if err := c.rdb.HDel(ctx, c.importantKey(userID), fields...).Err(); err != nil {
		return unavailable("trimImportant", err)
	}
	return nil
}

// Delete implements cache.Tier.
func (c *Cache) Delete(ctx context.Context, userID string, id int64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, c.activeKey(userID), field(id))
	pipe.HDel(ctx, c.importantKey(userID), field(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("Delete", err)
	}

	return c.InvalidateContexts(ctx, userID)
}

// SetAll implements cache.CacheTier.
func (c *Cache) SetAll(ctx context.Context, userID string, frags []*storage.Fragment, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.ActiveTTL
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.write(ctx, userID, frags, ttl); err != nil {
		return err
	}
	return c.InvalidateContexts(ctx, userID)
}

// write replaces the active and important sets in one transaction.
func (c *Cache) write(ctx context.Context, userID string, frags []*storage.Fragment, ttl time.Duration) error {
	merged := intelligence.Merge(nil, frags, c.cfg.Capacity)

	active := make(map[string]interface{}, len(merged))
	important := make(map[string]interface{})
	for _, f := range merged {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("SetAll: %w", err)
		}
		active[field(f.ID)] = data
		if f.ImportanceScore > c.cfg.ImportantThreshold && len(important) < c.cfg.ImportantLimit {
			important[field(f.ID)] = data
		}
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.activeKey(userID), c.importantKey(userID))
	if len(active) > 0 {
		pipe.HSet(ctx, c.activeKey(userID), active)
		pipe.Expire(ctx, c.activeKey(userID), ttl)
	}
	if len(important) > 0 {
		pipe.HSet(ctx, c.importantKey(userID), important)
		pipe.Expire(ctx, c.importantKey(userID), c.cfg.ImportantTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("SetAll", err)
	}

	return nil
}

// Purge implements cache.CacheTier.
func (c *Cache) Purge(ctx context.Context, userID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.InvalidateContexts(ctx, userID); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, c.activeKey(userID), c.importantKey(userID)).Err(); err != nil {
		return unavailable("Purge", err)
	}
	return nil
}

// GetContext implements cache.ContextStore.
func (c *Cache) GetContext(ctx context.Context, userID, signature string) ([]*storage.Fragment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.rdb.Get(ctx, c.contextKey(userID, signature)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, unavailable("GetContext", err)
	}

	var frags []*storage.Fragment
	if err := json.Unmarshal([]byte(raw), &frags); err != nil {
		return nil, fmt.Errorf("GetContext: %w", err)
	}
	return frags, nil
}

// PutContext implements cache.ContextStore.
func (c *Cache) PutContext(ctx context.Context, userID, signature string, frags []*storage.Fragment) error {
	data, err := json.Marshal(frags)
	if err != nil {
		return fmt.Errorf("PutContext: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := c.contextKey(userID, signature)
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, data, c.cfg.ContextTTL)
	pipe.SAdd(ctx, c.contextsKey(userID), key)
	pipe.Expire(ctx, c.contextsKey(userID), c.cfg.ContextTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("PutContext", err)
	}
	return nil
}

// InvalidateContexts drops every cached retrieval result of a user.
func (c *Cache) InvalidateContexts(ctx context.Context, userID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	index := c.contextsKey(userID)

	keys, err := c.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return unavailable("InvalidateContexts", err)
	}

	keys = append(keys, index)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return unavailable("InvalidateContexts", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func decode(raw string) (*storage.Fragment, error) {
	var f storage.Fragment
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("decode fragment: %w", err)
	}
	return &f, nil
}
