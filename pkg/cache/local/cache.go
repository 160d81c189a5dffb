// Package local implements the process-local fragment cache.
//
// Each user maps to an importance-ordered list of at most Capacity fragments.
// The number of users held is bounded by an LRU so an idle user's list is
// dropped first. Entries have no TTL class; MaxStaleness bounds how long a
// filled list is trusted before the next read falls through to a lower tier.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/linke370/elysia-ai-companion/pkg/cache"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// Config contains configuration for the local cache.
type Config struct {
	// Capacity is the per-user list size (default 30).
	Capacity int

	// MaxUsers bounds the number of users held (default 10000).
	MaxUsers int

	// MaxStaleness is how long a filled list is served; zero disables the bound.
	MaxStaleness time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

type entry struct {
	frags    []*storage.Fragment
	present  bool
	filledAt time.Time
	epoch    uint64
}

// Cache is the process-local tier. It is safe for concurrent use.
type Cache struct {
	mu           sync.Mutex
	users        *lru.Cache[string, *entry]
	capacity     int
	maxStaleness time.Duration
	now          func() time.Time
	seq          uint64
}

var (
	_ cache.CacheTier     = (*Cache)(nil)
	_ cache.Conditional   = (*Cache)(nil)
	_ cache.AccessToucher = (*Cache)(nil)
	_ cache.Bounded       = (*Cache)(nil)
)

// New creates a local cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 30
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	users, err := lru.New[string, *entry](cfg.MaxUsers)
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}

	return &Cache{
		users:        users,
		capacity:     cfg.Capacity,
		maxStaleness: cfg.MaxStaleness,
		now:          cfg.Now,
	}, nil
}

// Name implements cache.Tier.
func (c *Cache) Name() string { return "local" }

// Capacity implements cache.Bounded.
func (c *Cache) Capacity() int { return c.capacity }

// lookup returns the live entry of a user; stale entries are demoted to tombstones.
// Must be called with c.mu held.
func (c *Cache) lookup(userID string) (*entry, bool) {
	e, ok := c.users.Get(userID)
	if !ok || !e.present {
		return e, false
	}
	if c.maxStaleness > 0 && c.now().Sub(e.filledAt) > c.maxStaleness {
		e.present = false
		e.frags = nil
		return e, false
	}
	return e, true
}

// touch records a mutation and returns the user's entry, creating a tombstone if needed.
// Must be called with c.mu held.
func (c *Cache) touch(userID string) *entry {
	e, ok := c.users.Peek(userID)
	if !ok {
		e = &entry{}
		c.users.Add(userID, e)
	}
	c.seq++
	e.epoch = c.seq
	return e
}

// Get implements cache.Tier.
func (c *Cache) Get(_ context.Context, userID string, id int64) (*storage.Fragment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(userID)
	if !ok {
		return nil, cache.ErrMiss
	}
	for _, f := range e.frags {
		if f.ID == id {
			return f.Clone(), nil
		}
	}
	return nil, cache.ErrMiss
}

// GetAll implements cache.Tier.
func (c *Cache) GetAll(_ context.Context, userID string) ([]*storage.Fragment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(userID)
	if !ok {
		return nil, cache.ErrMiss
	}
	return storage.CloneAll(e.frags), nil
}

// Put replaces or inserts a fragment in a cached list. A user without a
// cached list stays uncached, so a partial set is never served.
func (c *Cache) Put(_ context.Context, userID string, f *storage.Fragment, _ time.Duration) error {
	if f == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(userID)
	e := c.touch(userID)
	if !ok {
		return nil
	}

	frags := make([]*storage.Fragment, 0, len(e.frags)+1)
	for _, cur := range e.frags {
		if cur.ID != f.ID {
			frags = append(frags, cur)
		}
	}
	frags = append(frags, f.Clone())
	intelligence.SortByRank(frags)
	if len(frags) > c.capacity {
		frags = frags[:c.capacity]
	}
	e.frags = frags

	return nil
}

// Delete implements cache.Tier.
func (c *Cache) Delete(_ context.Context, userID string, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(userID)
	e := c.touch(userID)
	if !ok {
		return nil
	}

	frags := e.frags[:0:0]
	for _, f := range e.frags {
		if f.ID != id {
			frags = append(frags, f)
		}
	}
	e.frags = frags

	return nil
}

// SetAll implements cache.CacheTier.
func (c *Cache) SetAll(_ context.Context, userID string, frags []*storage.Fragment, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fill(c.touch(userID), frags)
	return nil
}

// SetAllIfEpoch fills the user's list only if no mutation happened since epoch.
func (c *Cache) SetAllIfEpoch(userID string, frags []*storage.Fragment, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epochLocked(userID) != epoch {
		return false
	}
	c.fill(c.touch(userID), frags)
	return true
}

func (c *Cache) fill(e *entry, frags []*storage.Fragment) {
	e.frags = intelligence.Merge(nil, frags, c.capacity)
	e.present = true
	e.filledAt = c.now()
}

// TouchAccess bumps the access count and last access of a cached fragment in
// place. Other fields, importance included, keep whatever the list holds.
func (c *Cache) TouchAccess(_ context.Context, userID string, id int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(userID)
	if !ok {
		return nil
	}
	for i, f := range e.frags {
		if f.ID != id {
			continue
		}
		touched := f.Clone()
		touched.AccessCount++
		if at.After(touched.LastAccessed) {
			touched.LastAccessed = at
		}
		e.frags[i] = touched
		intelligence.SortByRank(e.frags)
		break
	}
	return nil
}

// MergeInto reconciles incoming fragments into a cached list atomically.
// A user without a cached list stays uncached.
func (c *Cache) MergeInto(_ context.Context, userID string, incoming []*storage.Fragment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(userID)
	e := c.touch(userID)
	if !ok {
		return nil
	}
	e.frags = intelligence.Merge(e.frags, incoming, c.capacity)
	return nil
}

// Purge implements cache.CacheTier.
func (c *Cache) Purge(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.touch(userID)
	e.present = false
	e.frags = nil
	return nil
}

// Epoch implements cache.Conditional.
func (c *Cache) Epoch(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochLocked(userID)
}

func (c *Cache) epochLocked(userID string) uint64 {
	if e, ok := c.users.Peek(userID); ok {
		return e.epoch
	}
	return 0
}

// Stats reports how many users have a live list and how many fragments are held.
func (c *Cache) Stats() (users, fragments int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.users.Keys() {
		if e, ok := c.users.Peek(key); ok && e.present {
			users++
			fragments += len(e.frags)
		}
	}
	return users, fragments
}
