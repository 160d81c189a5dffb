// Package cache provides the tiered fragment cache.
//
// Reads resolve through a fixed hierarchy: process-local, distributed, then
// the persistent store. Cache tiers hold bounded, importance-ordered copies of
// a user's active fragment set; the persistent store is authoritative.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

var (
	// ErrMiss indicates the tier holds no entry for the key.
	ErrMiss = errors.New("cache miss")

	// ErrUnavailable indicates the tier could not be reached in time.
	ErrUnavailable = errors.New("cache unavailable")
)

// Tier is a level of the fragment hierarchy.
//
// Implementations return copies; callers may mutate what they receive.
type Tier interface {
	// Name identifies the tier in logs and metrics.
	Name() string

	// Get returns one fragment of a user, or ErrMiss.
	Get(ctx context.Context, userID string, id int64) (*storage.Fragment, error)

	// GetAll returns the user's active set ordered by importance desc, or ErrMiss.
	GetAll(ctx context.Context, userID string) ([]*storage.Fragment, error)

	// Put inserts or replaces a fragment. ttl is ignored by tiers without expiry.
	Put(ctx context.Context, userID string, f *storage.Fragment, ttl time.Duration) error

	// Delete removes a fragment; deleting a missing fragment is not an error.
	Delete(ctx context.Context, userID string, id int64) error
}

// CacheTier is a non-authoritative tier that can be refilled and dropped.
type CacheTier interface {
	Tier

	// SetAll replaces the user's active set; the tier truncates to its capacity.
	SetAll(ctx context.Context, userID string, frags []*storage.Fragment, ttl time.Duration) error

	// Purge drops everything the tier holds for the user.
	Purge(ctx context.Context, userID string) error
}

// Conditional is implemented by tiers that can reject a fill racing with a
// concurrent write. Epoch changes on every mutation of a user's entry.
type Conditional interface {
	Epoch(userID string) uint64
	SetAllIfEpoch(userID string, frags []*storage.Fragment, epoch uint64) bool
}

// ContextStore caches ranked retrieval results per user and query signature.
type ContextStore interface {
	GetContext(ctx context.Context, userID, signature string) ([]*storage.Fragment, error)
	PutContext(ctx context.Context, userID, signature string, frags []*storage.Fragment) error
}

// ContextInvalidator drops every cached retrieval result of a user.
type ContextInvalidator interface {
	InvalidateContexts(ctx context.Context, userID string) error
}

// Pinger is implemented by tiers that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ImportantSource serves the long-lived important subset of a user's fragments.
type ImportantSource interface {
	GetImportant(ctx context.Context, userID string) ([]*storage.Fragment, error)
}

// Merger is implemented by tiers that reconcile incoming fragments into a
// cached set atomically.
type Merger interface {
	MergeInto(ctx context.Context, userID string, incoming []*storage.Fragment) error
}

// AccessToucher is implemented by tiers that can record a retrieval on a
// cached fragment without replacing the rest of it.
type AccessToucher interface {
	TouchAccess(ctx context.Context, userID string, id int64, at time.Time) error
}

// Bounded is implemented by tiers that hold at most Capacity fragments per user.
type Bounded interface {
	Capacity() int
}
