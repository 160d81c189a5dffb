package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/logging"
	"github.com/linke370/elysia-ai-companion/pkg/metrics"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Source names the tier that served a Resolve.
const (
	SourceLocal       = "local"
	SourceDistributed = "distributed"
	SourcePersistent  = "persistent"
	SourceImportant   = "important"
)

// HierarchyConfig wires the tiers of a Hierarchy. Local, Distributed and
// Important are optional; Store is required.
type HierarchyConfig struct {
	Local       CacheTier
	Distributed CacheTier
	Important   ImportantSource
	Store       Tier

	// ActiveTTL is passed to distributed writes.
	ActiveTTL time.Duration

	// AsyncTimeout bounds background cache writes (default 2s).
	AsyncTimeout time.Duration

	// QueueSize bounds pending background writes (default 1024). Writes
	// beyond it are dropped and counted.
	QueueSize int

	Logger zerolog.Logger
}

// Hierarchy resolves a user's active fragment set through the tiers and keeps
// cache tiers converging on the persistent store.
//
// Reads fall through local, distributed and persistent in order; the first
// hit wins and the tiers that missed are refilled. Concurrent misses for the
// same user are coalesced. Cache writes are best-effort: a failing cache tier
// is logged and counted, never surfaced to callers.
//
// Background writes run on a single worker in submission order, so an
// invalidation never overtakes the propagation it follows.
type Hierarchy struct {
	cfg   HierarchyConfig
	group singleflight.Group
	log   zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	tasks  chan func(context.Context)
	closed bool
}

type resolved struct {
	frags  []*storage.Fragment
	source string
}

// NewHierarchy creates a hierarchy.
func NewHierarchy(cfg HierarchyConfig) *Hierarchy {
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	h := &Hierarchy{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("module", "cache").Logger(),
		tasks: make(chan func(context.Context), cfg.QueueSize),
	}
	go h.run()
	return h
}

// Local returns the process-local tier, or nil.
func (h *Hierarchy) Local() CacheTier { return h.cfg.Local }

// Distributed returns the distributed tier, or nil.
func (h *Hierarchy) Distributed() CacheTier { return h.cfg.Distributed }

// Resolve returns the user's active set and the name of the tier that served it.
// An unknown user yields an empty set. The caller owns the returned fragments.
func (h *Hierarchy) Resolve(ctx context.Context, userID string) ([]*storage.Fragment, string, error) {
	v, err, _ := h.group.Do(userID, func() (interface{}, error) {
		frags, source, err := h.resolve(context.WithoutCancel(ctx), userID)
		if err != nil {
			return nil, err
		}
		return resolved{frags: frags, source: source}, nil
	})
	if err != nil {
		return nil, "", err
	}

	r := v.(resolved)
	return storage.CloneAll(r.frags), r.source, nil
}

func (h *Hierarchy) resolve(ctx context.Context, userID string) ([]*storage.Fragment, string, error) {
	var epoch uint64
	cond, conditional := h.cfg.Local.(Conditional)

	if h.cfg.Local != nil {
		if conditional {
			epoch = cond.Epoch(userID)
		}
		frags, err := h.cfg.Local.GetAll(ctx, userID)
		if err == nil {
			h.count(SourceLocal, "hit")
			return frags, SourceLocal, nil
		}
		h.lookupFailed(SourceLocal, userID, err)
	}

	fillLocal := func(frags []*storage.Fragment) {
		if h.cfg.Local == nil {
			return
		}
		if conditional {
			if !cond.SetAllIfEpoch(userID, frags, epoch) {
				h.log.Debug().Str("user_id", userID).Msg("local fill skipped, concurrent write")
			}
			return
		}
		if err := h.cfg.Local.SetAll(ctx, userID, frags, 0); err != nil {
			h.propagationFailed(SourceLocal, userID, err)
		}
	}

	if h.cfg.Distributed != nil {
		frags, err := h.cfg.Distributed.GetAll(ctx, userID)
		if err == nil {
			h.count(SourceDistributed, "hit")
			fillLocal(frags)
			return frags, SourceDistributed, nil
		}
		h.lookupFailed(SourceDistributed, userID, err)
	}

	frags, err := h.cfg.Store.GetAll(ctx, userID)
	if err != nil {
		h.count(SourcePersistent, "error")
		if h.cfg.Important != nil {
			imp, ierr := h.cfg.Important.GetImportant(ctx, userID)
			if ierr == nil {
				h.log.Warn().Err(err).Str("user_id", userID).Msg("persistent store unavailable, serving important set")
				return imp, SourceImportant, nil
			}
		}
		return nil, "", err
	}
	h.count(SourcePersistent, "hit")

	if len(frags) > 0 {
		fillLocal(frags)
		h.async(userID, func(ctx context.Context) {
			if h.cfg.Distributed == nil {
				return
			}
			if err := h.cfg.Distributed.SetAll(ctx, userID, frags, h.cfg.ActiveTTL); err != nil {
				h.propagationFailed(SourceDistributed, userID, err)
			}
		})
	}

	return frags, SourcePersistent, nil
}

// Propagate reconciles newly persisted fragments into every cache tier that
// currently holds the user. Local is updated before returning; distributed
// is updated in the background.
func (h *Hierarchy) Propagate(ctx context.Context, userID string, incoming []*storage.Fragment) {
	if len(incoming) == 0 {
		return
	}
	incoming = storage.CloneAll(incoming)

	if h.cfg.Local != nil {
		if err := h.mergeInto(ctx, h.cfg.Local, userID, incoming); err != nil {
			h.propagationFailed(SourceLocal, userID, err)
		}
	}

	if h.cfg.Distributed != nil {
		h.async(userID, func(ctx context.Context) {
			if err := h.mergeInto(ctx, h.cfg.Distributed, userID, incoming); err != nil {
				h.propagationFailed(SourceDistributed, userID, err)
			}
		})
	}
}

func (h *Hierarchy) mergeInto(ctx context.Context, tier CacheTier, userID string, incoming []*storage.Fragment) error {
	if m, ok := tier.(Merger); ok {
		return m.MergeInto(ctx, userID, incoming)
	}

	existing, err := tier.GetAll(ctx, userID)
	if errors.Is(err, ErrMiss) {
		// Nothing cached; the next read refills from the store.
		return nil
	}
	if err != nil {
		return err
	}
	return tier.SetAll(ctx, userID, intelligence.Merge(existing, incoming, 0), h.cfg.ActiveTTL)
}

// Refresh writes updated copies of fragments the tiers may hold, such as
// after access bookkeeping or an importance change.
func (h *Hierarchy) Refresh(ctx context.Context, userID string, frags []*storage.Fragment) {
	if len(frags) == 0 {
		return
	}
	frags = storage.CloneAll(frags)

	if h.cfg.Local != nil {
		if err := h.replace(ctx, h.cfg.Local, userID, frags, 0); err != nil {
			h.propagationFailed(SourceLocal, userID, err)
		}
	}

	if h.cfg.Distributed != nil {
		h.async(userID, func(ctx context.Context) {
			if err := h.replace(ctx, h.cfg.Distributed, userID, frags, h.cfg.ActiveTTL); err != nil {
				h.propagationFailed(SourceDistributed, userID, err)
			}
			// Rankings may embed the old copies even when the replace failed.
			if inv, ok := h.cfg.Distributed.(ContextInvalidator); ok {
				if err := inv.InvalidateContexts(ctx, userID); err != nil {
					h.propagationFailed(SourceDistributed, userID, err)
				}
			}
		})
	}
}

// Touch records a retrieval of the given fragments in the local tier only,
// bumping access fields on the copies it holds. The distributed copy picks
// the access up on its next refill.
func (h *Hierarchy) Touch(ctx context.Context, userID string, ids []int64, at time.Time) {
	t, ok := h.cfg.Local.(AccessToucher)
	if !ok || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := t.TouchAccess(ctx, userID, id, at); err != nil {
			h.propagationFailed(SourceLocal, userID, err)
			return
		}
	}
}

// Complete reports whether a set of n fragments served by source holds every
// fragment of the user. A cache tier at capacity may have dropped the lowest
// ranked ones; the important set is always partial.
func (h *Hierarchy) Complete(source string, n int) bool {
	var tier CacheTier
	switch source {
	case SourceLocal:
		tier = h.cfg.Local
	case SourceDistributed:
		tier = h.cfg.Distributed
	case SourceImportant:
		return false
	default:
		return true
	}
	b, ok := tier.(Bounded)
	return !ok || n < b.Capacity()
}

// ResolvePersistent reads the user's full set from the persistent store,
// bypassing the cache tiers and leaving them untouched.
func (h *Hierarchy) ResolvePersistent(ctx context.Context, userID string) ([]*storage.Fragment, error) {
	frags, err := h.cfg.Store.GetAll(ctx, userID)
	if err != nil {
		h.count(SourcePersistent, "error")
		return nil, err
	}
	h.count(SourcePersistent, "hit")
	return frags, nil
}

// Pending reports how many background writes are queued.
func (h *Hierarchy) Pending() int {
	return len(h.tasks)
}

// replace overwrites fragments the tier already holds; absent ones stay absent
// so a fragment evicted meanwhile is not resurrected.
func (h *Hierarchy) replace(ctx context.Context, tier CacheTier, userID string, frags []*storage.Fragment, ttl time.Duration) error {
	for _, f := range frags {
		_, err := tier.Get(ctx, userID, f.ID)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			return err
		}
		if err := tier.Put(ctx, userID, f, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops fragments from every cache tier. Local is updated before
// returning; distributed is updated in the background.
func (h *Hierarchy) Invalidate(ctx context.Context, userID string, ids ...int64) {
	if len(ids) == 0 {
		return
	}

	if h.cfg.Local != nil {
		for _, id := range ids {
			if err := h.cfg.Local.Delete(ctx, userID, id); err != nil {
				h.propagationFailed(SourceLocal, userID, err)
			}
		}
	}

	if h.cfg.Distributed != nil {
		h.async(userID, func(ctx context.Context) {
			for _, id := range ids {
				if err := h.cfg.Distributed.Delete(ctx, userID, id); err != nil {
					h.propagationFailed(SourceDistributed, userID, err)
					return
				}
			}
		})
	}
}

// Purge drops everything the cache tiers hold for a user. The distributed
// purge is queued behind pending background writes so none of them can refill
// the user afterwards; Purge waits for it until ctx is done. A distributed
// failure is logged and left to expire.
func (h *Hierarchy) Purge(ctx context.Context, userID string) {
	if h.cfg.Local != nil {
		if err := h.cfg.Local.Purge(ctx, userID); err != nil {
			h.propagationFailed(SourceLocal, userID, err)
		}
	}

	if h.cfg.Distributed == nil {
		return
	}

	done := make(chan struct{})
	queued := h.async(userID, func(ctx context.Context) {
		defer close(done)
		if err := h.cfg.Distributed.Purge(ctx, userID); err != nil {
			h.propagationFailed(SourceDistributed, userID, err)
		}
	})
	if !queued {
		if err := h.cfg.Distributed.Purge(ctx, userID); err != nil {
			h.propagationFailed(SourceDistributed, userID, err)
		}
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Wait blocks until background cache writes have finished.
func (h *Hierarchy) Wait() {
	h.wg.Wait()
}

// Close drains pending background writes and stops the worker.
func (h *Hierarchy) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.tasks)
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hierarchy) run() {
	for fn := range h.tasks {
		ctx, cancel := logging.DetachContextWithTimeout(context.Background(), h.cfg.AsyncTimeout)
		fn(ctx)
		cancel()
		h.wg.Done()
	}
}

func (h *Hierarchy) async(userID string, fn func(ctx context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	h.wg.Add(1)
	select {
	case h.tasks <- fn:
		return true
	default:
		h.wg.Done()
		metrics.PropagationFailures.WithLabelValues(SourceDistributed).Inc()
		h.log.Warn().Str("user_id", userID).Msg("background cache queue full, write dropped")
		return false
	}
}

func (h *Hierarchy) count(tier, result string) {
	metrics.CacheLookups.WithLabelValues(tier, result).Inc()
}

func (h *Hierarchy) lookupFailed(tier, userID string, err error) {
	if errors.Is(err, ErrMiss) {
		h.count(tier, "miss")
		return
	}
	h.count(tier, "error")
	h.log.Warn().Err(err).Str("tier", tier).Str("user_id", userID).Msg("cache lookup failed, falling through")
}

func (h *Hierarchy) propagationFailed(tier, userID string, err error) {
	metrics.PropagationFailures.WithLabelValues(tier).Inc()
	h.log.Warn().Err(err).Str("tier", tier).Str("user_id", userID).Msg("cache write failed")
}
