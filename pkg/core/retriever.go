package core

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/linke370/elysia-ai-companion/pkg/cache"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/logging"
	"github.com/linke370/elysia-ai-companion/pkg/metrics"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// GetContextual returns up to k of the user's fragments most relevant to
// query, for injection into a generation prompt.
//
// The method:
//  1. Tokenizes the query; a query without usable tokens returns nothing
//  2. Serves a cached ranking for the same tokens when one is available
//  3. Otherwise resolves the user's active set through the cache tiers and ranks it
//  4. Records the access on the returned fragments in the background
//
// Retrieval never fails a turn: if no tier can serve the user, the failure is
// logged and an empty list is returned. An unknown user also yields an empty list.
func (c *Client) GetContextual(ctx context.Context, userID, query string, opts ...ContextOption) ([]*Fragment, error) {
	if userID == "" {
		return nil, NewMemoryError("GetContextual", ErrInvalidInput)
	}

	options := applyContextOptions(c.config.Policy.DefaultK, opts)
	q := RetrievalQuery{UserID: userID, Text: query, K: options.K}

	start := time.Now()
	frags, source := c.retrieve(ctx, q, options)
	metrics.RetrievalLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	metrics.FragmentsReturned.Observe(float64(len(frags)))

	if len(frags) > 0 {
		c.recordAccess(ctx, userID, frags)
	}
	return frags, nil
}

func (c *Client) retrieve(ctx context.Context, q RetrievalQuery, options *ContextOptions) ([]*Fragment, string) {
	if q.K <= 0 {
		return []*Fragment{}, "none"
	}

	tokens := intelligence.Tokenize(q.Text)
	if len(tokens) == 0 {
		return []*Fragment{}, "none"
	}

	sig := querySignature(tokens, q.K)
	useContexts := c.contexts != nil && !options.SkipContextCache
	if useContexts {
		cached, err := c.contexts.GetContext(ctx, q.UserID, sig)
		if err == nil {
			metrics.CacheLookups.WithLabelValues("context", "hit").Inc()
			return cached, "context"
		}
		metrics.CacheLookups.WithLabelValues("context", "miss").Inc()
	}

	active, source, err := c.hierarchy.Resolve(ctx, q.UserID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", q.UserID).Msg("no tier could serve the active set, returning empty context")
		return []*Fragment{}, "error"
	}

	ranked := c.policy.Rank(active, tokens, c.now(), q.K)
	if len(ranked) < q.K && !c.hierarchy.Complete(source, len(active)) {
		// The serving tier may have dropped lower ranked fragments that match.
		if full, err := c.hierarchy.ResolvePersistent(ctx, q.UserID); err == nil {
			ranked = c.policy.Rank(full, tokens, c.now(), q.K)
			source = cache.SourcePersistent
		} else {
			c.log.Debug().Err(err).Str("user_id", q.UserID).Msg("persistent store unavailable, ranking cached set only")
		}
	}

	out := make([]*Fragment, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Fragment)
	}

	if useContexts && len(out) > 0 {
		snapshot := storage.CloneAll(out)
		c.background(ctx, func(ctx context.Context) {
			if err := c.contexts.PutContext(ctx, q.UserID, sig, snapshot); err != nil {
				metrics.PropagationFailures.WithLabelValues("context").Inc()
				c.log.Debug().Err(err).Str("user_id", q.UserID).Msg("failed to cache context set")
			}
		})
	}

	return out, source
}

// recordAccess bumps access count and last access of the returned fragments
// in the store and the local tier. Failures are logged only.
func (c *Client) recordAccess(ctx context.Context, userID string, frags []*Fragment) {
	ids := make([]int64, 0, len(frags))
	for _, f := range frags {
		ids = append(ids, f.ID)
	}
	at := c.now()

	c.background(ctx, func(ctx context.Context) {
		written := ids[:0]
		for _, id := range ids {
			if err := c.store.RecordAccess(ctx, userID, id, at); err != nil {
				c.log.Debug().Err(err).Str("user_id", userID).Int64("fragment_id", id).Msg("failed to record access")
				continue
			}
			written = append(written, id)
		}
		c.hierarchy.Touch(ctx, userID, written, at)
	})
}

// fullSet resolves the user's active set through the tiers, reading the
// store when the serving tier may be missing fragments.
func (c *Client) fullSet(ctx context.Context, userID string) ([]*Fragment, error) {
	active, source, err := c.hierarchy.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.hierarchy.Complete(source, len(active)) {
		return active, nil
	}
	if full, err := c.hierarchy.ResolvePersistent(ctx, userID); err == nil {
		return full, nil
	}
	return active, nil
}

// background runs fn detached from the caller's cancellation.
func (c *Client) background(ctx context.Context, fn func(ctx context.Context)) {
	c.bookkeeping.Add(1)
	go func() {
		defer c.bookkeeping.Done()
		bctx, cancel := logging.DetachContextWithTimeout(ctx, c.config.Cache.AsyncTimeout)
		defer cancel()
		fn(bctx)
	}()
}

// querySignature identifies a ranking by its token set and k.
func querySignature(tokens []string, k int) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	h := xxhash.Sum64String(strconv.Itoa(k) + "\x00" + strings.Join(sorted, "\x00"))
	return strconv.FormatUint(h, 16)
}
