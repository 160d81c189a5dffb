package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/linke370/elysia-ai-companion/pkg/cache"
	"github.com/linke370/elysia-ai-companion/pkg/cache/local"
	"github.com/linke370/elysia-ai-companion/pkg/cache/rediscache"
	"github.com/linke370/elysia-ai-companion/pkg/conversation"
	conversationSQLite "github.com/linke370/elysia-ai-companion/pkg/conversation/sqlite"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/llm"
	openaiLLM "github.com/linke370/elysia-ai-companion/pkg/llm/openai"
	"github.com/linke370/elysia-ai-companion/pkg/logging"
	"github.com/linke370/elysia-ai-companion/pkg/metrics"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
	"github.com/linke370/elysia-ai-companion/pkg/storage/oceanbase"
	postgresStore "github.com/linke370/elysia-ai-companion/pkg/storage/postgres"
	sqliteStore "github.com/linke370/elysia-ai-companion/pkg/storage/sqlite"
	"github.com/rs/zerolog"
)

// Client is the memory client.
//
// It turns finished conversation turns into scored memory fragments, keeps
// each user's fragment count under the global cap, and serves relevance
// ranked fragments back for prompt grounding.
//
// Writes for one user are serialized; reads never wait for them and may see
// a slightly stale snapshot. The client is safe for concurrent use.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	result, _ := client.ProcessConversation(ctx, conversationID)
//	frags, _ := client.GetContextual(ctx, "user_001", "我最近在学吉他")
type Client struct {
	// config contains the client configuration.
	config *Config

	// store is the authoritative fragment store.
	store storage.FragmentStore

	// conversations reads the turns fragments are extracted from.
	conversations conversation.Store

	// classifier labels turns that arrive without an emotion label (may be nil).
	classifier intelligence.EmotionClassifier

	extractor *intelligence.Extractor
	scorer    *intelligence.Scorer
	policy    intelligence.RelevancePolicy

	// local and distributed are the cache tiers (either may be nil).
	local       *local.Cache
	distributed cache.CacheTier

	// contexts caches ranked retrieval results (nil without a distributed tier).
	contexts cache.ContextStore

	hierarchy *cache.Hierarchy

	// locks serializes writers per user.
	locks *userLocks

	// snowflakeNode generates unique IDs for fragments.
	snowflakeNode *snowflake.Node

	log zerolog.Logger
	now func() time.Time

	// bookkeeping tracks asynchronous access writes.
	bookkeeping sync.WaitGroup

	// closers are released on Close in order.
	closers []io.Closer

	closeOnce sync.Once
}

// NewClient creates a new memory client.
//
// The client is initialized with:
//   - Fragment store (SQLite, OceanBase, or PostgreSQL)
//   - Conversation store (SQLite, if Config.Conversations.DBPath is set)
//   - Process-local cache and, if Config.Cache.RedisAddr is set, Redis
//   - Emotion classifier (keyword lexicon or OpenAI)
//
// Options replace any of these with caller-provided implementations.
//
// Returns a new Client instance, or an error if initialization fails.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cache.AsyncTimeout <= 0 {
		cfg.Cache.AsyncTimeout = 2 * time.Second
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		config: cfg,
		locks:  newUserLocks(),
		now:    time.Now,
	}
	if o.now != nil {
		c.now = o.now
	}
	if o.logger != nil {
		c.log = *o.logger
	} else {
		c.log = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	// fail releases whatever was opened before an initialization error.
	fail := func(err error) (*Client, error) {
		c.closeResources()
		return nil, err
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}
	c.snowflakeNode = node

	c.store = o.store
	if c.store == nil {
		if c.store, err = initStorage(cfg.Store); err != nil {
			return nil, err
		}
	}
	c.closers = append(c.closers, c.store)

	c.conversations = o.conversations
	if c.conversations == nil && cfg.Conversations.DBPath != "" {
		convStore, err := conversationSQLite.NewStore(&conversationSQLite.Config{
			DBPath:    cfg.Conversations.DBPath,
			TableName: cfg.Conversations.TableName,
		})
		if err != nil {
			return fail(NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrConnectionFailed, err)))
		}
		c.conversations = convStore
		c.closers = append(c.closers, convStore)
	}

	c.classifier = o.classifier
	if c.classifier == nil {
		classifier, provider, err := initClassifier(cfg.Emotion)
		if err != nil {
			return fail(err)
		}
		c.classifier = classifier
		if provider != nil {
			c.closers = append(c.closers, provider)
		}
	}

	if cfg.Cache.LocalEnabled {
		c.local, err = local.New(local.Config{
			Capacity:     cfg.Cache.LocalCapacity,
			MaxUsers:     cfg.Cache.LocalMaxUsers,
			MaxStaleness: cfg.Cache.LocalMaxStaleness,
			Now:          c.now,
		})
		if err != nil {
			return fail(NewMemoryError("NewClient", err))
		}
	}

	c.distributed = o.distributed
	if c.distributed == nil && cfg.Cache.RedisAddr != "" {
		rc, err := rediscache.NewClient(redisConfig(cfg.Cache))
		if err != nil {
			// The distributed tier is an optimization; run without it.
			c.log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("distributed cache unavailable, continuing without it")
		} else {
			c.distributed = rc
			c.closers = append(c.closers, rc)
		}
	}
	if c.distributed != nil {
		if cs, ok := c.distributed.(cache.ContextStore); ok {
			c.contexts = cs
		}
	}

	c.extractor = o.extractor
	if c.extractor == nil {
		c.extractor = intelligence.NewExtractor()
	}
	c.scorer = o.scorer
	if c.scorer == nil {
		c.scorer = intelligence.NewScorer()
	}

	c.policy = intelligence.DefaultRelevancePolicy()
	c.policy.Threshold = cfg.Policy.RelevanceThreshold
	if cfg.Policy.OverlapCap > 0 {
		c.policy.OverlapCap = cfg.Policy.OverlapCap
	}
	if cfg.Policy.RecencyWindow > 0 {
		c.policy.RecencyWindow = cfg.Policy.RecencyWindow
	}

	hcfg := cache.HierarchyConfig{
		Store:        cache.NewStoreTier(c.store, 0),
		ActiveTTL:    cfg.Cache.ActiveTTL,
		AsyncTimeout: cfg.Cache.AsyncTimeout,
		QueueSize:    cfg.Cache.QueueSize,
		Logger:       c.log,
	}
	if c.local != nil {
		hcfg.Local = c.local
	}
	if c.distributed != nil {
		hcfg.Distributed = c.distributed
		if imp, ok := c.distributed.(cache.ImportantSource); ok {
			hcfg.Important = imp
		}
	}
	c.hierarchy = cache.NewHierarchy(hcfg)

	c.log = c.log.With().Str("module", "memory").Logger()
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.config
}

// ProcessConversation extracts, scores and stores the memory fragments of one
// conversation turn.
//
// The method:
//  1. Fetches the turn from the conversation store
//  2. Labels its emotion if the turn has none
//  3. Skips the turn unless it passes the importance gate
//  4. Extracts and scores candidates, and persists each one
//  5. Merges the new fragments into the cache tiers
//  6. Evicts the lowest ranked fragments above the global cap
//
// A candidate that cannot be stored is reported in ProcessResult.Failures and
// does not abort the others. An error is returned only when the turn cannot
// be read at all.
func (c *Client) ProcessConversation(ctx context.Context, conversationID int64) (*ProcessResult, error) {
	if c.conversations == nil {
		return nil, NewMemoryError("ProcessConversation", fmt.Errorf("%w: no conversation store", ErrInvalidConfig))
	}

	conv, err := c.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, conversation.ErrNotFound) {
		return nil, NewMemoryError("ProcessConversation", fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID))
	}
	if err != nil {
		return nil, NewMemoryError("ProcessConversation", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	return c.processConversation(ctx, conv)
}

// ProcessTurn processes a turn the caller already holds, bypassing the
// conversation store.
func (c *Client) ProcessTurn(ctx context.Context, conv *conversation.Conversation) (*ProcessResult, error) {
	if conv == nil || conv.UserID == "" {
		return nil, NewMemoryError("ProcessTurn", ErrInvalidInput)
	}
	return c.processConversation(ctx, conv)
}

func (c *Client) processConversation(ctx context.Context, conv *conversation.Conversation) (*ProcessResult, error) {
	log := c.log.With().Str("user_id", conv.UserID).Int64("conversation_id", conv.ID).Logger()

	label, confidence := c.classify(ctx, conv)

	if !c.passesGate(conv, label, confidence) {
		metrics.TurnsProcessed.WithLabelValues("skipped").Inc()
		log.Debug().Str("emotion", label).Float64("confidence", confidence).Msg("turn below importance gate")
		return &ProcessResult{ConversationID: conv.ID, UserID: conv.UserID, Skipped: true}, nil
	}

	unlock := c.locks.lock(conv.UserID)
	defer unlock()

	result := c.processTurn(ctx, conv.UserID, conv.ID, conv.UserMessage, label, confidence)
	if len(result.Failures) > 0 {
		metrics.TurnsProcessed.WithLabelValues("partial").Inc()
	} else {
		metrics.TurnsProcessed.WithLabelValues("processed").Inc()
	}

	log.Info().
		Int("stored", len(result.Stored)).
		Int("merged", result.Merged).
		Int("failed", len(result.Failures)).
		Int("evicted", result.Evicted).
		Msg("conversation processed")

	return result, nil
}

// classify returns the turn's emotion, asking the classifier when the turn
// carries no label. A classifier failure degrades to a neutral label.
func (c *Client) classify(ctx context.Context, conv *conversation.Conversation) (string, float64) {
	if conv.EmotionLabel != "" || c.classifier == nil {
		return conv.EmotionLabel, conv.EmotionConfidence
	}

	res, err := c.classifier.Analyze(ctx, conv.UserMessage, conv.UserID)
	if err != nil || res == nil {
		c.log.Warn().Err(err).Str("user_id", conv.UserID).Int64("conversation_id", conv.ID).Msg("emotion classification failed")
		return intelligence.LabelNeutral, 0
	}
	return res.Label, res.Confidence
}

// passesGate reports whether a turn is worth extracting from.
func (c *Client) passesGate(conv *conversation.Conversation, label string, confidence float64) bool {
	switch {
	case conv.Meaningful:
		return true
	case confidence > c.config.Policy.GateConfidence:
		return true
	case len([]rune(conv.UserMessage)) > c.config.Policy.GateLength:
		return true
	case label != "" && !intelligence.IsNeutral(label):
		return true
	}
	return false
}

// processTurn runs extraction through eviction. Must be called with the
// user's lock held.
func (c *Client) processTurn(ctx context.Context, userID string, conversationID int64, text, label string, confidence float64) *ProcessResult {
	result := &ProcessResult{ConversationID: conversationID, UserID: userID}

	candidates := c.extractor.Extract(text)
	if len(candidates) == 0 {
		return result
	}

	// Existing fragments with the same dedup key are raised instead of duplicated.
	existing := make(map[uint64]*storage.Fragment)
	if active, err := c.fullSet(ctx, userID); err == nil {
		for _, f := range active {
			existing[intelligence.DedupKey(f.Type, f.Text)] = f
		}
	} else {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("active set unavailable, skipping duplicate check")
	}

	var raised []*storage.Fragment
	seen := make(map[uint64]bool, len(candidates))
	now := c.now()

	for i, cand := range candidates {
		if cand.Text == "" || !cand.Type.Valid() {
			result.Failures = append(result.Failures, FragmentFailure{
				Index: i,
				Text:  cand.Text,
				Err:   fmt.Errorf("%w: type %q", ErrExtraction, cand.Type),
			})
			continue
		}
		metrics.FragmentsExtracted.WithLabelValues(cand.Type.String()).Inc()

		key := intelligence.DedupKey(cand.Type, cand.Text)
		if seen[key] {
			continue
		}
		seen[key] = true

		score := c.scorer.Score(cand, label, confidence)

		if prev, ok := existing[key]; ok {
			result.Merged++
			if score <= prev.ImportanceScore {
				continue
			}
			if err := c.store.UpdateImportance(ctx, userID, prev.ID, score); err != nil {
				c.log.Warn().Err(err).Str("user_id", userID).Int64("fragment_id", prev.ID).Msg("failed to raise duplicate fragment")
				continue
			}
			prev.ImportanceScore = score
			raised = append(raised, prev)
			continue
		}

		f := &storage.Fragment{
			ID:                   c.snowflakeNode.Generate().Int64(),
			UserID:               userID,
			Text:                 cand.Text,
			Type:                 cand.Type,
			ImportanceScore:      score,
			CreatedAt:            now,
			LastAccessed:         now,
			SourceConversationID: conversationID,
			RelatedKeywords:      intelligence.ExtractKeywords(cand.Text, cand.Type),
		}

		if err := c.persist(ctx, f); err != nil {
			metrics.PersistenceFailures.Inc()
			c.log.Error().Err(err).Str("user_id", userID).Int64("conversation_id", conversationID).Str("text", cand.Text).Msg("failed to persist fragment")
			result.Failures = append(result.Failures, FragmentFailure{
				Index: i,
				Text:  cand.Text,
				Err:   fmt.Errorf("%w: %v", ErrPersistence, err),
			})
			continue
		}
		metrics.FragmentsPersisted.WithLabelValues(f.Type.String()).Inc()
		result.Stored = append(result.Stored, f)
		existing[key] = f
	}

	c.hierarchy.Propagate(ctx, userID, result.Stored)
	c.hierarchy.Refresh(ctx, userID, raised)

	evicted, err := c.enforceCapacity(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("capacity enforcement incomplete")
	}
	result.Evicted = evicted

	return result
}

// persist inserts a fragment, retrying as configured.
func (c *Client) persist(ctx context.Context, f *storage.Fragment) error {
	var err error
	for attempt := 0; attempt <= c.config.Policy.PersistRetries; attempt++ {
		if err = c.store.Insert(ctx, f); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// EnforceCapacity evicts the user's lowest ranked fragments until the
// persisted count is within the global cap, and returns how many were evicted.
// Being over the cap is not an error.
func (c *Client) EnforceCapacity(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, NewMemoryError("EnforceCapacity", ErrInvalidInput)
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	n, err := c.enforceCapacity(ctx, userID)
	return n, newUserError("EnforceCapacity", userID, err)
}

// enforceCapacity must be called with the user's lock held.
func (c *Client) enforceCapacity(ctx context.Context, userID string) (int, error) {
	count, err := c.store.Count(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}

	excess := int(count) - c.config.Policy.GlobalCap
	if excess <= 0 {
		return 0, nil
	}

	candidates, err := c.store.EvictionCandidates(ctx, userID, excess)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}

	var evicted []int64
	var firstErr error
	for _, cand := range candidates {
		if err := c.store.Delete(ctx, userID, cand.FragmentID); err != nil && !errors.Is(err, storage.ErrFragmentNotFound) {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", ErrStorageOperation, err)
			}
			continue
		}
		evicted = append(evicted, cand.FragmentID)
		c.log.Debug().
			Str("user_id", userID).
			Int64("fragment_id", cand.FragmentID).
			Float64("importance", cand.ImportanceScore).
			Msg("fragment evicted")
	}

	c.hierarchy.Invalidate(ctx, userID, evicted...)
	metrics.FragmentsEvicted.Add(float64(len(evicted)))

	return len(evicted), firstErr
}

// PurgeUser deletes every fragment of a user from the store and all cache
// tiers, and returns how many persisted fragments were removed. Purging an
// unknown user removes nothing and is not an error.
func (c *Client) PurgeUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, NewMemoryError("PurgeUser", ErrInvalidInput)
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	n, err := c.store.DeleteAll(ctx, userID)
	if err != nil {
		return 0, newUserError("PurgeUser", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	c.hierarchy.Purge(ctx, userID)

	c.log.Info().Str("user_id", userID).Int64("deleted", n).Msg("user purged")
	return n, nil
}

// GetStats summarizes a user's persisted fragments. An unknown user yields
// zero counts.
func (c *Client) GetStats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, NewMemoryError("GetStats", ErrInvalidInput)
	}

	frags, err := c.store.Query(ctx, &storage.QueryOptions{UserID: userID})
	if err != nil {
		return nil, newUserError("GetStats", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	stats := &Stats{
		UserID:           userID,
		TotalCount:       len(frags),
		TypeDistribution: make(map[FragmentType]int, len(storage.AllFragmentTypes())),
	}
	for _, t := range storage.AllFragmentTypes() {
		stats.TypeDistribution[t] = 0
	}

	var sum float64
	for _, f := range frags {
		stats.TypeDistribution[f.Type]++
		sum += f.ImportanceScore
		if f.ImportanceScore > c.config.Cache.ImportantThreshold {
			stats.ImportantCount++
		}
	}
	if stats.TotalCount > 0 {
		stats.ImportantRatio = float64(stats.ImportantCount) / float64(stats.TotalCount)
		stats.AverageImportance = sum / float64(stats.TotalCount)
	}

	return stats, nil
}

// GetUserMemories lists a user's persisted fragments, most important first
// unless WithRecentFirst is given.
func (c *Client) GetUserMemories(ctx context.Context, userID string, opts ...QueryOption) ([]*Fragment, error) {
	if userID == "" {
		return nil, NewMemoryError("GetUserMemories", ErrInvalidInput)
	}

	q := &storage.QueryOptions{UserID: userID}
	for _, opt := range opts {
		opt(q)
	}

	frags, err := c.store.Query(ctx, q)
	if err != nil {
		return nil, newUserError("GetUserMemories", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	return frags, nil
}

// SearchMemories lists a user's fragments whose text or keywords contain keyword.
func (c *Client) SearchMemories(ctx context.Context, userID, keyword string, opts ...QueryOption) ([]*Fragment, error) {
	if userID == "" || keyword == "" {
		return nil, NewMemoryError("SearchMemories", ErrInvalidInput)
	}

	q := &storage.QueryOptions{UserID: userID}
	for _, opt := range opts {
		opt(q)
	}
	q.Keyword = keyword

	frags, err := c.store.Query(ctx, q)
	if err != nil {
		return nil, newUserError("SearchMemories", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	return frags, nil
}

// RecordFeedback adjusts the importance of the fragments used in a reply
// according to the user's reaction, and returns the updated fragments.
// Unknown IDs are skipped.
func (c *Client) RecordFeedback(ctx context.Context, userID string, ids []int64, fb intelligence.Feedback) ([]*Fragment, error) {
	if userID == "" {
		return nil, NewMemoryError("RecordFeedback", ErrInvalidInput)
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	var updated []*Fragment
	for _, id := range ids {
		f, err := c.store.Get(ctx, userID, id)
		if errors.Is(err, storage.ErrFragmentNotFound) {
			continue
		}
		if err != nil {
			return updated, newUserError("RecordFeedback", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
		}

		score := intelligence.AdjustImportance(f.ImportanceScore, fb)
		if err := c.store.UpdateImportance(ctx, userID, id, score); err != nil {
			return updated, newUserError("RecordFeedback", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
		}
		f.ImportanceScore = score
		updated = append(updated, f)
	}

	c.hierarchy.Refresh(ctx, userID, updated)
	return updated, nil
}

// UpdateImportance overwrites a fragment's importance, clamped to [0, 1].
func (c *Client) UpdateImportance(ctx context.Context, userID string, id int64, score float64) (*Fragment, error) {
	if userID == "" {
		return nil, NewMemoryError("UpdateImportance", ErrInvalidInput)
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	score = storage.ClampImportance(score)
	if err := c.store.UpdateImportance(ctx, userID, id, score); err != nil {
		if errors.Is(err, storage.ErrFragmentNotFound) {
			return nil, newUserError("UpdateImportance", userID, ErrNotFound)
		}
		return nil, newUserError("UpdateImportance", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	f, err := c.store.Get(ctx, userID, id)
	if err != nil {
		return nil, newUserError("UpdateImportance", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	c.hierarchy.Refresh(ctx, userID, []*storage.Fragment{f})
	return f, nil
}

// ExtractHistorical re-runs extraction over a user's important past turns,
// oldest first. Turns are not gated again.
func (c *Client) ExtractHistorical(ctx context.Context, userID string, limit int) (*ProcessResult, error) {
	if userID == "" {
		return nil, NewMemoryError("ExtractHistorical", ErrInvalidInput)
	}
	if c.conversations == nil {
		return nil, NewMemoryError("ExtractHistorical", fmt.Errorf("%w: no conversation store", ErrInvalidConfig))
	}
	if limit <= 0 {
		limit = c.config.Policy.HistoricalLimit
	}

	convs, err := c.conversations.ListImportant(ctx, userID, limit)
	if err != nil {
		return nil, newUserError("ExtractHistorical", userID, fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	total := &ProcessResult{UserID: userID}
	for i := len(convs) - 1; i >= 0; i-- {
		conv := convs[i]
		label, confidence := c.classify(ctx, conv)
		total.add(c.processTurn(ctx, userID, conv.ID, conv.UserMessage, label, confidence))
	}

	c.log.Info().
		Str("user_id", userID).
		Int("turns", len(convs)).
		Int("stored", len(total.Stored)).
		Int("evicted", total.Evicted).
		Msg("historical extraction finished")
	return total, nil
}

// CacheStats reports the state of the cache tiers.
func (c *Client) CacheStats(ctx context.Context) CacheStats {
	stats := CacheStats{
		LocalEnabled:       c.local != nil,
		DistributedEnabled: c.distributed != nil,
		PendingWrites:      c.hierarchy.Pending(),
	}
	if c.local != nil {
		stats.LocalUsers, stats.LocalFragments = c.local.Stats()
	}
	if p, ok := c.distributed.(cache.Pinger); ok {
		stats.DistributedReachable = p.Ping(ctx) == nil
	}
	return stats
}

// HealthCheck pings the fragment store and the distributed tier.
func (c *Client) HealthCheck(ctx context.Context) Health {
	var h Health

	h.Store = c.store.Ping(ctx)
	h.StoreOK = h.Store == nil

	if p, ok := c.distributed.(cache.Pinger); ok {
		h.Distributed = p.Ping(ctx)
		h.DistributedOK = h.Distributed == nil
	}
	return h
}

// Wait blocks until background cache writes and access bookkeeping finish.
func (c *Client) Wait() {
	c.bookkeeping.Wait()
	c.hierarchy.Wait()
}

// Close drains background work and closes the client and releases all resources.
//
// It closes:
//   - Fragment store connection
//   - Conversation store connection (if opened by the client)
//   - Redis connection (if dialed by the client)
//   - LLM provider (if used for emotion classification)
//
// Example:
//
//	defer client.Close()
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.bookkeeping.Wait()
		c.hierarchy.Close()
		err = c.closeResources()
	})
	return err
}

func (c *Client) closeResources() error {
	var errs []error
	for _, closer := range c.closers {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil

	if len(errs) > 0 {
		return errs[0] // Return the first error
	}
	return nil
}

// initStorage initializes the storage backend.
func initStorage(cfg StoreConfig) (storage.FragmentStore, error) {
	var (
		store storage.FragmentStore
		err   error
	)

	switch cfg.Provider {
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:           cfg.OceanBase.Host,
			Port:           cfg.OceanBase.Port,
			User:           cfg.OceanBase.User,
			Password:       cfg.OceanBase.Password,
			DBName:         cfg.OceanBase.DBName,
			CollectionName: cfg.OceanBase.CollectionName,
		})
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:         cfg.SQLite.DBPath,
			CollectionName: cfg.SQLite.CollectionName,
		})
	case "postgres":
		store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			DBName:         cfg.Postgres.DBName,
			CollectionName: cfg.Postgres.CollectionName,
			SSLMode:        cfg.Postgres.SSLMode,
		})
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}

	if err != nil {
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	return store, nil
}

// initClassifier initializes the emotion classifier. The returned provider,
// if any, must be closed with the client.
func initClassifier(cfg EmotionConfig) (intelligence.EmotionClassifier, llm.Provider, error) {
	switch cfg.Provider {
	case "", "keyword":
		return intelligence.NewKeywordClassifier(nil), nil, nil
	case "none":
		return nil, nil, nil
	case "openai":
		provider, err := openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, nil, NewMemoryError("initClassifier", fmt.Errorf("%w: %v", ErrLLMOperation, err))
		}
		return intelligence.NewLLMClassifier(provider), provider, nil
	default:
		return nil, nil, NewMemoryError("initClassifier", ErrInvalidConfig)
	}
}

func redisConfig(cfg CacheConfig) rediscache.Config {
	return rediscache.Config{
		Addr:               cfg.RedisAddr,
		Password:           cfg.RedisPassword,
		DB:                 cfg.RedisDB,
		Capacity:           cfg.DistributedCapacity,
		ActiveTTL:          cfg.ActiveTTL,
		ContextTTL:         cfg.ContextTTL,
		ImportantTTL:       cfg.ImportantTTL,
		ImportantThreshold: cfg.ImportantThreshold,
		ImportantLimit:     cfg.ImportantLimit,
		OpTimeout:          cfg.OpTimeout,
	}
}
