package core

import (
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/cache"
	"github.com/linke370/elysia-ai-companion/pkg/conversation"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
	"github.com/rs/zerolog"
)

// ClientOption is a function type for configuring a Client.
//
// Options override what NewClient would otherwise build from Config, which
// is how tests and embedding applications inject their own collaborators.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger        *zerolog.Logger
	store         storage.FragmentStore
	conversations conversation.Store
	distributed   cache.CacheTier
	classifier    intelligence.EmotionClassifier
	extractor     *intelligence.Extractor
	scorer        *intelligence.Scorer
	now           func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = &logger
	}
}

// WithStore sets the fragment store instead of opening Config.Store.
// The client closes it on Close.
func WithStore(store storage.FragmentStore) ClientOption {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithConversationStore sets the conversation store instead of opening
// Config.Conversations.
//
// Example:
//
//	client, _ := core.NewClient(cfg, core.WithConversationStore(myStore))
func WithConversationStore(store conversation.Store) ClientOption {
	return func(o *clientOptions) {
		o.conversations = store
	}
}

// WithDistributedCache sets the distributed tier instead of dialing
// Config.Cache.RedisAddr. If it also implements cache.ContextStore or
// cache.ImportantSource, those paths are used too.
func WithDistributedCache(tier cache.CacheTier) ClientOption {
	return func(o *clientOptions) {
		o.distributed = tier
	}
}

// WithClassifier sets the emotion classifier used for unlabelled turns.
func WithClassifier(classifier intelligence.EmotionClassifier) ClientOption {
	return func(o *clientOptions) {
		o.classifier = classifier
	}
}

// WithExtractor replaces the default rule-based extractor.
func WithExtractor(extractor *intelligence.Extractor) ClientOption {
	return func(o *clientOptions) {
		o.extractor = extractor
	}
}

// WithScorer replaces the default importance scorer.
func WithScorer(scorer *intelligence.Scorer) ClientOption {
	return func(o *clientOptions) {
		o.scorer = scorer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.now = now
	}
}

// ContextOption is a function type for configuring GetContextual calls.
type ContextOption func(*ContextOptions)

// ContextOptions contains configuration options for GetContextual.
type ContextOptions struct {
	// K is the maximum number of fragments returned (default Policy.DefaultK).
	K int

	// SkipContextCache bypasses the cached retrieval results.
	SkipContextCache bool
}

// WithK sets the number of fragments to return.
//
// Example:
//
//	frags, _ := client.GetContextual(ctx, "user_001", "蓝色", core.WithK(3))
func WithK(k int) ContextOption {
	return func(opts *ContextOptions) {
		opts.K = k
	}
}

// WithoutContextCache makes GetContextual rank the active set afresh.
func WithoutContextCache() ContextOption {
	return func(opts *ContextOptions) {
		opts.SkipContextCache = true
	}
}

// applyContextOptions applies ContextOption functions and returns the configured options.
func applyContextOptions(defaultK int, opts []ContextOption) *ContextOptions {
	options := &ContextOptions{K: defaultK}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// QueryOption is a function type for configuring GetUserMemories and SearchMemories.
type QueryOption func(*storage.QueryOptions)

// WithType restricts results to one fragment type.
func WithType(t FragmentType) QueryOption {
	return func(opts *storage.QueryOptions) {
		opts.Type = &t
	}
}

// WithLimit sets the maximum number of results.
func WithLimit(limit int) QueryOption {
	return func(opts *storage.QueryOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first offset results.
func WithOffset(offset int) QueryOption {
	return func(opts *storage.QueryOptions) {
		opts.Offset = offset
	}
}

// WithRecentFirst orders results by creation time instead of importance.
func WithRecentFirst() QueryOption {
	return func(opts *storage.QueryOptions) {
		opts.Order = storage.OrderRecent
	}
}
