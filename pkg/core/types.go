package core

import (
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// Fragment is a persisted memory fragment.
type Fragment = storage.Fragment

// FragmentType is the closed set of fragment categories.
type FragmentType = storage.FragmentType

// RetrievalQuery describes one GetContextual call. It is built per call and
// never stored.
type RetrievalQuery struct {
	// UserID identifies whose fragments are searched.
	UserID string `json:"user_id"`

	// Text is the incoming message.
	Text string `json:"text"`

	// K is the maximum number of fragments returned.
	K int `json:"k"`
}

// ProcessResult summarizes one processed turn.
//
// Partial success is normal: Stored and Failures may both be non-empty.
type ProcessResult struct {
	// ConversationID is the turn that was processed.
	ConversationID int64 `json:"conversation_id"`

	// UserID owns the turn.
	UserID string `json:"user_id"`

	// Skipped is true when the turn did not pass the importance gate.
	Skipped bool `json:"skipped"`

	// Stored are the fragments persisted for this turn.
	Stored []*Fragment `json:"stored"`

	// Merged counts candidates folded into an existing fragment with the same
	// type and text instead of being stored again.
	Merged int `json:"merged"`

	// Failures are candidates that could not be stored.
	Failures []FragmentFailure `json:"failures,omitempty"`

	// Evicted counts fragments removed by capacity enforcement.
	Evicted int `json:"evicted"`
}

// add folds another result into r.
func (r *ProcessResult) add(o *ProcessResult) {
	if o == nil {
		return
	}
	r.Stored = append(r.Stored, o.Stored...)
	r.Merged += o.Merged
	r.Failures = append(r.Failures, o.Failures...)
	r.Evicted += o.Evicted
}

// Stats describes a user's persisted fragments.
type Stats struct {
	// UserID is the user the stats describe.
	UserID string `json:"user_id"`

	// TotalCount is the number of persisted fragments.
	TotalCount int `json:"total_count"`

	// TypeDistribution counts fragments per type; every type is present.
	TypeDistribution map[FragmentType]int `json:"type_distribution"`

	// ImportantCount counts fragments above the important threshold.
	ImportantCount int `json:"important_count"`

	// ImportantRatio is ImportantCount / TotalCount, or 0 for an empty user.
	ImportantRatio float64 `json:"important_ratio"`

	// AverageImportance is the mean importance score, or 0 for an empty user.
	AverageImportance float64 `json:"average_importance"`
}

// CacheStats describes the cache tiers of this process.
type CacheStats struct {
	// LocalEnabled reports whether the process-local tier is configured.
	LocalEnabled bool `json:"local_enabled"`

	// LocalUsers is the number of users with a live local list.
	LocalUsers int `json:"local_users"`

	// LocalFragments is the number of fragments held locally.
	LocalFragments int `json:"local_fragments"`

	// DistributedEnabled reports whether the distributed tier is configured.
	DistributedEnabled bool `json:"distributed_enabled"`

	// DistributedReachable reports whether the distributed tier answered a ping.
	DistributedReachable bool `json:"distributed_reachable"`

	// PendingWrites is the number of queued background cache writes.
	PendingWrites int `json:"pending_writes"`
}

// Health reports backend reachability.
type Health struct {
	Store       error `json:"-"`
	Distributed error `json:"-"`

	StoreOK       bool `json:"store_ok"`
	DistributedOK bool `json:"distributed_ok"`
}
