// Package storage provides interfaces and types for the persistent fragment store.
//
// It defines the FragmentStore interface that all storage implementations must satisfy,
// along with the fragment type and query options. The persistent store is the
// authoritative tier: every cache tier is rebuilt from it on a miss.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFragmentNotFound is returned when a fragment does not exist or belongs to another user.
var ErrFragmentNotFound = errors.New("fragment not found")

// FragmentType is the closed category set of a memory fragment.
type FragmentType string

const (
	// TypeFact is a stable personal fact (name, age, hometown, school).
	TypeFact FragmentType = "fact"

	// TypePreference is a like, dislike, habit or skill.
	TypePreference FragmentType = "preference"

	// TypeImportantEvent is a dated or notable life event.
	TypeImportantEvent FragmentType = "important_event"

	// TypeEmotionPattern is a recurring emotional or behavioural pattern.
	TypeEmotionPattern FragmentType = "emotion_pattern"
)

// AllFragmentTypes returns every fragment type in a stable order.
func AllFragmentTypes() []FragmentType {
	return []FragmentType{TypeFact, TypePreference, TypeImportantEvent, TypeEmotionPattern}
}

// Valid reports whether t is one of the known fragment types.
func (t FragmentType) Valid() bool {
	switch t {
	case TypeFact, TypePreference, TypeImportantEvent, TypeEmotionPattern:
		return true
	}
	return false
}

// String returns the stable code of the type.
func (t FragmentType) String() string {
	return string(t)
}

// ParseFragmentType converts a stored code into a FragmentType.
func ParseFragmentType(s string) (FragmentType, error) {
	t := FragmentType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown fragment type %q", s)
	}
	return t, nil
}

// Fragment is a single durable memory about a user.
//
// Fragments are copied when they move between tiers; no tier holds a
// reference owned by another tier.
type Fragment struct {
	// ID is the unique identifier of the fragment.
	ID int64 `json:"id"`

	// UserID identifies the user who owns this fragment.
	UserID string `json:"user_id"`

	// Text is the extracted memory text.
	Text string `json:"text"`

	// Type is the fragment category.
	Type FragmentType `json:"type"`

	// ImportanceScore is in [0, 1].
	ImportanceScore float64 `json:"importance_score"`

	// CreatedAt is when the fragment was extracted.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is refreshed whenever retrieval returns the fragment.
	LastAccessed time.Time `json:"last_accessed"`

	// AccessCount counts how many times retrieval returned the fragment.
	AccessCount int `json:"access_count"`

	// SourceConversationID is the conversation turn the fragment came from.
	SourceConversationID int64 `json:"source_conversation_id,omitempty"`

	// RelatedKeywords are used for keyword-overlap relevance.
	RelatedKeywords []string `json:"related_keywords,omitempty"`
}

// Clone returns a deep copy of the fragment.
func (f *Fragment) Clone() *Fragment {
	if f == nil {
		return nil
	}
	c := *f
	if f.RelatedKeywords != nil {
		c.RelatedKeywords = append([]string(nil), f.RelatedKeywords...)
	}
	return &c
}

// CloneAll deep-copies a fragment slice.
func CloneAll(frags []*Fragment) []*Fragment {
	if frags == nil {
		return nil
	}
	out := make([]*Fragment, 0, len(frags))
	for _, f := range frags {
		out = append(out, f.Clone())
	}
	return out
}

// EvictionCandidate identifies a fragment chosen for removal by capacity enforcement.
type EvictionCandidate struct {
	FragmentID      int64
	ImportanceScore float64
	LastAccessed    time.Time
}

// Order selects the ordering of Query results.
type Order int

const (
	// OrderImportance sorts by importance desc, then last access desc.
	OrderImportance Order = iota

	// OrderRecent sorts by creation time desc.
	OrderRecent
)

// QueryOptions contains options for Query operations.
type QueryOptions struct {
	// UserID is required.
	UserID string

	// Type filters by fragment type when non-nil.
	Type *FragmentType

	// Keyword filters fragments whose text or keywords contain it.
	Keyword string

	// Limit sets the maximum number of results; zero means no limit.
	Limit int

	// Offset sets the number of results to skip.
	Offset int

	// Order selects result ordering.
	Order Order
}

// FragmentStore defines the interface for persistent fragment storage backends.
//
// All storage implementations (SQLite, PostgreSQL, OceanBase) must implement this interface.
// Every method is scoped to a user; a fragment of another user is reported as
// ErrFragmentNotFound.
type FragmentStore interface {
	// Insert persists a new fragment. The ID must already be assigned.
	Insert(ctx context.Context, fragment *Fragment) error

	// Get retrieves one fragment of a user.
	Get(ctx context.Context, userID string, id int64) (*Fragment, error)

	// Query lists fragments of a user with optional type and keyword filters.
	Query(ctx context.Context, opts *QueryOptions) ([]*Fragment, error)

	// Count returns the number of fragments a user currently owns.
	Count(ctx context.Context, userID string) (int64, error)

	// EvictionCandidates returns up to n fragments ordered by
	// importance ascending, then last access ascending.
	EvictionCandidates(ctx context.Context, userID string, n int) ([]EvictionCandidate, error)

	// UpdateImportance overwrites the importance score of a fragment.
	UpdateImportance(ctx context.Context, userID string, id int64, score float64) error

	// RecordAccess increments the access count and sets last access to at.
	RecordAccess(ctx context.Context, userID string, id int64, at time.Time) error

	// Delete removes one fragment of a user.
	Delete(ctx context.Context, userID string, id int64) error

	// DeleteAll removes every fragment of a user and returns how many were removed.
	DeleteAll(ctx context.Context, userID string) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
