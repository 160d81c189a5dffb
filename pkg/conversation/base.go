// Package conversation defines the read-only view of past conversation turns
// the memory manager extracts fragments from.
package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation turn does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one user/assistant exchange.
type Conversation struct {
	// ID is the unique identifier of the turn.
	ID int64 `json:"id"`

	// UserID identifies the speaker.
	UserID string `json:"user_id"`

	// UserMessage is the utterance fragments are extracted from.
	UserMessage string `json:"user_message"`

	// AIResponse is the assistant reply.
	AIResponse string `json:"ai_response,omitempty"`

	// EmotionLabel is the classifier label; empty when not yet classified.
	EmotionLabel string `json:"emotion_label,omitempty"`

	// EmotionConfidence is in [0, 1].
	EmotionConfidence float64 `json:"emotion_confidence"`

	// Meaningful is set by the upstream dialogue layer for turns worth remembering.
	Meaningful bool `json:"meaningful"`

	// CreatedAt is when the turn happened.
	CreatedAt time.Time `json:"created_at"`
}

// Store reads conversation turns.
type Store interface {
	// GetConversation returns one turn, or ErrNotFound.
	GetConversation(ctx context.Context, id int64) (*Conversation, error)

	// ListImportant returns a user's most recent turns that are meaningful or
	// carry a non-neutral emotion, newest first.
	ListImportant(ctx context.Context, userID string, limit int) ([]*Conversation, error)
}
