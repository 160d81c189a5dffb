// Package core provides the memory client: it turns conversation turns into
// scored memory fragments and serves them back as retrieval context.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested fragment or conversation was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates that a connection to a backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrExtraction indicates that a candidate could not be turned into a fragment.
	ErrExtraction = errors.New("extraction failed")

	// ErrPersistence indicates that a fragment could not be persisted after retrying.
	ErrPersistence = errors.New("persistence failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")
)

// MemoryError wraps errors with operation context.
//
// It provides additional context about which operation failed and for which
// user, making error messages more informative for debugging.
//
// Example:
//
//	err := &MemoryError{
//	    Op:     "ProcessConversation",
//	    UserID: "user_001",
//	    Err:    ErrPersistence,
//	}
//	// Error() returns: "memory: ProcessConversation: user_001: persistence failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// UserID is the user the operation ran for, if any.
	UserID string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *MemoryError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("memory: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("memory: %s: %s: %v", e.Op, e.UserID, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with MemoryError.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("PurgeUser", err)
//	}
//
// Returns a MemoryError, or nil if err is nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// newUserError is NewMemoryError with the user attached.
func newUserError(op, userID string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:     op,
		UserID: userID,
		Err:    err,
	}
}

// FragmentFailure reports a candidate that could not be stored. A turn with
// failures still stores its other candidates.
type FragmentFailure struct {
	// Index is the candidate position in extraction order.
	Index int `json:"index"`

	// Text is the candidate text.
	Text string `json:"text"`

	// Err is the cause, wrapping ErrExtraction or ErrPersistence.
	Err error `json:"-"`
}

// Error implements error.
func (f FragmentFailure) Error() string {
	return fmt.Sprintf("candidate %d (%q): %v", f.Index, f.Text, f.Err)
}

// Unwrap returns the cause.
func (f FragmentFailure) Unwrap() error {
	return f.Err
}
