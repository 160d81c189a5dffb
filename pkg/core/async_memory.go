package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// AsyncClient provides fire-and-forget memory operations.
//
// It wraps the synchronous Client and executes operations in separate
// goroutines, so a dialogue loop can hand off a finished turn without waiting
// for extraction and persistence. Each operation is tagged with a job ID that
// appears in the logs and in the result.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	resultChan := asyncClient.ProcessConversationAsync(ctx, conversationID)
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous memory client.
//
// Parameters:
//   - cfg: Memory configuration
//   - opts: Client options, as for NewClient
//
// Returns:
//   - *AsyncClient: The asynchronous client instance
//   - error: Error if configuration is invalid or initialization fails
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{
		Client: client,
	}, nil
}

// ProcessConversationAsync processes a conversation turn asynchronously.
//
// The operation runs detached from ctx cancellation so a turn handed off at
// the end of a request is still processed.
//
// Returns:
//   - <-chan *ProcessJobResult: Channel that receives the result
func (ac *AsyncClient) ProcessConversationAsync(ctx context.Context, conversationID int64) <-chan *ProcessJobResult {
	resultChan := make(chan *ProcessJobResult, 1)
	jobID := uuid.NewString()
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		result, err := ac.ProcessConversation(context.WithoutCancel(ctx), conversationID)
		if err != nil {
			ac.log.Warn().Err(err).Str("job_id", jobID).Int64("conversation_id", conversationID).Msg("async processing failed")
		}
		resultChan <- &ProcessJobResult{
			JobID:  jobID,
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// GetContextualAsync retrieves context asynchronously.
//
// Returns:
//   - <-chan *ContextJobResult: Channel that receives the fragments and error
func (ac *AsyncClient) GetContextualAsync(ctx context.Context, userID, query string, opts ...ContextOption) <-chan *ContextJobResult {
	resultChan := make(chan *ContextJobResult, 1)
	jobID := uuid.NewString()
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		frags, err := ac.GetContextual(ctx, userID, query, opts...)
		resultChan <- &ContextJobResult{
			JobID:     jobID,
			Fragments: frags,
			Error:     err,
		}
		close(resultChan)
	}()

	return resultChan
}

// PurgeUserAsync purges a user asynchronously.
func (ac *AsyncClient) PurgeUserAsync(ctx context.Context, userID string) <-chan error {
	errChan := make(chan error, 1)
	ac.wg.Add(1)

	go func() {
		defer ac.wg.Done()
		_, err := ac.PurgeUser(ctx, userID)
		errChan <- err
		close(errChan)
	}()

	return errChan
}

// Wait waits for all asynchronous operations and the client's background
// writes to complete.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
	ac.Client.Wait()
}

// Close closes the asynchronous client.
//
// It first waits for all asynchronous operations to complete, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.wg.Wait()
	return ac.Client.Close()
}

// ProcessJobResult contains the result of an asynchronous ProcessConversation.
type ProcessJobResult struct {
	// JobID identifies the operation in logs.
	JobID string

	// Result is nil if an error occurred.
	Result *ProcessResult

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// ContextJobResult contains the result of an asynchronous GetContextual.
type ContextJobResult struct {
	// JobID identifies the operation in logs.
	JobID string

	// Fragments are the ranked fragments.
	Fragments []*Fragment

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}
