package cache

import (
	"context"
	"errors"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// StoreTier adapts a FragmentStore to the Tier interface so the persistent
// store can sit at the bottom of the hierarchy.
type StoreTier struct {
	store storage.FragmentStore
	limit int
}

// NewStoreTier wraps store. limit bounds GetAll; zero returns every fragment.
func NewStoreTier(store storage.FragmentStore, limit int) *StoreTier {
	return &StoreTier{store: store, limit: limit}
}

// Name implements Tier.
func (t *StoreTier) Name() string { return "persistent" }

// Get implements Tier. A missing fragment is reported as ErrMiss.
func (t *StoreTier) Get(ctx context.Context, userID string, id int64) (*storage.Fragment, error) {
	f, err := t.store.Get(ctx, userID, id)
	if errors.Is(err, storage.ErrFragmentNotFound) {
		return nil, ErrMiss
	}
	return f, err
}

// GetAll implements Tier. An unknown user yields an empty set, never ErrMiss.
func (t *StoreTier) GetAll(ctx context.Context, userID string) ([]*storage.Fragment, error) {
	frags, err := t.store.Query(ctx, &storage.QueryOptions{
		UserID: userID,
		Limit:  t.limit,
		Order:  storage.OrderImportance,
	})
	if err != nil {
		return nil, err
	}
	if frags == nil {
		frags = []*storage.Fragment{}
	}
	return frags, nil
}

// Put implements Tier by inserting the fragment.
func (t *StoreTier) Put(ctx context.Context, _ string, f *storage.Fragment, _ time.Duration) error {
	return t.store.Insert(ctx, f)
}

// Delete implements Tier.
func (t *StoreTier) Delete(ctx context.Context, userID string, id int64) error {
	err := t.store.Delete(ctx, userID, id)
	if errors.Is(err, storage.ErrFragmentNotFound) {
		return nil
	}
	return err
}
