package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/cache"
	"github.com/linke370/elysia-ai-companion/pkg/cache/local"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// memTier is an in-memory CacheTier. A nil entry means the user is uncached.
type memTier struct {
	mu    sync.Mutex
	users map[string][]*storage.Fragment
	err   error
	reads int
}

func newMemTier() *memTier {
	return &memTier{users: make(map[string][]*storage.Fragment)}
}

func (m *memTier) Name() string { return "mem" }

func (m *memTier) set(userID string, frags ...*storage.Fragment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frags = storage.CloneAll(frags)
	intelligence.SortByRank(frags)
	m.users[userID] = frags
}

func (m *memTier) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memTier) snapshot(userID string) ([]*storage.Fragment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frags, ok := m.users[userID]
	return storage.CloneAll(frags), ok
}

func (m *memTier) Get(_ context.Context, userID string, id int64) (*storage.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, f := range m.users[userID] {
		if f.ID == id {
			return f.Clone(), nil
		}
	}
	return nil, cache.ErrMiss
}

func (m *memTier) GetAll(_ context.Context, userID string) ([]*storage.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	frags, ok := m.users[userID]
	if !ok {
		return nil, cache.ErrMiss
	}
	return storage.CloneAll(frags), nil
}

func (m *memTier) Put(_ context.Context, userID string, f *storage.Fragment, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	frags, ok := m.users[userID]
	if !ok {
		return nil
	}
	out := []*storage.Fragment{f.Clone()}
	for _, cur := range frags {
		if cur.ID != f.ID {
			out = append(out, cur)
		}
	}
	intelligence.SortByRank(out)
	m.users[userID] = out
	return nil
}

func (m *memTier) Delete(_ context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	frags, ok := m.users[userID]
	if !ok {
		return nil
	}
	out := make([]*storage.Fragment, 0, len(frags))
	for _, f := range frags {
		if f.ID != id {
			out = append(out, f)
		}
	}
	m.users[userID] = out
	return nil
}

func (m *memTier) SetAll(_ context.Context, userID string, frags []*storage.Fragment, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.users[userID] = intelligence.Merge(nil, frags, 0)
	return nil
}

func (m *memTier) Purge(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.users, userID)
	return nil
}

// storeTier wraps memTier with persistent-store semantics: an unknown user is
// an empty set.
type storeTier struct{ *memTier }

func (s storeTier) GetAll(ctx context.Context, userID string) ([]*storage.Fragment, error) {
	frags, err := s.memTier.GetAll(ctx, userID)
	if errors.Is(err, cache.ErrMiss) {
		return []*storage.Fragment{}, nil
	}
	return frags, err
}

type importantSource struct{ frags []*storage.Fragment }

func (s importantSource) GetImportant(context.Context, string) ([]*storage.Fragment, error) {
	if s.frags == nil {
		return nil, cache.ErrMiss
	}
	return storage.CloneAll(s.frags), nil
}

type fixture struct {
	h           *cache.Hierarchy
	local       *local.Cache
	distributed *memTier
	store       *memTier
}

func newFixture(t *testing.T, important cache.ImportantSource) *fixture {
	t.Helper()
	lc, err := local.New(local.Config{Capacity: 30})
	require.NoError(t, err)

	f := &fixture{local: lc, distributed: newMemTier(), store: newMemTier()}
	f.h = cache.NewHierarchy(cache.HierarchyConfig{
		Local:       lc,
		Distributed: f.distributed,
		Important:   important,
		Store:       storeTier{f.store},
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(f.h.Close)
	return f
}

func newFragment(id int64, text string, score float64) *storage.Fragment {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second)
	return &storage.Fragment{
		ID:              id,
		UserID:          "u1",
		Text:            text,
		Type:            storage.TypeFact,
		ImportanceScore: score,
		CreatedAt:       created,
		LastAccessed:    created,
	}
}

func fragmentIDs(frags []*storage.Fragment) []int64 {
	out := make([]int64, 0, len(frags))
	for _, f := range frags {
		out = append(out, f.ID)
	}
	return out
}

func TestHierarchy_ReadThroughFillsCaches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.4), newFragment(2, "b", 0.8))

	frags, source, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cache.SourcePersistent, source)
	assert.Equal(t, []int64{2, 1}, fragmentIDs(frags))

	f.h.Wait()
	cached, ok := f.distributed.snapshot("u1")
	require.True(t, ok)
	assert.Equal(t, []int64{2, 1}, fragmentIDs(cached))

	_, source, err = f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceLocal, source)
}

func TestHierarchy_DistributedHitFillsLocal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.distributed.set("u1", newFragment(1, "a", 0.4))

	_, source, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceDistributed, source)

	got, err := f.local.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, fragmentIDs(got))
	assert.Equal(t, 0, f.store.reads)
}

func TestHierarchy_UnknownUserIsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	frags, source, err := f.h.Resolve(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, cache.SourcePersistent, source)
	assert.Empty(t, frags)

	f.h.Wait()
	_, ok := f.distributed.snapshot("nobody")
	assert.False(t, ok)
}

func TestHierarchy_DistributedFailureFallsThrough(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.distributed.failWith(cache.ErrUnavailable)
	f.store.set("u1", newFragment(1, "a", 0.4))

	frags, source, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cache.SourcePersistent, source)
	assert.Equal(t, []int64{1}, fragmentIDs(frags))
}

func TestHierarchy_ImportantFallback(t *testing.T) {
	imp := importantSource{frags: []*storage.Fragment{newFragment(9, "important", 0.9)}}
	f := newFixture(t, imp)
	ctx := context.Background()
	f.store.failWith(errors.New("db down"))

	frags, source, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cache.SourceImportant, source)
	assert.Equal(t, []int64{9}, fragmentIDs(frags))

	g := newFixture(t, nil)
	g.store.failWith(errors.New("db down"))
	_, _, err = g.h.Resolve(ctx, "u1")
	assert.Error(t, err)
}

func TestHierarchy_Propagate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.4))

	_, _, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	f.h.Wait()

	f.h.Propagate(ctx, "u1", []*storage.Fragment{newFragment(2, "b", 0.8)})
	got, err := f.local.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, fragmentIDs(got))

	f.h.Wait()
	cached, _ := f.distributed.snapshot("u1")
	assert.Equal(t, []int64{2, 1}, fragmentIDs(cached))

	// An uncached user stays uncached.
	f.h.Propagate(ctx, "u2", []*storage.Fragment{newFragment(3, "c", 0.8)})
	f.h.Wait()
	_, err = f.local.GetAll(ctx, "u2")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, ok := f.distributed.snapshot("u2")
	assert.False(t, ok)
}

func TestHierarchy_Invalidate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.4), newFragment(2, "b", 0.8))

	_, _, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	f.h.Wait()

	f.h.Invalidate(ctx, "u1", 1)
	f.h.Wait()

	got, err := f.local.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, fragmentIDs(got))

	cached, _ := f.distributed.snapshot("u1")
	assert.Equal(t, []int64{2}, fragmentIDs(cached))
}

func TestHierarchy_RefreshDoesNotResurrect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.4))

	_, _, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	f.h.Wait()

	raised := newFragment(1, "a", 0.95)
	gone := newFragment(5, "evicted", 0.9)
	f.h.Refresh(ctx, "u1", []*storage.Fragment{raised, gone})
	f.h.Wait()

	got, err := f.local.GetAll(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []int64{1}, fragmentIDs(got))
	assert.Equal(t, 0.95, got[0].ImportanceScore)

	cached, _ := f.distributed.snapshot("u1")
	require.Equal(t, []int64{1}, fragmentIDs(cached))
	assert.Equal(t, 0.95, cached[0].ImportanceScore)
}

func TestHierarchy_TouchIsLocalOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.4))

	_, _, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)
	f.h.Wait()

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.h.Touch(ctx, "u1", []int64{1, 9}, at)
	f.h.Touch(ctx, "u1", []int64{1}, at)

	got, err := f.local.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].AccessCount)
	assert.Equal(t, at, got[0].LastAccessed)

	cached, _ := f.distributed.snapshot("u1")
	assert.Equal(t, 0, cached[0].AccessCount)
}

func TestHierarchy_TouchKeepsNewerImportance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.73))

	_, _, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)

	// An importance change lands between retrieval and its bookkeeping.
	f.h.Refresh(ctx, "u1", []*storage.Fragment{newFragment(1, "a", 0.1)})
	f.h.Touch(ctx, "u1", []int64{1}, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	got, err := f.local.GetAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.1, got[0].ImportanceScore)
	assert.Equal(t, 1, got[0].AccessCount)
}

// invalidatingTier is a memTier that also tracks context invalidations.
type invalidatingTier struct {
	*memTier
	mu          sync.Mutex
	invalidated int
}

func (t *invalidatingTier) InvalidateContexts(context.Context, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidated++
	return nil
}

func (t *invalidatingTier) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.invalidated
}

func TestHierarchy_RefreshInvalidatesContextsOnFailure(t *testing.T) {
	lc, err := local.New(local.Config{Capacity: 30})
	require.NoError(t, err)

	distributed := &invalidatingTier{memTier: newMemTier()}
	distributed.set("u1", newFragment(1, "a", 0.4))
	distributed.failWith(errors.New("timeout"))

	h := cache.NewHierarchy(cache.HierarchyConfig{
		Local:       lc,
		Distributed: distributed,
		Store:       storeTier{newMemTier()},
		Logger:      zerolog.Nop(),
	})
	defer h.Close()

	h.Refresh(context.Background(), "u1", []*storage.Fragment{newFragment(1, "a", 0.9)})
	h.Wait()

	assert.Equal(t, 1, distributed.count())
}

func TestHierarchy_Complete(t *testing.T) {
	lc, err := local.New(local.Config{Capacity: 2})
	require.NoError(t, err)

	h := cache.NewHierarchy(cache.HierarchyConfig{
		Local:       lc,
		Distributed: newMemTier(),
		Store:       storeTier{newMemTier()},
		Logger:      zerolog.Nop(),
	})
	defer h.Close()

	assert.True(t, h.Complete(cache.SourceLocal, 1))
	assert.False(t, h.Complete(cache.SourceLocal, 2))
	assert.True(t, h.Complete(cache.SourceDistributed, 50), "unbounded tier")
	assert.True(t, h.Complete(cache.SourcePersistent, 500))
	assert.False(t, h.Complete(cache.SourceImportant, 1))
}

func TestHierarchy_ResolvePersistentBypassesCaches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.4))
	require.NoError(t, f.local.SetAll(ctx, "u1", nil, 0))

	frags, err := f.h.ResolvePersistent(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, fragmentIDs(frags))

	cached, err := f.local.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cached)

	f.store.failWith(errors.New("db down"))
	_, err = f.h.ResolvePersistent(ctx, "u1")
	assert.Error(t, err)
}

func TestHierarchy_Purge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.set("u1", newFragment(1, "a", 0.4))

	_, _, err := f.h.Resolve(ctx, "u1")
	require.NoError(t, err)

	f.h.Purge(ctx, "u1")

	_, err = f.local.GetAll(ctx, "u1")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, ok := f.distributed.snapshot("u1")
	assert.False(t, ok)
	assert.Equal(t, 0, f.h.Pending())
}

func TestHierarchy_PurgeAfterClose(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.distributed.set("u1", newFragment(1, "a", 0.4))

	f.h.Close()
	f.h.Purge(ctx, "u1")

	_, ok := f.distributed.snapshot("u1")
	assert.False(t, ok)
}

func TestStoreTier(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{frags: map[int64]*storage.Fragment{}}
	tier := cache.NewStoreTier(store, 0)

	assert.Equal(t, "persistent", tier.Name())

	frags, err := tier.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, frags)
	assert.Empty(t, frags)

	require.NoError(t, tier.Put(ctx, "u1", newFragment(1, "a", 0.4), 0))
	got, err := tier.Get(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Text)

	_, err = tier.Get(ctx, "u1", 2)
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, tier.Delete(ctx, "u1", 1))
	require.NoError(t, tier.Delete(ctx, "u1", 1))
}

// fakeStore implements the FragmentStore methods StoreTier uses.
type fakeStore struct {
	storage.FragmentStore
	frags map[int64]*storage.Fragment
}

func (s *fakeStore) Insert(_ context.Context, f *storage.Fragment) error {
	s.frags[f.ID] = f.Clone()
	return nil
}

func (s *fakeStore) Get(_ context.Context, userID string, id int64) (*storage.Fragment, error) {
	f, ok := s.frags[id]
	if !ok || f.UserID != userID {
		return nil, storage.ErrFragmentNotFound
	}
	return f.Clone(), nil
}

func (s *fakeStore) Query(_ context.Context, opts *storage.QueryOptions) ([]*storage.Fragment, error) {
	var out []*storage.Fragment
	for _, f := range s.frags {
		if f.UserID == opts.UserID {
			out = append(out, f.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, userID string, id int64) error {
	if _, err := s.Get(context.Background(), userID, id); err != nil {
		return err
	}
	delete(s.frags, id)
	return nil
}
