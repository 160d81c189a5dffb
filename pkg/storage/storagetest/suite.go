// Package storagetest provides a conformance suite run against every
// FragmentStore backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// Factory opens an empty store for one subtest. The suite closes it.
type Factory func(t *testing.T) storage.FragmentStore

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// NewFragment builds a fragment with fixed timestamps.
func NewFragment(id int64, userID string, t storage.FragmentType, text string, score float64) *storage.Fragment {
	return &storage.Fragment{
		ID:                   id,
		UserID:               userID,
		Text:                 text,
		Type:                 t,
		ImportanceScore:      score,
		CreatedAt:            base.Add(time.Duration(id) * time.Minute),
		LastAccessed:         base.Add(time.Duration(id) * time.Minute),
		SourceConversationID: 7,
		RelatedKeywords:      []string{text},
	}
}

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.FragmentStore)
	}{
		{"InsertGet", testInsertGet},
		{"UserScoping", testUserScoping},
		{"Query", testQuery},
		{"Count", testCount},
		{"EvictionOrder", testEvictionOrder},
		{"UpdateImportance", testUpdateImportance},
		{"RecordAccess", testRecordAccess},
		{"Delete", testDelete},
		{"DeleteAll", testDeleteAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			defer func() { _ = s.Close() }()
			tt.fn(t, s)
		})
	}
}

func insert(t *testing.T, s storage.FragmentStore, frags ...*storage.Fragment) {
	t.Helper()
	for _, f := range frags {
		require.NoError(t, s.Insert(context.Background(), f))
	}
}

func testInsertGet(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	f := NewFragment(1, "u1", storage.TypePreference, "喜欢蓝色", 0.6)
	f.RelatedKeywords = []string{"喜欢", "蓝色"}
	insert(t, s, f)

	got, err := s.Get(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, f.Text, got.Text)
	assert.Equal(t, storage.TypePreference, got.Type)
	assert.InDelta(t, 0.6, got.ImportanceScore, 1e-9)
	assert.Equal(t, []string{"喜欢", "蓝色"}, got.RelatedKeywords)
	assert.Equal(t, int64(7), got.SourceConversationID)
	assert.Equal(t, 0, got.AccessCount)
	assert.WithinDuration(t, f.CreatedAt, got.CreatedAt, time.Second)

	_, err = s.Get(ctx, "u1", 99)
	assert.ErrorIs(t, err, storage.ErrFragmentNotFound)
}

func testUserScoping(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	insert(t, s, NewFragment(1, "u1", storage.TypeFact, "张三", 0.7))

	_, err := s.Get(ctx, "u2", 1)
	assert.ErrorIs(t, err, storage.ErrFragmentNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "u2", 1), storage.ErrFragmentNotFound)
	assert.ErrorIs(t, s.UpdateImportance(ctx, "u2", 1, 0.1), storage.ErrFragmentNotFound)

	frags, err := s.Query(ctx, &storage.QueryOptions{UserID: "u2"})
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func testQuery(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	insert(t, s,
		NewFragment(1, "u1", storage.TypeFact, "名字是张三", 0.75),
		NewFragment(2, "u1", storage.TypePreference, "喜欢蓝色", 0.6),
		NewFragment(3, "u1", storage.TypePreference, "爱吃火锅", 0.9),
	)

	all, err := s.Query(ctx, &storage.QueryOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, fragmentIDs(all))

	recent, err := s.Query(ctx, &storage.QueryOptions{UserID: "u1", Order: storage.OrderRecent})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, fragmentIDs(recent))

	pref := storage.TypePreference
	byType, err := s.Query(ctx, &storage.QueryOptions{UserID: "u1", Type: &pref})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, fragmentIDs(byType))

	byKeyword, err := s.Query(ctx, &storage.QueryOptions{UserID: "u1", Keyword: "蓝色"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, fragmentIDs(byKeyword))

	page, err := s.Query(ctx, &storage.QueryOptions{UserID: "u1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, fragmentIDs(page))
}

func testCount(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	insert(t, s,
		NewFragment(1, "u1", storage.TypeFact, "a", 0.5),
		NewFragment(2, "u1", storage.TypeFact, "b", 0.5),
		NewFragment(3, "u2", storage.TypeFact, "c", 0.5),
	)

	n, err = s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testEvictionOrder(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	insert(t, s,
		NewFragment(1, "u1", storage.TypeFact, "a", 0.9),
		NewFragment(2, "u1", storage.TypeFact, "b", 0.1),
		NewFragment(3, "u1", storage.TypeFact, "c", 0.5),
		NewFragment(4, "u1", storage.TypeFact, "d", 0.5),
	)

	candidates, err := s.EvictionCandidates(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, int64(2), candidates[0].FragmentID)
	assert.Equal(t, int64(3), candidates[1].FragmentID)
	assert.Equal(t, int64(4), candidates[2].FragmentID)

	none, err := s.EvictionCandidates(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUpdateImportance(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	insert(t, s, NewFragment(1, "u1", storage.TypeFact, "a", 0.5))

	require.NoError(t, s.UpdateImportance(ctx, "u1", 1, 1.7))
	got, err := s.Get(ctx, "u1", 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.ImportanceScore, 1e-9)

	// Writing the same value again still matches the row.
	assert.NoError(t, s.UpdateImportance(ctx, "u1", 1, 1.0))
	assert.ErrorIs(t, s.UpdateImportance(ctx, "u1", 2, 0.3), storage.ErrFragmentNotFound)
}

func testRecordAccess(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	insert(t, s, NewFragment(1, "u1", storage.TypeFact, "a", 0.5))

	at := base.Add(48 * time.Hour)
	require.NoError(t, s.RecordAccess(ctx, "u1", 1, at))
	require.NoError(t, s.RecordAccess(ctx, "u1", 1, at))

	got, err := s.Get(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	assert.WithinDuration(t, at, got.LastAccessed, time.Second)

	assert.ErrorIs(t, s.RecordAccess(ctx, "u1", 2, at), storage.ErrFragmentNotFound)
}

func testDelete(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	insert(t, s, NewFragment(1, "u1", storage.TypeFact, "a", 0.5))

	require.NoError(t, s.Delete(ctx, "u1", 1))
	_, err := s.Get(ctx, "u1", 1)
	assert.ErrorIs(t, err, storage.ErrFragmentNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "u1", 1), storage.ErrFragmentNotFound)
}

func testDeleteAll(t *testing.T, s storage.FragmentStore) {
	ctx := context.Background()
	insert(t, s,
		NewFragment(1, "u1", storage.TypeFact, "a", 0.5),
		NewFragment(2, "u1", storage.TypeFact, "b", 0.5),
		NewFragment(3, "u2", storage.TypeFact, "c", 0.5),
	)

	n, err := s.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	left, err := s.Count(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func fragmentIDs(frags []*storage.Fragment) []int64 {
	out := make([]int64, 0, len(frags))
	for _, f := range frags {
		out = append(out, f.ID)
	}
	return out
}
