package rediscache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/cache"
	"github.com/linke370/elysia-ai-companion/pkg/cache/rediscache"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

func setupRedisTest(t *testing.T) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	c := rediscache.New(rdb, rediscache.Config{
		Capacity:       3,
		ImportantLimit: 2,
		OpTimeout:      time.Second,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func newFragment(id int64, text string, score float64) *storage.Fragment {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second)
	return &storage.Fragment{
		ID:              id,
		UserID:          "u1",
		Text:            text,
		Type:            storage.TypePreference,
		ImportanceScore: score,
		CreatedAt:       created,
		LastAccessed:    created,
		RelatedKeywords: []string{text},
	}
}

func fragmentIDs(frags []*storage.Fragment) []int64 {
	out := make([]int64, 0, len(frags))
	for _, f := range frags {
		out = append(out, f.ID)
	}
	return out
}

func TestCache_SetAllAndGetAll(t *testing.T) {
	c, mr := setupRedisTest(t)
	ctx := context.Background()

	_, err := c.GetAll(ctx, "u1")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.SetAll(ctx, "u1", []*storage.Fragment{
		newFragment(1, "a", 0.2),
		newFragment(2, "b", 0.9),
		newFragment(3, "c", 0.75),
		newFragment(4, "d", 0.8),
	}, 0))

	got, err := c.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 3}, fragmentIDs(got))
	assert.Equal(t, []string{"b"}, got[0].RelatedKeywords)

	important, err := c.GetImportant(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, fragmentIDs(important))

	assert.Equal(t, time.Hour, mr.TTL("memory:user:u1:active"))
	assert.Equal(t, 7*24*time.Hour, mr.TTL("memory:user:u1:important"))

	f, err := c.Get(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, "c", f.Text)

	_, err = c.Get(ctx, "u1", 1)
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestCache_ActiveExpiresBeforeImportant(t *testing.T) {
	c, mr := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetAll(ctx, "u1", []*storage.Fragment{
		newFragment(1, "a", 0.9),
		newFragment(2, "b", 0.3),
	}, 0))

	mr.FastForward(time.Hour + time.Second)

	_, err := c.GetAll(ctx, "u1")
	assert.ErrorIs(t, err, cache.ErrMiss)

	important, err := c.GetImportant(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, fragmentIDs(important))
}

func TestCache_PutOnUncachedUserIsNoop(t *testing.T) {
	c, mr := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "u1", newFragment(1, "a", 0.9), 0))
	assert.False(t, mr.Exists("memory:user:u1:active"))
	assert.False(t, mr.Exists("memory:user:u1:important"))
}

func TestCache_PutMaintainsSets(t *testing.T) {
	c, _ := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetAll(ctx, "u1", []*storage.Fragment{
		newFragment(1, "a", 0.9),
		newFragment(2, "b", 0.5),
		newFragment(3, "c", 0.4),
	}, 0))

	// Lowering the score drops the fragment from the important set.
	require.NoError(t, c.Put(ctx, "u1", newFragment(1, "a", 0.6), 0))
	_, err := c.GetImportant(ctx, "u1")
	assert.ErrorIs(t, err, cache.ErrMiss)

	// A fourth fragment pushes the least important one out.
	require.NoError(t, c.Put(ctx, "u1", newFragment(4, "d", 0.8), 0))
	got, err := c.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1, 2}, fragmentIDs(got))

	important, err := c.GetImportant(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, fragmentIDs(important))
}

func TestCache_PutKeepsImportantLimit(t *testing.T) {
	c, mr := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetAll(ctx, "u1", []*storage.Fragment{
		newFragment(1, "a", 0.9),
		newFragment(2, "b", 0.8),
		newFragment(3, "c", 0.3),
	}, 0))

	// Raising a third fragment above the threshold must not grow the
	// important set past its limit.
	require.NoError(t, c.Put(ctx, "u1", newFragment(3, "c", 0.95), 0))

	important, err := c.GetImportant(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, fragmentIDs(important))

	keys, err := mr.HKeys("memory:user:u1:important")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	active, err := c.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, fragmentIDs(active))
}

func TestCache_Delete(t *testing.T) {
	c, _ := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetAll(ctx, "u1", []*storage.Fragment{
		newFragment(1, "a", 0.9),
		newFragment(2, "b", 0.5),
	}, 0))
	require.NoError(t, c.Delete(ctx, "u1", 1))

	got, err := c.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, fragmentIDs(got))

	_, err = c.GetImportant(ctx, "u1")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestCache_Contexts(t *testing.T) {
	c, mr := setupRedisTest(t)
	ctx := context.Background()

	_, err := c.GetContext(ctx, "u1", "sig")
	assert.ErrorIs(t, err, cache.ErrMiss)

	ranked := []*storage.Fragment{newFragment(1, "蓝色", 0.6)}
	require.NoError(t, c.PutContext(ctx, "u1", "sig", ranked))

	got, err := c.GetContext(ctx, "u1", "sig")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, fragmentIDs(got))
	assert.Equal(t, 30*time.Minute, mr.TTL("memory:user:u1:context:sig"))

	// Any write to the active set drops cached results.
	require.NoError(t, c.SetAll(ctx, "u1", ranked, 0))
	_, err = c.GetContext(ctx, "u1", "sig")
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.False(t, mr.Exists("memory:user:u1:contexts"))

	require.NoError(t, c.PutContext(ctx, "u1", "sig", ranked))
	mr.FastForward(31 * time.Minute)
	_, err = c.GetContext(ctx, "u1", "sig")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestCache_Purge(t *testing.T) {
	c, mr := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetAll(ctx, "u1", []*storage.Fragment{newFragment(1, "a", 0.9)}, 0))
	require.NoError(t, c.PutContext(ctx, "u1", "sig", nil))
	require.NoError(t, c.SetAll(ctx, "u2", []*storage.Fragment{newFragment(2, "b", 0.9)}, 0))

	require.NoError(t, c.Purge(ctx, "u1"))

	for _, key := range []string{
		"memory:user:u1:active",
		"memory:user:u1:important",
		"memory:user:u1:context:sig",
		"memory:user:u1:contexts",
	} {
		assert.False(t, mr.Exists(key), key)
	}
	assert.True(t, mr.Exists("memory:user:u2:active"))
}

func TestCache_Unavailable(t *testing.T) {
	c, mr := setupRedisTest(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	mr.Close()

	_, err := c.GetAll(ctx, "u1")
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	_, err = c.GetContext(ctx, "u1", "sig")
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	err = c.SetAll(ctx, "u1", []*storage.Fragment{newFragment(1, "a", 0.9)}, 0)
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	assert.Error(t, c.Ping(ctx))
}
