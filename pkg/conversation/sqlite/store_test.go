package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/conversation"
	"github.com/linke370/elysia-ai-companion/pkg/conversation/sqlite"
)

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(&sqlite.Config{DBPath: filepath.Join(t.TempDir(), "conversations.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SaveAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id, err := store.SaveConversation(ctx, &conversation.Conversation{
		UserID:            "u1",
		UserMessage:       "我叫张三，我喜欢蓝色",
		AIResponse:        "记住啦",
		EmotionLabel:      "HAPPY",
		EmotionConfidence: 0.8,
		Meaningful:        true,
		CreatedAt:         created,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := store.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "我叫张三，我喜欢蓝色", got.UserMessage)
	assert.Equal(t, "记住啦", got.AIResponse)
	assert.Equal(t, "HAPPY", got.EmotionLabel)
	assert.InDelta(t, 0.8, got.EmotionConfidence, 1e-9)
	assert.True(t, got.Meaningful)
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = store.GetConversation(ctx, id+100)
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestStore_ListImportant(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	turns := []*conversation.Conversation{
		{UserID: "u1", UserMessage: "meaningful", Meaningful: true, CreatedAt: base},
		{UserID: "u1", UserMessage: "neutral", EmotionLabel: "neutral", CreatedAt: base.Add(time.Minute)},
		{UserID: "u1", UserMessage: "sad", EmotionLabel: "SAD", CreatedAt: base.Add(2 * time.Minute)},
		{UserID: "u1", UserMessage: "plain", CreatedAt: base.Add(3 * time.Minute)},
		{UserID: "u2", UserMessage: "other user", Meaningful: true, CreatedAt: base},
	}
	for _, c := range turns {
		_, err := store.SaveConversation(ctx, c)
		require.NoError(t, err)
	}

	got, err := store.ListImportant(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sad", got[0].UserMessage)
	assert.Equal(t, "meaningful", got[1].UserMessage)

	limited, err := store.ListImportant(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := store.ListImportant(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
