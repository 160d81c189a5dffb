package core_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/conversation"
	"github.com/linke370/elysia-ai-companion/pkg/core"
)

func TestAsyncClient(t *testing.T) {
	convs := newMemConversations()
	id := convs.add(conversation.Conversation{
		UserID:            "u1",
		UserMessage:       "我叫张三，我喜欢蓝色",
		EmotionLabel:      "HAPPY",
		EmotionConfidence: 0.8,
	})

	client, err := core.NewAsyncClient(testConfig(t), core.WithLogger(zerolog.Nop()), core.WithConversationStore(convs))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	res := <-client.ProcessConversationAsync(ctx, id)
	require.NoError(t, res.Error)
	assert.NotEmpty(t, res.JobID)
	require.NotNil(t, res.Result)
	assert.Len(t, res.Result.Stored, 2)

	missing := <-client.ProcessConversationAsync(ctx, 999)
	assert.ErrorIs(t, missing.Error, core.ErrNotFound)
	assert.Nil(t, missing.Result)
	assert.NotEqual(t, res.JobID, missing.JobID)

	found := <-client.GetContextualAsync(ctx, "u1", "张三")
	require.NoError(t, found.Error)
	assert.Equal(t, []string{"张三"}, fragmentTexts(found.Fragments))

	require.NoError(t, <-client.PurgeUserAsync(ctx, "u1"))
	client.Wait()

	stats, err := client.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCount)
}
