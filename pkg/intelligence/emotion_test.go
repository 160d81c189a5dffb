package intelligence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/llm"
)

type stubProvider struct {
	response string
	err      error
	messages []llm.Message
}

func (p *stubProvider) GenerateWithMessages(_ context.Context, messages []llm.Message, _ ...llm.GenerateOption) (string, error) {
	p.messages = messages
	return p.response, p.err
}

func (p *stubProvider) Close() error { return nil }

func TestKeywordClassifier(t *testing.T) {
	c := intelligence.NewKeywordClassifier(nil)
	ctx := context.Background()

	tests := []struct {
		text       string
		label      string
		confidence float64
	}{
		{"今天天气一般", intelligence.LabelNeutral, 0.5},
		{"我今天好开心", intelligence.LabelHappy, 0.65},
		{"考试前好紧张，好担心", intelligence.LabelAnxious, 0.8},
		{"开心又难过", intelligence.LabelSad, 0.65},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res, err := c.Analyze(ctx, tt.text, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.label, res.Label)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
		})
	}
}

func TestLLMClassifier(t *testing.T) {
	ctx := context.Background()

	p := &stubProvider{response: "Sure! {\"label\": \"sad\", \"confidence\": 1.4}"}
	res, err := intelligence.NewLLMClassifier(p).Analyze(ctx, "我好难过", "u1")
	require.NoError(t, err)
	assert.Equal(t, intelligence.LabelSad, res.Label)
	assert.Equal(t, 1.0, res.Confidence)
	require.Len(t, p.messages, 2)
	assert.Equal(t, "我好难过", p.messages[1].Content)

	_, err = intelligence.NewLLMClassifier(&stubProvider{response: "no idea"}).Analyze(ctx, "x", "u1")
	assert.Error(t, err)

	_, err = intelligence.NewLLMClassifier(&stubProvider{err: errors.New("boom")}).Analyze(ctx, "x", "u1")
	assert.Error(t, err)

	_, err = intelligence.NewLLMClassifier(nil).Analyze(ctx, "x", "u1")
	assert.Error(t, err)
}

func TestPolarityOf(t *testing.T) {
	assert.Equal(t, intelligence.PolarityNegative, intelligence.PolarityOf("very_sad"))
	assert.Equal(t, intelligence.PolarityNegative, intelligence.PolarityOf("ANXIETY"))
	assert.Equal(t, intelligence.PolarityPositive, intelligence.PolarityOf("happy"))
	assert.Equal(t, intelligence.PolarityNeutral, intelligence.PolarityOf("NEUTRAL"))
	assert.Equal(t, intelligence.PolarityNeutral, intelligence.PolarityOf(""))
	assert.Equal(t, intelligence.PolarityNeutral, intelligence.PolarityOf("SURPRISED"))

	assert.True(t, intelligence.IsNeutral(" neutral "))
	assert.False(t, intelligence.IsNeutral("SURPRISED"))
}
