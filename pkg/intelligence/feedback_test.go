package intelligence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
)

func TestParseFeedback(t *testing.T) {
	fb, err := intelligence.ParseFeedback(" Positive ")
	require.NoError(t, err)
	assert.Equal(t, intelligence.FeedbackPositive, fb)

	_, err = intelligence.ParseFeedback("great")
	assert.Error(t, err)
}

func TestAdjustImportance(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		fb      intelligence.Feedback
		want    float64
	}{
		{"positive", 0.5, intelligence.FeedbackPositive, 0.55},
		{"neutral", 0.5, intelligence.FeedbackNeutral, 0.51},
		{"negative", 0.5, intelligence.FeedbackNegative, 0.47},
		{"clamped high", 0.98, intelligence.FeedbackPositive, 1.0},
		{"clamped low", 0.01, intelligence.FeedbackNegative, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, intelligence.AdjustImportance(tt.current, tt.fb), 1e-9)
		})
	}
}
