package intelligence

import (
	"fmt"
	"strings"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// Feedback is the user's reaction to a reply that used some fragments.
type Feedback string

const (
	FeedbackPositive Feedback = "positive"
	FeedbackNeutral  Feedback = "neutral"
	FeedbackNegative Feedback = "negative"
)

// feedbackScale converts a feedback weight into an importance delta.
const feedbackScale = 0.1

var feedbackWeights = map[Feedback]float64{
	FeedbackPositive: 0.5,
	FeedbackNeutral:  0.1,
	FeedbackNegative: -0.3,
}

// ParseFeedback parses a feedback string, case-insensitively.
func ParseFeedback(s string) (Feedback, error) {
	fb := Feedback(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := feedbackWeights[fb]; !ok {
		return "", fmt.Errorf("unknown feedback %q", s)
	}
	return fb, nil
}

// AdjustImportance applies feedback to an importance score and clamps the result.
func AdjustImportance(current float64, fb Feedback) float64 {
	return storage.ClampImportance(current + feedbackWeights[fb]*feedbackScale)
}
