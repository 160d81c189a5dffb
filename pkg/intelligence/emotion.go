package intelligence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/linke370/elysia-ai-companion/pkg/llm"
)

// EmotionResult is the classifier output for one utterance.
type EmotionResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// EmotionClassifier labels the emotion of an utterance.
type EmotionClassifier interface {
	Analyze(ctx context.Context, text, userID string) (*EmotionResult, error)
}

// KeywordClassifier classifies by counting lexicon hits per label.
type KeywordClassifier struct {
	lexicon map[string][]string
	order   []string
}

// DefaultEmotionLexicon returns the built-in label lexicon.
func DefaultEmotionLexicon() map[string][]string {
	return map[string][]string{
		LabelHappy:   {"开心", "高兴", "幸福", "快乐", "棒", "太好了", "happy", "glad"},
		LabelSad:     {"难过", "伤心", "失落", "哭", "糟糕", "sad", "upset"},
		LabelAngry:   {"生气", "愤怒", "讨厌", "烦死", "angry", "mad"},
		LabelAnxious: {"焦虑", "压力", "紧张", "担心", "害怕", "anxious", "worried", "nervous"},
	}
}

// NewKeywordClassifier creates a classifier over lexicon; nil selects the default.
func NewKeywordClassifier(lexicon map[string][]string) *KeywordClassifier {
	if lexicon == nil {
		lexicon = DefaultEmotionLexicon()
	}
	// Negative labels are checked first so that ties favour them.
	order := []string{LabelSad, LabelAngry, LabelAnxious, LabelHappy}
	for label := range lexicon {
		known := false
		for _, o := range order {
			if o == label {
				known = true
				break
			}
		}
		if !known {
			order = append(order, label)
		}
	}
	return &KeywordClassifier{lexicon: lexicon, order: order}
}

// Analyze implements EmotionClassifier.
func (c *KeywordClassifier) Analyze(_ context.Context, text, _ string) (*EmotionResult, error) {
	lower := strings.ToLower(text)

	best, bestHits := LabelNeutral, 0
	for _, label := range c.order {
		hits := 0
		for _, kw := range c.lexicon[label] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = label, hits
		}
	}

	if bestHits == 0 {
		return &EmotionResult{Label: LabelNeutral, Confidence: 0.5}, nil
	}
	return &EmotionResult{Label: best, Confidence: math.Min(0.5+0.15*float64(bestHits), 0.95)}, nil
}

const emotionSystemPrompt = `You classify the emotion of a single chat message written by a user.
Answer with a JSON object only: {"label": "<HAPPY|EXCITED|SAD|ANXIOUS|ANGRY|FEAR|NEUTRAL>", "confidence": <0.0-1.0>}.`

// LLMClassifier asks a chat model for the emotion label.
type LLMClassifier struct {
	provider llm.Provider
}

// NewLLMClassifier wraps an LLM provider.
func NewLLMClassifier(provider llm.Provider) *LLMClassifier {
	return &LLMClassifier{provider: provider}
}

// Analyze implements EmotionClassifier.
func (c *LLMClassifier) Analyze(ctx context.Context, text, _ string) (*EmotionResult, error) {
	if c.provider == nil {
		return nil, errors.New("emotion: no llm provider")
	}

	messages := []llm.Message{
		{Role: "system", Content: emotionSystemPrompt},
		{Role: "user", Content: text},
	}

	response, err := c.provider.GenerateWithMessages(ctx, messages, llm.WithTemperature(0), llm.WithMaxTokens(64))
	if err != nil {
		return nil, fmt.Errorf("emotion: %w", err)
	}

	return parseEmotionResponse(response)
}

// parseEmotionResponse extracts the first JSON object of a model response.
func parseEmotionResponse(response string) (*EmotionResult, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("emotion: no json in response %q", response)
	}

	var result EmotionResult
	if err := json.Unmarshal([]byte(response[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("emotion: parse response: %w", err)
	}

	result.Label = strings.ToUpper(strings.TrimSpace(result.Label))
	if result.Label == "" {
		result.Label = LabelNeutral
	}
	if math.IsNaN(result.Confidence) {
		result.Confidence = 0
	}
	result.Confidence = math.Max(0, math.Min(1, result.Confidence))

	return &result, nil
}
