package intelligence

import (
	"math"
	"unicode/utf8"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// Scorer assigns an importance in [0, 1] to an extracted candidate.
//
// The score combines:
//   - a category base (ImportantEvent > Fact > Preference > EmotionPattern)
//   - an emotion adjustment (negative valence weighs more than positive)
//   - a classifier confidence term
//   - a small bonus for long spans
//
// Scoring is pure and never fails: malformed input falls back to the category base.
//
// Example usage:
//
//	s := NewScorer()
//	score := s.Score(RawCandidate{Text: "张三", Type: storage.TypeFact}, "NEUTRAL", 0.8)
//	// 0.75 base + 0.08 from confidence
type Scorer struct {
	base             map[storage.FragmentType]float64
	negativeBoost    float64
	positiveBoost    float64
	confidenceWeight float64
	lengthBoost      float64
	lengthThreshold  int
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithBaseImportance overrides the base score of one category.
func WithBaseImportance(t storage.FragmentType, base float64) ScorerOption {
	return func(s *Scorer) {
		s.base[t] = storage.ClampImportance(base)
	}
}

// WithEmotionBoosts overrides the negative and positive valence adjustments.
func WithEmotionBoosts(negative, positive float64) ScorerOption {
	return func(s *Scorer) {
		s.negativeBoost = negative
		s.positiveBoost = positive
	}
}

// NewScorer creates a scorer with the default weights.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		base: map[storage.FragmentType]float64{
			storage.TypeImportantEvent: 0.95,
			storage.TypeFact:           0.75,
			storage.TypePreference:     0.60,
			storage.TypeEmotionPattern: 0.50,
		},
		negativeBoost:    0.10,
		positiveBoost:    0.05,
		confidenceWeight: 0.10,
		lengthBoost:      0.05,
		lengthThreshold:  30,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseImportance returns the category base score.
func (s *Scorer) BaseImportance(t storage.FragmentType) float64 {
	if b, ok := s.base[t]; ok {
		return b
	}
	return 0.5
}

// Score computes the importance of a candidate given the turn's emotion.
func (s *Scorer) Score(c RawCandidate, label string, confidence float64) (score float64) {
	base := s.BaseImportance(c.Type)
	defer func() {
		if r := recover(); r != nil {
			score = base
		}
	}()

	score = base

	switch PolarityOf(label) {
	case PolarityNegative:
		score += s.negativeBoost
	case PolarityPositive:
		score += s.positiveBoost
	}

	if !math.IsNaN(confidence) && !math.IsInf(confidence, 0) {
		score += math.Max(0, math.Min(1, confidence)) * s.confidenceWeight
	}

	if utf8.RuneCountInString(c.Text) > s.lengthThreshold {
		score += s.lengthBoost
	}

	return storage.ClampImportance(score)
}
