// Package intelligence provides the extraction, scoring and ranking logic of the
// memory subsystem.
//
// Everything in this package is deterministic and free of I/O except the
// LLM-backed emotion classifier: candidate extraction from an utterance,
// importance scoring, keyword derivation, cache-view reconciliation and
// relevance ranking for retrieval.
package intelligence

import (
	"strings"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// RawCandidate is a span of an utterance that matched an extraction rule.
type RawCandidate struct {
	// Text is the extracted span, trimmed and bounded by the category max length.
	Text string

	// Type is the category of the rule that matched.
	Type storage.FragmentType

	// Phrase is the trigger phrase that produced the span.
	Phrase string
}

// Emotion labels understood by the scorer. Classifiers may return other labels;
// polarity is decided by family membership.
const (
	LabelNeutral = "NEUTRAL"
	LabelHappy   = "HAPPY"
	LabelExcited = "EXCITED"
	LabelSad     = "SAD"
	LabelAnxious = "ANXIOUS"
	LabelAngry   = "ANGRY"
	LabelFear    = "FEAR"
)

// Polarity is the coarse valence of an emotion label.
type Polarity int

const (
	PolarityNeutral Polarity = iota
	PolarityPositive
	PolarityNegative
)

var (
	negativeFamilies = []string{"SAD", "ANXIOUS", "ANXIETY", "ANGRY", "ANGER", "FEAR", "DEPRESS", "LONELY", "STRESS"}
	positiveFamilies = []string{"HAPPY", "EXCITED", "JOY", "GRATEFUL", "LOVE", "CALM"}
)

// PolarityOf classifies an emotion label by substring family, so labels such
// as "VERY_SAD" or "happy" are recognised.
func PolarityOf(label string) Polarity {
	upper := strings.ToUpper(strings.TrimSpace(label))
	if upper == "" || upper == LabelNeutral {
		return PolarityNeutral
	}
	for _, fam := range negativeFamilies {
		if strings.Contains(upper, fam) {
			return PolarityNegative
		}
	}
	for _, fam := range positiveFamilies {
		if strings.Contains(upper, fam) {
			return PolarityPositive
		}
	}
	return PolarityNeutral
}

// IsNeutral reports whether a label carries no emotional signal.
func IsNeutral(label string) bool {
	upper := strings.ToUpper(strings.TrimSpace(label))
	return upper == "" || upper == LabelNeutral
}
