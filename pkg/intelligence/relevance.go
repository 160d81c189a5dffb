package intelligence

import (
	"sort"
	"strings"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// RelevancePolicy holds the weights of the retrieval ranking.
type RelevancePolicy struct {
	// KeywordWeight is added per overlapping query token.
	KeywordWeight float64

	// OverlapCap bounds how many overlapping tokens count.
	OverlapCap int

	// ImportanceWeight scales the fragment importance.
	ImportanceWeight float64

	// RecencyBonus is added when the fragment was accessed within RecencyWindow.
	RecencyBonus float64

	// RecencyWindow is the recency horizon.
	RecencyWindow time.Duration

	// Threshold is the minimum relevance for a fragment to be returned.
	Threshold float64
}

// DefaultRelevancePolicy returns the standard weights.
func DefaultRelevancePolicy() RelevancePolicy {
	return RelevancePolicy{
		KeywordWeight:    0.3,
		OverlapCap:       3,
		ImportanceWeight: 0.5,
		RecencyBonus:     0.1,
		RecencyWindow:    7 * 24 * time.Hour,
		Threshold:        0.2,
	}
}

// ScoredFragment pairs a fragment with its relevance to a query.
type ScoredFragment struct {
	Fragment  *storage.Fragment
	Relevance float64
}

// Overlap counts query tokens found in the fragment keywords or text.
func Overlap(f *storage.Fragment, tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	keywords := make(map[string]struct{}, len(f.RelatedKeywords))
	for _, kw := range f.RelatedKeywords {
		keywords[strings.ToLower(kw)] = struct{}{}
	}
	text := strings.ToLower(f.Text)

	n := 0
	for _, tok := range tokens {
		if _, ok := keywords[tok]; ok {
			n++
			continue
		}
		if strings.Contains(text, tok) {
			n++
		}
	}
	return n
}

// Relevance scores one fragment. A fragment sharing no token with the query
// scores zero.
func (p RelevancePolicy) Relevance(f *storage.Fragment, tokens []string, now time.Time) float64 {
	overlap := Overlap(f, tokens)
	if overlap == 0 {
		return 0
	}
	if p.OverlapCap > 0 && overlap > p.OverlapCap {
		overlap = p.OverlapCap
	}

	score := p.KeywordWeight*float64(overlap) + p.ImportanceWeight*f.ImportanceScore
	if !f.LastAccessed.IsZero() && now.Sub(f.LastAccessed) < p.RecencyWindow {
		score += p.RecencyBonus
	}
	return score
}

// Rank scores fragments, drops those at or below the threshold and returns the
// top k ordered by relevance desc, then importance desc, then input order.
func (p RelevancePolicy) Rank(frags []*storage.Fragment, tokens []string, now time.Time, k int) []ScoredFragment {
	if len(tokens) == 0 || k <= 0 {
		return nil
	}

	scored := make([]ScoredFragment, 0, len(frags))
	for _, f := range frags {
		if f == nil {
			continue
		}
		if r := p.Relevance(f, tokens, now); r > p.Threshold {
			scored = append(scored, ScoredFragment{Fragment: f, Relevance: r})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].Fragment.ImportanceScore > scored[j].Fragment.ImportanceScore
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
