package intelligence

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// NormalizeText lowercases text and collapses whitespace for duplicate detection.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DedupKey identifies fragments that say the same thing: same type and same
// normalized text.
func DedupKey(t storage.FragmentType, text string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(string(t))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(NormalizeText(text))
	return d.Sum64()
}

// RanksBefore is the total order used by every cache view: importance desc,
// then creation time desc, then ID asc.
func RanksBefore(a, b *storage.Fragment) bool {
	if a.ImportanceScore != b.ImportanceScore {
		return a.ImportanceScore > b.ImportanceScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortByRank sorts fragments in place by RanksBefore.
func SortByRank(frags []*storage.Fragment) {
	sort.SliceStable(frags, func(i, j int) bool {
		return RanksBefore(frags[i], frags[j])
	})
}

// Merge reconciles a cache view with incoming fragments.
//
// Fragments sharing a DedupKey collapse to the one that ranks first, so the
// higher importance wins and ties go to the newer fragment. The result is
// sorted by rank and truncated to capacity (zero means unbounded). Inputs are
// not modified; the result holds copies.
//
// Merge is idempotent: Merge(Merge(a, b, n), b, n) equals Merge(a, b, n).
func Merge(existing, incoming []*storage.Fragment, capacity int) []*storage.Fragment {
	winners := make(map[uint64]*storage.Fragment, len(existing)+len(incoming))
	order := make([]uint64, 0, len(existing)+len(incoming))

	consider := func(f *storage.Fragment) {
		if f == nil {
			return
		}
		key := DedupKey(f.Type, f.Text)
		cur, ok := winners[key]
		if !ok {
			winners[key] = f
			order = append(order, key)
			return
		}
		if RanksBefore(f, cur) {
			winners[key] = f
		}
	}

	for _, f := range existing {
		consider(f)
	}
	for _, f := range incoming {
		consider(f)
	}

	merged := make([]*storage.Fragment, 0, len(order))
	for _, key := range order {
		merged = append(merged, winners[key].Clone())
	}

	SortByRank(merged)

	if capacity > 0 && len(merged) > capacity {
		merged = merged[:capacity]
	}

	return merged
}
