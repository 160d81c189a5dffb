package intelligence

import (
	"strings"
	"unicode"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// Rule maps a trigger phrase to a fragment category.
//
// A phrase may contain "..." as a gap: "每当...就" matches when "每当" occurs
// and "就" occurs somewhere after it; the span starts after the last part.
type Rule struct {
	Phrase string
	Type   storage.FragmentType
}

// DefaultRules returns the built-in trigger table.
func DefaultRules() []Rule {
	var rules []Rule
	add := func(t storage.FragmentType, phrases ...string) {
		for _, p := range phrases {
			rules = append(rules, Rule{Phrase: p, Type: t})
		}
	}

	add(storage.TypeFact,
		"我叫", "我是", "我今年", "我的名字", "我住在", "我来自", "我的家乡",
		"我是学生", "我上", "我在", "我学习", "我专业", "我的生日",
	)
	add(storage.TypePreference,
		"我喜欢", "我爱", "我讨厌", "我不喜欢", "我喜欢吃", "我爱吃",
		"我喜欢玩", "我喜欢看", "我爱好", "我擅长", "我习惯",
	)
	add(storage.TypeImportantEvent,
		"我昨天", "我上周", "我去年", "我前天", "我经历了", "我遇到了", "我发生了",
		"我考试", "我面试", "我毕业", "我旅行", "我生病", "我获奖", "我比赛",
	)
	add(storage.TypeEmotionPattern,
		"我经常", "我总是", "我每次", "我一般", "每当...就", "只要...就", "我一...就",
	)

	return rules
}

// DefaultMaxLength is the per-category span limit in runes.
func DefaultMaxLength() map[storage.FragmentType]int {
	return map[storage.FragmentType]int{
		storage.TypeFact:           50,
		storage.TypePreference:     50,
		storage.TypeImportantEvent: 100,
		storage.TypeEmotionPattern: 50,
	}
}

type compiledRule struct {
	phrase string
	parts  [][]rune
	typ    storage.FragmentType
}

// Extractor finds candidate memory spans in a user utterance.
//
// It is stateless after construction and safe for concurrent use.
//
// Example usage:
//
//	ex := NewExtractor()
//	cands := ex.Extract("我叫张三，我喜欢蓝色")
//	// [{张三 fact 我叫} {蓝色 preference 我喜欢}]
type Extractor struct {
	rules     []compiledRule
	maxLength map[storage.FragmentType]int
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithRules replaces the trigger table.
func WithRules(rules []Rule) ExtractorOption {
	return func(e *Extractor) {
		e.rules = compileRules(rules)
	}
}

// WithMaxLength overrides the span limit of one category.
func WithMaxLength(t storage.FragmentType, n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.maxLength[t] = n
		}
	}
}

// NewExtractor creates an extractor with the default rule table.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		rules:     compileRules(DefaultRules()),
		maxLength: DefaultMaxLength(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func compileRules(rules []Rule) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Type.Valid() {
			continue
		}
		var parts [][]rune
		for _, p := range strings.Split(r.Phrase, "...") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, lowerRunes(p))
			}
		}
		if len(parts) == 0 {
			continue
		}
		compiled = append(compiled, compiledRule{phrase: r.Phrase, parts: parts, typ: r.Type})
	}
	return compiled
}

// Extract returns every candidate span found in the utterance, in rule order.
//
// Each rule uses the first occurrence of its phrase. Overlapping rules yield
// independent candidates; duplicates are left for the caller to filter.
// An empty utterance, or one that matches no rule, yields nil.
func (e *Extractor) Extract(utterance string) []RawCandidate {
	if strings.TrimSpace(utterance) == "" {
		return nil
	}

	original := []rune(utterance)
	lowered := lowerRunes(utterance)

	var out []RawCandidate
	for _, r := range e.rules {
		start := matchParts(lowered, r.parts)
		if start < 0 {
			continue
		}

		span := extractSpan(original, start, e.maxLengthFor(r.typ))
		if span == "" {
			continue
		}

		out = append(out, RawCandidate{Text: span, Type: r.typ, Phrase: r.phrase})
	}

	return out
}

func (e *Extractor) maxLengthFor(t storage.FragmentType) int {
	if n, ok := e.maxLength[t]; ok && n > 0 {
		return n
	}
	return 50
}

// matchParts returns the rune offset just past the last part, or -1.
func matchParts(text []rune, parts [][]rune) int {
	pos := 0
	for _, part := range parts {
		idx := indexRunes(text, part, pos)
		if idx < 0 {
			return -1
		}
		pos = idx + len(part)
	}
	return pos
}

func indexRunes(haystack, needle []rune, from int) int {
	n := len(needle)
	for i := from; i+n <= len(haystack); i++ {
		match := true
		for j := 0; j < n; j++ {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// extractSpan takes text after start up to the first sentence delimiter,
// bounded by maxLen runes.
func extractSpan(text []rune, start, maxLen int) string {
	i := start
	for i < len(text) && unicode.IsSpace(text[i]) {
		i++
	}

	end := i
	for end < len(text) && end-i < maxLen && !isSentenceDelimiter(text[end]) {
		end++
	}

	return strings.TrimSpace(string(text[i:end]))
}

func isSentenceDelimiter(r rune) bool {
	switch r {
	case '。', '，', '？', '！', '；', '.', ',', '?', '!', ';', '\n':
		return true
	}
	return false
}

// lowerRunes lowercases rune by rune so offsets line up with []rune(s).
func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}
