package intelligence

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

// MaxKeywords bounds the related keywords stored on a fragment.
const MaxKeywords = 10

var typeLexicon = map[storage.FragmentType][]string{
	storage.TypeFact: {
		"名字", "年龄", "家乡", "住址", "学校", "专业", "年级", "生日", "星座", "身高", "职业", "学生",
	},
	storage.TypePreference: {
		"喜欢", "讨厌", "爱", "不喜欢", "最爱", "习惯", "嗜好", "兴趣", "爱好", "擅长",
	},
	storage.TypeImportantEvent: {
		"考试", "毕业", "生日", "旅行", "约会", "面试", "比赛", "获奖", "生病", "手术", "事故", "纪念日",
	},
	storage.TypeEmotionPattern: {
		"开心时", "难过时", "生气时", "紧张时", "焦虑时", "压力大时", "放松时", "疲惫时", "兴奋时",
	},
}

func isWordSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case ',', '.', '，', '。', '!', '！', '?', '？':
		return true
	}
	return false
}

func isQuerySeparator(r rune) bool {
	if isWordSeparator(r) {
		return true
	}
	switch r {
	case '、', ';', '；', ':', '：':
		return true
	}
	return false
}

// ExtractKeywords derives related keywords for a fragment: category lexicon
// hits first, then words of two to four runes, deduplicated and capped.
func ExtractKeywords(text string, t storage.FragmentType) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(kw string) {
		if len(out) >= MaxKeywords {
			return
		}
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}

	for _, kw := range typeLexicon[t] {
		if strings.Contains(text, kw) {
			add(kw)
		}
	}

	for _, word := range strings.FieldsFunc(strings.ToLower(text), isWordSeparator) {
		if n := utf8.RuneCountInString(word); n >= 2 && n <= 4 {
			add(word)
		}
	}

	return out
}

// Tokenize splits a query into lowercase tokens of two to five runes.
// Punctuation-only or empty queries yield nil.
func Tokenize(query string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, tok := range strings.FieldsFunc(strings.ToLower(query), isQuerySeparator) {
		n := utf8.RuneCountInString(tok)
		if n < 2 || n > 5 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}
