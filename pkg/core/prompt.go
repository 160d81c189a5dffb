package core

import (
	"context"
	"strings"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

const (
	contextPerType   = 3
	contextTextRunes = 100
)

var typeHeadings = map[storage.FragmentType]string{
	storage.TypeFact:           "基本信息",
	storage.TypePreference:     "喜好",
	storage.TypeImportantEvent: "重要经历",
	storage.TypeEmotionPattern: "情感习惯",
}

// BuildContext renders the fragments relevant to message as a prompt block
// for the generation layer. It returns an empty string when nothing is relevant.
func (c *Client) BuildContext(ctx context.Context, userID, message string, opts ...ContextOption) (string, error) {
	frags, err := c.GetContextual(ctx, userID, message, opts...)
	if err != nil {
		return "", err
	}
	return FormatContext(frags), nil
}

// FormatContext groups fragments by type, keeps at most three per type in
// their given order, and wraps them in an instruction not to quote them.
func FormatContext(frags []*Fragment) string {
	if len(frags) == 0 {
		return ""
	}

	grouped := make(map[storage.FragmentType][]string)
	for _, f := range frags {
		if len(grouped[f.Type]) >= contextPerType {
			continue
		}
		grouped[f.Type] = append(grouped[f.Type], truncateRunes(f.Text, contextTextRunes))
	}

	var b strings.Builder
	b.WriteString("[关于用户的记忆，仅供参考，自然地融入回复，不要逐字复述]\n")
	for _, t := range storage.AllFragmentTypes() {
		lines := grouped[t]
		if len(lines) == 0 {
			continue
		}
		b.WriteString(typeHeadings[t])
		b.WriteString("：\n")
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
