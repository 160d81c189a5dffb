package core_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linke370/elysia-ai-companion/pkg/core"
	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

func TestFormatContext(t *testing.T) {
	assert.Empty(t, core.FormatContext(nil))

	frags := []*core.Fragment{
		{Type: storage.TypePreference, Text: "蓝色"},
		{Type: storage.TypeFact, Text: "张三"},
		{Type: storage.TypeImportantEvent, Text: "考试通过了"},
		{Type: storage.TypePreference, Text: "猫"},
	}

	want := "[关于用户的记忆，仅供参考，自然地融入回复，不要逐字复述]\n" +
		"基本信息：\n- 张三\n" +
		"喜好：\n- 蓝色\n- 猫\n" +
		"重要经历：\n- 考试通过了\n"
	assert.Equal(t, want, core.FormatContext(frags))
}

func TestFormatContext_Limits(t *testing.T) {
	long := strings.Repeat("海", 120)
	frags := []*core.Fragment{
		{Type: storage.TypeEmotionPattern, Text: long},
		{Type: storage.TypeEmotionPattern, Text: "二"},
		{Type: storage.TypeEmotionPattern, Text: "三"},
		{Type: storage.TypeEmotionPattern, Text: "四"},
	}

	out := core.FormatContext(frags)
	assert.Contains(t, out, "- "+strings.Repeat("海", 100)+"…\n")
	assert.NotContains(t, out, strings.Repeat("海", 101))
	assert.Contains(t, out, "- 三\n")
	assert.NotContains(t, out, "四")
}
