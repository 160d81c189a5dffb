package storage_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linke370/elysia-ai-companion/pkg/storage"
)

func TestParseFragmentType(t *testing.T) {
	for _, typ := range storage.AllFragmentTypes() {
		got, err := storage.ParseFragmentType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	_, err := storage.ParseFragmentType("habit")
	assert.Error(t, err)
}

func TestFragment_Clone(t *testing.T) {
	f := &storage.Fragment{ID: 1, Text: "蓝色", RelatedKeywords: []string{"蓝色"}}

	c := f.Clone()
	c.RelatedKeywords[0] = "红色"
	c.Text = "红色"

	assert.Equal(t, "蓝色", f.Text)
	assert.Equal(t, []string{"蓝色"}, f.RelatedKeywords)
	assert.Nil(t, (*storage.Fragment)(nil).Clone())
	assert.Nil(t, storage.CloneAll(nil))
}

func TestKeywordsCodec(t *testing.T) {
	s, err := storage.EncodeKeywords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	s, err = storage.EncodeKeywords([]string{"喜欢", "蓝色"})
	require.NoError(t, err)

	kws, err := storage.DecodeKeywords(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"喜欢", "蓝色"}, kws)

	kws, err = storage.DecodeKeywords("[]")
	require.NoError(t, err)
	assert.Nil(t, kws)

	_, err = storage.DecodeKeywords("{bad")
	assert.Error(t, err)
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 0.0, storage.ClampImportance(-0.2))
	assert.Equal(t, 1.0, storage.ClampImportance(1.2))
	assert.Equal(t, 0.4, storage.ClampImportance(0.4))
	assert.Equal(t, 0.0, storage.ClampImportance(math.NaN()))
}
