package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestLexicalIndex(t *testing.T, maxChars int) *BleveIndex {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "lexical")
	require.NoError(t, BuildLexicalIndex(dir, testRecords()))

	idx := OpenLexicalIndex(dir, maxChars)
	require.True(t, idx.Status().OK(), idx.Status().Reason)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_Search(t *testing.T) {
	idx := buildTestLexicalIndex(t, 2000)
	assert.Equal(t, 3, idx.Status().Size)

	hits, err := idx.Search(context.Background(), "конфликт интересов", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(0), hits[0].Index)
	assert.Equal(t, "Положение о конфликте интересов", hits[0].Source)
	assert.Contains(t, hits[0].Text, "Конфликт интересов")
	assert.NotContains(t, hits[0].Text, "<mark>")
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestBleveIndex_SanitizesQuery(t *testing.T) {
	idx := buildTestLexicalIndex(t, 2000)

	hits, err := idx.Search(context.Background(), `подарки: (работникам) AND "*"~`, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Кодекс этики", hits[0].Source)

	hits, err = idx.Search(context.Background(), `?!*:"()`, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveIndex_TruncatesSnippet(t *testing.T) {
	idx := buildTestLexicalIndex(t, 5)

	hits, err := idx.Search(context.Background(), "горячая линия", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.LessOrEqual(t, len([]rune(hits[0].Text)), 5)
}

func TestOpenLexicalIndex_Unavailable(t *testing.T) {
	for _, dir := range []string{"", filepath.Join(t.TempDir(), "absent")} {
		idx := OpenLexicalIndex(dir, 100)
		assert.False(t, idx.Status().OK())
		assert.NotEmpty(t, idx.Status().Reason)

		hits, err := idx.Search(context.Background(), "конфликт", 5)
		assert.NoError(t, err)
		assert.Empty(t, hits)
		assert.NoError(t, idx.Close())
	}
}

func TestSanitizeQuery(t *testing.T) {
	assert.Equal(t, "что такое  конфликт  ", SanitizeQuery("что такое (конфликт)?"))
	assert.Equal(t, "snake_case 42", SanitizeQuery("snake_case 42"))
	assert.Empty(t, strings.TrimSpace(SanitizeQuery("+-&|!(){}[]^\"~*?:\\/")))
}

func TestBestFragment(t *testing.T) {
	assert.Equal(t, "Конфликт интересов", bestFragment([]string{"", "…<mark>Конфликт</mark> интересов…"}))
	assert.Equal(t, "", bestFragment(nil))
}
