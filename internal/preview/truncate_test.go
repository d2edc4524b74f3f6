package preview

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestWordBoundary(t *testing.T) {
	t.Parallel()

	require.Equal(t, 5, WordBoundary("short", 10))
	require.Equal(t, 6, WordBoundary("hello world", 8))
	require.Equal(t, 4, WordBoundary("abcdefgh", 4))
	require.Equal(t, 3, WordBoundary("ab,cdefgh", 5))
}

func TestSentenceBoundary(t *testing.T) {
	t.Parallel()

	require.Equal(t, 4, SentenceBoundary("One. two three four", 12))
	require.Equal(t, 4, SentenceBoundary("one two three", 6))
	require.Equal(t, 3, SentenceBoundary("short", 3))
}

func TestTruncateNoopWithinBudget(t *testing.T) {
	t.Parallel()

	require.Equal(t, "exact", TruncateWords("exact", 5))
	require.Equal(t, "exact", TruncateSentences("exact", 5))
}

func TestTruncateRespectsBudget(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("lorem ipsum dolor. ", 50)
	for _, n := range []int{1, 7, 40, 399} {
		got := TruncateWords(text, n)
		require.LessOrEqual(t, len(got), n+len(ellipsis))
		got = TruncateSentences(text, n)
		require.LessOrEqual(t, len(got), n+len(ellipsis))
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 20)
	for n := 1; n < len(text); n++ {
		got := TruncateWords(text, n)
		require.True(t, utf8.ValidString(got), "budget %d produced %q", n, got)
		require.LessOrEqual(t, len(got), n+len(ellipsis))
	}
}
