package preview

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

const (
	wordBreaks     = " .,;:!?\n\r"
	sentenceBreaks = ".!?\n\r"
)

// WordBoundary returns the byte offset at which to cut text so that the kept
// prefix is at most maxLen bytes and ends just after a word break. Without a
// break the cut falls at maxLen, moved back to the nearest rune boundary.
func WordBoundary(text string, maxLen int) int {
	if len(text) <= maxLen {
		return len(text)
	}
	if i := lastBreak(text, maxLen, wordBreaks); i >= 0 {
		return i + 1
	}
	return runeFloor(text, maxLen)
}

// SentenceBoundary is WordBoundary with sentence punctuation as the break set.
// It falls back to WordBoundary when no sentence break is found.
func SentenceBoundary(text string, maxLen int) int {
	if len(text) <= maxLen {
		return len(text)
	}
	if i := lastBreak(text, maxLen, sentenceBreaks); i >= 0 {
		return i + 1
	}
	return WordBoundary(text, maxLen)
}

// TruncateWords cuts text at a word boundary and appends an ellipsis when it
// had to cut.
func TruncateWords(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:WordBoundary(text, maxLen)] + ellipsis
}

// TruncateSentences is TruncateWords using SentenceBoundary.
func TruncateSentences(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:SentenceBoundary(text, maxLen)] + ellipsis
}

// lastBreak scans backward from maxLen-1. All break characters are ASCII, so
// a hit is always a rune boundary.
func lastBreak(text string, maxLen int, breaks string) int {
	for i := maxLen - 1; i >= 0; i-- {
		if strings.IndexByte(breaks, text[i]) >= 0 {
			return i
		}
	}
	return -1
}

func runeFloor(text string, n int) int {
	if n <= 0 {
		return 0
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return n
}
