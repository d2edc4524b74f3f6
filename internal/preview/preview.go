package preview

import "strings"

// DefaultMaxLength is the preview body budget used when none is configured.
const DefaultMaxLength = 400

// Format is the body classification that selects an extractor.
type Format int

// Formats in classification priority order.
const (
	FormatMarkup Format = iota
	FormatFeed
	FormatSocial
	FormatJSON
	FormatScript
)

func (f Format) String() string {
	switch f {
	case FormatFeed:
		return "feed"
	case FormatSocial:
		return "social"
	case FormatJSON:
		return "json"
	case FormatScript:
		return "script"
	default:
		return "markup"
	}
}

var (
	feedMarkers   = []string{"<?xml", "<rss", "<feed", "<item>", "<entry>"}
	scriptMarkers = []string{"function(", "var ", "const "}
)

// Classify picks the format for raw. The first matching rule wins.
func Classify(raw string) Format {
	switch {
	case containsAny(raw, feedMarkers):
		return FormatFeed
	case matchSocial(raw) != nil:
		return FormatSocial
	case looksLikeJSON(raw):
		return FormatJSON
	case containsAny(raw, scriptMarkers):
		return FormatScript
	default:
		return FormatMarkup
	}
}

// Extract classifies raw and returns the preview produced by its extractor.
// maxLen bounds the body portion of the preview; non-positive values use
// DefaultMaxLength.
func Extract(raw string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	switch Classify(raw) {
	case FormatFeed:
		return extractFeed(raw, maxLen)
	case FormatSocial:
		return extractSocial(raw, maxLen)
	case FormatJSON:
		return extractJSON(raw, maxLen)
	case FormatScript:
		return extractScript(raw, maxLen)
	default:
		return extractMarkup(raw, maxLen)
	}
}

// Extractor binds a length budget for callers that preview many bodies.
type Extractor struct {
	MaxLength int
}

// New returns an Extractor with the given budget.
func New(maxLen int) *Extractor {
	return &Extractor{MaxLength: maxLen}
}

// Preview returns the preview for raw.
func (e *Extractor) Preview(raw string) string {
	return Extract(raw, e.MaxLength)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func looksLikeJSON(raw string) bool {
	s := strings.TrimSpace(raw)
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']')
}
