// Package canon reduces fetched markup to the text used for change detection.
//
// Canonicalization strips substrings that change on every request (clocks,
// dates, view counters, embedded scripts and ads), narrows the document to its
// main content region when one is recognizable, and collapses whitespace. Two
// fetches of an unchanged page should canonicalize to identical text.
package canon

import (
	"regexp"
	"strings"
)

// noiseRules are removed in order. Time-of-day with seconds must run before
// the shorter HH:MM rule or the seconds would survive.
var noiseRules = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}:\d{2}:\d{2}`),
	regexp.MustCompile(`\d{1,2}:\d{2}`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`[A-Za-z]{3},\s\d{1,2}\s[A-Za-z]{3}\s\d{4}`),
	regexp.MustCompile(`viewcount["']?\s*:\s*["']?\d+`),
	regexp.MustCompile(`["']timestamp["']\s*:\s*\d+`),
	regexp.MustCompile(`data-timestamp=["']\d+["']`),
	regexp.MustCompile(`(?is)<script\b.*?</script>`),
	regexp.MustCompile(`(?is)<iframe\b.*?</iframe>`),
	regexp.MustCompile(`(?s)<!--.*?-->`),
	regexp.MustCompile(`(?is)<ins\b.*?</ins>`),
}

// regionRules are tried in order; the first capture that matches wins.
var regionRules = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<article.*?>(.*?)</article>`),
	regexp.MustCompile(`(?s)<main.*?>(.*?)</main>`),
	regexp.MustCompile(`(?s)<div[^>]*?class=["']content["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?s)<div[^>]*?class=["']post-content["'][^>]*>(.*?)</div>`),
	regexp.MustCompile(`(?s)<div[^>]*?id=["']content["'][^>]*>(.*?)</div>`),
}

var whitespace = regexp.MustCompile(`\s+`)

// Canonicalize returns the comparison form of raw.
func Canonicalize(raw string) string {
	cleaned := StripNoise(raw)
	if region, ok := MainRegion(cleaned); ok {
		cleaned = region
	}
	return CollapseWhitespace(cleaned)
}

// StripNoise removes every volatile substring matched by the noise rules.
func StripNoise(raw string) string {
	out := raw
	for _, re := range noiseRules {
		out = re.ReplaceAllString(out, "")
	}
	return out
}

// MainRegion returns the inner text of the first recognized content region.
// An empty capture counts as no match.
func MainRegion(text string) (string, bool) {
	for _, re := range regionRules {
		m := re.FindStringSubmatch(text)
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

// CollapseWhitespace replaces every whitespace run with a single space and
// trims the ends.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
