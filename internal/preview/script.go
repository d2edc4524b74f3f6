package preview

import "regexp"

// scriptIdioms are code fragments that leak into scraped text. Each match is
// replaced with a space.
var scriptIdioms = []*regexp.Regexp{
	regexp.MustCompile(`function\s*\([^)]*\)\s*\{[^}]*\}`),
	regexp.MustCompile(`var\s+\w+\s*=`),
	regexp.MustCompile(`const\s+\w+\s*=`),
	regexp.MustCompile(`let\s+\w+\s*=`),
	regexp.MustCompile(`if\s*\([^)]*\)`),
	regexp.MustCompile(`window\.\w+`),
	regexp.MustCompile(`document\.\w+`),
	regexp.MustCompile(`\(\s*function\s*\(\)`),
	regexp.MustCompile(`/\*.*?\*/`),
	regexp.MustCompile(`//.*?[\n\r]`),
	regexp.MustCompile(`gtag\([^)]*\)`),
	regexp.MustCompile(`dataLayer`),
	regexp.MustCompile(`GoogleAnalytics`),
	regexp.MustCompile(`google-analytics`),
	regexp.MustCompile(`googletag`),
}

var nestedBraces = regexp.MustCompile(`\{[^{}]*\{[^{}]*\}[^{}]*\}`)

func stripScript(text string) string {
	out := text
	for _, re := range scriptIdioms {
		out = re.ReplaceAllString(out, " ")
	}
	out = nestedBraces.ReplaceAllString(out, " ")
	return normalizeWhitespace(out)
}

func extractScript(raw string, maxLen int) string {
	return "📰 Content Preview\n\n" + TruncateWords(stripScript(raw), maxLen)
}
