package preview

import (
	"regexp"
	"strings"
)

// entityReplacer decodes the fixed named-entity table. Anything else is left
// as written.
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&#39;", "'",
	"&ndash;", "-",
	"&mdash;", "-",
	"&lsquo;", "'",
	"&rsquo;", "'",
	"&ldquo;", `"`,
	"&rdquo;", `"`,
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

func normalizeWhitespace(s string) string {
	return whitespacePattern.ReplaceAllString(s, " ")
}

// cleanHTML decodes entities, drops tags and strips leaked script.
func cleanHTML(s string) string {
	text := decodeEntities(s)
	text = tagPattern.ReplaceAllString(text, " ")
	text = normalizeWhitespace(text)
	return stripScript(text)
}
