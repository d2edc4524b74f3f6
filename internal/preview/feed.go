package preview

import (
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
)

const (
	feedTitleOnly = "[RSS feed detected - content not available]"
	feedNothing   = "RSS/XML content detected, but couldn't extract readable content."
)

var (
	feedTitle       = regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`)
	feedContent     = regexp.MustCompile(`(?s)<content[^>]*>(.*?)</content>`)
	feedDescription = regexp.MustCompile(`(?s)<description[^>]*>(.*?)</description>`)
	feedCDATA       = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
)

func extractFeed(raw string, maxLen int) string {
	title, body := parseFeed(raw)
	if body == "" {
		scannedTitle, scannedBody := scanFeed(raw)
		if title == "" {
			title = scannedTitle
		}
		body = scannedBody
	}

	var b strings.Builder
	if title != "" {
		b.WriteString("📰 " + title + "\n\n")
	}
	switch {
	case body != "":
		b.WriteString(TruncateWords(body, maxLen))
	case title != "":
		b.WriteString(feedTitleOnly)
	default:
		return feedNothing
	}
	return b.String()
}

// parseFeed reads well-formed RSS, Atom or JSON feeds. Candidates follow
// document order: the first content element, then the first description,
// which is the channel's when it has one.
func parseFeed(raw string) (string, string) {
	feed, err := gofeed.NewParser().ParseString(raw)
	if err != nil || feed == nil {
		return "", ""
	}
	title := strings.TrimSpace(decodeEntities(feed.Title))
	var first *gofeed.Item
	if len(feed.Items) > 0 {
		first = feed.Items[0]
	}
	var candidates []string
	if first != nil {
		candidates = append(candidates, first.Content)
	}
	candidates = append(candidates, feed.Description)
	if first != nil {
		candidates = append(candidates, first.Description)
	}
	for _, c := range candidates {
		if text := strings.TrimSpace(cleanHTML(c)); text != "" {
			return title, text
		}
	}
	return title, ""
}

// scanFeed is the pattern-based path for fragments the parser rejects.
func scanFeed(raw string) (string, string) {
	var title, body string
	if m := feedTitle.FindStringSubmatch(raw); len(m) > 1 {
		title = strings.TrimSpace(decodeEntities(unwrapCDATA(m[1])))
	}
	if m := feedContent.FindStringSubmatch(raw); len(m) > 1 {
		body = strings.TrimSpace(decodeEntities(m[1]))
	}
	if body == "" {
		if m := feedDescription.FindStringSubmatch(raw); len(m) > 1 {
			body = strings.TrimSpace(decodeEntities(m[1]))
		}
	}
	if body == "" {
		if m := feedCDATA.FindStringSubmatch(raw); len(m) > 1 {
			body = strings.TrimSpace(cleanHTML(m[1]))
		}
	}
	return title, body
}

func unwrapCDATA(s string) string {
	if m := feedCDATA.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}
