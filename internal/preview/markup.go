package preview

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	markupTitleOnly = "[Content not available]"
	markupNothing   = "Unable to extract readable content from this page."
)

// contentSelectors are tried in order; the first with non-empty text wins.
var contentSelectors = []string{
	"article",
	"main",
	".content",
	"#content",
	".post-content",
	".entry-content",
	".article-content",
	".post",
	"p",
	".news-article",
	".article__content",
	".story-body",
	".story__content",
}

func extractMarkup(raw string, maxLen int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return markupNothing
	}
	doc.Find("script, style, noscript").Remove()

	title := selectionText(doc.Find("title").First())
	if title == "" {
		title = selectionText(doc.Find("h1").First())
	}

	var body string
	for _, sel := range contentSelectors {
		if body = selectionText(doc.Find(sel)); body != "" {
			break
		}
	}
	if body == "" {
		body = strings.TrimSpace(stripScript(selectionText(doc.Find("body").First())))
	}

	var b strings.Builder
	if title != "" {
		b.WriteString("📰 " + title + "\n\n")
	}
	switch {
	case body != "":
		b.WriteString(TruncateSentences(body, maxLen))
	case title != "":
		b.WriteString(markupTitleOnly)
	default:
		return markupNothing
	}
	return b.String()
}

// selectionText joins the text of every node in s with single spaces.
func selectionText(s *goquery.Selection) string {
	parts := make([]string, 0, s.Length())
	s.Each(func(_ int, n *goquery.Selection) {
		parts = append(parts, n.Text())
	})
	return strings.TrimSpace(normalizeWhitespace(strings.Join(parts, " ")))
}
