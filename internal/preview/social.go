package preview

import (
	"regexp"
	"strings"
)

// socialProfile describes one recognized social feed.
type socialProfile struct {
	markers   []string
	postTitle *regexp.Regexp
	heading   string
	author    *regexp.Regexp
	community *regexp.Regexp
}

var socialProfiles = []socialProfile{
	{
		markers:   []string{"/u/DeepFuckingValue", "r/wallstreetbets", "reddit.com"},
		postTitle: regexp.MustCompile(`GME YOLO [^\n\r]+ r/[^\n\r]+`),
		heading:   "Reddit Updates",
		author:    regexp.MustCompile(`/u/([A-Za-z0-9_-]+)`),
		community: regexp.MustCompile(`r/([A-Za-z0-9_-]+)`),
	},
}

// scriptLineMarkers flag lines that are code rather than posts.
var scriptLineMarkers = []string{"function", "var ", ".js"}

func matchSocial(raw string) *socialProfile {
	for i := range socialProfiles {
		if containsAny(raw, socialProfiles[i].markers) {
			return &socialProfiles[i]
		}
	}
	return nil
}

func extractSocial(raw string, maxLen int) string {
	p := matchSocial(raw)
	if p == nil {
		return extractMarkup(raw, maxLen)
	}

	var b strings.Builder
	if title := p.postTitle.FindString(raw); title != "" {
		b.WriteString("📈 " + title + "\n\n")
	} else {
		b.WriteString("📈 " + p.heading + "\n\n")
	}
	if m := p.author.FindStringSubmatch(raw); len(m) > 1 {
		b.WriteString("User: u/" + m[1] + "\n")
	}
	if m := p.community.FindStringSubmatch(raw); len(m) > 1 {
		b.WriteString("Subreddit: r/" + m[1] + "\n\n")
	}

	var kept []string
	for _, line := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' }) {
		line = strings.TrimSuffix(line, "\r")
		if containsAny(line, scriptLineMarkers) || strings.TrimSpace(line) == "" || len(line) <= 5 {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) > 0 {
		b.WriteString(TruncateWords(strings.Join(kept, "\n"), maxLen))
	}
	return b.String()
}
