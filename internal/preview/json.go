package preview

import "strings"

func extractJSON(raw string, maxLen int) string {
	return "📊 JSON Data\n\n" + TruncateWords(strings.TrimSpace(raw), maxLen)
}
