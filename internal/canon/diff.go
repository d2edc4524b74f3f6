package canon

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// Diff counts the characters added and removed between two canonical texts.
func Diff(prev, next string) watch.DiffStats {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prev, next, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var stats watch.DiffStats
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.Added += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			stats.Removed += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}
	return stats
}
