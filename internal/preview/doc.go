// Package preview turns a fetched body into a short human-readable summary.
//
// A body is classified exactly once into a Format (feed, social, JSON,
// script-heavy or markup) and then handed to the single extractor for that
// format. Every extractor is total: a preview is never empty.
package preview
