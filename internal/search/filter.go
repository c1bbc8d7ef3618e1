package search

import (
	"strings"
	"time"

	"recall/internal/model"
)

// Filter holds the structural predicates of a query. Zero-valued criteria
// admit everything; active criteria combine with AND.
type Filter struct {
	Window      *model.TimeFilter
	Tools       []string
	FilePattern string
}

// NewFilter resolves q against now. Tool names and the file pattern are
// lowercased once here.
func NewFilter(q model.Query, now time.Time) Filter {
	f := Filter{
		Window:      q.Window(now),
		FilePattern: strings.ToLower(strings.TrimSpace(q.FilePattern)),
	}
	for _, t := range q.Tools {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			f.Tools = append(f.Tools, t)
		}
	}
	return f
}

// Admit reports whether rec passes every active criterion.
func (f Filter) Admit(rec *model.SessionRecord) bool {
	if !f.Window.Contains(rec.EndedAt) {
		return false
	}
	if len(f.Tools) > 0 && !f.matchTools(rec.ToolsUsed) {
		return false
	}
	if f.FilePattern != "" && !anyContains(rec.FilesFromToolCalls, f.FilePattern) {
		return false
	}
	return true
}

// matchTools is any-of over requested names against any-of stored names.
func (f Filter) matchTools(used []string) bool {
	for _, want := range f.Tools {
		if anyContains(used, want) {
			return true
		}
	}
	return false
}
