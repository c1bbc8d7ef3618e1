package search

import (
	"context"

	"recall/internal/model"
)

// Backend supplies candidate records to the Engine.
//
// Candidates may use the query and window to narrow its result (an index
// lookup, an mtime pre-filter) but must not drop records the Filter would
// admit. Implementations return an empty slice, not an error, when there
// is nothing to read.
type Backend interface {
	Candidates(ctx context.Context, q model.Query, window *model.TimeFilter) ([]model.SessionRecord, error)
	// Lookup returns model.ErrNotFound for an unknown id.
	Lookup(ctx context.Context, id string) (*model.SessionRecord, error)
}

// Ranker is implemented by indexed backends that score with their own
// text-search primitive. Engine uses it for free-text queries in place of
// Score; filtering, ordering and truncation stay with the Engine.
type Ranker interface {
	Rank(ctx context.Context, q model.Query, window *model.TimeFilter) ([]model.SearchResult, error)
}
