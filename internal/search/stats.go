package search

import "recall/internal/model"

// Uncategorized groups sessions with no category.
const Uncategorized = "uncategorized"

// Summarize sums token counters and counts sessions per category and per
// model. A session using several models counts once for each.
func Summarize(recs []model.SessionRecord) model.Stats {
	s := model.Stats{
		ByCategory: make(map[string]int),
		ByModel:    make(map[string]int),
	}
	for i := range recs {
		r := &recs[i]
		s.Sessions++
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.CacheCreationTokens += r.CacheCreationTokens
		s.CacheReadTokens += r.CacheReadTokens

		cat := r.Category
		if cat == "" {
			cat = Uncategorized
		}
		s.ByCategory[cat]++
		for _, m := range r.ModelsUsed {
			s.ByModel[m]++
		}
	}
	return s
}
