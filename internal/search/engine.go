package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"recall/internal/logging"
	"recall/internal/model"
	"recall/internal/transcript"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 10 * time.Second

// Engine runs queries against a Backend: discover, drop incomplete
// sessions, filter, score, sort, truncate. Each stage completes before the
// next starts.
type Engine struct {
	backend Backend
	logger  *logging.Logger
	now     func() time.Time
	timeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now, which anchors relative date windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTimeout bounds each backend call. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEngine returns an Engine reading from b.
func NewEngine(b Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: b,
		logger:  logging.Nop(),
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns at most ClampLimit(q.Limit) results ordered by relevance,
// then most recent end time, then ID. No matches yields an empty slice.
func (e *Engine) Search(ctx context.Context, q model.Query) ([]model.SearchResult, error) {
	filter := NewFilter(q, e.now())
	terms := Terms(q.Text)

	results, err := e.discover(ctx, q, filter, terms)
	if err != nil {
		return nil, err
	}

	kept := results[:0]
	for _, r := range results {
		if r.Relevance > 0 {
			kept = append(kept, r)
		}
	}

	SortResults(kept)

	limit := model.ClampLimit(q.Limit)
	if len(kept) > limit {
		kept = kept[:limit]
	}
	e.logger.Debug(ctx, "search complete",
		zap.Int("admitted", len(results)),
		zap.Int("returned", len(kept)),
		zap.Strings("terms", terms))
	return kept, nil
}

// discover fetches candidates, drops unsearchable and filtered-out records,
// and scores the rest. Indexed backends that rank natively do the fetch
// and the scoring in one call for free-text queries.
func (e *Engine) discover(ctx context.Context, q model.Query, filter Filter, terms []string) ([]model.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if ranker, ok := e.backend.(Ranker); ok && len(terms) > 0 {
		ranked, err := ranker.Rank(ctx, q, filter.Window)
		if err != nil {
			return nil, e.backendError(ctx, "rank", err)
		}
		out := ranked[:0]
		for _, r := range ranked {
			if r.Searchable() && filter.Admit(&r.SessionRecord) {
				out = append(out, r)
			}
		}
		return out, nil
	}

	recs, err := e.backend.Candidates(ctx, q, filter.Window)
	if err != nil {
		return nil, e.backendError(ctx, "candidates", err)
	}
	results := make([]model.SearchResult, 0, len(recs))
	for i := range recs {
		if !recs[i].Searchable() || !filter.Admit(&recs[i]) {
			continue
		}
		results = append(results, model.SearchResult{
			SessionRecord: recs[i],
			Relevance:     Score(&recs[i], terms),
		})
	}
	return results, nil
}

// Get returns one searchable session. With withTranscript the raw events
// are read back from the transcript file.
func (e *Engine) Get(ctx context.Context, id string, withTranscript bool) (*model.SearchResult, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	rec, err := e.backend.Lookup(lookupCtx, id)
	cancel()
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, e.backendError(ctx, "lookup", err)
	}
	if !rec.Searchable() {
		return nil, fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}

	res := &model.SearchResult{SessionRecord: *rec}
	if withTranscript {
		events, err := transcript.ReadEvents(rec.TranscriptPath)
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		res.Transcript = events
	}
	return res, nil
}

// Stats reduces every admitted session in the query's window. Text and
// Limit are ignored.
func (e *Engine) Stats(ctx context.Context, q model.Query) (*model.Stats, error) {
	q.Text = ""
	filter := NewFilter(q, e.now())

	recs, err := e.discover(ctx, q, filter, nil)
	if err != nil {
		return nil, err
	}

	admitted := make([]model.SessionRecord, 0, len(recs))
	for _, r := range recs {
		admitted = append(admitted, r.SessionRecord)
	}
	stats := Summarize(admitted)
	return &stats, nil
}

// backendError classifies a storage failure. Caller cancellation passes
// through untouched; everything else, the deadline included, is retryable.
func (e *Engine) backendError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	e.logger.Warn(ctx, "backend call failed", zap.String("call", op), zap.Error(err))
	if errors.Is(err, model.ErrUnavailable) {
		return err
	}
	return model.Unavailable(op, err)
}

// SortResults orders by relevance desc, EndedAt desc, then ID asc so the
// order never depends on discovery order.
func SortResults(results []model.SearchResult) {
	slices.SortFunc(results, func(a, b model.SearchResult) int {
		if c := cmp.Compare(b.Relevance, a.Relevance); c != 0 {
			return c
		}
		if c := b.EndedAt.Compare(a.EndedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
