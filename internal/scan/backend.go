package scan

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recall/internal/logging"
	"recall/internal/model"
	"recall/internal/transcript"
)

// Backend re-parses transcripts under Root on every call. It holds no
// state between calls.
type Backend struct {
	Root    string
	Workers int
	Logger  *logging.Logger
}

// New returns a Backend over root.
func New(root string, workers int, logger *logging.Logger) *Backend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Backend{Root: root, Workers: workers, Logger: logger}
}

// Candidates parses every transcript that could fall inside window.
// Files modified before window.Since cannot contain a later event and are
// not opened.
func (b *Backend) Candidates(ctx context.Context, _ model.Query, window *model.TimeFilter) ([]model.SessionRecord, error) {
	files, err := Discover(ctx, b.Root, sinceOf(window))
	if err != nil {
		return nil, err
	}

	parsed := make([]*model.SessionRecord, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i] = b.parse(gctx, f.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recs := make([]model.SessionRecord, 0, len(parsed))
	for _, rec := range parsed {
		if rec != nil {
			recs = append(recs, *rec)
		}
	}
	b.Logger.Debug(ctx, "scan complete",
		zap.String("root", b.Root),
		zap.Int("files", len(files)),
		zap.Int("records", len(recs)))
	return recs, nil
}

// Lookup parses the transcript whose filename stem is id.
func (b *Backend) Lookup(ctx context.Context, id string) (*model.SessionRecord, error) {
	files, err := Discover(ctx, b.Root, nil)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if transcript.SessionID(f.Path) != id {
			continue
		}
		if rec := b.parse(ctx, f.Path); rec != nil {
			return rec, nil
		}
	}
	return nil, model.ErrNotFound
}

// parse returns nil for files that yield no record.
func (b *Backend) parse(ctx context.Context, path string) *model.SessionRecord {
	rec, stats, err := transcript.ParseFile(path)
	switch {
	case errors.Is(err, transcript.ErrNoEvents):
		b.Logger.Debug(ctx, "transcript has no events", zap.String("path", path))
		return nil
	case err != nil:
		b.Logger.Warn(ctx, "skipping unreadable transcript", zap.String("path", path), zap.Error(err))
		return nil
	}
	if stats.Skipped > 0 {
		b.Logger.Debug(ctx, "skipped malformed lines",
			zap.String("path", path),
			zap.Int("skipped", stats.Skipped),
			zap.Int("lines", stats.Lines))
	}
	return rec
}

func sinceOf(tf *model.TimeFilter) *time.Time {
	if tf == nil {
		return nil
	}
	return tf.Since
}
