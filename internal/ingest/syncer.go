// Package ingest loads parsed transcripts into an indexed store,
// re-reading only what changed since the last pass.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recall/internal/logging"
	"recall/internal/model"
	"recall/internal/scan"
	"recall/internal/transcript"
)

// Sink is an indexed store that accepts parsed records.
type Sink interface {
	// SourceState returns what was last ingested from path.
	SourceState(ctx context.Context, path string) (model.SourceState, bool, error)
	// Touch records a new mtime for content that did not change.
	Touch(ctx context.Context, src model.SourceState) error
	// Replace atomically swaps the stored record for rec and updates src.
	// A nil or unsearchable rec removes the session and keeps only src.
	Replace(ctx context.Context, rec *model.SessionRecord, src model.SourceState) error
}

// Outcome is what happened to one file during a pass.
type Outcome int

const (
	Unchanged Outcome = iota
	Touched
	Replaced
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Touched:
		return "touched"
	case Replaced:
		return "replaced"
	default:
		return "failed"
	}
}

// Report summarizes a pass.
type Report struct {
	Files     int           `json:"files"`
	Unchanged int           `json:"unchanged"`
	Touched   int           `json:"touched"`
	Replaced  int           `json:"replaced"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"-"`
}

func (r *Report) add(o Outcome) {
	switch o {
	case Unchanged:
		r.Unchanged++
	case Touched:
		r.Touched++
	case Replaced:
		r.Replaced++
	case Failed:
		r.Failed++
	}
}

// DefaultTimeout bounds each call into the sink.
const DefaultTimeout = 10 * time.Second

// Syncer runs ingestion passes into a Sink.
type Syncer struct {
	sink    Sink
	workers int
	timeout time.Duration
	logger  *logging.Logger
	metrics *Metrics
	locks   *KeyedMutex
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithWorkers bounds the number of files processed at once.
func WithWorkers(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTimeout bounds each sink call. A call that runs past it fails as
// retryable.
func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the syncer logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithMetrics records pass outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithLocks shares a KeyedMutex between syncers writing to one store.
func WithLocks(k *KeyedMutex) Option {
	return func(s *Syncer) { s.locks = k }
}

// NewSyncer returns a Syncer writing to sink.
func NewSyncer(sink Sink, opts ...Option) *Syncer {
	s := &Syncer{
		sink:    sink,
		workers: runtime.NumCPU(),
		timeout: DefaultTimeout,
		logger:  logging.Nop(),
		metrics: NewMetrics(),
		locks:   NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the metrics the syncer records on.
func (s *Syncer) Metrics() *Metrics { return s.metrics }

// Run ingests every transcript under root. Per-file failures are counted
// and logged; only cancellation or a failed walk abort the pass. On
// cancellation files already started are finished and the partial report
// is returned with ctx.Err().
func (s *Syncer) Run(ctx context.Context, root string) (Report, error) {
	start := time.Now()
	var report Report

	files, err := scan.Discover(ctx, root, nil)
	if err != nil {
		return report, fmt.Errorf("discover %s: %w", root, err)
	}
	report.Files = len(files)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, _ := s.ingest(ctx, f)
			mu.Lock()
			report.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	s.metrics.Duration.Observe(report.Duration.Seconds())
	s.logger.Info(ctx, "ingestion pass complete",
		zap.String("root", root),
		zap.Int("files", report.Files),
		zap.Int("replaced", report.Replaced),
		zap.Int("touched", report.Touched),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))

	return report, ctx.Err()
}

// IngestFile ingests a single transcript, as triggered by a hook event.
func (s *Syncer) IngestFile(ctx context.Context, path string) (Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		s.metrics.observe(Failed)
		return Failed, fmt.Errorf("stat %s: %w", path, err)
	}
	return s.ingest(ctx, scan.File{Path: path, ModTime: info.ModTime().UTC(), Size: info.Size()})
}

func (s *Syncer) ingest(ctx context.Context, f scan.File) (Outcome, error) {
	o, err := s.ingestLocked(ctx, f)
	s.metrics.observe(o)
	if err != nil {
		s.logger.Warn(ctx, "ingest failed", zap.String("path", f.Path), zap.Error(err))
	}
	return o, err
}

func (s *Syncer) ingestLocked(ctx context.Context, f scan.File) (Outcome, error) {
	id := transcript.SessionID(f.Path)
	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		prev  model.SourceState
		found bool
	)
	err := s.call(ctx, "source state", func(ctx context.Context) error {
		var err error
		prev, found, err = s.sink.SourceState(ctx, f.Path)
		return err
	})
	if err != nil {
		return Failed, fmt.Errorf("load source state: %w", err)
	}
	if found && prev.ModTime.Equal(f.ModTime) && prev.Size == f.Size {
		return Unchanged, nil
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Failed, fmt.Errorf("read: %w", err)
	}
	src := model.SourceState{
		Path:        f.Path,
		SessionID:   id,
		ModTime:     f.ModTime,
		Size:        int64(len(data)),
		Fingerprint: xxhash.Sum64(data),
	}

	if found && prev.Fingerprint == src.Fingerprint {
		err := s.call(ctx, "touch", func(ctx context.Context) error {
			return s.sink.Touch(ctx, src)
		})
		if err != nil {
			return Failed, fmt.Errorf("touch: %w", err)
		}
		return Touched, nil
	}

	rec, stats, err := transcript.ParseBytes(data, f.Path, f.ModTime)
	switch {
	case errors.Is(err, transcript.ErrNoEvents):
		rec = nil
	case err != nil:
		return Failed, fmt.Errorf("parse: %w", err)
	}
	if stats.Skipped > 0 {
		s.logger.Debug(ctx, "skipped malformed lines",
			zap.String("path", f.Path), zap.Int("skipped", stats.Skipped))
	}

	err = s.call(ctx, "replace", func(ctx context.Context) error {
		return s.sink.Replace(ctx, rec, src)
	})
	if err != nil {
		return Failed, fmt.Errorf("replace: %w", err)
	}
	return Replaced, nil
}

// call runs fn under the sink timeout. Caller cancellation passes through;
// any other failure, the deadline included, is retryable.
func (s *Syncer) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, model.ErrUnavailable) {
		return err
	}
	return model.Unavailable(op, err)
}
