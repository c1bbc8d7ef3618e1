// Command recall searches the history of Claude Code sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recall/internal/config"
	"recall/internal/ingest"
	"recall/internal/logging"
	"recall/internal/model"
	"recall/internal/pgstore"
	"recall/internal/scan"
	"recall/internal/search"
	"recall/internal/store"
)

// Exit codes beyond the generic failure.
const (
	exitNotFound    = 3
	exitUnavailable = 75 // EX_TEMPFAIL
)

var (
	configPath  string
	backendFlag string
	jsonOutput  bool
)

// app carries what every command needs once flags are parsed.
type app struct {
	cfg *config.Config
	log *logging.Logger
	out io.Writer
}

var cur *app

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if cur != nil {
		_ = cur.log.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "recall: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return exitNotFound
	case model.IsRetryable(err):
		return exitUnavailable
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Search the history of Claude Code sessions",
	Long: `recall parses Claude Code session transcripts and answers ranked,
filtered queries over them.

The scan backend re-reads ~/.claude/projects on every query. The duckdb and
postgres backends serve from an index kept current by 'recall sync' or by
the 'recall hook' Claude Code hook.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/recall/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "override backend: scan, duckdb or postgres")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "write JSON even on a terminal")

	addQueryFlags(searchCmd, true)
	addQueryFlags(statsCmd, false)
	showCmd.Flags().Bool("transcript", false, "inline the raw transcript events")
	syncCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile after the pass")
	annotateCmd.Flags().String("summary", "", "short description of the session")
	annotateCmd.Flags().String("category", "", "category label")

	rootCmd.AddCommand(searchCmd, showCmd, statsCmd, syncCmd, annotateCmd, hookCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log, err := logging.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	cur = &app{cfg: cfg, log: log, out: cmd.OutOrStdout()}
	cmd.SetContext(logging.WithOperation(cmd.Context(), cmd.Name()))
	return nil
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Rank sessions against a query and filters",
	Long: `Rank sessions against free text and structural filters.

Examples:
  # Sessions mentioning email, last week
  recall search --days 7 email

  # Everything that touched a migrations file with Edit
  recall search --tools Edit --file-pattern migrations/

  # Most recent sessions, no query
  recall search --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryFromFlags(cmd, args, time.Now())
		if err != nil {
			return err
		}
		engine, closeFn, err := cur.engine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		results, err := engine.Search(cmd.Context(), q)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return cur.render(results, func(w io.Writer, width int) error {
			return renderResults(w, results, width)
		})
	},
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show one session, optionally with its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withTranscript, _ := cmd.Flags().GetBool("transcript")
		engine, closeFn, err := cur.engine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := engine.Get(cmd.Context(), args[0], withTranscript)
		if err != nil {
			return err
		}
		return cur.render(res, func(w io.Writer, _ int) error {
			return renderSession(w, res)
		})
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate token usage by category and model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := queryFromFlags(cmd, nil, time.Now())
		if err != nil {
			return err
		}
		engine, closeFn, err := cur.engine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		stats, err := engine.Stats(cmd.Context(), q)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return cur.render(stats, func(w io.Writer, _ int) error {
			return renderStats(w, stats)
		})
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest new and changed transcripts into the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsFile, _ := cmd.Flags().GetString("metrics-file")
		idx, err := cur.openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer idx.Close()

		syncer := cur.syncer(idx)
		report, err := syncer.Run(cmd.Context(), cur.cfg.ProjectsDir)
		if metricsFile != "" {
			if werr := syncer.Metrics().WriteTextfile(metricsFile); werr != nil {
				cur.log.Warn(cmd.Context(), "write metrics", zap.Error(werr))
			}
		}
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		return cur.render(syncView(report), func(w io.Writer, _ int) error {
			return renderReport(w, report)
		})
	},
}

// --- annotate ---

var annotateCmd = &cobra.Command{
	Use:   "annotate SESSION_ID",
	Short: "Attach a summary and category to an indexed session",
	Long: `Attach a summary and category to an indexed session. Annotations
are kept apart from parsed data and survive re-ingestion. The summary is
ranked above message text.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, _ := cmd.Flags().GetString("summary")
		category, _ := cmd.Flags().GetString("category")
		if summary == "" && category == "" {
			return fmt.Errorf("annotate: give --summary, --category or both")
		}
		idx, err := cur.openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer idx.Close()

		return cur.bounded(cmd.Context(), "annotate", func(ctx context.Context) error {
			return idx.Annotate(ctx, model.Annotation{
				SessionID: args[0],
				Summary:   summary,
				Category:  category,
			})
		})
	},
}

// --- hook (stdin, always exits 0) ---

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Ingest the transcript named by a Claude Code hook event on stdin",
	Long: `Read a Claude Code hook event from stdin and ingest its transcript.
Register it for Stop, SubagentStop, PreCompact and SessionEnd. It never
fails, so it never blocks Claude.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runHook(cmd.Context(), cmd.InOrStdin()); err != nil {
			cur.log.Warn(cmd.Context(), "hook ingest failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "recall: %v\n", err)
		}
		return nil
	},
}

func runHook(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	payload, err := model.ParsePayload(data)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	if !payload.Ingestible() || cur.cfg.Backend == config.BackendScan {
		return nil
	}

	idx, err := cur.openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()

	outcome, err := cur.syncer(idx).IngestFile(ctx, payload.TranscriptPath)
	if err != nil {
		return err
	}
	cur.log.Debug(ctx, "hook ingest",
		zap.String("session", payload.SessionID),
		zap.String("event", payload.HookEventName),
		zap.Stringer("outcome", outcome))
	return nil
}

// --- Helpers ---

func addQueryFlags(cmd *cobra.Command, withText bool) {
	f := cmd.Flags()
	if withText {
		f.StringP("query", "q", "", "free text to score against (also taken from arguments)")
		f.String("tools", "", "comma-separated tool names; any may match")
		f.String("file-pattern", "", "substring of a touched file path")
		f.Int("limit", model.DefaultLimit, fmt.Sprintf("max results (1-%d)", model.MaxLimit))
	}
	f.Int("days", 0, "only sessions that ended in the last N days")
	f.String("since", "", "lower bound on end time: 2025-01-10, 2025-01-10T09:30, RFC3339, or 7d/12h")
	f.String("until", "", "upper bound on end time, same formats; a bare date covers the whole day")
}

// queryFromFlags builds a Query from flags registered by addQueryFlags.
// Flags that a command did not register read as zero values.
func queryFromFlags(cmd *cobra.Command, args []string, now time.Time) (model.Query, error) {
	f := cmd.Flags()
	text, _ := f.GetString("query")
	if text == "" && len(args) > 0 {
		text = strings.Join(args, " ")
	}
	tools, _ := f.GetString("tools")
	filePattern, _ := f.GetString("file-pattern")
	limit, _ := f.GetInt("limit")
	days, _ := f.GetInt("days")
	since, _ := f.GetString("since")
	until, _ := f.GetString("until")

	q := model.Query{
		Text:        text,
		Days:        days,
		Tools:       model.ParseTools(tools),
		FilePattern: filePattern,
		Limit:       model.ClampLimit(limit),
	}
	tf, err := model.ParseTimeFilter(since, until, now)
	if err != nil {
		return q, err
	}
	if tf != nil {
		q.Since, q.Until = tf.Since, tf.Until
	}
	return q, nil
}

// index is an indexed backend: searchable, ingestible and annotatable.
type index interface {
	search.Backend
	search.Ranker
	ingest.Sink
	Annotate(ctx context.Context, a model.Annotation) error
	Close() error
}

func (a *app) openIndex(ctx context.Context) (index, error) {
	switch a.cfg.Backend {
	case config.BackendDuckDB:
		st, err := store.Open(ctx, a.cfg.DBPath())
		if err != nil {
			return nil, model.Unavailable("open", err)
		}
		return st, nil
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
		defer cancel()
		st, err := pgstore.Open(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, model.Unavailable("connect", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("backend %q has no index; set backend to duckdb or postgres", a.cfg.Backend)
	}
}

// engine opens the configured backend for reading.
func (a *app) engine(ctx context.Context) (*search.Engine, func(), error) {
	opts := []search.Option{
		search.WithLogger(a.log.Named("search")),
		search.WithTimeout(a.cfg.QueryTimeout),
	}

	if a.cfg.Backend == config.BackendScan {
		b := scan.New(a.cfg.ProjectsDir, a.cfg.Workers, a.log.Named("scan"))
		return search.NewEngine(b, opts...), func() {}, nil
	}

	if a.cfg.Backend == config.BackendDuckDB && !fileExists(a.cfg.DBPath()) {
		return nil, nil, fmt.Errorf("no index at %s; run 'recall sync' first", a.cfg.DBPath())
	}
	idx, err := a.openIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	return search.NewEngine(idx, opts...), func() { idx.Close() }, nil
}

func (a *app) syncer(sink ingest.Sink) *ingest.Syncer {
	return ingest.NewSyncer(sink,
		ingest.WithWorkers(a.cfg.Workers),
		ingest.WithTimeout(a.cfg.QueryTimeout),
		ingest.WithLogger(a.log.Named("ingest")))
}

// bounded runs fn under the query timeout. A missing session passes
// through; other failures are retryable.
func (a *app) bounded(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil || errors.Is(err, model.ErrNotFound) || errors.Is(err, context.Canceled) {
		return err
	}
	return model.Unavailable(op, err)
}

// render writes v as JSON unless stdout is a terminal and --json is unset.
func (a *app) render(v any, table func(w io.Writer, width int) error) error {
	width := terminalWidth()
	if jsonOutput || width == 0 {
		return writeJSON(a.out, v)
	}
	return table(a.out, width)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
