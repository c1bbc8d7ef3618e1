// Package pgstore is the networked indexed backend. It keeps the same
// tables as the embedded store and ranks with PostgreSQL full-text search.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-json-experiment/json"
	_ "github.com/jackc/pgx/v5/stdlib"

	"recall/internal/model"
	"recall/internal/search"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db *sql.DB
}

// Open connects through the pgx driver, pings, and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the tables and indexes if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// --- Ingestion ---

func (s *Store) SourceState(ctx context.Context, path string) (model.SourceState, bool, error) {
	var (
		src model.SourceState
		fp  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT path, session_id, mtime, size, fingerprint
		FROM source_files WHERE path = $1
	`, path).Scan(&src.Path, &src.SessionID, &src.ModTime, &src.Size, &fp)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceState{}, false, nil
	}
	if err != nil {
		return model.SourceState{}, false, err
	}
	src.ModTime = src.ModTime.UTC()
	src.Fingerprint = uint64(fp)
	return src, true, nil
}

func (s *Store) Touch(ctx context.Context, src model.SourceState) error {
	_, err := s.db.ExecContext(ctx, upsertSource, sourceArgs(src)...)
	return err
}

const upsertSource = `
	INSERT INTO source_files (path, session_id, mtime, size, fingerprint)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (path) DO UPDATE SET
		session_id = EXCLUDED.session_id,
		mtime = EXCLUDED.mtime,
		size = EXCLUDED.size,
		fingerprint = EXCLUDED.fingerprint`

func sourceArgs(src model.SourceState) []any {
	return []any{src.Path, src.SessionID, src.ModTime.UTC(), src.Size, int64(src.Fingerprint)}
}

// Replace swaps in rec and src in one transaction. A nil or unsearchable
// rec deletes the session row and keeps only the source row.
func (s *Store) Replace(ctx context.Context, rec *model.SessionRecord, src model.SourceState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if rec == nil || !rec.Searchable() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, src.SessionID); err != nil {
			return fmt.Errorf("delete session %s: %w", src.SessionID, err)
		}
	} else if err := upsertSession(ctx, tx, rec); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, upsertSource, sourceArgs(src)...); err != nil {
		return fmt.Errorf("update source %s: %w", src.Path, err)
	}
	return tx.Commit()
}

func upsertSession(ctx context.Context, tx *sql.Tx, rec *model.SessionRecord) error {
	lists := make([]string, 0, 4)
	for _, l := range [][]string{rec.ToolsUsed, rec.FilesFromToolCalls, rec.ModelsUsed, rec.UserMessages} {
		b, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encode %s lists: %w", rec.ID, err)
		}
		lists = append(lists, string(b))
	}
	metadata := strings.Join(append(append([]string{}, rec.ToolsUsed...), rec.FilesFromToolCalls...), " ")

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, started_at, ended_at, git_branch, cwd, version,
			message_count, input_tokens, output_tokens,
			cache_creation_tokens, cache_read_tokens,
			tools_used, files, models_used, user_messages,
			summary, category, transcript_path, body_tsv, tsv
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18,
			setweight(to_tsvector('english'::regconfig, $19::text), 'B')
				|| setweight(to_tsvector('simple'::regconfig, $20::text), 'C'),
			''::tsvector
		)
		ON CONFLICT (session_id) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			git_branch = EXCLUDED.git_branch,
			cwd = EXCLUDED.cwd,
			version = EXCLUDED.version,
			message_count = EXCLUDED.message_count,
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens,
			cache_creation_tokens = EXCLUDED.cache_creation_tokens,
			cache_read_tokens = EXCLUDED.cache_read_tokens,
			tools_used = EXCLUDED.tools_used,
			files = EXCLUDED.files,
			models_used = EXCLUDED.models_used,
			user_messages = EXCLUDED.user_messages,
			summary = EXCLUDED.summary,
			category = EXCLUDED.category,
			transcript_path = EXCLUDED.transcript_path,
			body_tsv = EXCLUDED.body_tsv
	`,
		rec.ID, rec.StartedAt.UTC(), rec.EndedAt.UTC(), rec.GitBranch, rec.CWD, rec.Version,
		rec.MessageCount, rec.InputTokens, rec.OutputTokens,
		rec.CacheCreationTokens, rec.CacheReadTokens,
		lists[0], lists[1], lists[2], lists[3],
		rec.Summary, rec.Category, rec.TranscriptPath,
		strings.Join(rec.UserMessages, "\n"), metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	if _, err := refreshTSV(ctx, tx, rec.ID); err != nil {
		return fmt.Errorf("index session %s: %w", rec.ID, err)
	}
	return nil
}

// refreshTSV rebuilds tsv from the effective summary and body_tsv.
// It reports whether the session exists.
func refreshTSV(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions s SET tsv =
			setweight(to_tsvector('english'::regconfig, COALESCE(NULLIF(
				(SELECT a.summary FROM session_annotations a WHERE a.session_id = s.session_id), ''),
				s.summary)), 'A') || s.body_tsv
		WHERE s.session_id = $1
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Annotations ---

// Annotate stores externally produced metadata and re-ranks the session
// with the new summary. Empty fields leave the parsed value visible.
func (s *Store) Annotate(ctx context.Context, a model.Annotation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, a.SessionID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", a.SessionID, model.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_annotations (session_id, summary, category, annotated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET summary = EXCLUDED.summary, category = EXCLUDED.category, annotated_at = EXCLUDED.annotated_at
	`, a.SessionID, nullStr(a.Summary), nullStr(a.Category), time.Now().UTC()); err != nil {
		return fmt.Errorf("annotate %s: %w", a.SessionID, err)
	}

	found, err := refreshTSV(ctx, tx, a.SessionID)
	if err != nil {
		return fmt.Errorf("index session %s: %w", a.SessionID, err)
	}
	if !found {
		return fmt.Errorf("%s: %w", a.SessionID, model.ErrNotFound)
	}
	return tx.Commit()
}

// --- Queries ---

func (s *Store) Candidates(ctx context.Context, q model.Query, window *model.TimeFilter) ([]model.SessionRecord, error) {
	var a args
	where := filterClauses(q, window, &a)
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE TRUE`+where, a...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Rank orders sessions by ts_rank over the weighted tsv column. Query
// terms are prefix-matched and stemmed by the english configuration.
// Text with no indexable term falls back to substring scoring.
func (s *Store) Rank(ctx context.Context, q model.Query, window *model.TimeFilter) ([]model.SearchResult, error) {
	tsq := tsQuery(q.Text)
	if tsq == "" {
		return s.scoreCandidates(ctx, q, window)
	}

	var a args
	query := fmt.Sprintf(`
		SELECT %s, ts_rank(%s, s.tsv, q) AS relevance
		%s, to_tsquery('english'::regconfig, %s::text) q
		WHERE s.tsv @@ q %s
		ORDER BY relevance DESC, s.ended_at DESC, s.session_id
		LIMIT %s
	`, sessionColumns, rankWeights, sessionFrom, a.bind(tsq), filterClauses(q, window, &a),
		a.bind(model.ClampLimit(q.Limit)))

	rows, err := s.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		rec, err := scanSession(rows, &r.Relevance)
		if err != nil {
			return nil, err
		}
		r.SessionRecord = *rec
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) scoreCandidates(ctx context.Context, q model.Query, window *model.TimeFilter) ([]model.SearchResult, error) {
	recs, err := s.Candidates(ctx, q, window)
	if err != nil {
		return nil, err
	}
	terms := search.Terms(q.Text)
	var out []model.SearchResult
	for _, rec := range recs {
		if score := search.Score(&rec, terms); score > 0 {
			out = append(out, model.SearchResult{SessionRecord: rec, Relevance: score})
		}
	}
	search.SortResults(out)
	if limit := model.ClampLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Lookup(ctx context.Context, id string) (*model.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.session_id = $1`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

// --- helpers ---

// args accumulates positional parameters for $n placeholders.
type args []any

func (a *args) bind(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// tsQuery turns free text into an OR of prefix terms. Characters that
// to_tsquery treats as operators are dropped.
func tsQuery(text string) string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
				return r
			}
			return -1
		}, f)
		if clean != "" {
			terms = append(terms, clean+":*")
		}
	}
	return strings.Join(terms, " | ")
}

// filterClauses pushes the structural filter into SQL.
func filterClauses(q model.Query, window *model.TimeFilter, a *args) string {
	var sb strings.Builder
	if window != nil {
		if window.Since != nil {
			sb.WriteString(" AND s.ended_at >= " + a.bind(window.Since.UTC()))
		}
		if window.Until != nil {
			sb.WriteString(" AND s.ended_at <= " + a.bind(window.Until.UTC()))
		}
	}

	var tools []string
	for _, t := range q.Tools {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tools = append(tools, anyElementContains("s.tools_used", a.bind(t)))
		}
	}
	if len(tools) > 0 {
		sb.WriteString(" AND (" + strings.Join(tools, " OR ") + ")")
	}

	if p := strings.ToLower(strings.TrimSpace(q.FilePattern)); p != "" {
		sb.WriteString(" AND " + anyElementContains("s.files", a.bind(p)))
	}
	return sb.String()
}

func anyElementContains(col, placeholder string) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM jsonb_array_elements_text(%s) v WHERE strpos(lower(v), %s) > 0)",
		col, placeholder)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner, extra ...any) (*model.SessionRecord, error) {
	var (
		rec                            model.SessionRecord
		tools, files, models, messages string
	)
	dest := []any{
		&rec.ID, &rec.StartedAt, &rec.EndedAt, &rec.GitBranch, &rec.CWD, &rec.Version,
		&rec.MessageCount, &rec.InputTokens, &rec.OutputTokens,
		&rec.CacheCreationTokens, &rec.CacheReadTokens,
		&tools, &files, &models, &messages,
		&rec.Summary, &rec.Category, &rec.TranscriptPath,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.StartedAt = rec.StartedAt.UTC()
	rec.EndedAt = rec.EndedAt.UTC()

	for _, l := range []struct {
		raw string
		dst *[]string
	}{
		{tools, &rec.ToolsUsed},
		{files, &rec.FilesFromToolCalls},
		{models, &rec.ModelsUsed},
		{messages, &rec.UserMessages},
	} {
		if err := json.Unmarshal([]byte(l.raw), l.dst); err != nil {
			return nil, fmt.Errorf("decode %s lists: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
