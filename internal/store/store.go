// Package store is the embedded indexed backend, persisting session records
// in DuckDB.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-json-experiment/json"

	"recall/internal/model"
)

// Store wraps a DuckDB connection and exposes domain-specific persistence.
type Store struct {
	db *sql.DB
}

// Open creates a new Store connected to the given DuckDB file, creating
// its directory and schema as needed.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", dbPath, err)
	}
	s := &Store{db: db}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// --- Ingestion ---

// SourceState returns what was last ingested from path.
func (s *Store) SourceState(ctx context.Context, path string) (model.SourceState, bool, error) {
	var (
		src model.SourceState
		fp  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT path, session_id, mtime, size, fingerprint
		FROM source_files WHERE path = ?
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

// Touch records a new mtime for a file whose content is unchanged.
func (s *Store) Touch(ctx context.Context, src model.SourceState) error {
	_, err := s.db.ExecContext(ctx, upsertSource, sourceArgs(src)...)
	return err
}

const upsertSource = `
	INSERT INTO source_files (path, session_id, mtime, size, fingerprint)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (path) DO UPDATE SET
		session_id = excluded.session_id,
		mtime = excluded.mtime,
		size = excluded.size,
		fingerprint = excluded.fingerprint`

func sourceArgs(src model.SourceState) []interface{} {
	return []interface{}{src.Path, src.SessionID, src.ModTime.UTC(), src.Size, int64(src.Fingerprint)}
}

// Replace swaps in rec and src atomically. A nil or unsearchable rec
// deletes the session row and keeps only the source row.
func (s *Store) Replace(ctx context.Context, rec *model.SessionRecord, src model.SourceState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_items WHERE session_id = ?`, src.SessionID); err != nil {
		return fmt.Errorf("clear items %s: %w", src.SessionID, err)
	}
	if rec == nil || !rec.Searchable() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, src.SessionID); err != nil {
			return fmt.Errorf("delete session %s: %w", src.SessionID, err)
		}
	} else {
		if err := upsertSession(ctx, tx, rec); err != nil {
			return err
		}
		if err := insertItems(ctx, tx, rec); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, upsertSource, sourceArgs(src)...); err != nil {
		return fmt.Errorf("update source %s: %w", src.Path, err)
	}
	return tx.Commit()
}

func upsertSession(ctx context.Context, tx *sql.Tx, rec *model.SessionRecord) error {
	lists, err := marshalLists(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, started_at, ended_at, git_branch, cwd, version,
			message_count, input_tokens, output_tokens,
			cache_creation_tokens, cache_read_tokens,
			tools_used, files, models_used, user_messages,
			summary, category, transcript_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			git_branch = excluded.git_branch,
			cwd = excluded.cwd,
			version = excluded.version,
			message_count = excluded.message_count,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_creation_tokens = excluded.cache_creation_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			tools_used = excluded.tools_used,
			files = excluded.files,
			models_used = excluded.models_used,
			user_messages = excluded.user_messages,
			summary = excluded.summary,
			category = excluded.category,
			transcript_path = excluded.transcript_path
	`,
		rec.ID, rec.StartedAt.UTC(), rec.EndedAt.UTC(), rec.GitBranch, rec.CWD, rec.Version,
		rec.MessageCount, rec.InputTokens, rec.OutputTokens,
		rec.CacheCreationTokens, rec.CacheReadTokens,
		lists[0], lists[1], lists[2], lists[3],
		rec.Summary, rec.Category, rec.TranscriptPath,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, rec *model.SessionRecord) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_items (session_id, kind, seq, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, group := range []struct {
		kind   string
		values []string
	}{
		{itemMessage, rec.UserMessages},
		{itemTool, rec.ToolsUsed},
		{itemFile, rec.FilesFromToolCalls},
	} {
		for i, v := range group.values {
			if _, err := stmt.ExecContext(ctx, rec.ID, group.kind, i, v); err != nil {
				return fmt.Errorf("insert %s item %s: %w", group.kind, rec.ID, err)
			}
		}
	}
	return nil
}

// --- Annotations ---

// Annotate stores externally produced metadata. Empty fields leave the
// parsed value visible.
func (s *Store) Annotate(ctx context.Context, a model.Annotation) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) > 0 FROM sessions WHERE session_id = ?`, a.SessionID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", a.SessionID, model.ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_annotations (session_id, summary, category, annotated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET summary = excluded.summary, category = excluded.category, annotated_at = excluded.annotated_at
	`, a.SessionID, nullStr(a.Summary), nullStr(a.Category), time.Now().UTC())
	return err
}

// --- Queries ---

// Candidates returns every stored session in window.
func (s *Store) Candidates(ctx context.Context, q model.Query, window *model.TimeFilter) ([]model.SessionRecord, error) {
	where, params := appendFilterClauses(q, window, nil)
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE 1 = 1`+where, params...)
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

// Rank scores stored sessions against q.Text with weighted substring
// tiers: summary, then user messages, then tool names and file paths.
func (s *Store) Rank(ctx context.Context, q model.Query, window *model.TimeFilter) ([]model.SearchResult, error) {
	scoreExpr, params := rankExpr(q.Text)
	where, params := appendFilterClauses(q, window, params)
	params = append(params, model.ClampLimit(q.Limit))

	query := fmt.Sprintf(`
		SELECT * FROM (
			SELECT %s, %s AS relevance
			%s
			WHERE 1 = 1 %s
		) ranked
		WHERE relevance > 0
		ORDER BY relevance DESC, ended_at DESC, session_id
		LIMIT ?
	`, sessionColumns, scoreExpr, sessionFrom, where)

	rows, err := s.db.QueryContext(ctx, query, params...)
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

// Lookup returns one session by ID.
func (s *Store) Lookup(ctx context.Context, id string) (*model.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.session_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, model.ErrNotFound
	}
	return scanSession(rows)
}

// --- helpers ---

// Tier weights for Rank. Summary outranks messages outranks metadata.
const (
	summaryWeight = 20
	messageWeight = 10
	toolWeight    = 3
	fileWeight    = 3
)

// rankExpr builds a score expression over lowercased query terms.
func rankExpr(text string) (string, []interface{}) {
	var (
		parts  []string
		params []interface{}
	)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		parts = append(parts, fmt.Sprintf(`
			(CASE WHEN contains(lower(COALESCE(NULLIF(a.summary, ''), s.summary)), ?) THEN %d ELSE 0 END)
			+ %d * %s
			+ (CASE WHEN %s > 0 THEN %d ELSE 0 END)
			+ (CASE WHEN %s > 0 THEN %d ELSE 0 END)`,
			summaryWeight,
			messageWeight, countMatching(itemMessage),
			countMatching(itemTool), toolWeight,
			countMatching(itemFile), fileWeight,
		))
		params = append(params, term, term, term, term)
	}
	if len(parts) == 0 {
		return "0", nil
	}
	return strings.Join(parts, " + "), params
}

// countMatching counts a session's items of kind containing a lowercased
// parameter.
func countMatching(kind string) string {
	return fmt.Sprintf(`(SELECT count(*) FROM session_items i
		WHERE i.session_id = s.session_id AND i.kind = '%s' AND contains(lower(i.value), ?))`, kind)
}

// appendFilterClauses pushes the structural filter into SQL.
func appendFilterClauses(q model.Query, window *model.TimeFilter, params []interface{}) (string, []interface{}) {
	clause, params := appendTimeClauses(window, "s.ended_at", true, params)

	var tools []string
	for _, t := range q.Tools {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tools = append(tools, countMatching(itemTool)+" > 0")
			params = append(params, t)
		}
	}
	if len(tools) > 0 {
		clause += " AND (" + strings.Join(tools, " OR ") + ")"
	}

	if p := strings.ToLower(strings.TrimSpace(q.FilePattern)); p != "" {
		clause += " AND " + countMatching(itemFile) + " > 0"
		params = append(params, p)
	}
	return clause, params
}

// appendTimeClauses builds SQL fragments for time filtering.
// If hasWhere is true, clauses use "AND"; otherwise the first clause uses "WHERE".
func appendTimeClauses(tf *model.TimeFilter, tsCol string, hasWhere bool, params []interface{}) (string, []interface{}) {
	if tf == nil {
		return "", params
	}

	var clauses []string
	if tf.Since != nil {
		clauses = append(clauses, fmt.Sprintf("%s >= ?", tsCol))
		params = append(params, tf.Since.UTC())
	}
	if tf.Until != nil {
		clauses = append(clauses, fmt.Sprintf("%s <= ?", tsCol))
		params = append(params, tf.Until.UTC())
	}

	if len(clauses) == 0 {
		return "", params
	}

	var sb strings.Builder
	for i, c := range clauses {
		if i == 0 && !hasWhere {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(c)
	}
	return sb.String(), params
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSession reads sessionColumns followed by any extra destinations.
func scanSession(row scanner, extra ...interface{}) (*model.SessionRecord, error) {
	var (
		rec                           model.SessionRecord
		tools, files, models, messages string
	)
	dest := []interface{}{
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

func marshalLists(rec *model.SessionRecord) ([4]string, error) {
	var out [4]string
	for i, l := range [][]string{rec.ToolsUsed, rec.FilesFromToolCalls, rec.ModelsUsed, rec.UserMessages} {
		b, err := json.Marshal(l)
		if err != nil {
			return out, fmt.Errorf("encode %s lists: %w", rec.ID, err)
		}
		out[i] = string(b)
	}
	return out, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
