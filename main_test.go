package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall/internal/config"
	"recall/internal/ingest"
	"recall/internal/logging"
	"recall/internal/model"
	"recall/internal/store"
)

// --- truncate ---

func TestTruncate_WhenStringFitsWithinMax_ShouldReturnUnchanged(t *testing.T) {
	got := truncate("hello", 10)
	if got != "hello" {
		t.Errorf("expected 'hello', got %q", got)
	}
}

func TestTruncate_WhenStringExceedsMax_ShouldTruncateWithEllipsis(t *testing.T) {
	got := truncate("hello world", 5)
	if got != "hello..." {
		t.Errorf("expected 'hello...', got %q", got)
	}
}

func TestTruncate_WhenStringExactlyMax_ShouldReturnUnchanged(t *testing.T) {
	got := truncate("12345", 5)
	if got != "12345" {
		t.Errorf("expected '12345', got %q", got)
	}
}

func TestTruncate_WhenEmptyString_ShouldReturnEmpty(t *testing.T) {
	got := truncate("", 10)
	if got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

// --- formatToolInput ---

func TestFormatToolInput_WhenGivenBashCommand_ShouldExtractCommand(t *testing.T) {
	raw := `{"command":"ls -la","timeout":30}`
	got := formatToolInput("Bash", raw)
	if got != "ls -la" {
		t.Errorf("expected 'ls -la', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenReadTool_ShouldExtractFilePath(t *testing.T) {
	raw := `{"file_path":"/tmp/test.go","offset":0}`
	got := formatToolInput("Read", raw)
	if got != "/tmp/test.go" {
		t.Errorf("expected '/tmp/test.go', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenEditTool_ShouldExtractFilePath(t *testing.T) {
	raw := `{"file_path":"/tmp/main.go","old_string":"foo","new_string":"bar"}`
	got := formatToolInput("Edit", raw)
	if got != "/tmp/main.go" {
		t.Errorf("expected '/tmp/main.go', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenWriteTool_ShouldExtractFilePath(t *testing.T) {
	raw := `{"file_path":"/tmp/output.txt","content":"data"}`
	got := formatToolInput("Write", raw)
	if got != "/tmp/output.txt" {
		t.Errorf("expected '/tmp/output.txt', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenGlobTool_ShouldExtractPattern(t *testing.T) {
	raw := `{"pattern":"**/*.go"}`
	got := formatToolInput("Glob", raw)
	if got != "**/*.go" {
		t.Errorf("expected '**/*.go', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenGrepTool_ShouldExtractPattern(t *testing.T) {
	raw := `{"pattern":"func main","path":"/tmp"}`
	got := formatToolInput("Grep", raw)
	if got != "func main" {
		t.Errorf("expected 'func main', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenWebFetchTool_ShouldExtractURL(t *testing.T) {
	raw := `{"url":"https://example.com","prompt":"get title"}`
	got := formatToolInput("WebFetch", raw)
	if got != "https://example.com" {
		t.Errorf("expected 'https://example.com', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenWebSearchTool_ShouldExtractQuery(t *testing.T) {
	raw := `{"query":"golang testing"}`
	got := formatToolInput("WebSearch", raw)
	if got != "golang testing" {
		t.Errorf("expected 'golang testing', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenTaskTool_ShouldExtractPrompt(t *testing.T) {
	raw := `{"prompt":"find all errors","subagent_type":"Explore"}`
	got := formatToolInput("Task", raw)
	if got != "find all errors" {
		t.Errorf("expected 'find all errors', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenUnknownTool_ShouldReturnTruncatedRawJSON(t *testing.T) {
	raw := `{"some_field":"some_value"}`
	got := formatToolInput("UnknownTool", raw)
	if got != raw {
		t.Errorf("expected raw JSON, got %q", got)
	}
}

func TestFormatToolInput_WhenGivenEmptyInput_ShouldReturnNoInputMessage(t *testing.T) {
	got := formatToolInput("Bash", "")
	if got != "(no input)" {
		t.Errorf("expected '(no input)', got %q", got)
	}
}

func TestFormatToolInput_WhenGivenInvalidJSON_ShouldReturnTruncatedRaw(t *testing.T) {
	raw := "this is not json"
	got := formatToolInput("Bash", raw)
	if got != raw {
		t.Errorf("expected raw fallback, got %q", got)
	}
}

func TestFormatToolInput_WhenCommandFieldIsMissing_ShouldFallbackToTruncatedRaw(t *testing.T) {
	raw := `{"timeout":30}`
	got := formatToolInput("Bash", raw)
	if got != raw {
		t.Errorf("expected raw fallback, got %q", got)
	}
}

func TestFormatToolInput_WhenInputExceedsTruncateLimit_ShouldTruncate(t *testing.T) {
	long := `{"command":"` + string(make([]byte, 200)) + `"}`
	got := formatToolInput("UnknownTool", long)
	if len(got) > 123 { // 120 + "..."
		t.Errorf("expected truncated output, got length %d", len(got))
	}
}

// --- fileExists ---

func TestFileExists_WhenFileExists_ShouldReturnTrue(t *testing.T) {
	// main.go always exists in the project root
	got := fileExists("main.go")
	if !got {
		t.Error("expected true for existing file")
	}
}

func TestFileExists_WhenFileDoesNotExist_ShouldReturnFalse(t *testing.T) {
	got := fileExists("/nonexistent/file/path.txt")
	if got {
		t.Error("expected false for non-existent file")
	}
}

// --- exitCode ---

func TestExitCode_WhenNotFound_ShouldReturnThree(t *testing.T) {
	err := fmt.Errorf("abc: %w", model.ErrNotFound)
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestExitCode_WhenUnavailable_ShouldReturnTempFail(t *testing.T) {
	err := model.Unavailable("search", context.DeadlineExceeded)
	assert.Equal(t, exitUnavailable, exitCode(err))
}

func TestExitCode_WhenOtherError_ShouldReturnOne(t *testing.T) {
	assert.Equal(t, 1, exitCode(fmt.Errorf("boom")))
}

func TestOpenIndex_WhenDuckDBCannotOpen_ShouldExitTempFail(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := config.Default()
	cfg.Backend = config.BackendDuckDB
	cfg.DataDir = blocker
	useApp(t, cfg)

	_, err := cur.openIndex(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, exitUnavailable, exitCode(err))
}

// --- bounded ---

func TestBounded_WhenCallHangs_ShouldTimeOutAsRetryable(t *testing.T) {
	cfg := config.Default()
	cfg.QueryTimeout = 20 * time.Millisecond
	useApp(t, cfg)

	err := cur.bounded(context.Background(), "annotate", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, exitUnavailable, exitCode(err))
}

func TestBounded_WhenSessionMissing_ShouldKeepNotFound(t *testing.T) {
	useApp(t, config.Default())
	err := cur.bounded(context.Background(), "annotate", func(context.Context) error {
		return fmt.Errorf("ghost: %w", model.ErrNotFound)
	})
	assert.Equal(t, exitNotFound, exitCode(err))
	assert.NotErrorIs(t, err, model.ErrUnavailable)
}

// --- queryFromFlags ---

func newQueryCmd(withText bool) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addQueryFlags(cmd, withText)
	return cmd
}

func TestQueryFromFlags_WhenArgsGiven_ShouldJoinThemAsText(t *testing.T) {
	cmd := newQueryCmd(true)
	q, err := queryFromFlags(cmd, []string{"email", "filter"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "email filter", q.Text)
	assert.Equal(t, model.DefaultLimit, q.Limit)
}

func TestQueryFromFlags_WhenQueryFlagSet_ShouldPreferItOverArgs(t *testing.T) {
	cmd := newQueryCmd(true)
	require.NoError(t, cmd.Flags().Set("query", "login"))
	q, err := queryFromFlags(cmd, []string{"ignored"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "login", q.Text)
}

func TestQueryFromFlags_WhenFiltersSet_ShouldParseThem(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	cmd := newQueryCmd(true)
	require.NoError(t, cmd.Flags().Set("tools", "Edit, Bash,"))
	require.NoError(t, cmd.Flags().Set("file-pattern", "migrations/"))
	require.NoError(t, cmd.Flags().Set("limit", "500"))
	require.NoError(t, cmd.Flags().Set("since", "2025-01-10"))
	require.NoError(t, cmd.Flags().Set("until", "2025-01-15"))

	q, err := queryFromFlags(cmd, nil, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"Edit", "Bash"}, q.Tools)
	assert.Equal(t, "migrations/", q.FilePattern)
	assert.Equal(t, model.MaxLimit, q.Limit)
	require.NotNil(t, q.Since)
	require.NotNil(t, q.Until)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), *q.Since)
	assert.Equal(t, time.Date(2025, 1, 15, 23, 59, 59, 999999999, time.UTC), *q.Until)
}

func TestQueryFromFlags_WhenStatsFlagsOnly_ShouldReadTextAsEmpty(t *testing.T) {
	cmd := newQueryCmd(false)
	require.NoError(t, cmd.Flags().Set("days", "7"))
	q, err := queryFromFlags(cmd, nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, q.Text)
	assert.Equal(t, 7, q.Days)
}

func TestQueryFromFlags_WhenSinceInvalid_ShouldFail(t *testing.T) {
	cmd := newQueryCmd(true)
	require.NoError(t, cmd.Flags().Set("since", "yesterday"))
	_, err := queryFromFlags(cmd, nil, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since")
}

// --- runHook ---

func useApp(t *testing.T, cfg config.Config) {
	t.Helper()
	prev := cur
	cur = &app{cfg: &cfg, log: logging.NewTestLogger().Logger, out: &bytes.Buffer{}}
	t.Cleanup(func() { cur = prev })
}

func TestRunHook_WhenPayloadInvalid_ShouldFail(t *testing.T) {
	useApp(t, config.Default())
	err := runHook(context.Background(), strings.NewReader(`{"cwd":"/tmp"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse payload")
}

func TestRunHook_WhenEventNotIngestible_ShouldDoNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendDuckDB
	cfg.DataDir = t.TempDir()
	useApp(t, cfg)

	err := runHook(context.Background(), strings.NewReader(
		`{"session_id":"s","hook_event_name":"PostToolUse","transcript_path":"/x.jsonl"}`))
	require.NoError(t, err)
	assert.False(t, fileExists(cfg.DBPath()))
}

func TestRunHook_WhenScanBackend_ShouldNotOpenIndex(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	useApp(t, cfg)

	err := runHook(context.Background(), strings.NewReader(
		`{"session_id":"s","hook_event_name":"Stop","transcript_path":"/x.jsonl"}`))
	require.NoError(t, err)
	assert.False(t, fileExists(cfg.DBPath()))
}

func TestRunHook_WhenStopEvent_ShouldIngestTranscript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess-1.jsonl")
	line := `{"type":"user","timestamp":"2025-01-18T10:00:00Z","message":{"role":"user","content":"add email filter"}}`
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))

	cfg := config.Default()
	cfg.Backend = config.BackendDuckDB
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Workers = 1
	useApp(t, cfg)

	payload := fmt.Sprintf(`{"session_id":"sess-1","hook_event_name":"Stop","transcript_path":%q}`, path)
	require.NoError(t, runHook(context.Background(), strings.NewReader(payload)))

	st, err := store.Open(context.Background(), cfg.DBPath())
	require.NoError(t, err)
	defer st.Close()
	rec, err := st.Lookup(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"add email filter"}, rec.UserMessages)
}

// --- rendering ---

func TestWriteJSON_ShouldIndentAndEndWithNewline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"a": 1}))
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"a\""), buf.String())
	assert.True(t, strings.HasSuffix(buf.String(), "}\n"), buf.String())
}

func TestSyncView_ShouldFlattenCountsAndAddSeconds(t *testing.T) {
	var buf bytes.Buffer
	r := ingest.Report{Files: 3, Replaced: 2, Unchanged: 1, Duration: 1500 * time.Millisecond}
	require.NoError(t, writeJSON(&buf, syncView(r)))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 3.0, got["files"])
	assert.Equal(t, 2.0, got["replaced"])
	assert.Equal(t, 1.5, got["seconds"])
	assert.NotContains(t, got, "Duration")
}

func TestRenderResults_WhenEmpty_ShouldSayNoMatches(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderResults(&buf, nil, 120))
	assert.Contains(t, buf.String(), "No matching sessions")
}

func TestRenderResults_ShouldListSessions(t *testing.T) {
	results := []model.SearchResult{{
		SessionRecord: model.SessionRecord{
			ID:           "0123456789abcdef",
			EndedAt:      time.Date(2025, 1, 18, 10, 0, 0, 0, time.UTC),
			MessageCount: 2,
			ToolsUsed:    []string{"Edit"},
			UserMessages: []string{"add email\nfilter"},
		},
		Relevance: 13,
	}}
	var buf bytes.Buffer
	require.NoError(t, renderResults(&buf, results, 120))
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "13.00")
	assert.Contains(t, out, "add email filter")
}

func TestRenderSession_ShouldShowTranscriptToolCalls(t *testing.T) {
	res := &model.SearchResult{
		SessionRecord: model.SessionRecord{
			ID:           "sess-1",
			UserMessages: []string{"run the tests"},
		},
		Transcript: []jsontext.Value{
			jsontext.Value(`{"type":"user","message":{"content":"run the tests"}}`),
			jsontext.Value(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`),
			jsontext.Value(`{"type":"summary","summary":"x"}`),
		},
	}
	var buf bytes.Buffer
	require.NoError(t, renderSession(&buf, res))
	out := buf.String()
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "[1] run the tests")
	assert.Contains(t, out, "user: run the tests")
	assert.Contains(t, out, "assistant: Bash go test ./...")
	assert.NotContains(t, out, "summary:")
}

func TestSortedByCount_ShouldOrderByCountThenName(t *testing.T) {
	got := sortedByCount(map[string]int{"b": 2, "a": 2, "c": 5})
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestFormatTokens_ShouldUseSuffixes(t *testing.T) {
	assert.Equal(t, "999", formatTokens(999))
	assert.Equal(t, "1.5k", formatTokens(1500))
	assert.Equal(t, "2.0m", formatTokens(2_000_000))
}
