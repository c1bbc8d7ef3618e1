package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall/internal/model"
)

// --- tsQuery ---

func TestTsQuery_ShouldOrPrefixTermsAndDropOperators(t *testing.T) {
	assert.Equal(t, "email:* | filter:*", tsQuery("Email  FILTER"))
	assert.Equal(t, "c:* | foo_bar:*", tsQuery("c++ foo_bar!"))
	assert.Equal(t, "", tsQuery(" & | ! "))
}

// --- filterClauses ---

func TestFilterClauses_ShouldNumberPlaceholdersAfterExistingArgs(t *testing.T) {
	since := time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)
	a := args{"first"}
	clause := filterClauses(model.Query{Tools: []string{"Edit", "Bash"}, FilePattern: "Main.go"},
		&model.TimeFilter{Since: &since}, &a)

	assert.Contains(t, clause, "s.ended_at >= $2")
	assert.Contains(t, clause, "strpos(lower(v), $3)")
	assert.Contains(t, clause, " OR ")
	assert.Contains(t, clause, "jsonb_array_elements_text(s.files) v WHERE strpos(lower(v), $5)")
	require.Len(t, a, 5)
	assert.Equal(t, "edit", a[2])
	assert.Equal(t, "main.go", a[4])
}

func TestFilterClauses_WhenNothingSet_ShouldBeEmpty(t *testing.T) {
	var a args
	assert.Empty(t, filterClauses(model.Query{}, nil, &a))
	assert.Empty(t, a)
}

// --- Integration tests (need RECALL_TEST_POSTGRES_DSN) ---

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RECALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RECALL_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(ctx, dsn)
	require.NoError(t, err)
	_, err = st.db.ExecContext(ctx, `TRUNCATE sessions, source_files, session_annotations`)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func record(id string, day int, messages ...string) *model.SessionRecord {
	end := time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC)
	return &model.SessionRecord{
		ID:                 id,
		StartedAt:          end.Add(-time.Hour),
		EndedAt:            end,
		MessageCount:       len(messages),
		ToolsUsed:          []string{"Bash", "Edit"},
		FilesFromToolCalls: []string{"/work/" + id + "/main.go"},
		ModelsUsed:         []string{"claude-sonnet-4"},
		UserMessages:       messages,
		TranscriptPath:     "/logs/" + id + ".jsonl",
	}
}

func src(id string, fp uint64) model.SourceState {
	return model.SourceState{Path: "/logs/" + id + ".jsonl", SessionID: id, ModTime: time.Now().UTC().Truncate(time.Microsecond), Size: 1, Fingerprint: fp}
}

func TestStore_ReplaceLookupAndSourceState(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	rec := record("s1", 10, "Let's build an email filter")
	require.NoError(t, st.Replace(ctx, rec, src("s1", 1<<63+1)))

	got, err := st.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rec.UserMessages, got.UserMessages)
	assert.True(t, got.EndedAt.Equal(rec.EndedAt))

	state, ok, err := st.SourceState(ctx, rec.TranscriptPath)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1<<63+1), state.Fingerprint)

	require.NoError(t, st.Replace(ctx, nil, src("s1", 2)))
	_, err = st.Lookup(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_RankShouldWeighSummaryOverMessagesOverMetadata(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	bySummary := record("by-summary", 1, "unrelated")
	byMessage := record("by-message", 2, "fix the deployment")
	byTool := record("by-tool", 3, "unrelated")
	byTool.ToolsUsed = []string{"deploy"}
	for i, r := range []*model.SessionRecord{bySummary, byMessage, byTool} {
		require.NoError(t, st.Replace(ctx, r, src(r.ID, uint64(i))))
	}
	require.NoError(t, st.Annotate(ctx, model.Annotation{SessionID: "by-summary", Summary: "Deploy pipeline"}))

	results, err := st.Rank(ctx, model.Query{Text: "deploy"}, nil)
	require.NoError(t, err)
	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
		assert.Positive(t, r.Relevance)
	}
	assert.Equal(t, []string{"by-summary", "by-message", "by-tool"}, ids)
}

func TestStore_AnnotateUnknownSession(t *testing.T) {
	st := openTestStore(t)
	err := st.Annotate(context.Background(), model.Annotation{SessionID: "ghost", Summary: "x"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_CandidatesWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Replace(ctx, record("old", 10, "a"), src("old", 1)))
	require.NoError(t, st.Replace(ctx, record("new", 18, "b"), src("new", 2)))

	since := time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)
	recs, err := st.Candidates(ctx, model.Query{}, &model.TimeFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)
}

func TestStore_AnnotationShouldSurviveReplaceAndStayRanked(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	rec := record("s1", 10, "unrelated")
	require.NoError(t, st.Replace(ctx, rec, src("s1", 1)))
	require.NoError(t, st.Annotate(ctx, model.Annotation{SessionID: "s1", Summary: "Kafka consumer", Category: "infra"}))

	require.NoError(t, st.Replace(ctx, rec, src("s1", 2)))

	got, err := st.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Kafka consumer", got.Summary)
	assert.Equal(t, "infra", got.Category)

	results, err := st.Rank(ctx, model.Query{Text: "kafka"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].ID)
}

func TestStore_RankWhenTextHasNoIndexableTerm_ShouldMatchBySubstring(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Replace(ctx, record("cpp", 10, "why does ++ overflow"), src("cpp", 1)))
	require.NoError(t, st.Replace(ctx, record("other", 11, "nothing here"), src("other", 2)))

	results, err := st.Rank(ctx, model.Query{Text: "++"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cpp", results[0].ID)
	assert.Equal(t, 10.0, results[0].Relevance)
}
