package pgstore

// tsv is the ranked document: the summary (weight A, annotation first)
// over body_tsv, which holds user messages (B) and tool names plus file
// paths (C). Annotate rebuilds tsv from body_tsv without re-reading the log.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id            TEXT PRIMARY KEY,
    started_at            TIMESTAMPTZ NOT NULL,
    ended_at              TIMESTAMPTZ NOT NULL,
    git_branch            TEXT NOT NULL DEFAULT '',
    cwd                   TEXT NOT NULL DEFAULT '',
    version               TEXT NOT NULL DEFAULT '',
    message_count         INTEGER NOT NULL,
    input_tokens          BIGINT NOT NULL,
    output_tokens         BIGINT NOT NULL,
    cache_creation_tokens BIGINT NOT NULL,
    cache_read_tokens     BIGINT NOT NULL,
    tools_used            JSONB NOT NULL,
    files                 JSONB NOT NULL,
    models_used           JSONB NOT NULL,
    user_messages         JSONB NOT NULL,
    summary               TEXT NOT NULL DEFAULT '',
    category              TEXT NOT NULL DEFAULT '',
    transcript_path       TEXT NOT NULL,
    body_tsv              TSVECTOR NOT NULL,
    tsv                   TSVECTOR NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_tsv   ON sessions USING GIN (tsv);
CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions (ended_at);

CREATE TABLE IF NOT EXISTS source_files (
    path        TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    mtime       TIMESTAMPTZ NOT NULL,
    size        BIGINT NOT NULL,
    fingerprint BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_annotations (
    session_id   TEXT PRIMARY KEY,
    summary      TEXT,
    category     TEXT,
    annotated_at TIMESTAMPTZ NOT NULL
);
`

const sessionColumns = `
    s.session_id, s.started_at, s.ended_at, s.git_branch, s.cwd, s.version,
    s.message_count, s.input_tokens, s.output_tokens,
    s.cache_creation_tokens, s.cache_read_tokens,
    s.tools_used::text, s.files::text, s.models_used::text, s.user_messages::text,
    COALESCE(NULLIF(a.summary, ''), s.summary),
    COALESCE(NULLIF(a.category, ''), s.category),
    s.transcript_path`

const sessionFrom = `
FROM sessions s
LEFT JOIN session_annotations a ON a.session_id = s.session_id`

// rankWeights are ts_rank's {D, C, B, A} weights.
const rankWeights = `'{0.1, 0.2, 0.4, 1.0}'`
