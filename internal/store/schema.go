package store

// schema is idempotent; Open runs it on every connection.
//
// Parsed columns are rewritten in full on re-ingestion. Annotations live in
// their own table so a re-parse never erases them.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id            VARCHAR PRIMARY KEY,
    started_at            TIMESTAMP NOT NULL,
    ended_at              TIMESTAMP NOT NULL,
    git_branch            VARCHAR NOT NULL DEFAULT '',
    cwd                   VARCHAR NOT NULL DEFAULT '',
    version               VARCHAR NOT NULL DEFAULT '',
    message_count         INTEGER NOT NULL,
    input_tokens          BIGINT NOT NULL,
    output_tokens         BIGINT NOT NULL,
    cache_creation_tokens BIGINT NOT NULL,
    cache_read_tokens     BIGINT NOT NULL,
    tools_used            JSON NOT NULL,
    files                 JSON NOT NULL,
    models_used           JSON NOT NULL,
    user_messages         JSON NOT NULL,
    summary               VARCHAR NOT NULL DEFAULT '',
    category              VARCHAR NOT NULL DEFAULT '',
    transcript_path       VARCHAR NOT NULL
);

-- One row per user message, tool name or file path, for ranking.
CREATE TABLE IF NOT EXISTS session_items (
    session_id VARCHAR NOT NULL,
    kind       VARCHAR NOT NULL,
    seq        INTEGER NOT NULL,
    value      VARCHAR NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_session ON session_items(session_id);

CREATE TABLE IF NOT EXISTS source_files (
    path        VARCHAR PRIMARY KEY,
    session_id  VARCHAR NOT NULL,
    mtime       TIMESTAMP NOT NULL,
    size        BIGINT NOT NULL,
    fingerprint BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_annotations (
    session_id   VARCHAR PRIMARY KEY,
    summary      VARCHAR,
    category     VARCHAR,
    annotated_at TIMESTAMP NOT NULL
);
`

// sessionColumns selects a full record, annotations taking precedence
// over anything parsed from the log.
const sessionColumns = `
    s.session_id, s.started_at, s.ended_at, s.git_branch, s.cwd, s.version,
    s.message_count, s.input_tokens, s.output_tokens,
    s.cache_creation_tokens, s.cache_read_tokens,
    CAST(s.tools_used AS VARCHAR) AS tools_used,
    CAST(s.files AS VARCHAR) AS files,
    CAST(s.models_used AS VARCHAR) AS models_used,
    CAST(s.user_messages AS VARCHAR) AS user_messages,
    COALESCE(NULLIF(a.summary, ''), s.summary) AS summary,
    COALESCE(NULLIF(a.category, ''), s.category) AS category,
    s.transcript_path`

// Item kinds in session_items.
const (
	itemMessage = "message"
	itemTool    = "tool"
	itemFile    = "file"
)

const sessionFrom = `
FROM sessions s
LEFT JOIN session_annotations a ON a.session_id = s.session_id`
