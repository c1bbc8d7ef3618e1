// Package model defines the domain types shared across the application.
package model

import (
	"time"

	"github.com/go-json-experiment/json/jsontext"
)

// SessionRecord is the structured form of one Claude Code session log.
// Records are derived by the transcript parser and never mutated afterwards.
type SessionRecord struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	GitBranch string `json:"git_branch,omitempty"`
	CWD       string `json:"cwd,omitempty"`
	Version   string `json:"version,omitempty"`

	MessageCount        int   `json:"message_count"`
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`

	// Sets, kept sorted and de-duplicated.
	ToolsUsed          []string `json:"tools_used"`
	FilesFromToolCalls []string `json:"files_from_tool_calls"`
	ModelsUsed         []string `json:"models_used"`

	// UserMessages holds human turns in log order.
	UserMessages []string `json:"user_messages"`

	Summary  string `json:"summary,omitempty"`
	Category string `json:"category,omitempty"`

	TranscriptPath string `json:"transcript_path"`
}

// Searchable reports whether the record may appear in query results.
// Sessions without a single human turn are incomplete.
func (r *SessionRecord) Searchable() bool {
	return len(r.UserMessages) > 0
}

// SearchResult pairs a session record with its relevance score.
type SearchResult struct {
	SessionRecord
	Relevance float64 `json:"relevance"`

	// Transcript is populated only by single-record lookups that ask for it.
	Transcript []jsontext.Value `json:"transcript,omitempty"`
}

// Stats is an aggregate over a set of session records.
type Stats struct {
	Sessions            int            `json:"sessions"`
	InputTokens         int64          `json:"input_tokens"`
	OutputTokens        int64          `json:"output_tokens"`
	CacheCreationTokens int64          `json:"cache_creation_tokens"`
	CacheReadTokens     int64          `json:"cache_read_tokens"`
	ByCategory          map[string]int `json:"by_category"`
	ByModel             map[string]int `json:"by_model"`
}

// Annotation is externally produced descriptive metadata for a session.
type Annotation struct {
	SessionID string
	Summary   string
	Category  string
}

// SourceState tracks what was last ingested from one raw log file.
type SourceState struct {
	Path        string
	SessionID   string
	ModTime     time.Time
	Size        int64
	Fingerprint uint64
}
