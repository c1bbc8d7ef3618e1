package model

import (
	"fmt"

	"github.com/go-json-experiment/json"
)

// HookPayload is the subset of a Claude Code hook event needed to ingest
// the transcript it refers to.
type HookPayload struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	TranscriptPath string `json:"transcript_path"`
}

// ParsePayload decodes a hook event read from stdin.
func ParsePayload(data []byte) (*HookPayload, error) {
	var p HookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if p.SessionID == "" || p.HookEventName == "" {
		return nil, fmt.Errorf("missing required fields (session_id, hook_event_name)")
	}

	return &p, nil
}

// Ingestible reports whether the event marks a point where the transcript
// is worth re-reading.
func (p *HookPayload) Ingestible() bool {
	if p.TranscriptPath == "" {
		return false
	}
	switch p.HookEventName {
	case "Stop", "SessionEnd", "PreCompact", "SubagentStop":
		return true
	}
	return false
}
