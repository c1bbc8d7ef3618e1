package transcript

import (
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Transcripts are appended to by a live process; be lenient about what
// a half-written or oddly encoded line may contain.
var decodeOpts = json.JoinOptions(
	jsontext.AllowDuplicateNames(true),
	jsontext.AllowInvalidUTF8(true),
)

// logLine is the JSON structure of a single JSONL line.
type logLine struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	CWD       string         `json:"cwd"`
	GitBranch string         `json:"gitBranch"`
	Version   string         `json:"version"`
	IsMeta    bool           `json:"isMeta"`
	Summary   string         `json:"summary"`
	Message   jsontext.Value `json:"message"`
}

type messagePayload struct {
	Role    string         `json:"role"`
	Model   string         `json:"model"`
	Content jsontext.Value `json:"content"`
	Usage   *Usage         `json:"usage"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// lineMeta carries session-level fields found on a line.
type lineMeta struct {
	CWD       string
	GitBranch string
	Version   string
	Summary   string
}

// filePathKeys are the tool input keys that name the file a tool touched.
var filePathKeys = []string{"file_path", "notebook_path", "path"}

// decodeLine turns one JSONL line into zero or more events.
// An error means the line is malformed and must be skipped.
func decodeLine(line []byte) (lineMeta, []Event, error) {
	var ll logLine
	if err := json.Unmarshal(line, &ll, decodeOpts); err != nil {
		return lineMeta{}, nil, err
	}

	meta := lineMeta{CWD: ll.CWD, GitBranch: ll.GitBranch, Version: ll.Version}
	// Lines without a usable timestamp get the zero time; the accumulator
	// ignores it when computing the session span.
	ts := parseTimestamp(ll.Timestamp, time.Time{})

	switch ll.Type {
	case "summary":
		meta.Summary = strings.TrimSpace(ll.Summary)
		return meta, nil, nil
	case "user", "assistant":
	default:
		return meta, nil, nil
	}

	if len(ll.Message) == 0 {
		return meta, nil, nil
	}
	var msg messagePayload
	if err := json.Unmarshal(ll.Message, &msg, decodeOpts); err != nil {
		return meta, nil, err
	}

	if ll.Type == "assistant" {
		return meta, decodeAssistant(msg, ts), nil
	}
	if ll.IsMeta {
		return meta, nil, nil
	}
	return meta, decodeUser(msg, ts), nil
}

func decodeAssistant(msg messagePayload, ts time.Time) []Event {
	turn := AssistantTurn{Time: ts, Model: msg.Model}
	if msg.Usage != nil {
		turn.Usage = *msg.Usage
	}
	events := []Event{turn}

	for _, b := range contentBlocks(msg.Content) {
		if b.Type != "tool_use" || b.Name == "" {
			continue
		}
		events = append(events, ToolEvent{Time: ts, Name: b.Name, FilePath: toolFilePath(b.Input)})
	}
	return events
}

// decodeUser separates human-typed text from tool results, which Claude Code
// also records under the user role. A line may carry both, as when the user
// interrupts a tool call.
func decodeUser(msg messagePayload, ts time.Time) []Event {
	if len(msg.Content) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(msg.Content, &s, decodeOpts); err == nil {
		return []Event{HumanTurn{Time: ts, Text: s}}
	}

	blocks := contentBlocks(msg.Content)
	var results []Event
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			results = append(results, ToolEvent{Time: ts, Result: true})
		case "text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	if len(parts) == 0 {
		return results
	}
	return append([]Event{HumanTurn{Time: ts, Text: strings.Join(parts, "\n")}}, results...)
}

func contentBlocks(raw jsontext.Value) []contentBlock {
	if len(raw) == 0 || raw.Kind() != '[' {
		return nil
	}
	var raws []jsontext.Value
	if err := json.Unmarshal(raw, &raws, decodeOpts); err != nil {
		return nil
	}
	blocks := make([]contentBlock, 0, len(raws))
	for _, r := range raws {
		var b contentBlock
		if err := json.Unmarshal(r, &b, decodeOpts); err != nil {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func toolFilePath(input map[string]any) string {
	for _, k := range filePathKeys {
		if s, ok := input[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	return fallback
}
