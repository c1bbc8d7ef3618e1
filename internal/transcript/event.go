package transcript

import "time"

// Event is one decoded entry of a transcript. The set of implementations
// is closed: HumanTurn, AssistantTurn and ToolEvent.
type Event interface {
	At() time.Time
	event()
}

// HumanTurn is text typed by the user.
type HumanTurn struct {
	Time time.Time
	Text string
}

// AssistantTurn is a model response, carrying its token usage.
type AssistantTurn struct {
	Time  time.Time
	Model string
	Usage Usage
}

// ToolEvent is a tool invocation (Result false) or its result (Result true).
type ToolEvent struct {
	Time     time.Time
	Name     string
	FilePath string
	Result   bool
}

// Usage holds token counters reported on an assistant turn.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

func (e HumanTurn) At() time.Time     { return e.Time }
func (e AssistantTurn) At() time.Time { return e.Time }
func (e ToolEvent) At() time.Time     { return e.Time }

func (HumanTurn) event()     {}
func (AssistantTurn) event() {}
func (ToolEvent) event()     {}
