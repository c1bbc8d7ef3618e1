package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"recall/internal/ingest"
	"recall/internal/model"
)

const (
	timeLayout     = "2006-01-02 15:04"
	toolInputWidth = 120
)

// terminalWidth returns the width of stdout, or 0 if it is not a terminal.
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v, jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// --- search ---

func renderResults(w io.Writer, results []model.SearchResult, width int) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No matching sessions.")
		return err
	}

	// Whatever the fixed columns leave is given to the first message.
	msgWidth := width - 80
	if msgWidth < 20 {
		msgWidth = 20
	}

	table := tablewriter.NewTable(w)
	table.Header([]string{"#", "Session", "Ended", "Score", "Msgs", "Tools", "First message"})
	for i, r := range results {
		first := ""
		if len(r.UserMessages) > 0 {
			first = oneLine(r.UserMessages[0])
		}
		table.Append([]string{
			strconv.Itoa(i + 1),
			shortID(r.ID),
			r.EndedAt.Local().Format(timeLayout),
			strconv.FormatFloat(r.Relevance, 'f', 2, 64),
			strconv.Itoa(r.MessageCount),
			truncate(strings.Join(r.ToolsUsed, ","), 24),
			truncate(first, msgWidth),
		})
	}
	return table.Render()
}

// --- show ---

func renderSession(w io.Writer, r *model.SearchResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Session   %s\n", r.ID)
	fmt.Fprintf(&b, "Time      %s .. %s (%s)\n",
		r.StartedAt.Local().Format(timeLayout), r.EndedAt.Local().Format(timeLayout),
		r.EndedAt.Sub(r.StartedAt).Round(time.Second))
	if r.CWD != "" {
		fmt.Fprintf(&b, "Directory %s\n", r.CWD)
	}
	if r.GitBranch != "" {
		fmt.Fprintf(&b, "Branch    %s\n", r.GitBranch)
	}
	if r.Summary != "" {
		fmt.Fprintf(&b, "Summary   %s\n", r.Summary)
	}
	if r.Category != "" {
		fmt.Fprintf(&b, "Category  %s\n", r.Category)
	}
	fmt.Fprintf(&b, "Models    %s\n", strings.Join(r.ModelsUsed, ", "))
	fmt.Fprintf(&b, "Tokens    in %s  out %s  cache write %s  cache read %s\n",
		formatTokens(r.InputTokens), formatTokens(r.OutputTokens),
		formatTokens(r.CacheCreationTokens), formatTokens(r.CacheReadTokens))
	fmt.Fprintf(&b, "Tools     %s\n", strings.Join(r.ToolsUsed, ", "))
	for _, f := range r.FilesFromToolCalls {
		fmt.Fprintf(&b, "  %s\n", f)
	}
	fmt.Fprintf(&b, "\nUser messages (%d):\n", len(r.UserMessages))
	for i, m := range r.UserMessages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, truncate(oneLine(m), 200))
	}

	if len(r.Transcript) > 0 {
		fmt.Fprintf(&b, "\nTranscript (%d events):\n", len(r.Transcript))
		for _, ev := range r.Transcript {
			for _, line := range describeEvent(ev) {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// transcriptLine is the part of a raw event worth showing.
type transcriptLine struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Content jsontext.Value `json:"content"`
	} `json:"message"`
}

type transcriptBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Input jsontext.Value `json:"input"`
}

// describeEvent renders one raw event as short human-readable lines.
func describeEvent(v jsontext.Value) []string {
	var ev transcriptLine
	if err := json.Unmarshal(v, &ev); err != nil {
		return nil
	}
	if ev.Type != "user" && ev.Type != "assistant" {
		return nil
	}
	prefix := ev.Type
	if t, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
		prefix = t.Local().Format("15:04:05") + " " + ev.Type
	}

	content := ev.Message.Content
	var s string
	if len(content) > 0 && json.Unmarshal(content, &s) == nil {
		return []string{prefix + ": " + truncate(oneLine(s), toolInputWidth)}
	}
	var blocks []transcriptBlock
	if len(content) == 0 || json.Unmarshal(content, &blocks) != nil {
		return nil
	}

	var out []string
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			if blk.Text != "" {
				out = append(out, prefix+": "+truncate(oneLine(blk.Text), toolInputWidth))
			}
		case "tool_use":
			out = append(out, prefix+": "+blk.Name+" "+formatToolInput(blk.Name, string(blk.Input)))
		case "tool_result":
			out = append(out, prefix+": (tool result)")
		}
	}
	return out
}

// formatToolInput picks the most telling field of a tool's input.
func formatToolInput(tool, raw string) string {
	if raw == "" {
		return "(no input)"
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return truncate(raw, toolInputWidth)
	}

	var key string
	switch tool {
	case "Bash":
		key = "command"
	case "Read", "Edit", "MultiEdit", "Write", "NotebookEdit":
		key = "file_path"
	case "Glob", "Grep":
		key = "pattern"
	case "WebFetch":
		key = "url"
	case "WebSearch":
		key = "query"
	case "Task":
		key = "prompt"
	}
	if s, ok := input[key].(string); ok && s != "" {
		return truncate(oneLine(s), toolInputWidth)
	}
	return truncate(raw, toolInputWidth)
}

// --- stats ---

func renderStats(w io.Writer, s *model.Stats) error {
	fmt.Fprintf(w, "Sessions: %d\n", s.Sessions)

	tokens := tablewriter.NewTable(w)
	tokens.Header([]string{"Input", "Output", "Cache Write", "Cache Read"})
	tokens.Append([]string{
		formatTokens(s.InputTokens), formatTokens(s.OutputTokens),
		formatTokens(s.CacheCreationTokens), formatTokens(s.CacheReadTokens),
	})
	if err := tokens.Render(); err != nil {
		return err
	}

	for _, group := range []struct {
		title  string
		counts map[string]int
	}{
		{"Category", s.ByCategory},
		{"Model", s.ByModel},
	} {
		if len(group.counts) == 0 {
			continue
		}
		table := tablewriter.NewTable(w)
		table.Header([]string{group.title, "Sessions"})
		for _, k := range sortedByCount(group.counts) {
			table.Append([]string{k, strconv.Itoa(group.counts[k])})
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	return nil
}

// sortedByCount orders keys by count desc, then name.
func sortedByCount(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if m[a] != m[b] {
			return m[b] - m[a]
		}
		return strings.Compare(a, b)
	})
	return keys
}

// --- sync ---

type syncOutput struct {
	ingest.Report
	Seconds float64 `json:"seconds"`
}

func syncView(r ingest.Report) syncOutput {
	return syncOutput{Report: r, Seconds: r.Duration.Seconds()}
}

func renderReport(w io.Writer, r ingest.Report) error {
	_, err := fmt.Fprintf(w, "%d files: %d replaced, %d touched, %d unchanged, %d failed (%s)\n",
		r.Files, r.Replaced, r.Touched, r.Unchanged, r.Failed, r.Duration.Round(time.Millisecond))
	return err
}

// --- helpers ---

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatTokens formats a token count in a human-readable way.
func formatTokens(tokens int64) string {
	switch {
	case tokens >= 1_000_000_000:
		return fmt.Sprintf("%.1fb", float64(tokens)/1_000_000_000.0)
	case tokens >= 1_000_000:
		return fmt.Sprintf("%.1fm", float64(tokens)/1_000_000.0)
	case tokens >= 1_000:
		return fmt.Sprintf("%.1fk", float64(tokens)/1_000.0)
	default:
		return strconv.FormatInt(tokens, 10)
	}
}
