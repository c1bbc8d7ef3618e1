// Package transcript parses Claude Code JSONL transcript files into session records.
package transcript

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-json-experiment/json/jsontext"

	"recall/internal/model"
)

// maxLineSize bounds a single JSONL line. Tool results embedding whole
// files make multi-megabyte lines common; longer lines are skipped.
var maxLineSize = 32 * 1024 * 1024

// syntheticModel marks assistant turns Claude Code fabricates locally.
const syntheticModel = "<synthetic>"

// ErrNoEvents is returned for input that contains no transcript events.
var ErrNoEvents = errors.New("no transcript events")

// Stats describes how a transcript was consumed.
type Stats struct {
	Lines   int
	Skipped int
}

// SessionID derives the stable session identity from a transcript path.
func SessionID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseFile parses the transcript at path. The file's modification time
// stands in for timestamps when no line carries one.
func ParseFile(path string) (*model.SessionRecord, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, Stats{}, fmt.Errorf("stat %s: %w", path, err)
	}

	return Parse(f, path, info.ModTime().UTC())
}

// ParseBytes parses transcript content already held in memory.
func ParseBytes(data []byte, path string, modTime time.Time) (*model.SessionRecord, Stats, error) {
	return Parse(bytes.NewReader(data), path, modTime.UTC())
}

// Parse reads newline-delimited events from r and folds them into one record.
// Malformed and oversized lines are counted in Stats.Skipped and otherwise
// ignored.
func Parse(r io.Reader, path string, fallback time.Time) (*model.SessionRecord, Stats, error) {
	lines := newLineReader(r, maxLineSize)

	acc := newAccumulator(SessionID(path), path)
	var stats Stats

	for {
		raw, oversized, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read transcript: %w", err)
		}
		if oversized {
			stats.Lines++
			stats.Skipped++
			continue
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		meta, events, err := decodeLine(line)
		if err != nil {
			stats.Skipped++
			continue
		}
		acc.addMeta(meta)
		if len(events) > 0 {
			acc.rec.MessageCount++
		}
		for _, e := range events {
			acc.add(e)
		}
	}

	if acc.rec.MessageCount == 0 {
		return nil, stats, ErrNoEvents
	}

	return acc.finish(fallback), stats, nil
}

// ReadEvents returns every well-formed line of the transcript as raw JSON.
func ReadEvents(path string) ([]jsontext.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	lines := newLineReader(f, maxLineSize)

	var out []jsontext.Value
	for {
		raw, oversized, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		v := jsontext.Value(bytes.TrimSpace(raw))
		if oversized || len(v) == 0 || !v.IsValid() {
			continue
		}
		out = append(out, v.Clone())
	}
	return out, nil
}

// accumulator folds a stream of events into a session record.
type accumulator struct {
	rec    model.SessionRecord
	tools  map[string]struct{}
	files  map[string]struct{}
	models map[string]struct{}
}

func newAccumulator(id, path string) *accumulator {
	return &accumulator{
		rec:    model.SessionRecord{ID: id, TranscriptPath: path},
		tools:  make(map[string]struct{}),
		files:  make(map[string]struct{}),
		models: make(map[string]struct{}),
	}
}

func (a *accumulator) addMeta(m lineMeta) {
	if a.rec.CWD == "" {
		a.rec.CWD = m.CWD
	}
	if a.rec.GitBranch == "" {
		a.rec.GitBranch = m.GitBranch
	}
	if a.rec.Version == "" {
		a.rec.Version = m.Version
	}
	if m.Summary != "" {
		a.rec.Summary = m.Summary
	}
}

func (a *accumulator) add(e Event) {
	a.observe(e.At())

	switch e := e.(type) {
	case HumanTurn:
		if strings.TrimSpace(e.Text) != "" {
			a.rec.UserMessages = append(a.rec.UserMessages, e.Text)
		}
	case AssistantTurn:
		if e.Model != "" && e.Model != syntheticModel {
			a.models[e.Model] = struct{}{}
		}
		a.rec.InputTokens += e.Usage.InputTokens
		a.rec.OutputTokens += e.Usage.OutputTokens
		a.rec.CacheCreationTokens += e.Usage.CacheCreationInputTokens
		a.rec.CacheReadTokens += e.Usage.CacheReadInputTokens
	case ToolEvent:
		if e.Name != "" {
			a.tools[e.Name] = struct{}{}
		}
		if e.FilePath != "" {
			a.files[e.FilePath] = struct{}{}
		}
	}
}

func (a *accumulator) observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if a.rec.StartedAt.IsZero() || t.Before(a.rec.StartedAt) {
		a.rec.StartedAt = t
	}
	if a.rec.EndedAt.IsZero() || t.After(a.rec.EndedAt) {
		a.rec.EndedAt = t
	}
}

func (a *accumulator) finish(fallback time.Time) *model.SessionRecord {
	if a.rec.StartedAt.IsZero() {
		a.rec.StartedAt = fallback
		a.rec.EndedAt = fallback
	}
	a.rec.ToolsUsed = sortedSet(a.tools)
	a.rec.FilesFromToolCalls = sortedSet(a.files)
	a.rec.ModelsUsed = sortedSet(a.models)

	rec := a.rec
	return &rec
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
