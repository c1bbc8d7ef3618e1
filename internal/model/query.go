package model

import (
	"strings"
	"time"
)

const (
	// DefaultLimit applies when a query asks for no particular size.
	DefaultLimit = 20
	// MaxLimit is the hard ceiling on result size.
	MaxLimit = 100
)

// Query is the parameter set accepted by the search engine.
type Query struct {
	// Text is scored against each record; empty means listing mode.
	Text string

	// Days is a lookback shorthand. An explicit Since takes precedence.
	Days  int
	Since *time.Time
	Until *time.Time

	Tools       []string
	FilePattern string
	Limit       int
}

// Window resolves the date bounds of q relative to now.
// Explicit Since wins over Days; Until is independent of both.
func (q Query) Window(now time.Time) *TimeFilter {
	tf := &TimeFilter{Since: q.Since, Until: q.Until}
	if tf.Since == nil && q.Days > 0 {
		since := now.Add(-time.Duration(q.Days) * 24 * time.Hour)
		tf.Since = &since
	}
	if tf.IsZero() {
		return nil
	}
	return tf
}

// ClampLimit maps any requested size into [1, MaxLimit]. Zero means unset.
func ClampLimit(n int) int {
	switch {
	case n == 0:
		return DefaultLimit
	case n < 1:
		return 1
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// ParseTools splits a comma-separated tool list, dropping blanks.
func ParseTools(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
