package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeFilter holds optional time bounds for search queries.
type TimeFilter struct {
	Since *time.Time
	Until *time.Time
}

// Contains reports whether t falls inside the closed window.
// A nil filter admits everything.
func (tf *TimeFilter) Contains(t time.Time) bool {
	if tf == nil {
		return true
	}
	if tf.Since != nil && t.Before(*tf.Since) {
		return false
	}
	if tf.Until != nil && t.After(*tf.Until) {
		return false
	}
	return true
}

// IsZero reports whether the filter has no bounds.
func (tf *TimeFilter) IsZero() bool {
	return tf == nil || (tf.Since == nil && tf.Until == nil)
}

// ParseTimeFilter parses since/until strings into a TimeFilter.
// Returns nil if both are empty.
func ParseTimeFilter(sinceStr, untilStr string, now time.Time) (*TimeFilter, error) {
	if sinceStr == "" && untilStr == "" {
		return nil, nil
	}

	tf := &TimeFilter{}

	if sinceStr != "" {
		t, _, err := parseTimeArg(sinceStr, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --since value %q: %w", sinceStr, err)
		}
		tf.Since = &t
	}

	if untilStr != "" {
		t, dateOnly, err := parseTimeArg(untilStr, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --until value %q: %w", untilStr, err)
		}
		// A bare date bounds the whole day.
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		tf.Until = &t
	}

	return tf, nil
}

// parseTimeArg tries to parse a time argument as a relative duration (e.g. "2h", "1d"),
// then falls back to absolute timestamp formats. dateOnly is set for "2006-01-02" input.
func parseTimeArg(s string, now time.Time) (t time.Time, dateOnly bool, err error) {
	if d, ok := parseRelativeDuration(s); ok {
		return now.Add(-d), false, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse("2006-01-02T15:04", s); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, nil
	}

	return time.Time{}, false, fmt.Errorf("expected relative duration (30m, 2h, 1d, 1w) or timestamp (2006-01-02, 2006-01-02T15:04, RFC3339)")
}

// parseRelativeDuration handles suffixes: m (minutes), h (hours), d (days), w (weeks).
func parseRelativeDuration(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}

	suffix := s[len(s)-1]
	numStr := strings.TrimSpace(s[:len(s)-1])

	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}

	switch suffix {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
