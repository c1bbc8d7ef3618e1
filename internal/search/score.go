// Package search ranks and filters session records independently of where
// they are stored.
package search

import (
	"strings"

	"recall/internal/model"
)

// Field weights. User messages dominate: a human stating intent is the
// strongest signal of what a session was about.
const (
	MessageWeight = 10.0
	ToolWeight    = 3.0
	FileWeight    = 3.0

	// BaselineScore is assigned to every record in listing mode.
	BaselineScore = 1.0
)

// Terms lowercases text and splits it on whitespace.
func Terms(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Score rates rec against terms. With no terms every record gets
// BaselineScore; otherwise zero means the record does not match.
func Score(rec *model.SessionRecord, terms []string) float64 {
	if len(terms) == 0 {
		return BaselineScore
	}

	var score float64
	for _, term := range terms {
		for _, msg := range rec.UserMessages {
			if containsFold(msg, term) {
				score += MessageWeight
			}
		}
		if anyContains(rec.ToolsUsed, term) {
			score += ToolWeight
		}
		if anyContains(rec.FilesFromToolCalls, term) {
			score += FileWeight
		}
	}
	return score
}

// containsFold reports whether lowered needle occurs in s, ignoring case.
func containsFold(s, needle string) bool {
	return strings.Contains(strings.ToLower(s), needle)
}

func anyContains(values []string, needle string) bool {
	for _, v := range values {
		if containsFold(v, needle) {
			return true
		}
	}
	return false
}
