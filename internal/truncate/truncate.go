// Package truncate bounds text output by byte and line budgets without
// splitting multi-byte characters.
package truncate

import (
	"fmt"
	"strings"
)

// Budget is a dual byte/line limit. A zero field means unlimited for that axis.
type Budget struct {
	MaxBytes int
	MaxLines int
}

// Result describes a truncation outcome. When Truncated is false, Text is the
// original input unchanged.
type Result struct {
	Text          string `json:"text"`
	Truncated     bool   `json:"truncated"`
	OriginalBytes int    `json:"original_bytes"`
	OriginalLines int    `json:"original_lines"`
	RetainedBytes int    `json:"retained_bytes"`
	RetainedLines int    `json:"retained_lines"`
}

// Clip applies the budget to text. Lines are clipped first, then the result is
// shortened to the longest rune-aligned prefix that fits MaxBytes. A marker
// line describing what was kept is prepended to truncated output; fullPath, if
// non-empty, is included as a pointer to the untruncated artifact.
//
// Clip is pure and idempotent: reapplying it to output already within budget
// returns that output unchanged.
func Clip(text string, budget Budget, fullPath string) Result {
	origBytes := len(text)
	origLines := countLines(text)

	r := Result{
		Text:          text,
		OriginalBytes: origBytes,
		OriginalLines: origLines,
		RetainedBytes: origBytes,
		RetainedLines: origLines,
	}

	withinLines := budget.MaxLines <= 0 || origLines <= budget.MaxLines
	withinBytes := budget.MaxBytes <= 0 || origBytes <= budget.MaxBytes
	if withinLines && withinBytes {
		return r
	}

	kept := text
	if !withinLines {
		lines := strings.Split(text, "\n")
		kept = strings.Join(lines[:budget.MaxLines], "\n")
	}

	if budget.MaxBytes > 0 && len(kept) > budget.MaxBytes {
		kept = clipBytes(kept, budget.MaxBytes)
	}

	r.Truncated = true
	r.RetainedBytes = len(kept)
	r.RetainedLines = countLines(kept)
	r.Text = marker(r, fullPath) + "\n" + kept
	return r
}

// clipBytes returns the longest prefix of s whose encoded length is at most
// maxBytes, measured in whole runes. It binary-searches over rune count and
// re-measures each candidate's byte length, so the cut never lands inside a
// multi-byte sequence.
func clipBytes(s string, maxBytes int) string {
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if len(string(runes[:mid])) <= maxBytes {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

func marker(r Result, fullPath string) string {
	m := fmt.Sprintf("[output truncated: kept %d of %d lines, %d of %d bytes",
		r.RetainedLines, r.OriginalLines, r.RetainedBytes, r.OriginalBytes)
	if fullPath != "" {
		m += ", full output: " + fullPath
	}
	return m + "]"
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
