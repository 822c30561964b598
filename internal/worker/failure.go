package worker

import (
	"fmt"
	"strings"
)

// signature is one embedded-failure matcher applied to tool output.
type signature struct {
	pattern string // lowercase substring
	reason  string
}

// shellSignatures are failure phrasings that surface in Bash tool output even
// when the worker process itself exits 0. Matching is substring-based and
// best-effort; legitimate output echoing one of these phrases will be
// misclassified, which is an accepted tradeoff.
var shellSignatures = []signature{
	{"command not found", "command not found"},
	{"permission denied", "permission denied"},
	{"segmentation fault", "segmentation fault"},
	{"connection refused", "connection refused"},
	{"exited with non-zero", "nonzero exit"},
	{"exit status 1", "nonzero exit"},
	{"no such file or directory", "missing file or directory"},
	{"timed out", "timeout"},
	{"operation timeout", "timeout"},
}

// shellTools are tools whose output is checked against shellSignatures.
var shellTools = map[string]bool{
	"Bash": true,
}

// classifyFailure scans the accumulated messages for tool-level failures that
// the worker's exit code did not report. It returns a synthesized error and
// the offending tool name, or empty strings when no signature matches.
func classifyFailure(msgs []Message) (string, string) {
	for _, m := range msgs {
		if m.Role != RoleToolResult {
			continue
		}
		if m.IsError {
			return fmt.Sprintf("tool %s reported an error: %s", m.Tool, firstLine(m.Text)), m.Tool
		}
		if !shellTools[m.Tool] {
			continue
		}
		lower := strings.ToLower(m.Text)
		for _, sig := range shellSignatures {
			if strings.Contains(lower, sig.pattern) {
				return fmt.Sprintf("tool %s output indicates failure (%s): %s",
					m.Tool, sig.reason, firstLine(m.Text)), m.Tool
			}
		}
	}
	return "", ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
