package background

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joshharrison/weft/internal/runner"
)

// WriteRunLog renders the human-readable run summary as markdown: a header,
// a step table, and failure details when present.
func WriteRunLog(path string, st *RunStatus, result *runner.RunResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", st.RunID)
	fmt.Fprintf(&b, "- Mode: %s\n", st.Mode)
	fmt.Fprintf(&b, "- State: %s\n", st.State)
	fmt.Fprintf(&b, "- Started: %s\n", st.StartedAt.Format(time.RFC3339))
	if st.EndedAt != nil {
		fmt.Fprintf(&b, "- Ended: %s\n", st.EndedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "- Duration: %s\n", st.EndedAt.Sub(st.StartedAt).Truncate(time.Second))
	}
	fmt.Fprintf(&b, "- Tokens: %d\n", st.TotalTokens)
	if st.ArtifactDir != "" {
		fmt.Fprintf(&b, "- Artifacts: %s\n", st.ArtifactDir)
	}
	if st.ShareURL != "" {
		fmt.Fprintf(&b, "- Share: %s\n", st.ShareURL)
	}
	if st.ShareError != "" {
		fmt.Fprintf(&b, "- Share error: %s\n", st.ShareError)
	}

	fmt.Fprintf(&b, "\n| # | Agent | Status | Duration | Tokens |\n")
	fmt.Fprintf(&b, "|---|-------|--------|----------|--------|\n")
	for i, step := range st.Steps {
		dur := ""
		if step.DurationMs > 0 {
			dur = (time.Duration(step.DurationMs) * time.Millisecond).Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %d |\n", i+1, step.Agent, step.Status, dur, step.Tokens)
	}

	failed := false
	for _, step := range st.Steps {
		if step.Status == StepFailed {
			failed = true
			break
		}
	}
	if failed {
		fmt.Fprintf(&b, "\n## Failures\n\n")
		for i, step := range st.Steps {
			if step.Status == StepFailed {
				fmt.Fprintf(&b, "- step %d (%s): exit %d: %s\n", i+1, step.Agent, step.ExitCode, step.Error)
			}
		}
	}

	if result != nil && result.Output != "" {
		fmt.Fprintf(&b, "\n## Output\n\n%s\n", result.Output)
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}
