// Package reporter renders run status and results for the terminal.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joshharrison/weft/internal/background"
	"github.com/joshharrison/weft/internal/runner"
	"github.com/joshharrison/weft/internal/ui"
)

// PrintStatus writes a terminal-friendly view of a run's durable status.
func PrintStatus(w io.Writer, st *background.RunStatus) {
	elapsed := runElapsed(st)

	fmt.Fprintf(w, "%s %s — %s %s %s\n\n",
		ui.BoldCyan("🧵 weft"),
		ui.Dim(st.RunID),
		ui.Bold(st.Mode),
		stateLabel(st.State),
		ui.Dim(fmt.Sprintf("[%s elapsed]", elapsed)))

	for i, step := range st.Steps {
		printStep(w, i, step)
	}

	if st.ShareURL != "" {
		fmt.Fprintf(w, "\n  Share: %s\n", ui.Cyan(st.ShareURL))
	}
	if st.ShareError != "" {
		fmt.Fprintf(w, "\n  %s %s\n", ui.Yellow("⚠️  Share failed:"), st.ShareError)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "\n  %s %s\n", ui.Red("Error:"), st.Error)
	}
	fmt.Fprintf(w, "\n  Tokens: %s", ui.Bold(fmt.Sprintf("%d", st.TotalTokens)))
	if st.ArtifactDir != "" {
		fmt.Fprintf(w, "  %s", ui.Dim("(artifacts: "+st.ArtifactDir+")"))
	}
	fmt.Fprintln(w)
}

func printStep(w io.Writer, i int, step background.Step) {
	icon := ui.StatusIcon(string(step.Status))

	dur := ""
	switch step.Status {
	case background.StepRunning:
		if step.StartedAt != nil {
			dur = ui.Cyan(fmt.Sprintf("[running %s]", time.Since(*step.StartedAt).Truncate(time.Second)))
		}
	case background.StepComplete:
		dur = ui.Dim(fmt.Sprintf("[%s]", stepDuration(step)))
	case background.StepFailed:
		dur = ui.Red(fmt.Sprintf("[failed after %s]", stepDuration(step)))
	}

	tokens := ""
	if step.Tokens > 0 {
		tokens = ui.Dim(fmt.Sprintf("%d tok", step.Tokens))
	}

	fmt.Fprintf(w, "    %s %d. %-16s %s  %s\n", icon, i+1, ui.BoldMagenta(step.Agent), dur, tokens)
	if step.Error != "" {
		fmt.Fprintf(w, "        %s\n", ui.Red(step.Error))
	}
}

func stepDuration(step background.Step) time.Duration {
	return (time.Duration(step.DurationMs) * time.Millisecond).Truncate(time.Second)
}

func runElapsed(st *background.RunStatus) time.Duration {
	if st.EndedAt != nil {
		return st.EndedAt.Sub(st.StartedAt).Truncate(time.Second)
	}
	return time.Since(st.StartedAt).Truncate(time.Second)
}

func stateLabel(s background.State) string {
	switch s {
	case background.StateComplete:
		return ui.BoldGreen(string(s))
	case background.StateFailed:
		return ui.BoldRed(string(s))
	case background.StateRunning:
		return ui.BoldCyan(string(s))
	default:
		return ui.Yellow(string(s))
	}
}

// JSON returns machine-readable status.
func JSON(st *background.RunStatus) ([]byte, error) {
	return json.MarshalIndent(st, "", "  ")
}

// PrintJobs writes a compact table of tracked background jobs.
func PrintJobs(w io.Writer, jobs []*background.Job) {
	if len(jobs) == 0 {
		fmt.Fprintf(w, "%s\n", ui.Dim("no background runs tracked"))
		return
	}
	for _, j := range jobs {
		if j.StatusMissing || j.Status == nil {
			fmt.Fprintf(w, "  %s %s %s\n", ui.StatusIcon(""), j.RunID, ui.Dim("(no status yet)"))
			continue
		}
		st := j.Status
		fmt.Fprintf(w, "  %s %s %s %s\n",
			ui.StatusIcon(string(st.State)), st.RunID,
			ui.Bold(st.Mode),
			ui.Dim(fmt.Sprintf("step %d/%d", st.CurrentStep+1, len(st.Steps))))
	}
}

// Summary returns a final run summary string for synchronous runs.
func Summary(res *runner.RunResult) string {
	var b strings.Builder

	statusText := ui.BoldGreen("completed")
	statusEmoji := "✅"
	if res.Failed() {
		statusText = ui.BoldRed("failed")
		statusEmoji = "❌"
	}

	fmt.Fprintf(&b, "\n%s %s\n", statusEmoji, ui.BoldCyan("Weft Run Complete"))
	fmt.Fprintf(&b, "%s\n", ui.Cyan("═════════════════════"))
	fmt.Fprintf(&b, "Run:       %s\n", ui.Dim(res.RunID))
	fmt.Fprintf(&b, "Topology:  %s\n", res.Topology)
	fmt.Fprintf(&b, "Tasks:     %s of %d succeeded\n",
		ui.Green(fmt.Sprintf("%d", res.Succeeded)), res.Total)
	fmt.Fprintf(&b, "Status:    %s\n", statusText)
	if res.Note != "" {
		fmt.Fprintf(&b, "Note:      %s\n", ui.Yellow(res.Note))
	}

	failed := 0
	for _, tr := range res.Results {
		if tr != nil && tr.Failed() {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(&b, "\n%s\n", ui.BoldRed("Failed tasks:"))
		for i, tr := range res.Results {
			if tr != nil && tr.Failed() {
				fmt.Fprintf(&b, "  %s %s %s\n",
					ui.Red("✗"), ui.BoldMagenta(fmt.Sprintf("%d. %s", i+1, tr.Agent)),
					ui.Dim(tr.Error))
			}
		}
	}

	if res.Output != "" {
		fmt.Fprintf(&b, "\n%s\n%s\n", ui.Bold("Output:"), res.Output)
	}

	return b.String()
}
