// Package worker spawns one external worker-agent process per task, folds its
// streamed events into a live Progress aggregate, and produces a Result.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joshharrison/weft/internal/artifact"
	"github.com/joshharrison/weft/internal/task"
	"github.com/joshharrison/weft/internal/truncate"
)

// Message roles in a worker's event stream.
const (
	RoleAssistant  = "assistant"
	RoleToolResult = "tool_result"
)

// progressThrottle is the minimum interval between streamed progress
// callbacks. Terminal transitions are always delivered.
const progressThrottle = 150 * time.Millisecond

// Message is one completed exchange from the worker.
type Message struct {
	Role    string `json:"role"`
	Text    string `json:"text,omitempty"`
	Tool    string `json:"tool,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Usage accumulates token and cost counters across a task's exchanges.
type Usage struct {
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	CacheReadTokens int64   `json:"cache_read_tokens"`
	CostUSD         float64 `json:"cost_usd"`
	Turns           int     `json:"turns"`
}

// Result is the terminal record for one task.
type Result struct {
	Agent       string           `json:"agent"`
	Task        string           `json:"task"`
	ExitCode    int              `json:"exit_code"`
	Messages    []Message        `json:"messages,omitempty"`
	Usage       Usage            `json:"usage"`
	Model       string           `json:"model,omitempty"`
	Error       string           `json:"error,omitempty"`
	FailedTool  string           `json:"failed_tool,omitempty"`
	Output      string           `json:"output,omitempty"`
	SessionFile string           `json:"session_file,omitempty"`
	ShareURL    string           `json:"share_url,omitempty"`
	ShareError  string           `json:"share_error,omitempty"`
	Artifacts   *artifact.Paths  `json:"artifacts,omitempty"`
	Truncation  *truncate.Result `json:"truncation,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
}

// Failed reports whether the task ended in failure.
func (r *Result) Failed() bool {
	return r.ExitCode != 0 || r.Error != ""
}

// DisplayOutput returns the truncated output when a budget applied, otherwise
// the full final output.
func (r *Result) DisplayOutput() string {
	if r.Truncation != nil && r.Truncation.Truncated {
		return r.Truncation.Text
	}
	return r.Output
}

// Options are run-scoped settings for one invocation.
type Options struct {
	RunID      string
	Index      int // distinguishes repeated agents; negative for single runs
	MaxOutput  truncate.Budget
	Store      *artifact.Store // nil disables artifact persistence
	SessionDir string          // empty disables worker session persistence
	OnProgress func(Snapshot)
}

// Invoker spawns worker-agent processes.
type Invoker struct {
	Bin         string        // worker binary (default: "claude")
	GracePeriod time.Duration // SIGTERM-to-SIGKILL escalation delay
}

// NewInvoker creates an Invoker with defaults filled.
func NewInvoker(bin string) *Invoker {
	if bin == "" {
		bin = "claude"
	}
	return &Invoker{Bin: bin, GracePeriod: 3 * time.Second}
}

// Invoke runs one task to completion and always returns a non-nil Result;
// spawn errors, nonzero exits, and embedded tool failures are all reported
// through the Result's error fields rather than a Go error.
func (inv *Invoker) Invoke(ctx context.Context, spec task.Spec, opts Options) *Result {
	res := &Result{Agent: spec.Agent, Task: spec.Text}
	prog := newProgress()
	started := time.Now()

	emit := func() {
		if opts.OnProgress != nil {
			opts.OnProgress(prog.Snapshot())
		}
	}

	cmd, cleanup, err := inv.command(spec, opts)
	if err != nil {
		res.ExitCode = -1
		res.Error = err.Error()
		prog.finish(StatusFailed, res.Error, "")
		emit()
		return res
	}
	defer cleanup()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.ExitCode = -1
		res.Error = fmt.Sprintf("stdout pipe: %v", err)
		prog.finish(StatusFailed, res.Error, "")
		emit()
		return res
	}

	if err := cmd.Start(); err != nil {
		res.ExitCode = -1
		res.Error = fmt.Sprintf("spawn worker: %v", err)
		prog.finish(StatusFailed, res.Error, "")
		emit()
		return res
	}

	prog.start()
	emit()

	// Graceful cancellation: SIGTERM on ctx cancel, SIGKILL after the grace
	// period if the worker hasn't exited.
	procDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-procDone:
			case <-time.After(inv.GracePeriod):
				cmd.Process.Kill()
			}
		case <-procDone:
		}
	}()

	scanner := newEventScanner(stdout)
	lastEmit := time.Now()
	var lastAssistantTexts []string

	for {
		ev, ok := scanner.Next()
		if !ok {
			break
		}

		switch ev.kind {
		case kindToolStart:
			prog.toolStart(ev.tool, ev.argsPreview)
		case kindToolEnd:
			prog.toolEnd(ev.tool)
		case kindMessage:
			inv.foldMessage(ev, res, prog)
			if ev.role == RoleAssistant && len(ev.texts) > 0 {
				lastAssistantTexts = ev.texts
				prog.setTail(tailOf(ev.texts))
			}
		case kindResult:
			if ev.sessionFile != "" {
				res.SessionFile = ev.sessionFile
			}
			if ev.costUSD > 0 {
				res.Usage.CostUSD = ev.costUSD
			}
		}

		if time.Since(lastEmit) >= progressThrottle {
			emit()
			lastEmit = time.Now()
		}
	}

	waitErr := cmd.Wait()
	close(procDone)

	res.DurationMs = time.Since(started).Milliseconds()

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if res.Error == "" {
			res.Error = strings.TrimSpace(stderr.String())
		}
		if res.Error == "" {
			res.Error = fmt.Sprintf("worker exited with code %d", res.ExitCode)
		}
	} else if res.Error == "" {
		// A clean exit is not sufficient: some tool failures surface only in
		// tool output, not in the worker's exit code.
		res.Error, res.FailedTool = classifyFailure(res.Messages)
	}

	// Last-write-wins across the final assistant exchange's text parts.
	if len(lastAssistantTexts) > 0 {
		res.Output = lastAssistantTexts[len(lastAssistantTexts)-1]
	}

	inv.persist(spec, opts, res, prog, scanner.Raw())

	if res.Failed() {
		prog.finish(StatusFailed, res.Error, res.FailedTool)
	} else {
		prog.finish(StatusCompleted, "", "")
	}
	emit()
	return res
}

// foldMessage applies one completed-exchange event to the result and progress.
func (inv *Invoker) foldMessage(ev event, res *Result, prog *Progress) {
	msg := Message{
		Role:    ev.role,
		Text:    strings.Join(ev.texts, "\n"),
		Tool:    ev.tool,
		IsError: ev.isError,
	}
	res.Messages = append(res.Messages, msg)

	if ev.role == RoleAssistant {
		res.Usage.Turns++
		res.Usage.InputTokens += ev.inputTokens
		res.Usage.OutputTokens += ev.outputTokens
		res.Usage.CacheReadTokens += ev.cacheTokens
		res.Usage.CostUSD += ev.costUSD
		prog.addTokens(ev.inputTokens + ev.outputTokens)
	}
	// First non-empty model and first error win; never overwritten.
	if res.Model == "" && ev.model != "" {
		res.Model = ev.model
	}
	if res.Error == "" && ev.errMsg != "" {
		res.Error = ev.errMsg
	}
}

// persist writes artifacts and applies the truncation budget. Both are
// best-effort: failures land in the result's error-adjacent fields or on
// stderr, never abort the run.
func (inv *Invoker) persist(spec task.Spec, opts Options, res *Result, prog *Progress, rawEvents []byte) {
	var fullOutputPath string

	if opts.Store != nil {
		p := opts.Store.PathsFor(opts.RunID, spec.Agent, opts.Index)
		snap := prog.Snapshot()
		meta := artifact.Meta{
			Agent:      spec.Agent,
			Task:       spec.Text,
			ExitCode:   res.ExitCode,
			DurationMs: res.DurationMs,
			ToolCount:  snap.ToolCount,
			Error:      res.Error,
			Timestamp:  time.Now(),
		}
		errs := []error{
			opts.Store.WriteInput(p, spec.Text),
			opts.Store.WriteOutput(p, res.Output),
			opts.Store.WriteEvents(p, rawEvents),
			opts.Store.WriteMeta(p, meta),
		}
		for _, err := range errs {
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}
		res.Artifacts = &p
		fullOutputPath = p.Output
	}

	if opts.MaxOutput.MaxBytes > 0 || opts.MaxOutput.MaxLines > 0 {
		tr := truncate.Clip(res.Output, opts.MaxOutput, fullOutputPath)
		res.Truncation = &tr
	}
}

// command builds the worker invocation. The returned cleanup removes the
// temporary system-prompt file, if one was written.
func (inv *Invoker) command(spec task.Spec, opts Options) (*exec.Cmd, func(), error) {
	args := []string{
		"-p", spec.Text,
		"--output-format", "stream-json",
		"--verbose",
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	for _, tool := range spec.Tools {
		if strings.ContainsRune(tool, filepath.Separator) {
			args = append(args, "--mcp", tool)
		} else {
			args = append(args, "--tool", tool)
		}
	}

	cleanup := func() {}
	if spec.SystemPrompt != "" {
		tmp, err := os.CreateTemp("", "weft-system-*.md")
		if err != nil {
			return nil, nil, fmt.Errorf("write system prompt: %w", err)
		}
		if _, err := tmp.WriteString(spec.SystemPrompt); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, nil, fmt.Errorf("write system prompt: %w", err)
		}
		tmp.Close()
		args = append(args, "--append-system-prompt-file", tmp.Name())
		cleanup = func() { os.Remove(tmp.Name()) }
	}

	if opts.SessionDir != "" {
		args = append(args, "--session-dir", opts.SessionDir)
	} else {
		args = append(args, "--no-session")
	}

	cmd := exec.Command(inv.Bin, args...)
	cmd.Dir = spec.Dir
	return cmd, cleanup, nil
}

// tailOf splits text parts into the last few output lines for the progress
// tail.
func tailOf(texts []string) []string {
	var lines []string
	for _, t := range texts {
		lines = append(lines, strings.Split(t, "\n")...)
	}
	if len(lines) > tailLineMax {
		lines = lines[len(lines)-tailLineMax:]
	}
	return lines
}
