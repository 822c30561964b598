package background

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/joshharrison/weft/internal/agent"
	"github.com/joshharrison/weft/internal/artifact"
	"github.com/joshharrison/weft/internal/runner"
	"github.com/joshharrison/weft/internal/task"
	"github.com/joshharrison/weft/internal/worker"
)

// Sharer publishes a worker session transcript, best-effort.
type Sharer interface {
	Share(sessionFile string) (string, error)
}

// Narrator produces a short prose summary of a finished run, best-effort.
type Narrator interface {
	Narrate(ctx context.Context, summary string, outputs map[string]string) (string, error)
}

// LaunchFile is the serialized run handed from the foreground process to the
// detached child. The child deletes it once read.
type LaunchFile struct {
	RunID     string          `json:"run_id"`
	SessionID string          `json:"session_id,omitempty"`
	Cwd       string          `json:"cwd,omitempty"`
	WorkerBin string          `json:"worker_bin,omitempty"`
	AgentDir  string          `json:"agent_dir,omitempty"`
	Config    *task.RunConfig `json:"config"`
}

// Supervisor launches detached background runs. WorkerBin and AgentDir are
// propagated to the detached child via the launch file so the child resolves
// against the same binary and agent configs the launching session saw.
type Supervisor struct {
	Dirs      Dirs
	SessionID string
	WorkerBin string
	AgentDir  string
}

// Launch serializes cfg, writes the initial queued RunStatus, and detaches a
// child process that performs the run. It returns the run id immediately
// after confirming the child spawned; the run itself is not awaited and is
// not cancellable from this session.
func (s *Supervisor) Launch(cfg *task.RunConfig) (string, error) {
	runID := NewRunID()
	cwd, _ := os.Getwd()

	lf := LaunchFile{RunID: runID, SessionID: s.SessionID, Cwd: cwd, WorkerBin: s.WorkerBin, AgentDir: s.AgentDir, Config: cfg}
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run config: %w", err)
	}

	pending := s.Dirs.PendingFile(runID)
	if err := os.MkdirAll(filepath.Dir(pending), 0755); err != nil {
		return "", fmt.Errorf("create pending dir: %w", err)
	}
	if err := os.WriteFile(pending, data, 0600); err != nil {
		return "", fmt.Errorf("write run config: %w", err)
	}

	if _, err := NewRunStatus(runID, s.SessionID, cwd, cfg, s.Dirs.StatusFile(runID)); err != nil {
		return "", err
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own binary: %w", err)
	}

	logFile, err := os.Create(s.Dirs.DaemonLog(runID))
	if err != nil {
		return "", fmt.Errorf("create daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "--state-dir", s.Dirs.Base, "__run", pending)
	cmd.Dir = cwd
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawn background run: %w", err)
	}
	// Unref the child: its lifetime must not be gated by ours.
	cmd.Process.Release()

	return runID, nil
}

// ReadLaunchFile loads and deletes the serialized run config. Called by the
// detached child at startup.
func ReadLaunchFile(path string) (*LaunchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run config: %w", err)
	}
	var lf LaunchFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse run config: %w", err)
	}
	os.Remove(path)
	return &lf, nil
}

// Executor is the background-process body: it owns the durable status, event
// log, run log, and result file for one run. All progress is externalized
// through the filesystem; there is no channel back to the launching process.
type Executor struct {
	Dirs     Dirs
	Invoker  runner.Invoker
	Agents   agent.Resolver
	Sharer   Sharer
	Narrator Narrator
}

// Execute performs the run described by lf and returns the terminal state.
func (e *Executor) Execute(ctx context.Context, lf *LaunchFile) (State, error) {
	cfg := lf.Config
	runID := lf.RunID

	st, err := LoadStatus(e.Dirs.StatusFile(runID))
	if err != nil {
		// No pre-written status (manual replay, or the launcher died before
		// finishing): create it now.
		st, err = NewRunStatus(runID, lf.SessionID, lf.Cwd, cfg, e.Dirs.StatusFile(runID))
		if err != nil {
			return StateFailed, err
		}
	}

	log := NewEventLog(e.Dirs.EventsFile(runID))
	log.Append(Event{Kind: "run_start", Status: string(StateRunning)})
	if err := st.SetState(StateRunning); err != nil {
		return StateFailed, err
	}

	store := artifact.NewStore(e.Dirs.ArtifactsDir())
	if cfg.Artifacts.Enabled {
		st.ArtifactDir = store.RunDir(runID)
	}
	st.SessionDir = cfg.SessionDir
	st.Save()

	r := &runner.Runner{
		Invoker: e.Invoker,
		Agents:  e.Agents,
		Store:   store,
		OnStepStart: func(i int, spec task.Spec, _ *worker.Result) {
			st.StepStart(i)
			log.Append(Event{Kind: "step_start", Step: i, Agent: spec.Agent, Status: string(StepRunning)})
		},
		OnStepEnd: func(i int, spec task.Spec, res *worker.Result) {
			status := StepComplete
			if res.Failed() {
				status = StepFailed
			}
			tokens := res.Usage.InputTokens + res.Usage.OutputTokens
			st.StepEnd(i, status, res.ExitCode, tokens, res.Error)
			log.Append(Event{
				Kind: "step_end", Step: i, Agent: spec.Agent,
				Status: string(status), Tokens: tokens, Error: res.Error,
			})
		},
	}

	result, err := r.Run(ctx, cfg, runID)
	if err != nil {
		st.Error = err.Error()
		st.SetState(StateFailed)
		log.Append(Event{Kind: "run_end", Status: string(StateFailed), Error: err.Error()})
		e.Dirs.WriteResult(ResultFile{
			RunID: runID, SessionID: lf.SessionID, Cwd: lf.Cwd,
			State: StateFailed, Error: err.Error(),
		})
		return StateFailed, err
	}

	final := StateComplete
	if result.Failed() {
		final = StateFailed
	}

	if cfg.Share {
		e.share(st, result)
	}

	st.SetState(final)
	log.Append(Event{Kind: "run_end", Status: string(final)})

	if err := WriteRunLog(e.Dirs.RunLogFile(runID), st, result); err != nil {
		fmt.Fprintf(os.Stderr, "warning: write run log: %v\n", err)
	}
	e.narrate(ctx, cfg, runID, result)

	e.Dirs.WriteResult(ResultFromRun(runID, lf.SessionID, lf.Cwd, result))
	return final, nil
}

// share publishes the final step's session transcript. Failures are recorded
// on the status, never returned.
func (e *Executor) share(st *RunStatus, result *runner.RunResult) {
	if e.Sharer == nil {
		st.ShareError = "sharing not configured"
		return
	}
	sessionFile := ""
	for i := len(result.Results) - 1; i >= 0; i-- {
		if result.Results[i] != nil && result.Results[i].SessionFile != "" {
			sessionFile = result.Results[i].SessionFile
			break
		}
	}
	if sessionFile == "" {
		st.ShareError = "no session transcript to share"
		return
	}
	url, err := e.Sharer.Share(sessionFile)
	if err != nil {
		st.ShareError = err.Error()
		return
	}
	st.ShareURL = url
}

// narrate appends a prose summary to the run log when a narrator is
// configured. Best-effort.
func (e *Executor) narrate(ctx context.Context, cfg *task.RunConfig, runID string, result *runner.RunResult) {
	if e.Narrator == nil || !cfg.Summarize {
		return
	}
	outputs := make(map[string]string, len(result.Results))
	for i, tr := range result.Results {
		if tr != nil {
			outputs[fmt.Sprintf("step-%d-%s", i, tr.Agent)] = tr.DisplayOutput()
		}
	}
	summary := fmt.Sprintf("run %s: %s, %d/%d succeeded", runID, result.Topology, result.Succeeded, result.Total)
	text, err := e.Narrator.Narrate(ctx, summary, outputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: narrative summary: %v\n", err)
		return
	}
	f, err := os.OpenFile(e.Dirs.RunLogFile(runID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n## Narrative\n\n%s\n", text)
}

func runError(result *runner.RunResult) string {
	for _, tr := range result.Results {
		if tr != nil && tr.Failed() {
			return tr.Error
		}
	}
	return ""
}
