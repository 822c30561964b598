// Package background detaches runs into durable, pollable background
// processes. The foreground and background processes communicate only through
// the filesystem: a status file, an append-only event log, and a
// session-tagged result file.
package background

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joshharrison/weft/internal/task"
)

// State is the run-level lifecycle state. Transitions are monotonic:
// queued -> running -> {complete, failed}.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// StepState is the per-step lifecycle state. Transitions are monotonic:
// pending -> running -> {complete, failed}.
type StepState string

const (
	StepPending  StepState = "pending"
	StepRunning  StepState = "running"
	StepComplete StepState = "complete"
	StepFailed   StepState = "failed"
)

var stateRank = map[State]int{
	StateQueued:   0,
	StateRunning:  1,
	StateComplete: 2,
	StateFailed:   2,
}

var stepRank = map[StepState]int{
	StepPending:  0,
	StepRunning:  1,
	StepComplete: 2,
	StepFailed:   2,
}

// Step mirrors one task's progress within a run.
type Step struct {
	Agent      string     `json:"agent"`
	Status     StepState  `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	ExitCode   int        `json:"exit_code,omitempty"`
	Tokens     int64      `json:"tokens,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunStatus is the durable, authoritative record of a run. The file on disk
// is the single source of truth; in-memory copies are caches rebuilt from it.
type RunStatus struct {
	RunID       string     `json:"run_id"`
	Mode        string     `json:"mode"` // topology: single or chain
	State       State      `json:"state"`
	SessionID   string     `json:"session_id,omitempty"`
	Cwd         string     `json:"cwd,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CurrentStep int        `json:"current_step"`
	Steps       []Step     `json:"steps"`
	TotalTokens int64      `json:"total_tokens"`
	ArtifactDir string     `json:"artifact_dir,omitempty"`
	SessionDir  string     `json:"session_dir,omitempty"`
	ShareURL    string     `json:"share_url,omitempty"`
	ShareError  string     `json:"share_error,omitempty"`
	Error       string     `json:"error,omitempty"`

	mu   sync.Mutex `json:"-"`
	path string     `json:"-"`
}

// NewRunID returns a fresh run identifier, sortable by launch time.
func NewRunID() string {
	return fmt.Sprintf("weft-%s-%s",
		time.Now().Format("20060102-150405"),
		uuid.NewString()[:8])
}

// NewRunStatus creates a queued RunStatus for cfg, persisted at path.
func NewRunStatus(runID, sessionID, cwd string, cfg *task.RunConfig, path string) (*RunStatus, error) {
	st := &RunStatus{
		RunID:     runID,
		Mode:      string(cfg.Topology),
		State:     StateQueued,
		SessionID: sessionID,
		Cwd:       cwd,
		StartedAt: time.Now(),
		path:      path,
	}
	for _, s := range cfg.Tasks {
		st.Steps = append(st.Steps, Step{Agent: s.Agent, Status: StepPending})
	}
	if err := st.Save(); err != nil {
		return nil, err
	}
	return st, nil
}

// LoadStatus reads a RunStatus from disk.
func LoadStatus(path string) (*RunStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run status: %w", err)
	}
	var st RunStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse run status: %w", err)
	}
	st.path = path
	return &st, nil
}

// Save persists the status, overwriting in place.
func (st *RunStatus) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run status: %w", err)
	}
	return os.WriteFile(st.path, data, 0644)
}

// SetState advances the run state. Regressions are ignored so the file never
// moves backwards once terminal.
func (st *RunStatus) SetState(s State) error {
	st.mu.Lock()
	if stateRank[s] < stateRank[st.State] || (stateRank[st.State] == 2 && st.State != s) {
		st.mu.Unlock()
		return nil
	}
	st.State = s
	if stateRank[s] == 2 {
		now := time.Now()
		st.EndedAt = &now
	}
	st.mu.Unlock()
	return st.Save()
}

// StepStart marks step i running and persists.
func (st *RunStatus) StepStart(i int) error {
	st.mu.Lock()
	if i >= 0 && i < len(st.Steps) && stepRank[StepRunning] >= stepRank[st.Steps[i].Status] {
		now := time.Now()
		st.Steps[i].Status = StepRunning
		st.Steps[i].StartedAt = &now
		st.CurrentStep = i
	}
	st.mu.Unlock()
	return st.Save()
}

// StepEnd finalizes step i and accumulates its token delta. Terminal step
// states never regress.
func (st *RunStatus) StepEnd(i int, status StepState, exitCode int, tokens int64, errMsg string) error {
	st.mu.Lock()
	if i >= 0 && i < len(st.Steps) && stepRank[st.Steps[i].Status] < 2 {
		now := time.Now()
		step := &st.Steps[i]
		step.Status = status
		step.EndedAt = &now
		if step.StartedAt != nil {
			step.DurationMs = now.Sub(*step.StartedAt).Milliseconds()
		}
		step.ExitCode = exitCode
		step.Tokens = tokens
		step.Error = errMsg
		st.TotalTokens += tokens
	}
	st.mu.Unlock()
	return st.Save()
}

// Terminal reports whether the run has reached a final state.
func (st *RunStatus) Terminal() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return stateRank[st.State] == 2
}

// MatchesPrefix reports whether the run id starts with prefix.
func (st *RunStatus) MatchesPrefix(prefix string) bool {
	return strings.HasPrefix(st.RunID, prefix)
}
