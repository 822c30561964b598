package background

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joshharrison/weft/internal/runner"
)

// ResultFile is the completion record written once per run to the shared
// results directory. It is tagged with the launching session's identity so
// concurrent sessions watching the same directory can route completions.
type ResultFile struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	State     State     `json:"state"`
	Succeeded int       `json:"succeeded"`
	Total     int       `json:"total"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// ResultFromRun builds the completion record for a finished run. Synchronous
// and detached runs produce the same record shape so a listener on the
// results directory sees both.
func ResultFromRun(runID, sessionID, cwd string, res *runner.RunResult) ResultFile {
	state := StateComplete
	if res.Failed() {
		state = StateFailed
	}
	return ResultFile{
		RunID: runID, SessionID: sessionID, Cwd: cwd,
		State: state, Succeeded: res.Succeeded, Total: res.Total,
		Output: res.Output, Error: runError(res),
	}
}

// WriteResult persists a run's completion record. The file is written to a
// temp name and renamed so watchers never read a partial record.
func (d Dirs) WriteResult(rf ResultFile) error {
	if rf.EndedAt.IsZero() {
		rf.EndedAt = time.Now()
	}
	if err := os.MkdirAll(d.ResultsDir(), 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	final := d.ResultFile(rf.RunID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}

// ReadResult loads one completion record.
func ReadResult(path string) (*ResultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var rf ResultFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &rf, nil
}

// Belongs reports whether rf was produced for the given session. Untagged
// legacy records fall back to comparing working directories, a weaker match
// that two sessions in the same directory could collide on.
func (rf *ResultFile) Belongs(sessionID, cwd string) bool {
	if rf.SessionID != "" {
		return rf.SessionID == sessionID
	}
	return rf.Cwd != "" && rf.Cwd == cwd
}

// ScanResults returns all completion records in the results directory that
// belong to the given session, skipping foreign and partial files.
func (d Dirs) ScanResults(sessionID, cwd string) ([]*ResultFile, error) {
	entries, err := os.ReadDir(d.ResultsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}

	var out []*ResultFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rf, err := ReadResult(filepath.Join(d.ResultsDir(), e.Name()))
		if err != nil {
			continue
		}
		if rf.Belongs(sessionID, cwd) {
			out = append(out, rf)
		}
	}
	return out, nil
}
