// Package artifact persists per-task inputs, outputs, event logs, and
// metadata under a run-scoped directory, and prunes old runs.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Paths holds the four file locations for one task's artifacts.
type Paths struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	Events string `json:"events"`
	Meta   string `json:"meta"`
}

// Meta is the JSON metadata record written alongside a task's artifacts.
type Meta struct {
	Agent      string    `json:"agent"`
	Task       string    `json:"task"`
	ExitCode   int       `json:"exit_code"`
	DurationMs int64     `json:"duration_ms"`
	ToolCount  int       `json:"tool_count"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store writes artifacts under BaseDir/<runID>/.
type Store struct {
	BaseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{BaseDir: baseDir}
}

// RunDir returns the directory for a run's artifacts.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.BaseDir, runID)
}

// PathsFor returns the artifact file locations for a task within a run. The
// index distinguishes repeated agents in parallel and chain runs; pass a
// negative index for single runs.
func (s *Store) PathsFor(runID, agent string, index int) Paths {
	stem := agent
	if index >= 0 {
		stem = fmt.Sprintf("%s-%d", agent, index)
	}
	dir := s.RunDir(runID)
	return Paths{
		Input:  filepath.Join(dir, stem+".input.md"),
		Output: filepath.Join(dir, stem+".output.md"),
		Events: filepath.Join(dir, stem+".events.jsonl"),
		Meta:   filepath.Join(dir, stem+".meta.json"),
	}
}

// WriteInput persists the task prompt, creating the run directory lazily.
func (s *Store) WriteInput(p Paths, text string) error {
	return s.write(p.Input, []byte(text))
}

// WriteOutput persists the task's final output.
func (s *Store) WriteOutput(p Paths, text string) error {
	return s.write(p.Output, []byte(text))
}

// WriteEvents persists the raw event-stream capture.
func (s *Store) WriteEvents(p Paths, raw []byte) error {
	return s.write(p.Events, raw)
}

// WriteMeta persists the task metadata record.
func (s *Store) WriteMeta(p Paths, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	return s.write(p.Meta, data)
}

// ReadMeta loads a task metadata record.
func (s *Store) ReadMeta(p Paths) (*Meta, error) {
	data, err := os.ReadFile(p.Meta)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}
	return &m, nil
}

func (s *Store) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifact %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Prune removes run directories whose modification time is older than the
// retention window. Returns the number of runs removed.
func (s *Store) Prune(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.BaseDir, e.Name())); err != nil {
				return removed, fmt.Errorf("prune %s: %w", e.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
