package background

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dirs maps run ids to their on-disk layout under the weft state directory.
type Dirs struct {
	Base string // default: .weft
}

// NewDirs creates a Dirs rooted at base, defaulting to ".weft".
func NewDirs(base string) Dirs {
	if base == "" {
		base = ".weft"
	}
	return Dirs{Base: base}
}

func (d Dirs) RunDir(runID string) string     { return filepath.Join(d.Base, "runs", runID) }
func (d Dirs) StatusFile(runID string) string { return filepath.Join(d.RunDir(runID), "status.json") }
func (d Dirs) EventsFile(runID string) string { return filepath.Join(d.RunDir(runID), "events.jsonl") }
func (d Dirs) RunLogFile(runID string) string { return filepath.Join(d.RunDir(runID), "run.md") }
func (d Dirs) DaemonLog(runID string) string  { return filepath.Join(d.RunDir(runID), "daemon.log") }
func (d Dirs) PendingFile(runID string) string {
	return filepath.Join(d.Base, "pending", runID+".json")
}
func (d Dirs) ResultsDir() string           { return filepath.Join(d.Base, "results") }
func (d Dirs) ResultFile(id string) string  { return filepath.Join(d.ResultsDir(), id+".json") }
func (d Dirs) ArtifactsDir() string         { return filepath.Join(d.Base, "artifacts") }

// ListRuns returns known run ids, newest first. Run ids embed their launch
// timestamp, so reverse name order is launch order.
func (d Dirs) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.Base, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// FindRun resolves a run id or unambiguous prefix to a full run id.
func (d Dirs) FindRun(prefix string) (string, error) {
	ids, err := d.ListRuns()
	if err != nil {
		return "", err
	}

	var matches []string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no run matching %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous run prefix %q matches %d runs", prefix, len(matches))
	}
}
