package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/joshharrison/weft/internal/worker"
)

// ProgressPrinter renders live task progress snapshots as human-readable
// lines, one stream per destination. Interleaved tasks are distinguished by a
// colored [agent] prefix.
type ProgressPrinter struct {
	dest io.Writer
	mu   sync.Mutex
	last map[string]string // per-task key of the last printed line
}

// NewProgressPrinter creates a ProgressPrinter writing to dest.
func NewProgressPrinter(dest io.Writer) *ProgressPrinter {
	return &ProgressPrinter{dest: dest, last: make(map[string]string)}
}

// Update renders one snapshot for the given task. Repeated snapshots that
// would print the same line are suppressed.
func (pp *ProgressPrinter) Update(index int, agentLabel string, snap worker.Snapshot) {
	key := fmt.Sprintf("%d:%s", index, agentLabel)
	line := renderSnapshot(snap)
	if line == "" {
		return
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()

	if pp.last[key] == line {
		return
	}
	pp.last[key] = line
	fmt.Fprintf(pp.dest, "  %s %s\n", AgentPrefix(agentLabel), line)
}

func renderSnapshot(snap worker.Snapshot) string {
	switch snap.Status {
	case worker.StatusCompleted:
		return fmt.Sprintf("%s %s", Green("✓ done"),
			Dim(fmt.Sprintf("(%d tools, %d tokens, %.1fs)",
				snap.ToolCount, snap.Tokens, float64(snap.DurationMs)/1000)))
	case worker.StatusFailed:
		msg := snap.Error
		if len(msg) > 100 {
			msg = msg[:100] + "..."
		}
		return fmt.Sprintf("%s %s", Red("✗ failed"), msg)
	case worker.StatusRunning:
		if snap.CurrentTool != "" {
			return Dim(fmt.Sprintf("🔧 %s %s", snap.CurrentTool, snap.CurrentArgs))
		}
		if len(snap.TailLines) > 0 {
			return "💬 " + snap.TailLines[len(snap.TailLines)-1]
		}
		return Dim("working...")
	}
	return ""
}
