package worker

import (
	"sync"
	"time"
)

// Status represents the status of an in-flight task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	recentToolMax = 5
	tailLineMax   = 8
)

// ToolUse is one finished tool invocation kept in the recent-tool ring.
type ToolUse struct {
	Tool        string    `json:"tool"`
	ArgsPreview string    `json:"args_preview,omitempty"`
	EndedAt     time.Time `json:"ended_at"`
}

// Progress is the live aggregate for one task. It is owned by the invoker
// that created it; callers only ever see read-only Snapshots.
type Progress struct {
	mu sync.Mutex

	status      Status
	currentTool string
	currentArgs string
	recent      []ToolUse
	tail        []string
	toolCount   int
	tokens      int64
	startedAt   time.Time
	durationMs  int64
	err         string
	failedTool  string
}

// Snapshot is a read-only copy of a Progress at one instant.
type Snapshot struct {
	Status      Status    `json:"status"`
	CurrentTool string    `json:"current_tool,omitempty"`
	CurrentArgs string    `json:"current_args,omitempty"`
	RecentTools []ToolUse `json:"recent_tools,omitempty"`
	TailLines   []string  `json:"tail_lines,omitempty"`
	ToolCount   int       `json:"tool_count"`
	Tokens      int64     `json:"tokens"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	FailedTool  string    `json:"failed_tool,omitempty"`
}

func newProgress() *Progress {
	return &Progress{status: StatusPending}
}

func (p *Progress) start() {
	p.mu.Lock()
	p.status = StatusRunning
	p.startedAt = time.Now()
	p.mu.Unlock()
}

func (p *Progress) toolStart(tool, argsPreview string) {
	p.mu.Lock()
	p.currentTool = tool
	p.currentArgs = argsPreview
	p.toolCount++
	p.mu.Unlock()
}

func (p *Progress) toolEnd(tool string) {
	p.mu.Lock()
	if p.currentTool == tool || tool == "" {
		p.recent = append(p.recent, ToolUse{
			Tool:        p.currentTool,
			ArgsPreview: p.currentArgs,
			EndedAt:     time.Now(),
		})
		if len(p.recent) > recentToolMax {
			p.recent = p.recent[len(p.recent)-recentToolMax:]
		}
		p.currentTool = ""
		p.currentArgs = ""
	}
	p.mu.Unlock()
}

func (p *Progress) addTokens(n int64) {
	p.mu.Lock()
	p.tokens += n
	p.mu.Unlock()
}

// setTail replaces the tail with the last lines of the most recent output.
func (p *Progress) setTail(lines []string) {
	if len(lines) > tailLineMax {
		lines = lines[len(lines)-tailLineMax:]
	}
	p.mu.Lock()
	p.tail = lines
	p.mu.Unlock()
}

func (p *Progress) finish(status Status, errMsg, failedTool string) {
	p.mu.Lock()
	p.status = status
	p.err = errMsg
	p.failedTool = failedTool
	if !p.startedAt.IsZero() {
		p.durationMs = time.Since(p.startedAt).Milliseconds()
	}
	p.mu.Unlock()
}

// Snapshot returns a copy safe to hand to renderers.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Status:      p.status,
		CurrentTool: p.currentTool,
		CurrentArgs: p.currentArgs,
		ToolCount:   p.toolCount,
		Tokens:      p.tokens,
		DurationMs:  p.durationMs,
		Error:       p.err,
		FailedTool:  p.failedTool,
	}
	if p.status == StatusRunning && !p.startedAt.IsZero() {
		s.DurationMs = time.Since(p.startedAt).Milliseconds()
	}
	s.RecentTools = append(s.RecentTools, p.recent...)
	s.TailLines = append(s.TailLines, p.tail...)
	return s
}
