// Package task defines the task and run configuration types shared by the
// executors and the background supervisor.
package task

import (
	"fmt"
	"strings"

	"github.com/joshharrison/weft/internal/truncate"
)

// Topology is the shape of a run.
type Topology string

const (
	TopologySingle   Topology = "single"
	TopologyParallel Topology = "parallel"
	TopologyChain    Topology = "chain"
)

// Placeholder is the literal token in a chain step's task text that is
// replaced with the previous step's final output.
const Placeholder = "{previous}"

// Spec is one delegated unit of work. Immutable once created.
type Spec struct {
	Agent        string `json:"agent"`
	Text         string `json:"text"`
	Dir          string `json:"dir,omitempty"`
	Model        string `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ArtifactConfig controls per-task artifact persistence.
type ArtifactConfig struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retention_days"`
}

// RunConfig is a fully-resolved orchestration request.
type RunConfig struct {
	Topology    Topology        `json:"topology"`
	Tasks       []Spec          `json:"tasks"`
	MaxParallel int             `json:"max_parallel,omitempty"`
	MaxOutput   truncate.Budget `json:"max_output,omitempty"`
	Artifacts   ArtifactConfig  `json:"artifacts,omitempty"`
	Background  bool            `json:"background,omitempty"`
	Share       bool            `json:"share,omitempty"`
	Summarize   bool            `json:"summarize,omitempty"`
	SessionDir  string          `json:"session_dir,omitempty"`
}

// Resolve builds a RunConfig from the three mutually-exclusive topology
// inputs. Exactly one of single, parallel, chain may be populated; anything
// else is a validation error raised before any process is spawned.
func Resolve(single *Spec, parallel []Spec, chain []Spec) (*RunConfig, error) {
	populated := 0
	if single != nil {
		populated++
	}
	if len(parallel) > 0 {
		populated++
	}
	if len(chain) > 0 {
		populated++
	}
	if populated == 0 {
		return nil, fmt.Errorf("no task given: provide a single task, a parallel set, or a chain")
	}
	if populated > 1 {
		return nil, fmt.Errorf("ambiguous topology: single, parallel, and chain are mutually exclusive")
	}

	switch {
	case single != nil:
		return &RunConfig{Topology: TopologySingle, Tasks: []Spec{*single}}, nil
	case len(parallel) > 0:
		return &RunConfig{Topology: TopologyParallel, Tasks: parallel}, nil
	default:
		return &RunConfig{Topology: TopologyChain, Tasks: chain}, nil
	}
}

// Validate checks a RunConfig for internal consistency.
func (c *RunConfig) Validate() error {
	switch c.Topology {
	case TopologySingle:
		if len(c.Tasks) != 1 {
			return fmt.Errorf("single topology requires exactly 1 task, got %d", len(c.Tasks))
		}
	case TopologyParallel, TopologyChain:
		if len(c.Tasks) == 0 {
			return fmt.Errorf("%s topology requires at least 1 task", c.Topology)
		}
	default:
		return fmt.Errorf("unknown topology %q", c.Topology)
	}
	for i, s := range c.Tasks {
		if s.Agent == "" {
			return fmt.Errorf("task %d: missing agent label", i)
		}
		if strings.TrimSpace(s.Text) == "" {
			return fmt.Errorf("task %d: empty task text", i)
		}
	}
	return nil
}

// Normalize fills defaults and downgrades unsupported combinations. It returns
// a human-readable note when a downgrade was applied, empty otherwise.
func (c *RunConfig) Normalize() string {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.Artifacts.Enabled && c.Artifacts.RetentionDays <= 0 {
		c.Artifacts.RetentionDays = 7
	}
	if c.Background && c.Topology == TopologyParallel {
		c.Background = false
		return "background mode is not supported for parallel runs; running synchronously"
	}
	return ""
}

// Thread returns a copy of step with every literal occurrence of Placeholder
// in its text replaced by previous.
func Thread(step Spec, previous string) Spec {
	step.Text = strings.ReplaceAll(step.Text, Placeholder, previous)
	return step
}
