// Package runner validates a run's topology and dispatches it to the
// single, parallel, or chain executor.
package runner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joshharrison/weft/internal/agent"
	"github.com/joshharrison/weft/internal/artifact"
	"github.com/joshharrison/weft/internal/task"
	"github.com/joshharrison/weft/internal/worker"
)

// RunResult is the assembled outcome of one orchestration call.
type RunResult struct {
	RunID     string           `json:"run_id"`
	Topology  task.Topology    `json:"topology"`
	Results   []*worker.Result `json:"results"`
	Succeeded int              `json:"succeeded"`
	Total     int              `json:"total"`
	Output    string           `json:"output,omitempty"`
	Note      string           `json:"note,omitempty"`
}

// Failed reports whether the run as a whole should be treated as a failure.
// Parallel runs fail only when every task failed; single and chain runs fail
// on any task failure.
func (r *RunResult) Failed() bool {
	if r.Topology == task.TopologyParallel {
		return r.Total > 0 && r.Succeeded == 0
	}
	return r.Succeeded < r.Total
}

// StepHook observes step transitions, used by the background supervisor to
// keep the durable run status current. done is false at step start.
type StepHook func(index int, spec task.Spec, res *worker.Result)

// Invoker runs one task to completion. *worker.Invoker is the production
// implementation.
type Invoker interface {
	Invoke(ctx context.Context, spec task.Spec, opts worker.Options) *worker.Result
}

// Runner executes resolved RunConfigs.
type Runner struct {
	Invoker Invoker
	Agents  agent.Resolver
	Store   *artifact.Store // used when cfg.Artifacts.Enabled

	// OnProgress receives live snapshots keyed by task index.
	OnProgress func(index int, spec task.Spec, snap worker.Snapshot)
	// OnStepStart and OnStepEnd observe step transitions.
	OnStepStart StepHook
	OnStepEnd   StepHook
}

// Run validates cfg, resolves every agent label, and executes the requested
// topology. Validation errors are returned before any worker is spawned.
func (r *Runner) Run(ctx context.Context, cfg *task.RunConfig, runID string) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	specs := make([]task.Spec, len(cfg.Tasks))
	for i, s := range cfg.Tasks {
		resolved, err := r.resolveSpec(s)
		if err != nil {
			return nil, err
		}
		specs[i] = resolved
	}

	res := &RunResult{RunID: runID, Topology: cfg.Topology, Total: len(specs)}

	switch cfg.Topology {
	case task.TopologySingle:
		r.runSingle(ctx, cfg, runID, specs[0], res)
	case task.TopologyParallel:
		r.runParallel(ctx, cfg, runID, specs, res)
	case task.TopologyChain:
		r.runChain(ctx, cfg, runID, specs, res)
	}

	for _, tr := range res.Results {
		if tr != nil && !tr.Failed() {
			res.Succeeded++
		}
	}
	return res, nil
}

// resolveSpec merges the agent's discovered config into the task spec. Spec
// fields are overrides; agent config fills the gaps.
func (r *Runner) resolveSpec(s task.Spec) (task.Spec, error) {
	cfg, err := r.Agents.Resolve(s.Agent)
	if err != nil {
		return task.Spec{}, err
	}
	if s.Model == "" {
		s.Model = cfg.Model
	}
	if len(s.Tools) == 0 {
		s.Tools = cfg.Tools
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = cfg.SystemPrompt
	}
	return s, nil
}

func (r *Runner) runSingle(ctx context.Context, cfg *task.RunConfig, runID string, spec task.Spec, res *RunResult) {
	tr := r.invoke(ctx, cfg, runID, spec, -1, 0)
	res.Results = []*worker.Result{tr}
	res.Output = tr.DisplayOutput()
}

// runParallel executes specs with at most cfg.MaxParallel in flight, via a
// pull-based pool: workers claim the next index until the cursor is
// exhausted, so faster tasks pick up more work. Results land at their input
// index regardless of completion order, and no failure cancels siblings.
func (r *Runner) runParallel(ctx context.Context, cfg *task.RunConfig, runID string, specs []task.Spec, res *RunResult) {
	n := len(specs)
	results := make([]*worker.Result, n)

	poolSize := cfg.MaxParallel
	if poolSize > n {
		poolSize = n
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= n {
					return
				}
				results[i] = r.invoke(ctx, cfg, runID, specs[i], i, i)
			}
		}()
	}
	wg.Wait()

	res.Results = results
}

// runChain executes specs strictly in order, threading each step's final
// output into the next step's task text. The first failing step halts the
// chain; prior results are retained.
func (r *Runner) runChain(ctx context.Context, cfg *task.RunConfig, runID string, specs []task.Spec, res *RunResult) {
	previous := ""
	for i, spec := range specs {
		if i > 0 {
			spec = task.Thread(spec, previous)
		}

		tr := r.invoke(ctx, cfg, runID, spec, i, i)
		res.Results = append(res.Results, tr)

		if tr.Failed() {
			return
		}
		previous = tr.Output
		res.Output = tr.DisplayOutput()
	}
}

// invoke runs one task through the worker invoker with run-scoped options and
// fires the step hooks.
func (r *Runner) invoke(ctx context.Context, cfg *task.RunConfig, runID string, spec task.Spec, artifactIndex, index int) *worker.Result {
	if r.OnStepStart != nil {
		r.OnStepStart(index, spec, nil)
	}

	opts := worker.Options{
		RunID:      runID,
		Index:      artifactIndex,
		MaxOutput:  cfg.MaxOutput,
		SessionDir: cfg.SessionDir,
	}
	if cfg.Artifacts.Enabled && r.Store != nil {
		opts.Store = r.Store
	}
	if r.OnProgress != nil {
		opts.OnProgress = func(snap worker.Snapshot) { r.OnProgress(index, spec, snap) }
	}

	tr := r.Invoker.Invoke(ctx, spec, opts)

	if r.OnStepEnd != nil {
		r.OnStepEnd(index, spec, tr)
	}
	return tr
}
