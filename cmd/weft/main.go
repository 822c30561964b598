package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joshharrison/weft/internal/agent"
	"github.com/joshharrison/weft/internal/artifact"
	"github.com/joshharrison/weft/internal/background"
	"github.com/joshharrison/weft/internal/claude"
	"github.com/joshharrison/weft/internal/reporter"
	"github.com/joshharrison/weft/internal/runner"
	"github.com/joshharrison/weft/internal/share"
	"github.com/joshharrison/weft/internal/task"
	"github.com/joshharrison/weft/internal/truncate"
	"github.com/joshharrison/weft/internal/ui"
	"github.com/joshharrison/weft/internal/worker"
	"github.com/spf13/cobra"
)

// sessionEnv carries the launching session's identity into result-file tags
// so a poller can tell its own background runs from a sibling session's.
const sessionEnv = "WEFT_SESSION_ID"

var (
	flagStateDir  string
	flagAgentDir  string
	flagWorkerBin string
	flagJSON      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "weft",
		Short: "Orchestrate subagent tasks across worker processes",
		Long: `Weft spawns worker-agent processes (Claude Code style CLIs) to execute
tasks as a single run, a concurrency-limited parallel batch, or a sequential
chain with output threading, streaming live progress or running detached in
the background with durable status files.`,
	}

	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", ".weft", "Directory for run state, results, and artifacts")
	rootCmd.PersistentFlags().StringVar(&flagAgentDir, "agent-dir", "", "Directory of agent config files (default ~/.weft/agents)")
	rootCmd.PersistentFlags().StringVar(&flagWorkerBin, "worker-bin", "claude", "Worker agent binary")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(cleanCmd())
	rootCmd.AddCommand(internalRunCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dirs() background.Dirs {
	return background.NewDirs(flagStateDir)
}

// parseTask splits "agent: task text" into its parts; text without a label
// falls back to defaultAgent. The label must be followed by ": " and look
// like an agent name, so task text such as "http://example.com is down" or
// "note:self" passes through untouched.
func parseTask(s, defaultAgent string) task.Spec {
	if i := strings.Index(s, ": "); i > 0 && isAgentLabel(s[:i]) {
		return task.Spec{Agent: s[:i], Text: strings.TrimSpace(s[i+2:])}
	}
	return task.Spec{Agent: defaultAgent, Text: strings.TrimSpace(s)}
}

func isAgentLabel(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return s != ""
}

func runCmd() *cobra.Command {
	var (
		flagTask          string
		flagParallel      []string
		flagChain         []string
		flagAgent         string
		flagModel         string
		flagDir           string
		flagMaxParallel   int
		flagMaxBytes      int
		flagMaxLines      int
		flagBackground    bool
		flagShare         bool
		flagSummarize     bool
		flagArtifacts     bool
		flagRetentionDays int
		flagSessionDir    string
		flagQuiet         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single task, a parallel batch, or a sequential chain",
		Long: `Runs worker agents. Exactly one topology must be given: --task for a
single run, repeated --parallel for a concurrent batch, or repeated --chain
for a sequential pipeline where {previous} in a step's text is replaced by
the prior step's output.

Task arguments take the form "agent: task text"; a bare task text uses the
--agent label.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var single *task.Spec
			if flagTask != "" {
				s := parseTask(flagTask, flagAgent)
				single = &s
			}
			var parallel, chain []task.Spec
			for _, s := range flagParallel {
				parallel = append(parallel, parseTask(s, flagAgent))
			}
			for _, s := range flagChain {
				chain = append(chain, parseTask(s, flagAgent))
			}

			cfg, err := task.Resolve(single, parallel, chain)
			if err != nil {
				return err
			}
			for i := range cfg.Tasks {
				if cfg.Tasks[i].Model == "" {
					cfg.Tasks[i].Model = flagModel
				}
				if cfg.Tasks[i].Dir == "" {
					cfg.Tasks[i].Dir = flagDir
				}
			}
			cfg.MaxParallel = flagMaxParallel
			cfg.MaxOutput = truncate.Budget{MaxBytes: flagMaxBytes, MaxLines: flagMaxLines}
			cfg.Artifacts = task.ArtifactConfig{Enabled: flagArtifacts, RetentionDays: flagRetentionDays}
			cfg.Background = flagBackground
			cfg.Share = flagShare
			cfg.Summarize = flagSummarize
			cfg.SessionDir = flagSessionDir

			if err := cfg.Validate(); err != nil {
				return err
			}
			note := cfg.Normalize()
			if note != "" && !flagJSON {
				fmt.Fprintf(os.Stderr, "%s %s\n", ui.Yellow("⚠"), note)
			}

			d := dirs()
			if cfg.Artifacts.Enabled {
				pruneArtifacts(d, cfg.Artifacts.RetentionDays)
			}

			if cfg.Background {
				sup := &background.Supervisor{
					Dirs:      d,
					SessionID: os.Getenv(sessionEnv),
					WorkerBin: flagWorkerBin,
					AgentDir:  flagAgentDir,
				}
				runID, err := sup.Launch(cfg)
				if err != nil {
					return err
				}
				if flagJSON {
					return outputJSON(map[string]string{"run_id": runID, "state": "queued"})
				}
				fmt.Printf("🧵 %s %s\n", ui.BoldCyan("Launched background run"), ui.Bold(runID))
				fmt.Printf("   %s\n", ui.Dim("weft status "+runID))
				return nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Fprintf(os.Stderr, "\n🛑 %s\n", ui.Yellow("Received interrupt, cancelling..."))
				cancel()
			}()

			r := &runner.Runner{
				Invoker: worker.NewInvoker(flagWorkerBin),
				Agents:  agent.NewDirectory(flagAgentDir),
			}
			if cfg.Artifacts.Enabled {
				r.Store = artifact.NewStore(d.ArtifactsDir())
			}
			if !flagQuiet && !flagJSON {
				pp := ui.NewProgressPrinter(os.Stderr)
				r.OnProgress = func(index int, spec task.Spec, snap worker.Snapshot) {
					pp.Update(index, spec.Agent, snap)
				}
			}

			if !flagJSON {
				ui.PrintLogo()
			}

			runID := background.NewRunID()
			res, err := r.Run(ctx, cfg, runID)
			if err != nil {
				return err
			}
			if note != "" {
				res.Note = note
			}

			if cfg.Share {
				shareResults(res)
			}
			if cfg.Summarize && !res.Failed() {
				summarize(ctx, flagModel, res)
			}

			// Synchronous runs publish the same completion record detached
			// runs do, so a results-directory listener sees both.
			cwd, _ := os.Getwd()
			if err := d.WriteResult(background.ResultFromRun(runID, os.Getenv(sessionEnv), cwd, res)); err != nil {
				fmt.Fprintf(os.Stderr, "%s write result record: %v\n", ui.Yellow("⚠"), err)
			}

			if flagJSON {
				if err := outputJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Println(reporter.Summary(res))
			}

			if res.Failed() {
				return fmt.Errorf("%d of %d tasks failed", res.Total-res.Succeeded, res.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flagTask, "task", "p", "", "Single task text")
	cmd.Flags().StringArrayVar(&flagParallel, "parallel", nil, "Parallel task (repeatable)")
	cmd.Flags().StringArrayVar(&flagChain, "chain", nil, "Chain step (repeatable, {previous} threads prior output)")
	cmd.Flags().StringVar(&flagAgent, "agent", "default", "Agent label for tasks without one")
	cmd.Flags().StringVar(&flagModel, "model", "", "Worker model override")
	cmd.Flags().StringVar(&flagDir, "dir", "", "Working directory for workers")
	cmd.Flags().IntVar(&flagMaxParallel, "max-parallel", 4, "Max concurrent workers (parallel topology)")
	cmd.Flags().IntVar(&flagMaxBytes, "max-output-bytes", 0, "Truncate final output to this many bytes (0 = unlimited)")
	cmd.Flags().IntVar(&flagMaxLines, "max-output-lines", 0, "Truncate final output to this many lines (0 = unlimited)")
	cmd.Flags().BoolVar(&flagBackground, "background", false, "Detach and run in the background")
	cmd.Flags().BoolVar(&flagShare, "share", false, "Export and publish worker session transcripts")
	cmd.Flags().BoolVar(&flagSummarize, "summarize", false, "Generate a short run narrative via the Anthropic API")
	cmd.Flags().BoolVar(&flagArtifacts, "artifacts", false, "Persist per-task input/output/event artifacts")
	cmd.Flags().IntVar(&flagRetentionDays, "retention-days", 0, "Artifact retention in days (0 = default)")
	cmd.Flags().StringVar(&flagSessionDir, "session-dir", "", "Persist worker session transcripts to this directory")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress streaming progress")

	return cmd
}

// shareResults publishes every session transcript the run produced, recording
// failures on the result rather than failing the run.
func shareResults(res *runner.RunResult) {
	svc := share.NewService("")
	for _, tr := range res.Results {
		if tr == nil || tr.SessionFile == "" {
			continue
		}
		url, err := svc.Share(tr.SessionFile)
		if err != nil {
			tr.ShareError = err.Error()
			continue
		}
		tr.ShareURL = url
		fmt.Fprintf(os.Stderr, "🔗 %s %s\n", ui.Cyan("Shared:"), url)
	}
}

func summarize(ctx context.Context, model string, res *runner.RunResult) {
	client, err := claude.NewClient("", model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s summarize: %v\n", ui.Yellow("⚠"), err)
		return
	}
	outputs := make(map[string]string, len(res.Results))
	for _, tr := range res.Results {
		if tr != nil && tr.Output != "" {
			outputs[tr.Agent] = tr.DisplayOutput()
		}
	}
	summary := fmt.Sprintf("%s run %s: %d/%d tasks succeeded", res.Topology, res.RunID, res.Succeeded, res.Total)
	text, err := client.Narrate(ctx, summary, outputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s summarize: %v\n", ui.Yellow("⚠"), err)
		return
	}
	fmt.Printf("\n💡 %s\n%s\n", ui.BoldWhite("Narrative:"), text)
}

func statusCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "status [run-id|prefix]",
		Short: "Show a run's durable status",
		Long: `Reads the run's status file from the state directory. With no argument
the most recent run is shown; a unique run-id prefix is accepted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := dirs()

			var runID string
			if len(args) > 0 {
				var err error
				runID, err = d.FindRun(args[0])
				if err != nil {
					return err
				}
			} else {
				ids, err := d.ListRuns()
				if err != nil || len(ids) == 0 {
					return fmt.Errorf("no runs found in %s", flagStateDir)
				}
				runID = ids[0]
			}

			st, err := background.LoadStatus(d.StatusFile(runID))
			if err != nil {
				return err
			}

			if flagJSON {
				data, err := reporter.JSON(st)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if flagWatch {
				return watchRun(newPoller(d), runID, os.Stdout, true)
			}

			reporter.PrintStatus(os.Stdout, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "Watch mode (refresh every 1s until terminal)")

	return cmd
}

// newPoller builds the session's job-table poller against the state dir.
func newPoller(d background.Dirs) *background.Poller {
	cwd, _ := os.Getwd()
	return background.NewPoller(d, os.Getenv(sessionEnv), cwd)
}

// watchRun re-renders one run's status table through the job-table poller
// until the run reaches a terminal state.
func watchRun(p *background.Poller, runID string, out io.Writer, clearScreen bool) error {
	done := make(chan struct{})
	var once sync.Once

	p.Track(runID)
	p.OnUpdate = func(j *background.Job) {
		if j.Status == nil {
			return
		}
		if clearScreen {
			fmt.Fprint(out, "\033[2J\033[H")
		}
		reporter.PrintStatus(out, j.Status)
		if j.Terminal() {
			once.Do(func() { close(done) })
		}
	}
	p.Start()
	defer p.Stop()

	<-done
	return nil
}

// watchJobs drives the full job table: the poller reloads every tracked
// run's status each tick, retains finished runs briefly, and raises a
// completion notice once per result file belonging to this session. Returns
// once every job has finished and been dropped from the table.
func watchJobs(p *background.Poller, runIDs []string, out io.Writer, clearScreen bool) error {
	var mu sync.Mutex
	var notices []string

	for _, id := range runIDs {
		p.Track(id)
	}
	p.OnComplete = func(rf *background.ResultFile) {
		mu.Lock()
		notices = append(notices, fmt.Sprintf("%s run %s finished: %s (%d/%d succeeded)",
			ui.StatusIcon(string(rf.State)), rf.RunID, rf.State, rf.Succeeded, rf.Total))
		mu.Unlock()
	}
	p.Start()
	defer p.Stop()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		<-ticker.C

		jobs := p.Jobs()
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].RunID > jobs[j].RunID })

		if clearScreen {
			fmt.Fprint(out, "\033[2J\033[H")
		}
		reporter.PrintJobs(out, jobs)
		mu.Lock()
		for _, n := range notices {
			fmt.Fprintln(out, n)
		}
		mu.Unlock()

		if len(jobs) == 0 {
			return nil
		}
	}
}

func runsCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List known runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := dirs()
			ids, err := d.ListRuns()
			if err != nil {
				return err
			}

			if flagWatch {
				if len(ids) == 0 {
					return fmt.Errorf("no runs found in %s", flagStateDir)
				}
				return watchJobs(newPoller(d), ids, os.Stdout, true)
			}

			var jobs []*background.Job
			for _, id := range ids {
				st, err := background.LoadStatus(d.StatusFile(id))
				if err != nil {
					jobs = append(jobs, &background.Job{RunID: id, StatusMissing: true})
					continue
				}
				jobs = append(jobs, &background.Job{RunID: id, Status: st})
			}

			if flagJSON {
				return outputJSON(jobs)
			}
			reporter.PrintJobs(os.Stdout, jobs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "Poll the job table until every run finishes")

	return cmd
}

func logsCmd() *cobra.Command {
	var (
		flagEvents bool
		flagDaemon bool
	)

	cmd := &cobra.Command{
		Use:   "logs <run-id|prefix>",
		Short: "Show a background run's log files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := dirs()
			runID, err := d.FindRun(args[0])
			if err != nil {
				return err
			}

			path := d.RunLogFile(runID)
			switch {
			case flagEvents:
				path = d.EventsFile(runID)
			case flagDaemon:
				path = d.DaemonLog(runID)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no log yet for %s (run may still be in progress; try --events)", runID)
				}
				return fmt.Errorf("read log: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagEvents, "events", false, "Show the JSONL event log instead of the run log")
	cmd.Flags().BoolVar(&flagDaemon, "daemon", false, "Show the detached process's daemon log")

	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agent labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := agent.NewDirectory(flagAgentDir)
			labels, err := d.List()
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(labels)
			}
			if len(labels) == 0 {
				fmt.Printf("%s\n", ui.Dim("no agent configs found (the built-in \"default\" agent is always available)"))
				return nil
			}
			for _, l := range labels {
				fmt.Printf("  %s\n", ui.AgentPrefix(l))
			}
			return nil
		},
	}
}

func cleanCmd() *cobra.Command {
	var flagRetentionDays int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove run state and artifacts older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := dirs()
			retention := time.Duration(flagRetentionDays) * 24 * time.Hour

			pruned, err := artifact.NewStore(d.ArtifactsDir()).Prune(retention)
			if err != nil {
				return fmt.Errorf("prune artifacts: %w", err)
			}

			removed, err := pruneRunDirs(d, retention)
			if err != nil {
				return fmt.Errorf("prune runs: %w", err)
			}

			if flagJSON {
				return outputJSON(map[string]int{"artifacts_pruned": pruned, "runs_pruned": removed})
			}
			fmt.Printf("🧹 Removed %s artifact dirs and %s run dirs older than %dd\n",
				ui.Bold(pruned), ui.Bold(removed), flagRetentionDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&flagRetentionDays, "retention-days", 7, "Remove state older than this many days")

	return cmd
}

// pruneArtifacts is the opportunistic run-start sweep; failures are ignored.
func pruneArtifacts(d background.Dirs, retentionDays int) {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	artifact.NewStore(d.ArtifactsDir()).Prune(retention)
}

func pruneRunDirs(d background.Dirs, retention time.Duration) (int, error) {
	runsDir := filepath.Join(d.Base, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(runsDir, e.Name())); err == nil {
			removed++
			os.Remove(d.ResultFile(e.Name()))
		}
	}
	return removed, nil
}

// internalRunCmd is the body of a detached background run. The launching
// process spawns `weft __run <launch-file>` with a new session and releases
// it; everything from here on is externalized through the filesystem.
func internalRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "__run <launch-file>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := background.ReadLaunchFile(args[0])
			if err != nil {
				return err
			}

			bin := lf.WorkerBin
			if bin == "" {
				bin = flagWorkerBin
			}
			agentDir := lf.AgentDir
			if agentDir == "" {
				agentDir = flagAgentDir
			}
			exec := &background.Executor{
				Dirs:    dirs(),
				Invoker: worker.NewInvoker(bin),
				Agents:  agent.NewDirectory(agentDir),
			}
			if lf.Config != nil && lf.Config.Share {
				exec.Sharer = share.NewService("")
			}
			if lf.Config != nil && lf.Config.Summarize {
				if client, err := claude.NewClient("", ""); err == nil {
					exec.Narrator = client
				}
			}

			state, err := exec.Execute(context.Background(), lf)
			if err != nil {
				return err
			}
			if state == background.StateFailed {
				os.Exit(1)
			}
			return nil
		},
	}
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
