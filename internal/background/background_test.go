package background

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joshharrison/weft/internal/agent"
	"github.com/joshharrison/weft/internal/runner"
	"github.com/joshharrison/weft/internal/task"
	"github.com/joshharrison/weft/internal/worker"
)

type stubInvoker struct {
	fail map[string]bool
}

func (s *stubInvoker) Invoke(_ context.Context, spec task.Spec, _ worker.Options) *worker.Result {
	res := &worker.Result{
		Agent:  spec.Agent,
		Task:   spec.Text,
		Output: "out:" + spec.Text,
		Usage:  worker.Usage{InputTokens: 10, OutputTokens: 5, Turns: 1},
	}
	if s.fail[spec.Text] {
		res.ExitCode = 1
		res.Error = "stub failure"
	}
	return res
}

type stubResolver struct{}

func (stubResolver) Resolve(label string) (*agent.Config, error) {
	return &agent.Config{Name: label}, nil
}

type stubSharer struct {
	url string
	err error
}

func (s *stubSharer) Share(string) (string, error) { return s.url, s.err }

func newExecutor(t *testing.T, inv runner.Invoker) (*Executor, Dirs) {
	t.Helper()
	dirs := NewDirs(filepath.Join(t.TempDir(), ".weft"))
	return &Executor{Dirs: dirs, Invoker: inv, Agents: stubResolver{}}, dirs
}

func TestDirs_FindRun(t *testing.T) {
	dirs := NewDirs(filepath.Join(t.TempDir(), ".weft"))
	for _, id := range []string{"weft-20260831-100000-aaaa1111", "weft-20260831-110000-bbbb2222"} {
		os.MkdirAll(dirs.RunDir(id), 0755)
	}

	id, err := dirs.FindRun("weft-20260831-11")
	if err != nil {
		t.Fatalf("FindRun: %v", err)
	}
	if id != "weft-20260831-110000-bbbb2222" {
		t.Errorf("unexpected match: %s", id)
	}

	if _, err := dirs.FindRun("weft-2026"); err == nil {
		t.Error("expected ambiguous-prefix error")
	}
	if _, err := dirs.FindRun("nope"); err == nil {
		t.Error("expected no-match error")
	}

	ids, err := dirs.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(ids) != 2 || ids[0] != "weft-20260831-110000-bbbb2222" {
		t.Errorf("expected newest first, got %v", ids)
	}
}

func TestEventLog_AppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log := NewEventLog(path)

	log.Append(Event{Kind: "run_start"})
	log.Append(Event{Kind: "step_start", Step: 0, Agent: "coder"})
	log.Append(Event{Kind: "step_end", Step: 0, Status: "complete", Tokens: 15})

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != "run_start" || events[2].Tokens != 15 {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestResultFile_SessionFiltering(t *testing.T) {
	dirs := NewDirs(filepath.Join(t.TempDir(), ".weft"))

	dirs.WriteResult(ResultFile{RunID: "r1", SessionID: "s1", State: StateComplete})
	dirs.WriteResult(ResultFile{RunID: "r2", SessionID: "s2", State: StateComplete})
	dirs.WriteResult(ResultFile{RunID: "r3", Cwd: "/work", State: StateComplete})
	dirs.WriteResult(ResultFile{RunID: "r4", Cwd: "/elsewhere", State: StateComplete})

	got, err := dirs.ScanResults("s1", "/work")
	if err != nil {
		t.Fatalf("ScanResults: %v", err)
	}
	ids := map[string]bool{}
	for _, rf := range got {
		ids[rf.RunID] = true
	}
	if !ids["r1"] {
		t.Error("expected own tagged result r1")
	}
	if ids["r2"] {
		t.Error("foreign session result r2 must be discarded")
	}
	if !ids["r3"] {
		t.Error("untagged result with matching cwd should fall back to cwd match")
	}
	if ids["r4"] {
		t.Error("untagged result with different cwd must be discarded")
	}
}

func TestExecutor_SingleRun(t *testing.T) {
	exec, dirs := newExecutor(t, &stubInvoker{})

	lf := &LaunchFile{
		RunID:     "weft-20260831-120000-test0001",
		SessionID: "s1",
		Cwd:       "/work",
		Config: &task.RunConfig{
			Topology: task.TopologySingle,
			Tasks:    []task.Spec{{Agent: "coder", Text: "solo"}},
		},
	}

	state, err := exec.Execute(context.Background(), lf)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state != StateComplete {
		t.Fatalf("expected complete, got %s", state)
	}

	st, err := LoadStatus(dirs.StatusFile(lf.RunID))
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if st.State != StateComplete {
		t.Errorf("expected durable state complete, got %s", st.State)
	}
	if st.Steps[0].Status != StepComplete {
		t.Errorf("expected step complete, got %s", st.Steps[0].Status)
	}
	if st.TotalTokens != 15 {
		t.Errorf("expected 15 tokens, got %d", st.TotalTokens)
	}

	events, err := ReadEvents(dirs.EventsFile(lf.RunID))
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	want := []string{"run_start", "step_start", "step_end", "run_end"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}

	rf, err := ReadResult(dirs.ResultFile(lf.RunID))
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if rf.SessionID != "s1" {
		t.Errorf("result not tagged with launching session: %q", rf.SessionID)
	}
	if rf.Output != "out:solo" {
		t.Errorf("unexpected result output: %q", rf.Output)
	}

	data, err := os.ReadFile(dirs.RunLogFile(lf.RunID))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(data), "| coder |") {
		t.Errorf("expected step table in run log, got:\n%s", data)
	}
}

func TestExecutor_ChainFailureHalts(t *testing.T) {
	exec, dirs := newExecutor(t, &stubInvoker{fail: map[string]bool{"one": true}})

	lf := &LaunchFile{
		RunID:     "weft-20260831-120000-test0002",
		SessionID: "s1",
		Config:    testConfig(), // chain: "one" then "two"
	}

	state, err := exec.Execute(context.Background(), lf)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state != StateFailed {
		t.Fatalf("expected failed, got %s", state)
	}

	st, _ := LoadStatus(dirs.StatusFile(lf.RunID))
	if st.Steps[0].Status != StepFailed {
		t.Errorf("expected step 0 failed, got %s", st.Steps[0].Status)
	}
	if st.Steps[1].Status != StepPending {
		t.Errorf("step 1 must never run after a chain failure, got %s", st.Steps[1].Status)
	}

	rf, _ := ReadResult(dirs.ResultFile(lf.RunID))
	if rf.State != StateFailed || rf.Error == "" {
		t.Errorf("unexpected result record: %+v", rf)
	}
}

func TestExecutor_ShareBestEffort(t *testing.T) {
	exec, dirs := newExecutor(t, &stubInvoker{})
	exec.Sharer = &stubSharer{err: os.ErrDeadlineExceeded}

	lf := &LaunchFile{
		RunID: "weft-20260831-120000-test0003",
		Config: &task.RunConfig{
			Topology: task.TopologySingle,
			Tasks:    []task.Spec{{Agent: "coder", Text: "solo"}},
			Share:    true,
		},
	}

	state, err := exec.Execute(context.Background(), lf)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state != StateComplete {
		t.Errorf("share failure must not fail the run, got %s", state)
	}

	st, _ := LoadStatus(dirs.StatusFile(lf.RunID))
	if st.ShareError == "" {
		t.Error("expected share error recorded on status")
	}
}

func TestReadLaunchFile_DeletesAfterRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	os.WriteFile(path, []byte(`{"run_id":"r1","config":{"topology":"single","tasks":[{"agent":"a","text":"x"}]}}`), 0644)

	lf, err := ReadLaunchFile(path)
	if err != nil {
		t.Fatalf("ReadLaunchFile: %v", err)
	}
	if lf.RunID != "r1" {
		t.Errorf("unexpected run id %q", lf.RunID)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("launch file must be deleted once read")
	}
}

func TestPoller_TracksAndNotifies(t *testing.T) {
	dirs := NewDirs(filepath.Join(t.TempDir(), ".weft"))
	p := NewPoller(dirs, "s1", "/work")

	var completed []string
	p.OnComplete = func(rf *ResultFile) { completed = append(completed, rf.RunID) }

	runID := "weft-20260831-120000-poll0001"
	p.Track(runID)

	// Status file absent: distinct from failed.
	p.Poll()
	jobs := p.Jobs()
	if len(jobs) != 1 || !jobs[0].StatusMissing {
		t.Fatalf("expected one job with missing status, got %+v", jobs)
	}

	cfg := &task.RunConfig{Topology: task.TopologySingle, Tasks: []task.Spec{{Agent: "a", Text: "x"}}}
	st, err := NewRunStatus(runID, "s1", "/work", cfg, dirs.StatusFile(runID))
	if err != nil {
		t.Fatalf("NewRunStatus: %v", err)
	}
	st.SetState(StateRunning)

	p.Poll()
	jobs = p.Jobs()
	if jobs[0].StatusMissing || jobs[0].Status == nil {
		t.Fatal("expected status loaded after file appears")
	}
	if jobs[0].Status.State != StateRunning {
		t.Errorf("expected running, got %s", jobs[0].Status.State)
	}

	// Foreign result is ignored; own result raises exactly one event.
	dirs.WriteResult(ResultFile{RunID: "foreign", SessionID: "s2", State: StateComplete})
	dirs.WriteResult(ResultFile{RunID: runID, SessionID: "s1", State: StateComplete})
	p.Poll()
	p.Poll()
	if len(completed) != 1 || completed[0] != runID {
		t.Errorf("expected single completion for own run, got %v", completed)
	}
}

func TestPoller_DropsTerminalAfterRetention(t *testing.T) {
	dirs := NewDirs(filepath.Join(t.TempDir(), ".weft"))
	p := NewPoller(dirs, "s1", "/work")
	p.Retain = 10 * time.Millisecond

	runID := "weft-20260831-120000-poll0002"
	cfg := &task.RunConfig{Topology: task.TopologySingle, Tasks: []task.Spec{{Agent: "a", Text: "x"}}}
	st, _ := NewRunStatus(runID, "s1", "/work", cfg, dirs.StatusFile(runID))
	st.SetState(StateRunning)
	st.SetState(StateComplete)

	p.Track(runID)
	p.Poll()
	if len(p.Jobs()) != 1 {
		t.Fatal("expected job retained immediately after completion")
	}

	time.Sleep(20 * time.Millisecond)
	p.Poll()
	if len(p.Jobs()) != 0 {
		t.Error("expected terminal job dropped after retention window")
	}
}

func TestLaunchFile_CarriesToolingPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	os.WriteFile(path, []byte(`{"run_id":"r1","worker_bin":"/opt/claude","agent_dir":"/custom/agents","config":{"topology":"single","tasks":[{"agent":"a","text":"x"}]}}`), 0644)

	lf, err := ReadLaunchFile(path)
	if err != nil {
		t.Fatalf("ReadLaunchFile: %v", err)
	}
	if lf.WorkerBin != "/opt/claude" {
		t.Errorf("worker bin lost across the launch file: %q", lf.WorkerBin)
	}
	if lf.AgentDir != "/custom/agents" {
		t.Errorf("agent dir lost across the launch file: %q", lf.AgentDir)
	}
}

func TestResultFromRun_SyncRecord(t *testing.T) {
	dirs := NewDirs(filepath.Join(t.TempDir(), ".weft"))

	res := &runner.RunResult{
		RunID:    "weft-20260831-120000-sync0001",
		Topology: task.TopologyChain,
		Results: []*worker.Result{
			{Agent: "a", Output: "first"},
			{Agent: "b", ExitCode: 1, Error: "boom"},
		},
		Succeeded: 1,
		Total:     2,
	}

	rf := ResultFromRun(res.RunID, "s1", "/work", res)
	if rf.State != StateFailed {
		t.Errorf("expected failed state, got %q", rf.State)
	}
	if rf.Error != "boom" {
		t.Errorf("expected first failing task's error, got %q", rf.Error)
	}
	if rf.Succeeded != 1 || rf.Total != 2 {
		t.Errorf("counters lost: %d/%d", rf.Succeeded, rf.Total)
	}

	if err := dirs.WriteResult(rf); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	own, _ := dirs.ScanResults("s1", "/work")
	if len(own) != 1 || own[0].RunID != res.RunID {
		t.Fatalf("own session must see the sync run's record, got %v", own)
	}
	foreign, _ := dirs.ScanResults("s2", "/elsewhere")
	if len(foreign) != 0 {
		t.Errorf("foreign session must not see the record, got %v", foreign)
	}
}
