package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/joshharrison/weft/internal/artifact"
	"github.com/joshharrison/weft/internal/task"
	"github.com/joshharrison/weft/internal/truncate"
)

// fakeWorker writes an executable shell script that plays back a canned event
// stream, standing in for the real worker binary.
func fakeWorker(t *testing.T, script string) *Invoker {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake worker scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("write fake worker: %v", err)
	}
	inv := NewInvoker(path)
	inv.GracePeriod = 200 * time.Millisecond
	return inv
}

func eventLine(s string) string {
	return "echo '" + s + "'\n"
}

func TestInvoke_SingleAssistantDone(t *testing.T) {
	inv := fakeWorker(t,
		eventLine(`{"type":"message","role":"assistant","content":[{"type":"text","text":"done"}],"usage":{"input_tokens":10,"output_tokens":2}}`)+
			eventLine(`{"type":"result","duration_ms":5}`))

	res := inv.Invoke(context.Background(), task.Spec{Agent: "coder", Text: "finish it"}, Options{Index: -1})

	if res.Failed() {
		t.Fatalf("expected success, got exit=%d err=%q", res.ExitCode, res.Error)
	}
	if res.Output != "done" {
		t.Errorf("expected output %q, got %q", "done", res.Output)
	}
	if res.Usage.Turns != 1 {
		t.Errorf("expected 1 turn, got %d", res.Usage.Turns)
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 2 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
}

func TestInvoke_LastWriteWinsOutput(t *testing.T) {
	inv := fakeWorker(t,
		eventLine(`{"type":"message","role":"assistant","content":[{"type":"text","text":"first"}]}`)+
			eventLine(`{"type":"message","role":"assistant","content":[{"type":"text","text":"draft"},{"type":"text","text":"final"}]}`))

	res := inv.Invoke(context.Background(), task.Spec{Agent: "a", Text: "x"}, Options{Index: -1})
	if res.Output != "final" {
		t.Errorf("expected last text part of last assistant exchange, got %q", res.Output)
	}
}

func TestInvoke_NonzeroExit(t *testing.T) {
	inv := fakeWorker(t, "echo 'worker blew up' >&2\nexit 3\n")

	res := inv.Invoke(context.Background(), task.Spec{Agent: "a", Text: "x"}, Options{Index: -1})
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Error, "worker blew up") {
		t.Errorf("expected stderr in error, got %q", res.Error)
	}
}

func TestInvoke_EmbeddedFailureReclassified(t *testing.T) {
	inv := fakeWorker(t,
		eventLine(`{"type":"message","role":"tool_result","tool":"Bash","content":[{"type":"text","text":"rm: permission denied"}]}`)+
			eventLine(`{"type":"message","role":"assistant","content":[{"type":"text","text":"all finished"}]}`))

	res := inv.Invoke(context.Background(), task.Spec{Agent: "a", Text: "x"}, Options{Index: -1})
	if !res.Failed() {
		t.Fatal("expected reclassification to failure despite exit 0")
	}
	if res.Error == "" {
		t.Error("expected synthesized error message")
	}
	if res.FailedTool != "Bash" {
		t.Errorf("expected failed tool Bash, got %q", res.FailedTool)
	}
}

func TestInvoke_FirstModelAndErrorWin(t *testing.T) {
	inv := fakeWorker(t,
		eventLine(`{"type":"message","role":"assistant","model":"model-a","error":"oops one"}`)+
			eventLine(`{"type":"message","role":"assistant","model":"model-b","error":"oops two"}`))

	res := inv.Invoke(context.Background(), task.Spec{Agent: "a", Text: "x"}, Options{Index: -1})
	if res.Model != "model-a" {
		t.Errorf("expected first model kept, got %q", res.Model)
	}
	if res.Error != "oops one" {
		t.Errorf("expected first error kept, got %q", res.Error)
	}
}

func TestInvoke_ArtifactsWritten(t *testing.T) {
	inv := fakeWorker(t,
		eventLine(`{"type":"message","role":"assistant","content":[{"type":"text","text":"artifact me"}]}`))

	store := artifact.NewStore(t.TempDir())
	res := inv.Invoke(context.Background(), task.Spec{Agent: "coder", Text: "do"}, Options{
		RunID: "run-1",
		Index: -1,
		Store: store,
	})

	if res.Artifacts == nil {
		t.Fatal("expected artifact paths on result")
	}
	out, err := os.ReadFile(res.Artifacts.Output)
	if err != nil {
		t.Fatalf("read output artifact: %v", err)
	}
	if string(out) != "artifact me" {
		t.Errorf("unexpected output artifact: %q", out)
	}
	meta, err := store.ReadMeta(*res.Artifacts)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.Agent != "coder" {
		t.Errorf("unexpected meta agent: %q", meta.Agent)
	}
}

func TestInvoke_TruncationAttached(t *testing.T) {
	long := strings.Repeat("w", 64)
	inv := fakeWorker(t,
		eventLine(`{"type":"message","role":"assistant","content":[{"type":"text","text":"`+long+`"}]}`))

	res := inv.Invoke(context.Background(), task.Spec{Agent: "a", Text: "x"}, Options{
		Index:     -1,
		MaxOutput: truncate.Budget{MaxBytes: 10},
	})

	if res.Truncation == nil || !res.Truncation.Truncated {
		t.Fatal("expected truncation result")
	}
	if res.Output != long {
		t.Error("truncation must not replace the full output")
	}
	if res.Truncation.RetainedBytes > 10 {
		t.Errorf("retained %d bytes over budget", res.Truncation.RetainedBytes)
	}
}

func TestInvoke_ProgressCallback(t *testing.T) {
	inv := fakeWorker(t,
		eventLine(`{"type":"tool_start","tool":"Bash","input":{"command":"make"}}`)+
			eventLine(`{"type":"tool_end","tool":"Bash"}`)+
			eventLine(`{"type":"message","role":"assistant","content":[{"type":"text","text":"ok"}]}`))

	var final Snapshot
	res := inv.Invoke(context.Background(), task.Spec{Agent: "a", Text: "x"}, Options{
		Index:      -1,
		OnProgress: func(s Snapshot) { final = s },
	})

	if res.Failed() {
		t.Fatalf("unexpected failure: %q", res.Error)
	}
	if final.Status != StatusCompleted {
		t.Errorf("expected final snapshot completed, got %s", final.Status)
	}
	if final.ToolCount != 1 {
		t.Errorf("expected tool count 1, got %d", final.ToolCount)
	}
	if len(final.RecentTools) != 1 || final.RecentTools[0].Tool != "Bash" {
		t.Errorf("unexpected recent tools: %+v", final.RecentTools)
	}
}

func TestInvoke_Cancellation(t *testing.T) {
	inv := fakeWorker(t, "sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := inv.Invoke(ctx, task.Spec{Agent: "a", Text: "x"}, Options{Index: -1})
	if !res.Failed() {
		t.Fatal("expected cancelled task to fail")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation took too long; escalation did not fire")
	}
}

func TestProgressRing_CapsAtFive(t *testing.T) {
	p := newProgress()
	for i := 0; i < 8; i++ {
		p.toolStart("Bash", "cmd")
		p.toolEnd("Bash")
	}
	s := p.Snapshot()
	if len(s.RecentTools) != recentToolMax {
		t.Errorf("expected ring capped at %d, got %d", recentToolMax, len(s.RecentTools))
	}
	if s.ToolCount != 8 {
		t.Errorf("expected 8 tool invocations counted, got %d", s.ToolCount)
	}
}
