package task

import (
	"strings"
	"testing"
)

func TestResolve_Single(t *testing.T) {
	cfg, err := Resolve(&Spec{Agent: "coder", Text: "do it"}, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Topology != TopologySingle {
		t.Errorf("expected single, got %s", cfg.Topology)
	}
	if len(cfg.Tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(cfg.Tasks))
	}
}

func TestResolve_NoneGiven(t *testing.T) {
	_, err := Resolve(nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty topology selection")
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	single := &Spec{Agent: "a", Text: "x"}
	chain := []Spec{{Agent: "b", Text: "y"}}
	_, err := Resolve(single, nil, chain)
	if err == nil {
		t.Fatal("expected error for ambiguous topology")
	}
	if !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("expected ambiguous-topology error, got %v", err)
	}
}

func TestValidate_MissingAgent(t *testing.T) {
	cfg := &RunConfig{Topology: TopologySingle, Tasks: []Spec{{Text: "x"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing agent label")
	}
}

func TestValidate_EmptyText(t *testing.T) {
	cfg := &RunConfig{Topology: TopologyChain, Tasks: []Spec{{Agent: "a", Text: "  "}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty task text")
	}
}

func TestNormalize_Defaults(t *testing.T) {
	cfg := &RunConfig{Topology: TopologyParallel, Tasks: []Spec{{Agent: "a", Text: "x"}}}
	note := cfg.Normalize()
	if note != "" {
		t.Errorf("unexpected note: %q", note)
	}
	if cfg.MaxParallel != 4 {
		t.Errorf("expected default max parallel 4, got %d", cfg.MaxParallel)
	}
}

func TestNormalize_BackgroundParallelDowngrade(t *testing.T) {
	cfg := &RunConfig{
		Topology:   TopologyParallel,
		Tasks:      []Spec{{Agent: "a", Text: "x"}},
		Background: true,
	}
	note := cfg.Normalize()
	if note == "" {
		t.Fatal("expected downgrade note")
	}
	if cfg.Background {
		t.Error("expected background to be disabled for parallel runs")
	}
}

func TestThread_ReplacesAllOccurrences(t *testing.T) {
	step := Spec{Agent: "a", Text: "use {previous} and again {previous}"}
	got := Thread(step, "X")
	if got.Text != "use X and again X" {
		t.Errorf("unexpected threaded text: %q", got.Text)
	}
	if step.Text != "use {previous} and again {previous}" {
		t.Error("Thread should not mutate its input")
	}
}

func TestThread_NoPlaceholder(t *testing.T) {
	step := Spec{Agent: "a", Text: "independent step"}
	got := Thread(step, "ignored")
	if got.Text != "independent step" {
		t.Errorf("unexpected text: %q", got.Text)
	}
}
