package claude

import (
	"strings"
	"testing"
)

func TestBuildContent_ContainsStepOutputs(t *testing.T) {
	outputs := map[string]string{
		"step-0-coder":    "wrote the parser",
		"step-1-reviewer": "approved with nits",
	}
	content := buildContent("run weft-x: chain, 2/2 succeeded", outputs)

	if !strings.Contains(content, "run weft-x: chain, 2/2 succeeded") {
		t.Error("content should contain the run summary")
	}
	if !strings.Contains(content, "step-0-coder") || !strings.Contains(content, "wrote the parser") {
		t.Error("content should contain each step heading and output")
	}
	if !strings.Contains(content, "step-1-reviewer") {
		t.Error("content should contain all steps")
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient("", ""); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestNewClient_ModelOverride(t *testing.T) {
	c, err := NewClient("test-key", "claude-haiku-4-5")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if string(c.model) != "claude-haiku-4-5" {
		t.Errorf("expected model override, got %s", c.model)
	}
}
