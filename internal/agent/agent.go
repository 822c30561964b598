// Package agent resolves agent labels to their configuration. Agent identity
// lives outside the engine; this is the minimal file-backed directory the
// orchestrator consults before spawning workers.
package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config describes one named agent available for delegation.
type Config struct {
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// Resolver looks up an agent config by label.
type Resolver interface {
	Resolve(label string) (*Config, error)
}

// Directory resolves agents from JSON files named <label>.json in a directory.
type Directory struct {
	Dir string
}

// NewDirectory creates a Directory. An empty dir defaults to ~/.weft/agents.
func NewDirectory(dir string) *Directory {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, ".weft", "agents")
		}
	}
	return &Directory{Dir: dir}
}

// Resolve loads the config for label. A missing file is a validation error;
// the label "default" resolves to an empty config even without a file, so
// plain delegation works out of the box.
func (d *Directory) Resolve(label string) (*Config, error) {
	path := filepath.Join(d.Dir, label+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && label == "default" {
			return &Config{Name: "default"}, nil
		}
		return nil, fmt.Errorf("unknown agent %q: %w", label, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agent config %s: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = label
	}
	return &cfg, nil
}

// List returns the labels of all agents defined in the directory.
func (d *Directory) List() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read agent dir: %w", err)
	}

	var labels []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		labels = append(labels, e.Name()[:len(e.Name())-len(".json")])
	}
	return labels, nil
}
