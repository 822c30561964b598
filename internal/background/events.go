package background

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event is one lifecycle transition in the append-only run event log.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"` // run_start, step_start, step_end, run_end, share
	Step   int       `json:"step,omitempty"`
	Agent  string    `json:"agent,omitempty"`
	Status string    `json:"status,omitempty"`
	Tokens int64     `json:"tokens,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// EventLog appends JSONL records to the run's event file. Writes are
// append-only so readers never observe a regression.
type EventLog struct {
	path string
}

// NewEventLog creates an EventLog at path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Append writes one event record, stamping the time if unset.
func (l *EventLog) Append(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create event log dir: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Read returns all events in append order.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	var events []Event
	for _, line := range splitLines(data) {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
