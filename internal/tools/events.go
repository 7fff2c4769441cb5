// Package tools provides the sandboxed filesystem and shell capabilities
// exposed to tool-using roles. Every tool invocation is recorded as an Event
// so the ledger and the reviewer prompt can replay what actually happened.
package tools

import "sync"

// Event records a single tool invocation.
type Event struct {
	Tool          string `json:"tool"`
	Path          string `json:"path,omitempty"`
	Bytes         int    `json:"bytes,omitempty"`
	Cmd           string `json:"cmd,omitempty"`
	ReturnCode    int    `json:"returncode,omitempty"`
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	Blocked       bool   `json:"blocked,omitempty"`
	BlockedReason string `json:"blocked_reason,omitempty"`
}

// Recorder receives tool events as they happen.
type Recorder interface {
	Record(Event)
}

// EventLog is an append-only in-process Recorder.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Record appends an event.
func (l *EventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a copy of the recorded events in order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Commands returns only the shell command events.
func (l *EventLog) Commands() []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Tool == "run_cmd" {
			out = append(out, e)
		}
	}
	return out
}

// Writes returns only the file write events.
func (l *EventLog) Writes() []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Tool == "fs_write" {
			out = append(out, e)
		}
	}
	return out
}
