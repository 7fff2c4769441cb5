// Package ledger persists one run directory per pipeline execution: plan and
// role reports as text artifacts, one untruncated diff patch per round, and a
// structured artifacts.json capturing attempts, verdicts and tool activity.
// Artifacts are write-once: no component may rewrite a prior round's file.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskcrew/internal/agent"
	"github.com/fyrsmithlabs/taskcrew/internal/logging"
	"github.com/fyrsmithlabs/taskcrew/internal/tools"
)

const (
	planFilename        = "plan.txt"
	implementerFilename = "implementer.txt"
	reviewerFilename    = "reviewer.txt"
	techWriterFilename  = "tech_writer.txt"
	artifactsFilename   = "artifacts.json"
)

// RoundRecord is the structured trace of one implementer↔reviewer cycle.
type RoundRecord struct {
	Round             int           `json:"round"`
	Verdict           string        `json:"verdict"`
	Action            string        `json:"action"`
	ImplementerResult string        `json:"implementer_result,omitempty"`
	ChangedFiles      []string      `json:"changed_files,omitempty"`
	Fixes             []string      `json:"fixes,omitempty"`
	DocsRequested     bool          `json:"docs_requested,omitempty"`
	Stuck             bool          `json:"stuck,omitempty"`
	DiffPath          string        `json:"diff_path,omitempty"`
	DiffIncluded      bool          `json:"diff_included"`
	Topology          string        `json:"topology,omitempty"`
	ToolEvents        []tools.Event `json:"tool_events,omitempty"`
}

// AttemptRecord ties one retry-envelope attempt to its role.
type AttemptRecord struct {
	Role string `json:"role"`
	agent.Attempt
}

// Run is the accumulated structured record serialized to artifacts.json.
type Run struct {
	RunDir          string            `json:"run_dir"`
	StartedAt       string            `json:"started_at"`
	EndedAt         string            `json:"ended_at,omitempty"`
	TaskSource      string            `json:"task_source,omitempty"`
	BacklogIncluded bool              `json:"backlog_included"`
	Models          map[string]string `json:"models,omitempty"`
	MaxTurns        map[string]int    `json:"max_turns,omitempty"`
	PlanPath        string            `json:"plan_path,omitempty"`
	Rounds          []RoundRecord     `json:"rounds"`
	Attempts        []AttemptRecord   `json:"attempts,omitempty"`
	FinalVerdict    string            `json:"final_verdict,omitempty"`
	FinalAction     string            `json:"final_action,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Stuck           bool              `json:"stuck,omitempty"`
	DocsUpdated     bool              `json:"docs_updated,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Ledger owns one run directory and its accumulated Run record.
type Ledger struct {
	mu      sync.Mutex
	dir     string
	run     Run
	written map[string]bool
	log     *logging.Logger
}

// Open creates reports/run-<timestamp> under reportsRoot and starts the run
// record. The timestamp format sorts lexicographically.
func Open(reportsRoot string, log *logging.Logger) (*Ledger, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if err := os.MkdirAll(reportsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports root: %w", err)
	}

	now := time.Now()
	dir := filepath.Join(reportsRoot, "run-"+now.Format("20060102-150405"))
	for i := 2; ; i++ {
		if err := os.Mkdir(dir, 0o755); err == nil {
			break
		} else if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
		// Two runs in the same second: disambiguate rather than share a dir.
		dir = filepath.Join(reportsRoot, fmt.Sprintf("run-%s.%d", now.Format("20060102-150405"), i))
	}

	l := &Ledger{
		dir:     dir,
		written: make(map[string]bool),
		log:     log,
	}
	l.run = Run{
		RunDir:    dir,
		StartedAt: now.Format(time.RFC3339),
		Rounds:    []RoundRecord{},
	}
	log.Info("opened run ledger", zap.String("dir", dir))
	return l, nil
}

// Dir returns the run directory path.
func (l *Ledger) Dir() string {
	return l.dir
}

// WritePlan persists the planner output. Write-once.
func (l *Ledger) WritePlan(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writeOnce(planFilename, strings.TrimSpace(text)+"\n"); err != nil {
		return err
	}
	l.run.PlanPath = filepath.Join(l.dir, planFilename)
	return nil
}

// AppendImplementer appends one round's implementer report under a round
// header.
func (l *Ledger) AppendImplementer(round int, text string) error {
	return l.appendRound(implementerFilename, round, text)
}

// AppendReviewer appends one round's reviewer report under a round header.
func (l *Ledger) AppendReviewer(round int, text string) error {
	return l.appendRound(reviewerFilename, round, text)
}

// WriteDiff persists the full untruncated diff for a round. Write-once per
// round.
func (l *Ledger) WriteDiff(round int, text string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := fmt.Sprintf("diff_round_%d.patch", round)
	if err := l.writeOnce(name, text); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, name), nil
}

// WriteTechWriter persists the tech writer output. Write-once.
func (l *Ledger) WriteTechWriter(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writeOnce(techWriterFilename, strings.TrimSpace(text)+"\n"); err != nil {
		return err
	}
	l.run.DocsUpdated = true
	return nil
}

// SetTask records where the task text came from.
func (l *Ledger) SetTask(source string, backlogIncluded bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.TaskSource = source
	l.run.BacklogIncluded = backlogIncluded
}

// SetModels records the per-role model and turn-ceiling configuration.
func (l *Ledger) SetModels(models map[string]string, maxTurns map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Models = models
	l.run.MaxTurns = maxTurns
}

// AddRound appends one round record. Rounds are append-only.
func (l *Ledger) AddRound(rec RoundRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Rounds = append(l.run.Rounds, rec)
	if rec.Stuck {
		l.run.Stuck = true
	}
}

// RecordAttempt implements agent.AttemptRecorder.
func (l *Ledger) RecordAttempt(role agent.Role, attempt agent.Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Attempts = append(l.run.Attempts, AttemptRecord{Role: string(role), Attempt: attempt})
}

// SetFinal records the run outcome. Reason is optional ("max_rounds",
// "stuck", or a failure description).
func (l *Ledger) SetFinal(verdict, action, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.FinalVerdict = verdict
	l.run.FinalAction = action
	l.run.Reason = reason
}

// SetError records a run-ending failure.
func (l *Ledger) SetError(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.Error = msg
}

// Snapshot returns a copy of the current run record.
func (l *Ledger) Snapshot() Run {
	l.mu.Lock()
	defer l.mu.Unlock()
	run := l.run
	run.Rounds = append([]RoundRecord(nil), l.run.Rounds...)
	run.Attempts = append([]AttemptRecord(nil), l.run.Attempts...)
	return run
}

// WriteArtifacts serializes the run record to artifacts.json with sorted
// keys and indentation. Unlike the text artifacts it may be rewritten as the
// run progresses, so a crash mid-run still leaves a usable record.
func (l *Ledger) WriteArtifacts() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.EndedAt = time.Now().Format(time.RFC3339)

	// Round-trip through a map so keys serialize sorted.
	raw, err := json.Marshal(l.run)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("failed to normalize run record: %w", err)
	}
	data, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	path := filepath.Join(l.dir, artifactsFilename)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write artifacts: %w", err)
	}
	return nil
}

func (l *Ledger) writeOnce(name, content string) error {
	if l.written[name] {
		return fmt.Errorf("artifact %s already written", name)
	}
	if err := os.WriteFile(filepath.Join(l.dir, name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	l.written[name] = true
	return nil
}

func (l *Ledger) appendRound(name string, round int, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "=== ROUND %d ===\n%s\n\n", round, strings.TrimSpace(text)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	return nil
}
