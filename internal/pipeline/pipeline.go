// Package pipeline drives the run: planner once, implementer↔reviewer fixup
// rounds, then a conditional tech writer pass, with every artifact and
// attempt recorded in the run ledger.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskcrew/internal/agent"
	"github.com/fyrsmithlabs/taskcrew/internal/config"
	"github.com/fyrsmithlabs/taskcrew/internal/evidence"
	"github.com/fyrsmithlabs/taskcrew/internal/ledger"
	"github.com/fyrsmithlabs/taskcrew/internal/logging"
	"github.com/fyrsmithlabs/taskcrew/internal/prompts"
	"github.com/fyrsmithlabs/taskcrew/internal/review"
)

// Result is the process-level outcome of one run.
type Result struct {
	Verdict       review.Verdict
	Action        review.Action
	TechWriterRan bool
	Rounds        int
	RunDir        string
	Reason        string
}

// Pipeline is the top-level controller. Strictly sequential: no two roles
// run concurrently, no round overlaps another.
type Pipeline struct {
	cfg       *config.Config
	invoker   agent.Invoker
	assembler *evidence.Assembler
	broker    *ToolBroker
	ledger    *ledger.Ledger
	stuck     StuckDetector
	log       *logging.Logger
}

// New wires a pipeline. All collaborators are required except log.
func New(cfg *config.Config, invoker agent.Invoker, assembler *evidence.Assembler, broker *ToolBroker, led *ledger.Ledger, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		invoker:   invoker,
		assembler: assembler,
		broker:    broker,
		ledger:    led,
		log:       log,
	}
}

// Run executes the full pipeline. The returned Result always carries the
// final verdict/action pair; a non-nil error additionally signals a fatal
// role failure or an I/O problem that should fail the process.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	failed := Result{
		Verdict: review.VerdictFail,
		Action:  review.ActionSkip,
		RunDir:  p.ledger.Dir(),
	}

	p.ledger.SetModels(p.cfg.Models(), p.cfg.TurnCeilings())

	task, taskSource, err := p.loadTask()
	if err != nil {
		p.ledger.SetError(err.Error())
		p.finish(failed, err.Error())
		return failed, err
	}

	vision := p.loadOptional("vision.md")
	architecture := p.loadOptional("architecture.md")
	conventions := p.loadOptional("conventions.md")
	backlog := p.loadBacklog()
	p.ledger.SetTask(taskSource, strings.TrimSpace(backlog) != "")

	planPrompt := prompts.Planner(prompts.PlannerInput{
		Task:         task,
		Backlog:      backlog,
		Vision:       vision,
		Architecture: architecture,
		Conventions:  conventions,
	}).Render()

	plan, err := p.invoke(ctx, agent.RolePlanner, planPrompt)
	if err != nil {
		reason := fmt.Sprintf("planner failed: %v", err)
		p.ledger.SetError(reason)
		p.finish(failed, reason)
		failed.Reason = reason
		return failed, err
	}
	if err := p.ledger.WritePlan(plan); err != nil {
		p.ledger.SetError(err.Error())
		p.finish(failed, err.Error())
		return failed, err
	}

	outcome, loopErr := p.runLoop(ctx, task, plan, architecture, conventions)
	result := Result{
		Verdict: outcome.verdict,
		Action:  outcome.action,
		Rounds:  outcome.rounds,
		RunDir:  p.ledger.Dir(),
		Reason:  outcome.reason,
	}
	if loopErr != nil {
		p.ledger.SetError(outcome.reason)
		p.finish(result, outcome.reason)
		return result, loopErr
	}

	if p.needsTechWriter(outcome) {
		twPrompt := prompts.TechWriter(prompts.TechWriterInput{
			Task:         task,
			Plan:         plan,
			FinalVerdict: string(outcome.verdict),
			Review:       reviewRaw(outcome.decision),
			Fixes:        decisionFixes(outcome.decision),
		}).Render()

		twText, err := p.invoke(ctx, agent.RoleTechWriter, twPrompt)
		if err != nil {
			reason := fmt.Sprintf("tech writer failed: %v", err)
			result.Verdict = review.VerdictFail
			result.Action = review.ActionSkip
			result.Reason = reason
			p.ledger.SetError(reason)
			p.finish(result, reason)
			return result, err
		}
		if err := p.ledger.WriteTechWriter(twText); err != nil {
			p.ledger.SetError(err.Error())
			p.finish(result, err.Error())
			return result, err
		}
		result.TechWriterRan = true
	}

	p.finish(result, outcome.reason)
	return result, nil
}

// needsTechWriter applies the documentation gate: run on PASS, or on FAIL
// when the last round's fixes asked for documentation updates.
func (p *Pipeline) needsTechWriter(outcome loopOutcome) bool {
	if outcome.verdict == review.VerdictPass {
		return true
	}
	return outcome.decision != nil && outcome.decision.DocsRequested
}

func (p *Pipeline) finish(result Result, reason string) {
	p.ledger.SetFinal(string(result.Verdict), string(result.Action), reason)
	if err := p.ledger.WriteArtifacts(); err != nil {
		p.log.Error("failed to write artifacts", zap.Error(err))
	}
}

// loadTask reads <project>/tasks/current.md, substituting the embedded demo
// task when the file is missing or effectively empty.
func (p *Pipeline) loadTask() (text, source string, err error) {
	path := filepath.Join(p.cfg.Paths.Project, "tasks", "current.md")
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			p.log.Info("no task file, using demo task", zap.String("path", path))
			return prompts.DemoTask, "demo", nil
		}
		return "", "", fmt.Errorf("failed to read task file: %w", readErr)
	}
	if prompts.IsEffectivelyEmpty(string(data)) {
		p.log.Info("task file is effectively empty, using demo task", zap.String("path", path))
		return prompts.DemoTask, "demo", nil
	}
	return string(data), "current.md", nil
}

func (p *Pipeline) loadOptional(name string) string {
	data, err := os.ReadFile(filepath.Join(p.cfg.Paths.Project, name))
	if err != nil {
		return ""
	}
	return string(data)
}

func (p *Pipeline) loadBacklog() string {
	raw := p.loadOptional(filepath.Join("tasks", "backlog.md"))
	if prompts.IsEffectivelyEmpty(raw) {
		return ""
	}
	return prompts.Truncate(raw, p.cfg.Planner.BacklogMaxChars, "BACKLOG")
}

func reviewRaw(d *review.Decision) string {
	if d == nil {
		return ""
	}
	return d.Raw
}

func decisionFixes(d *review.Decision) []string {
	if d == nil {
		return nil
	}
	return d.Fixes
}
