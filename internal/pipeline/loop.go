package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskcrew/internal/agent"
	"github.com/fyrsmithlabs/taskcrew/internal/ledger"
	"github.com/fyrsmithlabs/taskcrew/internal/prompts"
	"github.com/fyrsmithlabs/taskcrew/internal/review"
)

// loopOutcome is the fixup loop's terminal state.
type loopOutcome struct {
	verdict  review.Verdict
	action   review.Action
	decision *review.Decision
	rounds   int
	stuck    bool
	reason   string
}

// runLoop drives implementer↔reviewer rounds until PASS, a forced SKIP, or
// the round ceiling. Round artifacts are fully written before the next round
// starts, so the reviewer's diff is always computed after that round's
// implementer changes.
func (p *Pipeline) runLoop(ctx context.Context, task, plan, architecture, conventions string) (loopOutcome, error) {
	p.stuck.Reset()

	var decision *review.Decision
	maxRounds := p.cfg.Pipeline.MaxRounds

	for round := 1; round <= maxRounds; round++ {
		events := p.broker.BeginRound()

		var fixes []string
		if decision != nil {
			fixes = decision.Fixes
		}
		implPrompt := prompts.Implementer(prompts.ImplementerInput{
			Task:         task,
			Plan:         plan,
			Architecture: architecture,
			Conventions:  conventions,
			Fixes:        fixes,
		}).Render()

		implText, err := p.invoke(ctx, agent.RoleImplementer, implPrompt)
		if err != nil {
			p.ledger.AddRound(ledger.RoundRecord{
				Round:      round,
				Verdict:    string(review.VerdictFail),
				Action:     string(review.ActionSkip),
				ToolEvents: events.Events(),
			})
			return loopOutcome{
				verdict: review.VerdictFail,
				action:  review.ActionSkip,
				rounds:  round,
				reason:  fmt.Sprintf("implementer failed: %v", err),
			}, err
		}
		if lerr := p.ledger.AppendImplementer(round, implText); lerr != nil {
			return failedOutcome(round, lerr), lerr
		}
		implReport := review.ParseReport(implText)

		bundle, err := p.assembler.Collect(ctx)
		if err != nil {
			return failedOutcome(round, err), err
		}
		diffPath, err := p.ledger.WriteDiff(round, bundle.DiffFull)
		if err != nil {
			return failedOutcome(round, err), err
		}

		revPrompt := prompts.Reviewer(prompts.ReviewerInput{
			Task:              task,
			Plan:              plan,
			ToolOutputs:       formatToolOutputs(events.Events()),
			Diff:              bundle.DiffPrompt,
			RedFlags:          bundle.RedFlags,
			ImplementerReport: implText,
		}).Render()

		revText, err := p.invoke(ctx, agent.RoleReviewer, revPrompt)
		if err != nil {
			p.ledger.AddRound(ledger.RoundRecord{
				Round:      round,
				Verdict:    string(review.VerdictFail),
				Action:     string(review.ActionSkip),
				DiffPath:   diffPath,
				Topology:   string(bundle.Topology),
				ToolEvents: events.Events(),
			})
			return loopOutcome{
				verdict: review.VerdictFail,
				action:  review.ActionSkip,
				rounds:  round,
				reason:  fmt.Sprintf("reviewer failed: %v", err),
			}, err
		}
		if lerr := p.ledger.AppendReviewer(round, revText); lerr != nil {
			return failedOutcome(round, lerr), lerr
		}

		d := review.Parse(revText)
		decision = &d
		stuck := p.stuck.Observe(revText)

		p.ledger.AddRound(ledger.RoundRecord{
			Round:             round,
			Verdict:           string(d.Verdict),
			Action:            string(d.Action),
			ImplementerResult: string(implReport.Result),
			ChangedFiles:      changedPaths(implReport),
			Fixes:             d.Fixes,
			DocsRequested:     d.DocsRequested,
			Stuck:             stuck,
			DiffPath:          diffPath,
			DiffIncluded:      !bundle.DiffEmpty(),
			Topology:          string(bundle.Topology),
			ToolEvents:        events.Events(),
		})

		// A parsed PASS ends the loop even when the reviewer repeats itself
		// or asks to SKIP in the same breath.
		if d.Verdict == review.VerdictPass {
			p.log.Info("round passed", zap.Int("round", round))
			return loopOutcome{
				verdict:  review.VerdictPass,
				action:   review.ActionContinue,
				decision: decision,
				rounds:   round,
			}, nil
		}

		switch {
		case stuck:
			p.log.Warn("reviewer is stuck, forcing skip", zap.Int("round", round))
			return loopOutcome{
				verdict:  review.VerdictFail,
				action:   review.ActionSkip,
				decision: decision,
				rounds:   round,
				stuck:    true,
				reason:   "stuck",
			}, nil
		case d.Action == review.ActionSkip:
			p.log.Info("reviewer requested skip", zap.Int("round", round))
			return loopOutcome{
				verdict:  review.VerdictFail,
				action:   review.ActionSkip,
				decision: decision,
				rounds:   round,
				reason:   "reviewer_skip",
			}, nil
		case round == maxRounds:
			p.log.Warn("round ceiling reached", zap.Int("rounds", maxRounds))
			return loopOutcome{
				verdict:  review.VerdictFail,
				action:   review.ActionSkip,
				decision: decision,
				rounds:   round,
				reason:   "max_rounds",
			}, nil
		}

		p.log.Info("round failed, continuing",
			zap.Int("round", round),
			zap.Int("fixes", len(d.Fixes)),
		)
	}

	// MaxRounds >= 1 is enforced by config validation; the ceiling case above
	// is the real exit.
	return loopOutcome{
		verdict: review.VerdictFail,
		action:  review.ActionSkip,
		reason:  "max_rounds",
	}, nil
}

// failedOutcome is the terminal state for a mid-round I/O failure.
func failedOutcome(round int, err error) loopOutcome {
	return loopOutcome{
		verdict: review.VerdictFail,
		action:  review.ActionSkip,
		rounds:  round,
		reason:  err.Error(),
	}
}

// changedPaths renders the implementer's claimed change list for the ledger.
func changedPaths(rep review.Report) []string {
	if len(rep.Changes) == 0 {
		return nil
	}
	out := make([]string, 0, len(rep.Changes))
	for _, c := range rep.Changes {
		out = append(out, fmt.Sprintf("%s (%s)", c.Path, c.Kind))
	}
	return out
}

// invoke runs one role call through the retry envelope with the role's
// configured policy and turn ceiling.
func (p *Pipeline) invoke(ctx context.Context, role agent.Role, prompt string) (string, error) {
	policy := agent.RetryPolicy{
		MaxAttempts: p.cfg.RetryAttemptsFor(string(role)),
		BaseDelay:   p.cfg.Retry.BaseDelay.Duration(),
		MaxDelay:    p.cfg.Retry.MaxDelay.Duration(),
	}
	maxTurns := p.cfg.MaxTurnsFor(string(role))
	return agent.Retry(ctx, role, policy, p.ledger, p.log, func(ctx context.Context) (string, error) {
		return p.invoker.Invoke(ctx, role, prompt, maxTurns)
	})
}
