package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskcrew/internal/agent"
	"github.com/fyrsmithlabs/taskcrew/internal/config"
	"github.com/fyrsmithlabs/taskcrew/internal/evidence"
	"github.com/fyrsmithlabs/taskcrew/internal/ledger"
	"github.com/fyrsmithlabs/taskcrew/internal/logging"
	"github.com/fyrsmithlabs/taskcrew/internal/prompts"
	"github.com/fyrsmithlabs/taskcrew/internal/review"
	"github.com/fyrsmithlabs/taskcrew/internal/tools"
)

// scriptedInvoker replays per-role response queues and records prompts.
type scriptedInvoker struct {
	responses map[agent.Role][]string
	errs      map[agent.Role][]error
	prompts   map[agent.Role][]string
	onInvoke  func(role agent.Role)
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		responses: map[agent.Role][]string{},
		errs:      map[agent.Role][]error{},
		prompts:   map[agent.Role][]string{},
	}
}

func (s *scriptedInvoker) push(role agent.Role, text string) {
	s.responses[role] = append(s.responses[role], text)
	s.errs[role] = append(s.errs[role], nil)
}

func (s *scriptedInvoker) pushErr(role agent.Role, err error) {
	s.responses[role] = append(s.responses[role], "")
	s.errs[role] = append(s.errs[role], err)
}

func (s *scriptedInvoker) Invoke(_ context.Context, role agent.Role, prompt string, _ int) (string, error) {
	s.prompts[role] = append(s.prompts[role], prompt)
	if s.onInvoke != nil {
		s.onInvoke(role)
	}
	if len(s.responses[role]) == 0 {
		return "", fmt.Errorf("no scripted response for role %s", role)
	}
	text, err := s.responses[role][0], s.errs[role][0]
	s.responses[role] = s.responses[role][1:]
	s.errs[role] = s.errs[role][1:]
	return text, err
}

type testEnv struct {
	cfg     *config.Config
	invoker *scriptedInvoker
	led     *ledger.Ledger
	broker  *ToolBroker
	pipe    *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	project := filepath.Join(root, "project")
	workspace := filepath.Join(root, "workspace")
	require.NoError(t, os.MkdirAll(filepath.Join(project, "tasks"), 0o755))
	require.NoError(t, os.MkdirAll(workspace, 0o755))

	cfg := config.Default()
	cfg.Paths.Project = project
	cfg.Paths.Workspace = workspace
	cfg.Pipeline.MaxRounds = 3
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = config.Duration(time.Millisecond)
	cfg.Retry.MaxDelay = config.Duration(4 * time.Millisecond)

	led, err := ledger.Open(cfg.ReportsRoot(), logging.NewNop())
	require.NoError(t, err)

	scanner, err := evidence.NewScanner(nil, nil)
	require.NoError(t, err)
	assembler := evidence.NewAssembler(workspace,
		staticDiffProvider{}, scanner,
		cfg.Review.DiffMaxChars, cfg.Review.RedflagsMaxChars, logging.NewNop())

	invoker := newScriptedInvoker()
	broker := NewToolBroker(workspace, project, cfg.ReportsRoot(), time.Second)
	pipe := New(&cfg, invoker, assembler, broker, led, logging.NewNop())

	return &testEnv{cfg: &cfg, invoker: invoker, led: led, broker: broker, pipe: pipe}
}

type staticDiffProvider struct{}

func (staticDiffProvider) Collect(context.Context) (evidence.Diff, error) {
	return evidence.Diff{Text: evidence.NoneMarker, Topology: evidence.TopologyNone}, nil
}

func (e *testEnv) writeTask(t *testing.T, text string) {
	t.Helper()
	path := filepath.Join(e.cfg.Paths.Project, "tasks", "current.md")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

const passReview = "VERDICT: PASS\nACTION: CONTINUE\nFIXES:\n- None\n"

func implReport(result string) string {
	return "REPORT:\nSUMMARY:\n- did work\nRESULT: " + result + "\n"
}

func TestRunPassesFirstRound(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Build the widget.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- build it\nACCEPTANCE:\n- works\n")
	env.invoker.push(agent.RoleImplementer, implReport("PASS"))
	env.invoker.push(agent.RoleReviewer, passReview)
	env.invoker.push(agent.RoleTechWriter, "Updated the done record.\n")

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictPass, res.Verdict)
	assert.Equal(t, review.ActionContinue, res.Action)
	assert.True(t, res.TechWriterRan)
	assert.Equal(t, 1, res.Rounds)

	// Artifacts on disk: plan, one round of reports, one diff, tech writer.
	for _, name := range []string{"plan.txt", "implementer.txt", "reviewer.txt", "diff_round_1.patch", "tech_writer.txt", "artifacts.json"} {
		_, err := os.Stat(filepath.Join(res.RunDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunFixupLoopConverges(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Fix the bug.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- fix\n")
	env.invoker.push(agent.RoleImplementer, implReport("FAIL"))
	env.invoker.push(agent.RoleReviewer, "VERDICT: FAIL\nACTION: CONTINUE\nFIXES:\n- handle nil input\n")
	env.invoker.push(agent.RoleImplementer, implReport("PASS"))
	env.invoker.push(agent.RoleReviewer, passReview)
	env.invoker.push(agent.RoleTechWriter, "docs done\n")

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictPass, res.Verdict)
	assert.Equal(t, 2, res.Rounds)

	// Round 2's implementer prompt carries round 1's fixes.
	secondPrompt := env.invoker.prompts[agent.RoleImplementer][1]
	assert.Contains(t, secondPrompt, "REVIEW_FIXES:\n- handle nil input")

	run := env.led.Snapshot()
	require.Len(t, run.Rounds, 2)
	assert.Equal(t, "FAIL", run.Rounds[0].Verdict)
	assert.Equal(t, "PASS", run.Rounds[1].Verdict)
	assert.Equal(t, "FAIL", run.Rounds[0].ImplementerResult)
	assert.Equal(t, "PASS", run.Rounds[1].ImplementerResult)
}

func TestRunScenarioAPassBeatsContinue(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	env.invoker.push(agent.RoleImplementer, implReport("PASS"))
	env.invoker.push(agent.RoleReviewer, "VERDICT: PASS\nACTION: CONTINUE\n")
	env.invoker.push(agent.RoleTechWriter, "noted\n")

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictPass, res.Verdict)
	assert.Equal(t, 1, res.Rounds)
}

func TestRunScenarioBDemoTaskSubstitution(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "# Current task\n\n\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- demo\n")
	env.invoker.push(agent.RoleImplementer, implReport("PASS"))
	env.invoker.push(agent.RoleReviewer, passReview)
	env.invoker.push(agent.RoleTechWriter, "done\n")

	_, err := env.pipe.Run(context.Background())
	require.NoError(t, err)

	plannerPrompt := env.invoker.prompts[agent.RolePlanner][0]
	assert.Contains(t, plannerPrompt, strings.TrimSpace(strings.SplitN(prompts.DemoTask, "\n", 2)[0]))
	assert.Equal(t, "demo", env.led.Snapshot().TaskSource)
}

func TestRunStuckReviewerForcesSkip(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	same := "VERDICT: FAIL\nACTION: CONTINUE\nFIXES:\n- same complaint\n"
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	env.invoker.push(agent.RoleImplementer, implReport("FAIL"))
	env.invoker.push(agent.RoleReviewer, same)
	env.invoker.push(agent.RoleImplementer, implReport("FAIL"))
	env.invoker.push(agent.RoleReviewer, same)

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.Equal(t, review.ActionSkip, res.Action)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "stuck", res.Reason)
	assert.False(t, res.TechWriterRan)

	run := env.led.Snapshot()
	assert.True(t, run.Stuck)
	assert.True(t, run.Rounds[1].Stuck)
}

func TestRunRoundCeilingForcesSkip(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	for i := 1; i <= 3; i++ {
		env.invoker.push(agent.RoleImplementer, implReport("FAIL"))
		env.invoker.push(agent.RoleReviewer,
			fmt.Sprintf("VERDICT: FAIL\nACTION: CONTINUE\nFIXES:\n- attempt %d\n", i))
	}

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.Equal(t, review.ActionSkip, res.Action)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, "max_rounds", res.Reason)
}

func TestRunReviewerSkipEndsLoop(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	env.invoker.push(agent.RoleImplementer, implReport("FAIL"))
	env.invoker.push(agent.RoleReviewer,
		"VERDICT: FAIL\nACTION: SKIP\nFIXES:\n- pip install pytest && pytest\n")

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.Equal(t, review.ActionSkip, res.Action)
	assert.Equal(t, 1, res.Rounds)
}

func TestRunDocsRequestedRunsTechWriterOnFail(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	env.invoker.push(agent.RoleImplementer, implReport("FAIL"))
	env.invoker.push(agent.RoleReviewer,
		"VERDICT: FAIL\nACTION: SKIP\nFIXES:\nDOCS: record the decision to defer this\n")
	env.invoker.push(agent.RoleTechWriter, "Recorded the deferral.\n")

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.True(t, res.TechWriterRan)
	assert.True(t, env.led.Snapshot().DocsUpdated)
}

func TestRunScenarioDTransientExhaustionEndsRun(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	transient := fmt.Errorf("%w: status code: 503", agent.ErrTransient)
	for i := 0; i < 3; i++ {
		env.invoker.pushErr(agent.RoleImplementer, transient)
	}

	res, err := env.pipe.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrTransient)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.Equal(t, review.ActionSkip, res.Action)

	// Exactly three attempt records for the implementer call.
	var implAttempts int
	for _, a := range env.led.Snapshot().Attempts {
		if a.Role == string(agent.RoleImplementer) {
			implAttempts++
		}
	}
	assert.Equal(t, 3, implAttempts)
	assert.Contains(t, res.Reason, "implementer failed")
}

func TestRunFatalReviewerFailureEndsRun(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	env.invoker.push(agent.RoleImplementer, implReport("PASS"))
	env.invoker.pushErr(agent.RoleReviewer, &agent.TurnsExceededError{Role: agent.RoleReviewer, MaxTurns: 10})

	res, err := env.pipe.Run(context.Background())
	require.Error(t, err)
	var turns *agent.TurnsExceededError
	assert.ErrorAs(t, err, &turns)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.Contains(t, res.Reason, "reviewer failed")
}

func TestRunPlannerFailureEndsRun(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.pushErr(agent.RolePlanner, errors.New("status code: 401: bad key"))

	res, err := env.pipe.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.Equal(t, review.ActionSkip, res.Action)

	// Artifacts still land on disk for a failed run.
	_, statErr := os.Stat(filepath.Join(res.RunDir, "artifacts.json"))
	assert.NoError(t, statErr)
}

func TestRunTechWriterFailureTurnsPassIntoFailSkip(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")
	env.invoker.push(agent.RoleImplementer, implReport("PASS"))
	env.invoker.push(agent.RoleReviewer, passReview)
	env.invoker.pushErr(agent.RoleTechWriter, &agent.TurnsExceededError{Role: agent.RoleTechWriter, MaxTurns: 10})

	res, err := env.pipe.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, review.VerdictFail, res.Verdict)
	assert.Equal(t, review.ActionSkip, res.Action)
	assert.False(t, res.TechWriterRan)
}

func TestRunScenarioCBlockedInstallReachesReviewer(t *testing.T) {
	env := newTestEnv(t)
	env.writeTask(t, "Task.\n")
	env.invoker.push(agent.RolePlanner, "PLAN:\n- p\n")

	// The implementer tries a dependency install through its shell tool; the
	// blocked result must still show up in the reviewer's TOOL_OUTPUTS.
	env.invoker.onInvoke = func(role agent.Role) {
		if role != agent.RoleImplementer {
			return
		}
		set := env.broker.Provide(role)
		out, err := set.Call(context.Background(), tools.ToolRunCmd, map[string]any{"cmd": "pip install pytest"})
		require.NoError(t, err)
		assert.Contains(t, out, `"returncode":126`)
	}
	env.invoker.push(agent.RoleImplementer, implReport("FAIL"))
	env.invoker.push(agent.RoleReviewer, "VERDICT: FAIL\nACTION: SKIP\nFIXES:\n- install pytest manually\n")

	res, err := env.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.VerdictFail, res.Verdict)

	reviewerPrompt := env.invoker.prompts[agent.RoleReviewer][0]
	assert.Contains(t, reviewerPrompt, "- pip install pytest -> 126 (BLOCKED)")
}

func TestStuckDetector(t *testing.T) {
	var d StuckDetector
	assert.False(t, d.Observe("VERDICT: FAIL"))
	assert.False(t, d.Observe("VERDICT: FAIL\nextra"))
	// Trim-only normalization: surrounding whitespace does not break a match.
	assert.True(t, d.Observe("  VERDICT: FAIL\nextra  \n"))
	d.Reset()
	assert.False(t, d.Observe("VERDICT: FAIL\nextra"))
}

func TestToolBrokerTechWriterCannotTouchReports(t *testing.T) {
	env := newTestEnv(t)

	set := env.broker.Provide(agent.RoleTechWriter)
	_, err := set.FS.Write(filepath.Join("reports", "run-1", "plan.txt"), "clobbered\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write-protected")

	// Docs under the project directory stay writable.
	_, err = set.FS.Write(filepath.Join("docs", "done.md"), "shipped\n")
	assert.NoError(t, err)

	// The implementer's sandbox is the workspace; it never sees reports.
	set = env.broker.Provide(agent.RoleImplementer)
	_, err = set.FS.Write("app/main.py", "print('hi')\n")
	assert.NoError(t, err)
}

func TestFormatToolOutputs(t *testing.T) {
	assert.Equal(t, "- None", formatToolOutputs(nil))

	out := formatToolOutputs([]tools.Event{
		{Tool: tools.ToolFSWrite, Path: "app/main.py", Bytes: 42},
		{Tool: tools.ToolRunCmd, Cmd: "pytest -q", ReturnCode: 1, Stderr: "assertion failed"},
		{Tool: tools.ToolRunCmd, Cmd: "pip install pytest", ReturnCode: 126, Blocked: true},
		{Tool: tools.ToolFSRead, Path: "README.md"},
	})
	assert.Contains(t, out, "FILES_WRITTEN:\n- app/main.py")
	assert.Contains(t, out, "- pytest -q -> 1")
	assert.Contains(t, out, "  stderr: assertion failed")
	assert.Contains(t, out, "- pip install pytest -> 126 (BLOCKED)")
	assert.NotContains(t, out, "README.md")
}
