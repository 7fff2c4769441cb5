package evidence

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskcrew/internal/logging"
	"github.com/fyrsmithlabs/taskcrew/internal/prompts"
)

// Bundle is the evidence for one review round. DiffFull is kept untruncated
// for the ledger; DiffPrompt and RedFlags are capped for the reviewer prompt.
type Bundle struct {
	DiffFull   string
	DiffPrompt string
	RedFlags   string
	Topology   Topology
	Findings   []Finding
}

// DiffEmpty reports whether the diff block carries no changes.
func (b Bundle) DiffEmpty() bool {
	return strings.TrimSpace(b.DiffFull) == NoneMarker || strings.TrimSpace(b.DiffFull) == ""
}

// Assembler derives a Bundle from the current workspace state.
type Assembler struct {
	workspace   string
	diff        DiffProvider
	scanner     *Scanner
	diffMax     int
	redflagsMax int
	log         *logging.Logger
}

// NewAssembler wires a diff provider and a red-flag scanner with their
// prompt-facing caps.
func NewAssembler(workspace string, diff DiffProvider, scanner *Scanner, diffMax, redflagsMax int, log *logging.Logger) *Assembler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Assembler{
		workspace:   workspace,
		diff:        diff,
		scanner:     scanner,
		diffMax:     diffMax,
		redflagsMax: redflagsMax,
		log:         log,
	}
}

// Collect computes both evidence blocks. It reads the workspace, never
// mutates it; diff failures degrade to NoneMarker so a broken git setup
// cannot sink the round.
func (a *Assembler) Collect(ctx context.Context) (Bundle, error) {
	diff, err := a.diff.Collect(ctx)
	if err != nil {
		a.log.Warn("diff collection failed, proceeding without diff evidence",
			zap.String("workspace", a.workspace),
			zap.Error(err),
		)
		diff = Diff{Text: NoneMarker, Topology: TopologyNone}
	}

	findings, err := a.scanner.Scan(a.workspace)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to scan workspace for red flags: %w", err)
	}

	bundle := Bundle{
		DiffFull:   diff.Text,
		DiffPrompt: diff.Text,
		RedFlags:   Render(findings),
		Topology:   diff.Topology,
		Findings:   findings,
	}
	if !diff.Empty() {
		bundle.DiffPrompt = prompts.Truncate(diff.Text, a.diffMax, "diff")
	}
	if strings.TrimSpace(bundle.RedFlags) != NoneMarker {
		bundle.RedFlags = prompts.Truncate(bundle.RedFlags, a.redflagsMax, "red flags")
	}

	a.log.Debug("evidence assembled",
		zap.String("topology", string(bundle.Topology)),
		zap.Int("diff_bytes", len(bundle.DiffFull)),
		zap.Int("red_flags", len(findings)),
	)
	return bundle, nil
}
