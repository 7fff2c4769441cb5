package evidence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskcrew/internal/logging"
)

// NoneMarker stands in for an empty evidence block so prompt sections are
// never blank.
const NoneMarker = "- None"

// Diff is the version-control evidence for one round.
type Diff struct {
	// Text is the full untruncated diff, or NoneMarker when nothing changed.
	Text string
	// Topology records how the diff was computed.
	Topology Topology
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return strings.TrimSpace(d.Text) == NoneMarker || strings.TrimSpace(d.Text) == ""
}

// DiffProvider produces the diff evidence for the current workspace state.
type DiffProvider interface {
	Collect(ctx context.Context) (Diff, error)
}

// GitDiff collects workspace changes through the git CLI. Topology detection
// uses go-git; rendering the actual patches stays with the CLI because
// worktree-versus-HEAD unified diffs are its native output.
type GitDiff struct {
	workspace string
	log       *logging.Logger
}

// NewGitDiff builds a provider for the given workspace directory.
func NewGitDiff(workspace string, log *logging.Logger) *GitDiff {
	if log == nil {
		log = logging.NewNop()
	}
	return &GitDiff{workspace: workspace, log: log}
}

// Collect detects the topology and assembles status, tracked changes, and
// per-untracked-file patches into one annotated diff text. A workspace
// outside version control yields NoneMarker, not an error.
func (g *GitDiff) Collect(ctx context.Context) (Diff, error) {
	topo, root, rel, err := DetectTopology(g.workspace)
	if err != nil {
		return Diff{}, fmt.Errorf("failed to detect repository topology: %w", err)
	}
	if topo == TopologyNone {
		g.log.Debug("workspace is not under version control",
			zap.String("workspace", g.workspace),
		)
		return Diff{Text: NoneMarker, Topology: TopologyNone}, nil
	}

	var parts []string

	status, err := g.run(ctx, root, 10*time.Second, "status", "--porcelain", "--", rel)
	if err == nil && strings.TrimSpace(status) != "" {
		parts = append(parts, "# GIT STATUS (workspace)\n"+strings.TrimRight(status, "\n"))
	}

	tracked, err := g.run(ctx, root, 30*time.Second, "diff", "--no-color", "--", rel)
	if err == nil && strings.TrimSpace(tracked) != "" {
		parts = append(parts, "# GIT DIFF (workspace)\n"+strings.TrimRight(tracked, "\n"))
	}

	untracked, err := g.run(ctx, root, 10*time.Second, "ls-files", "--others", "--exclude-standard", "--", rel)
	if err == nil {
		files := splitLines(untracked)
		sort.Strings(files)
		for _, file := range files {
			// Exit status 1 just means the files differ; the patch is on stdout.
			patch, _ := g.run(ctx, root, 30*time.Second,
				"diff", "--no-color", "--no-index", "--", nullDevice(), file)
			if strings.TrimSpace(patch) != "" {
				parts = append(parts, "# NEW FILE (untracked)\n"+strings.TrimRight(patch, "\n"))
			}
		}
	}

	if len(parts) == 0 {
		return Diff{Text: NoneMarker, Topology: topo}, nil
	}
	return Diff{Text: strings.Join(parts, "\n\n") + "\n", Topology: topo}, nil
}

// run executes one git subcommand and returns its stdout. Non-zero exits
// from `git diff` family commands still produce usable stdout, so output is
// returned alongside the error.
func (g *GitDiff) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		g.log.Debug("git command ended non-zero",
			zap.Strings("args", args),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err),
		)
	}
	return stdout.String(), err
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func nullDevice() string {
	if _, err := os.Stat("/dev/null"); err == nil {
		return "/dev/null"
	}
	return "NUL"
}
