// Package evidence derives the review evidence blocks from the on-disk state
// of the workspace: a version-control diff of the implementer's changes and a
// static red-flag scan for risk patterns. Both are advisory inputs to the
// reviewer, never gates by themselves.
package evidence

import (
	"errors"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
)

// Topology describes how the workspace relates to version control.
type Topology string

const (
	// TopologyStandalone means the workspace is its own repository root.
	TopologyStandalone Topology = "standalone"
	// TopologyNested means the workspace is a subdirectory of an enclosing
	// repository.
	TopologyNested Topology = "nested"
	// TopologyNone means no repository encloses the workspace.
	TopologyNone Topology = "none"
)

// DetectTopology locates the repository enclosing workspace, if any. For
// nested workspaces the returned root is the enclosing repository root and
// rel is the workspace path relative to it; for standalone workspaces root
// is the workspace itself and rel is ".".
func DetectTopology(workspace string) (topo Topology, root string, rel string, err error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return TopologyNone, "", "", err
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return TopologyNone, "", "", nil
		}
		return TopologyNone, "", "", err
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repository: nothing to diff against.
		return TopologyNone, "", "", nil
	}
	root = wt.Filesystem.Root()

	rel, err = filepath.Rel(root, abs)
	if err != nil {
		return TopologyNone, "", "", err
	}
	if rel == "." {
		return TopologyStandalone, root, ".", nil
	}
	if strings.HasPrefix(rel, "..") {
		return TopologyNone, "", "", nil
	}
	return TopologyNested, root, filepath.ToSlash(rel), nil
}
