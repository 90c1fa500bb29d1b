// Package workspace detects the git context a session runs in. The workspace
// root becomes the session's working directory and the branch and commit are
// attached to session diagnostics.
package workspace

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// Info describes the workspace a session was started from.
type Info struct {
	// Root is the repository worktree root, or the starting path when not
	// inside a repository.
	Root string
	// Branch is the checked-out branch, or "detached" for a detached HEAD.
	// Empty when not a repository or the repository has no commits.
	Branch string
	// CommitSHA is the HEAD commit hash. Empty before the first commit.
	CommitSHA string
	// IsRepo reports whether path was inside a git repository.
	IsRepo bool
}

// Detect inspects path for an enclosing git repository. It never fails:
// outside a repository it returns Info{Root: path}.
func Detect(path string) Info {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	info := Info{Root: abs}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return info
	}
	info.IsRepo = true

	if wt, err := repo.Worktree(); err == nil {
		info.Root = wt.Filesystem.Root()
	}

	head, err := repo.Head()
	if err != nil {
		// Repository with no commits yet.
		return info
	}
	info.CommitSHA = head.Hash().String()
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	} else {
		info.Branch = "detached"
	}
	return info
}

// Describe renders the workspace for status output.
func (i Info) Describe() string {
	if !i.IsRepo {
		return fmt.Sprintf("%s (not a git repository)", i.Root)
	}
	if i.Branch == "" {
		return fmt.Sprintf("%s (empty repository)", i.Root)
	}
	short := i.CommitSHA
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s (%s @ %s)", i.Root, i.Branch, short)
}
