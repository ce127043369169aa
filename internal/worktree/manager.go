// Package worktree manages isolated working copies of the repository.
// Each task gets its own worktree so agent edits never touch the main
// checkout.
package worktree

import (
	"os"
	"strings"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/internal/git"
)

// CreateOptions qualifies worktree creation.
type CreateOptions struct {
	// StartPoint is the ref the new branch starts from. Empty means
	// the current HEAD.
	StartPoint string
	// Detach checks out the start point detached instead of creating
	// or attaching a branch.
	Detach bool
}

// RemoveOptions qualifies worktree removal.
type RemoveOptions struct {
	// DeleteBranch deletes the local branch the worktree had checked
	// out.
	DeleteBranch bool
	// DeleteRemoteBranch also deletes the branch on origin, when a
	// remote is configured.
	DeleteRemoteBranch bool
	// Force removes the worktree even with uncommitted changes.
	Force bool
}

// Manager creates, removes and inspects worktrees.
type Manager struct {
	repoPath string
	git      git.Runner
}

// NewManager creates a manager for the repository at the given path.
func NewManager(repoPath string) *Manager {
	return &Manager{repoPath: repoPath, git: git.NewRunner(repoPath)}
}

// NewManagerWithRunner creates a manager with a custom git runner
// (for testing).
func NewManagerWithRunner(repoPath string, runner git.Runner) *Manager {
	return &Manager{repoPath: repoPath, git: runner}
}

// RepoPath returns the main repository path.
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// Git returns a runner scoped to the given worktree path, for running
// plumbing commands inside it. An empty path scopes to the main
// repository.
func (m *Manager) Git(path string) git.Runner {
	if path == "" {
		return m.git
	}
	return m.git.Scoped(path)
}

// CreateWorktree creates a worktree at path for the given branch. A
// new branch is created when it does not exist yet; with Detach the
// checkout is detached and no branch is involved.
func (m *Manager) CreateWorktree(branch, path string, opts CreateOptions) error {
	if opts.Detach {
		ref := opts.StartPoint
		if ref == "" {
			ref = "HEAD"
		}
		if err := m.git.WorktreeAddDetach(path, ref); err != nil {
			return errs.Wrap(errs.KindExternal, err, "create detached worktree at %s", path)
		}
		return nil
	}

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "check branch %s", branch)
	}
	if exists {
		if err := m.git.WorktreeAdd(path, branch); err != nil {
			return errs.Wrap(errs.KindExternal, err, "create worktree at %s for %s", path, branch)
		}
		return nil
	}
	if err := m.git.WorktreeAddNewBranch(path, branch, opts.StartPoint); err != nil {
		return errs.Wrap(errs.KindExternal, err, "create worktree at %s with new branch %s", path, branch)
	}
	return nil
}

// RemoveWorktree removes the worktree at path and optionally its
// branch, local and remote.
func (m *Manager) RemoveWorktree(path string, opts RemoveOptions) error {
	var branch string
	if opts.DeleteBranch {
		// Read the branch before the worktree disappears. A detached
		// worktree reports HEAD, which is skipped below.
		branch, _ = m.git.Scoped(path).CurrentBranch()
	}

	if err := m.git.WorktreeRemove(path, opts.Force); err != nil {
		return errs.Wrap(errs.KindExternal, err, "remove worktree %s", path)
	}
	_ = m.git.WorktreePrune()

	if opts.DeleteBranch && branch != "" && branch != "HEAD" {
		if err := m.git.DeleteBranch(branch); err != nil {
			return errs.Wrap(errs.KindExternal, err, "delete branch %s", branch)
		}
		if opts.DeleteRemoteBranch {
			hasRemote, err := m.git.HasRemote()
			if err != nil {
				return errs.Wrap(errs.KindExternal, err, "check remote")
			}
			if hasRemote {
				if err := m.git.DeleteRemoteBranch(branch); err != nil {
					return errs.Wrap(errs.KindExternal, err, "delete remote branch %s", branch)
				}
			}
		}
	}
	return nil
}

// DefaultBranch returns the repository's default branch. It prefers
// origin's HEAD, then a local main or master, then "main".
func (m *Manager) DefaultBranch() string {
	if ref, err := m.git.SymbolicRef("refs/remotes/origin/HEAD"); err == nil {
		if name, ok := strings.CutPrefix(ref, "refs/remotes/origin/"); ok && name != "" {
			return name
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if exists, err := m.git.BranchExists(candidate); err == nil && exists {
			return candidate
		}
	}
	return "main"
}

// BranchExists returns true if the local branch exists.
func (m *Manager) BranchExists(name string) (bool, error) {
	return m.git.BranchExists(name)
}

// CurrentBranch returns the branch checked out at the given worktree
// path.
func (m *Manager) CurrentBranch(path string) (string, error) {
	return m.git.Scoped(path).CurrentBranch()
}

// WorktreeExists returns true if a registered worktree exists at the
// given path.
func (m *Manager) WorktreeExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	paths, err := m.git.WorktreeList()
	if err != nil {
		return false
	}
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}
