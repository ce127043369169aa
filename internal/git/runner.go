// Package git provides an interface for git operations.
package git

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	dir string
}

// NewRunner creates a new git runner for the repository at the given
// path.
func NewRunner(dir string) *ExecRunner {
	return &ExecRunner{dir: dir}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(args ...string) error {
	_, err := r.run(args...)
	return err
}

// Dir returns the directory the runner operates in.
func (r *ExecRunner) Dir() string {
	return r.dir
}

// Scoped returns an ExecRunner rooted at another directory.
func (r *ExecRunner) Scoped(dir string) Runner {
	return &ExecRunner{dir: dir}
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranch creates a new branch with the given name.
func (r *ExecRunner) CreateBranch(name string) error {
	return r.runSilent("branch", name)
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.dir
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("git show-ref %s: %w", name, err)
	}
	return true, nil
}

// DeleteBranch deletes the specified local branch (force delete).
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// HasRemote returns true if the repository has an origin remote.
func (r *ExecRunner) HasRemote() (bool, error) {
	out, err := r.run("remote")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "origin" {
			return true, nil
		}
	}
	return false, nil
}

// Fetch fetches from origin.
func (r *ExecRunner) Fetch() error {
	return r.runSilent("fetch", "origin")
}

// FetchBranch updates the local branch ref from origin without a
// checkout.
func (r *ExecRunner) FetchBranch(branch string) error {
	return r.runSilent("fetch", "origin", branch+":"+branch)
}

// Push pushes the given refspec to origin.
func (r *ExecRunner) Push(refspec string) error {
	return r.runSilent("push", "origin", refspec)
}

// DeleteRemoteBranch deletes the branch on origin.
func (r *ExecRunner) DeleteRemoteBranch(name string) error {
	return r.runSilent("push", "origin", "--delete", name)
}

// MergeBase returns the common ancestor of two refs.
func (r *ExecRunner) MergeBase(ref1, ref2 string) (string, error) {
	return r.run("merge-base", ref1, ref2)
}

// MergeTreeConflicts performs an in-memory merge and returns the
// conflicted paths. With --write-tree, git exits 1 on conflicts and
// lists the conflicted files after the tree OID.
func (r *ExecRunner) MergeTreeConflicts(base, ref1, ref2 string) ([]string, error) {
	args := []string{"merge-tree", "--write-tree", "--name-only"}
	if base != "" {
		args = append(args, "--merge-base="+base)
	}
	args = append(args, ref1, ref2)

	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("git merge-tree: %w: %s", err, string(out))
		}
		// Exit status 1: conflicted. First line is the tree OID, the
		// rest are conflicted paths.
		var conflicts []string
		for _, line := range lines[1:] {
			line = strings.TrimSpace(line)
			if line != "" {
				conflicts = append(conflicts, line)
			}
		}
		if len(conflicts) == 0 {
			conflicts = []string{"unknown"}
		}
		return conflicts, nil
	}
	return nil, nil
}

// MergeSquash squashes the given ref onto the current HEAD, leaving
// the result staged.
func (r *ExecRunner) MergeSquash(ref string) error {
	return r.runSilent("merge", "--squash", ref)
}

// Merge merges the given ref into the current HEAD with a merge
// commit.
func (r *ExecRunner) Merge(ref string, message string) error {
	return r.runSilent("merge", "--no-ff", "-m", message, ref)
}

// Commit creates a commit from the staged changes.
func (r *ExecRunner) Commit(message string) error {
	return r.runSilent("commit", "-m", message)
}

// RevListCount returns the number of commits in ref2 that are not in
// ref1.
func (r *ExecRunner) RevListCount(ref1, ref2 string) (int, error) {
	out, err := r.run("rev-list", "--count", ref1+".."+ref2)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

// WorktreeAddNewBranch creates a worktree at path with a new branch.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch, startPoint string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	return r.runSilent(args...)
}

// WorktreeAdd creates a worktree at path checked out to an existing
// branch.
func (r *ExecRunner) WorktreeAdd(path, branch string) error {
	return r.runSilent("worktree", "add", path, branch)
}

// WorktreeAddDetach creates a worktree at path with a detached
// checkout of the given ref.
func (r *ExecRunner) WorktreeAddDetach(path, ref string) error {
	return r.runSilent("worktree", "add", "--detach", path, ref)
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	return r.runSilent(args...)
}

// WorktreeList returns the paths of all worktrees.
func (r *ExecRunner) WorktreeList() ([]string, error) {
	out, err := r.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune")
}

// RevParse resolves a ref to a commit hash.
func (r *ExecRunner) RevParse(ref string) (string, error) {
	return r.run("rev-parse", ref)
}

// SymbolicRef reads a symbolic ref.
func (r *ExecRunner) SymbolicRef(name string) (string, error) {
	return r.run("symbolic-ref", name)
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status() (string, error) {
	return r.run("status", "--porcelain")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
