// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateBranch creates a new branch with the given name.
	CreateBranch(name string) error
	// BranchExists returns true if the local branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified local branch (force delete).
	DeleteBranch(name string) error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// HasRemote returns true if the repository has an origin remote.
	HasRemote() (bool, error)
	// Fetch fetches from origin.
	Fetch() error
	// FetchBranch updates the local branch ref from origin without a
	// checkout (git fetch origin branch:branch).
	FetchBranch(branch string) error
	// Push pushes the given refspec to origin.
	Push(refspec string) error
	// DeleteRemoteBranch deletes the branch on origin.
	DeleteRemoteBranch(name string) error
}

// MergeOperations defines the interface for merge detection and
// execution.
type MergeOperations interface {
	// MergeBase returns the common ancestor of two refs.
	MergeBase(ref1, ref2 string) (string, error)
	// MergeTreeConflicts performs an in-memory merge of the two refs
	// and returns the conflicted paths without touching the working
	// copy (git merge-tree --write-tree).
	MergeTreeConflicts(base, ref1, ref2 string) ([]string, error)
	// MergeSquash squashes the given ref onto the current HEAD,
	// leaving the result staged (git merge --squash).
	MergeSquash(ref string) error
	// Merge merges the given ref into the current HEAD with a merge
	// commit (git merge --no-ff).
	Merge(ref string, message string) error
	// Commit creates a commit from the staged changes.
	Commit(message string) error
	// RevListCount returns the number of commits in ref2 that are not
	// in ref1 (git rev-list --count ref1..ref2).
	RevListCount(ref1, ref2 string) (int, error)
}

// WorktreeOperations defines the interface for git worktree
// operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree at path with a new
	// branch (git worktree add -b).
	WorktreeAddNewBranch(path, branch, startPoint string) error
	// WorktreeAdd creates a worktree at path checked out to an
	// existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeAddDetach creates a worktree at path with a detached
	// checkout of the given ref.
	WorktreeAddDetach(path, ref string) error
	// WorktreeRemove removes the worktree at the given path,
	// optionally with force.
	WorktreeRemove(path string, force bool) error
	// WorktreeList returns the paths of all worktrees.
	WorktreeList() ([]string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// PlumbingOperations defines low-level read operations.
type PlumbingOperations interface {
	// RevParse resolves a ref to a commit hash.
	RevParse(ref string) (string, error)
	// SymbolicRef reads a symbolic ref such as
	// refs/remotes/origin/HEAD.
	SymbolicRef(name string) (string, error)
	// Status returns the output of git status --porcelain.
	Status() (string, error)
}

// Runner defines the complete interface for git operations. Consumers
// should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	RemoteOperations
	MergeOperations
	WorktreeOperations
	PlumbingOperations
	// Dir returns the directory the runner operates in.
	Dir() string
	// Scoped returns a Runner rooted at another directory, sharing
	// the same execution mechanism. Used to run plumbing inside a
	// worktree.
	Scoped(dir string) Runner
	// Run executes an arbitrary git command with the given arguments.
	// Returns the command output and an error if the command fails.
	Run(args ...string) (string, error)
}
