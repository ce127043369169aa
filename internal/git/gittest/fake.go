// Package gittest provides a scriptable in-memory git.Runner for
// tests.
package gittest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/stoneforge/stoneforge/internal/git"
)

// Call records one git operation issued against the fake.
type Call struct {
	// Dir is the directory the operation ran in.
	Dir string
	// Op is the method name.
	Op string
	// Args are the operation's arguments.
	Args []string
}

// String renders the call for assertions.
func (c Call) String() string {
	return c.Op + " " + strings.Join(c.Args, " ")
}

// state is shared between a fake and its scoped children.
type state struct {
	mu sync.Mutex

	calls     []Call
	branches  map[string]bool
	worktrees map[string]string // path -> branch ("" means detached)
	remote    bool

	// Scripted results.
	conflictFiles []string
	aheadCount    int
	originHead    string
	headHash      string
	errs          map[string]error
}

// FakeRunner implements git.Runner with scriptable behavior.
type FakeRunner struct {
	dir string
	st  *state
}

// NewFake creates a fake runner rooted at dir with an origin remote
// and a main branch.
func NewFake(dir string) *FakeRunner {
	return &FakeRunner{
		dir: dir,
		st: &state{
			branches:   map[string]bool{"main": true},
			worktrees:  map[string]string{},
			remote:     true,
			originHead: "refs/remotes/origin/main",
			headHash:   "abc123",
			errs:       map[string]error{},
		},
	}
}

// SetRemote toggles whether the fake reports an origin remote.
func (f *FakeRunner) SetRemote(has bool) { f.st.remote = has }

// SetConflicts scripts the conflicted paths MergeTreeConflicts
// reports.
func (f *FakeRunner) SetConflicts(files ...string) { f.st.conflictFiles = files }

// SetAheadCount scripts the commit count RevListCount reports.
func (f *FakeRunner) SetAheadCount(n int) { f.st.aheadCount = n }

// AddBranch registers a local branch.
func (f *FakeRunner) AddBranch(name string) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.branches[name] = true
}

// AddWorktree registers a worktree without going through the runner.
func (f *FakeRunner) AddWorktree(path, branch string) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.worktrees[path] = branch
}

// FailOn injects an error for the given method name.
func (f *FakeRunner) FailOn(op string, err error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.errs[op] = err
}

// Calls returns all recorded calls.
func (f *FakeRunner) Calls() []Call {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	out := make([]Call, len(f.st.calls))
	copy(out, f.st.calls)
	return out
}

// CallsTo returns the recorded calls for one method.
func (f *FakeRunner) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeRunner) record(op string, args ...string) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.calls = append(f.st.calls, Call{Dir: f.dir, Op: op, Args: args})
	return f.st.errs[op]
}

// Dir implements git.Runner.
func (f *FakeRunner) Dir() string { return f.dir }

// Scoped implements git.Runner; the child shares the fake's state.
func (f *FakeRunner) Scoped(dir string) git.Runner {
	return &FakeRunner{dir: dir, st: f.st}
}

// Run implements git.Runner.
func (f *FakeRunner) Run(args ...string) (string, error) {
	return "", f.record("Run", args...)
}

// CurrentBranch implements git.Runner. For a scoped runner it
// reports the branch of the matching registered worktree.
func (f *FakeRunner) CurrentBranch() (string, error) {
	if err := f.record("CurrentBranch"); err != nil {
		return "", err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if branch, ok := f.st.worktrees[f.dir]; ok {
		if branch == "" {
			return "HEAD", nil
		}
		return branch, nil
	}
	return "main", nil
}

// CreateBranch implements git.Runner.
func (f *FakeRunner) CreateBranch(name string) error {
	if err := f.record("CreateBranch", name); err != nil {
		return err
	}
	f.AddBranch(name)
	return nil
}

// BranchExists implements git.Runner.
func (f *FakeRunner) BranchExists(name string) (bool, error) {
	if err := f.record("BranchExists", name); err != nil {
		return false, err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.st.branches[name], nil
}

// DeleteBranch implements git.Runner.
func (f *FakeRunner) DeleteBranch(name string) error {
	if err := f.record("DeleteBranch", name); err != nil {
		return err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if !f.st.branches[name] {
		return fmt.Errorf("branch %s not found", name)
	}
	delete(f.st.branches, name)
	return nil
}

// HasRemote implements git.Runner.
func (f *FakeRunner) HasRemote() (bool, error) {
	if err := f.record("HasRemote"); err != nil {
		return false, err
	}
	return f.st.remote, nil
}

// Fetch implements git.Runner.
func (f *FakeRunner) Fetch() error {
	return f.record("Fetch")
}

// FetchBranch implements git.Runner.
func (f *FakeRunner) FetchBranch(branch string) error {
	return f.record("FetchBranch", branch)
}

// Push implements git.Runner.
func (f *FakeRunner) Push(refspec string) error {
	return f.record("Push", refspec)
}

// DeleteRemoteBranch implements git.Runner.
func (f *FakeRunner) DeleteRemoteBranch(name string) error {
	return f.record("DeleteRemoteBranch", name)
}

// MergeBase implements git.Runner.
func (f *FakeRunner) MergeBase(ref1, ref2 string) (string, error) {
	if err := f.record("MergeBase", ref1, ref2); err != nil {
		return "", err
	}
	return "base123", nil
}

// MergeTreeConflicts implements git.Runner.
func (f *FakeRunner) MergeTreeConflicts(base, ref1, ref2 string) ([]string, error) {
	if err := f.record("MergeTreeConflicts", base, ref1, ref2); err != nil {
		return nil, err
	}
	return f.st.conflictFiles, nil
}

// MergeSquash implements git.Runner.
func (f *FakeRunner) MergeSquash(ref string) error {
	return f.record("MergeSquash", ref)
}

// Merge implements git.Runner.
func (f *FakeRunner) Merge(ref string, message string) error {
	return f.record("Merge", ref, message)
}

// Commit implements git.Runner.
func (f *FakeRunner) Commit(message string) error {
	return f.record("Commit", message)
}

// RevListCount implements git.Runner.
func (f *FakeRunner) RevListCount(ref1, ref2 string) (int, error) {
	if err := f.record("RevListCount", ref1, ref2); err != nil {
		return 0, err
	}
	return f.st.aheadCount, nil
}

// WorktreeAddNewBranch implements git.Runner.
func (f *FakeRunner) WorktreeAddNewBranch(path, branch, startPoint string) error {
	if err := f.record("WorktreeAddNewBranch", path, branch, startPoint); err != nil {
		return err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.branches[branch] = true
	f.st.worktrees[path] = branch
	return nil
}

// WorktreeAdd implements git.Runner.
func (f *FakeRunner) WorktreeAdd(path, branch string) error {
	if err := f.record("WorktreeAdd", path, branch); err != nil {
		return err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.worktrees[path] = branch
	return nil
}

// WorktreeAddDetach implements git.Runner.
func (f *FakeRunner) WorktreeAddDetach(path, ref string) error {
	if err := f.record("WorktreeAddDetach", path, ref); err != nil {
		return err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.worktrees[path] = ""
	return nil
}

// WorktreeRemove implements git.Runner.
func (f *FakeRunner) WorktreeRemove(path string, force bool) error {
	if err := f.record("WorktreeRemove", path, fmt.Sprintf("force=%t", force)); err != nil {
		return err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if _, ok := f.st.worktrees[path]; !ok {
		return fmt.Errorf("worktree %s not found", path)
	}
	delete(f.st.worktrees, path)
	return nil
}

// WorktreeList implements git.Runner.
func (f *FakeRunner) WorktreeList() ([]string, error) {
	if err := f.record("WorktreeList"); err != nil {
		return nil, err
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []string
	for path := range f.st.worktrees {
		out = append(out, path)
	}
	return out, nil
}

// WorktreePrune implements git.Runner.
func (f *FakeRunner) WorktreePrune() error {
	return f.record("WorktreePrune")
}

// RevParse implements git.Runner.
func (f *FakeRunner) RevParse(ref string) (string, error) {
	if err := f.record("RevParse", ref); err != nil {
		return "", err
	}
	return f.st.headHash, nil
}

// SymbolicRef implements git.Runner.
func (f *FakeRunner) SymbolicRef(name string) (string, error) {
	if err := f.record("SymbolicRef", name); err != nil {
		return "", err
	}
	if name == "refs/remotes/origin/HEAD" && f.st.originHead != "" {
		return f.st.originHead, nil
	}
	return "", fmt.Errorf("no symbolic ref %s", name)
}

// Status implements git.Runner.
func (f *FakeRunner) Status() (string, error) {
	if err := f.record("Status"); err != nil {
		return "", err
	}
	return "", nil
}

// Verify FakeRunner implements git.Runner at compile time.
var _ git.Runner = (*FakeRunner)(nil)
