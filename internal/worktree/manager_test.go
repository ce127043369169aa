package worktree

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/internal/git/gittest"
)

func newTestManager(t *testing.T) (*Manager, *gittest.FakeRunner) {
	t.Helper()
	fake := gittest.NewFake(t.TempDir())
	return NewManagerWithRunner(fake.Dir(), fake), fake
}

func TestCreateWorktreeNewBranch(t *testing.T) {
	m, fake := newTestManager(t)

	if err := m.CreateWorktree("agent/w1/el-abc-parser", "/tmp/wt1", CreateOptions{StartPoint: "main"}); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	calls := fake.CallsTo("WorktreeAddNewBranch")
	if len(calls) != 1 {
		t.Fatalf("WorktreeAddNewBranch calls = %d, want 1", len(calls))
	}
	want := []string{"/tmp/wt1", "agent/w1/el-abc-parser", "main"}
	for i, arg := range want {
		if calls[0].Args[i] != arg {
			t.Errorf("arg %d = %q, want %q", i, calls[0].Args[i], arg)
		}
	}
}

func TestCreateWorktreeExistingBranch(t *testing.T) {
	m, fake := newTestManager(t)
	fake.AddBranch("agent/w1/el-abc-parser")

	if err := m.CreateWorktree("agent/w1/el-abc-parser", "/tmp/wt1", CreateOptions{}); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if len(fake.CallsTo("WorktreeAddNewBranch")) != 0 {
		t.Error("created a new branch for an existing one")
	}
	if len(fake.CallsTo("WorktreeAdd")) != 1 {
		t.Error("expected a plain worktree add")
	}
}

func TestCreateWorktreeDetached(t *testing.T) {
	m, fake := newTestManager(t)

	if err := m.CreateWorktree("", "/tmp/wt1", CreateOptions{Detach: true, StartPoint: "main"}); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	calls := fake.CallsTo("WorktreeAddDetach")
	if len(calls) != 1 {
		t.Fatalf("WorktreeAddDetach calls = %d, want 1", len(calls))
	}
	if calls[0].Args[1] != "main" {
		t.Errorf("start point = %q, want main", calls[0].Args[1])
	}
	if len(fake.CallsTo("BranchExists")) != 0 {
		t.Error("detached create should not consult branches")
	}
}

func TestCreateWorktreeGitFailure(t *testing.T) {
	m, fake := newTestManager(t)
	fake.FailOn("WorktreeAddNewBranch", errors.New("disk full"))

	err := m.CreateWorktree("agent/w1/el-abc-x", "/tmp/wt1", CreateOptions{})
	if !errs.Is(err, errs.KindExternal) {
		t.Errorf("expected External error, got %v", err)
	}
}

func TestRemoveWorktreeDeletesBranches(t *testing.T) {
	m, fake := newTestManager(t)
	fake.AddBranch("agent/w1/el-abc-x")
	fake.AddWorktree("/tmp/wt1", "agent/w1/el-abc-x")

	err := m.RemoveWorktree("/tmp/wt1", RemoveOptions{
		DeleteBranch:       true,
		DeleteRemoteBranch: true,
		Force:              true,
	})
	if err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}

	if calls := fake.CallsTo("DeleteBranch"); len(calls) != 1 || calls[0].Args[0] != "agent/w1/el-abc-x" {
		t.Errorf("DeleteBranch calls = %v", calls)
	}
	if calls := fake.CallsTo("DeleteRemoteBranch"); len(calls) != 1 {
		t.Errorf("DeleteRemoteBranch calls = %v", calls)
	}
	if len(fake.CallsTo("WorktreePrune")) != 1 {
		t.Error("expected a prune after removal")
	}
}

func TestRemoveWorktreeSkipsRemoteWithoutOrigin(t *testing.T) {
	m, fake := newTestManager(t)
	fake.SetRemote(false)
	fake.AddBranch("agent/w1/el-abc-x")
	fake.AddWorktree("/tmp/wt1", "agent/w1/el-abc-x")

	err := m.RemoveWorktree("/tmp/wt1", RemoveOptions{DeleteBranch: true, DeleteRemoteBranch: true})
	if err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if len(fake.CallsTo("DeleteRemoteBranch")) != 0 {
		t.Error("deleted remote branch without a remote")
	}
}

func TestRemoveWorktreeDetachedSkipsBranchDelete(t *testing.T) {
	m, fake := newTestManager(t)
	fake.AddWorktree("/tmp/wt1", "")

	if err := m.RemoveWorktree("/tmp/wt1", RemoveOptions{DeleteBranch: true}); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if len(fake.CallsTo("DeleteBranch")) != 0 {
		t.Error("tried to delete a branch for a detached worktree")
	}
}

func TestDefaultBranch(t *testing.T) {
	m, _ := newTestManager(t)
	if got := m.DefaultBranch(); got != "main" {
		t.Errorf("DefaultBranch = %q, want main", got)
	}
}

func TestWorktreeExists(t *testing.T) {
	m, fake := newTestManager(t)

	path := filepath.Join(t.TempDir(), "wt1")
	if m.WorktreeExists(path) {
		t.Error("reported existence before creation")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if m.WorktreeExists(path) {
		t.Error("directory alone should not count as a worktree")
	}
	fake.AddWorktree(path, "agent/w1/el-abc-x")
	if !m.WorktreeExists(path) {
		t.Error("registered worktree not reported")
	}
}
