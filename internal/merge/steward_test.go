package merge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stoneforge/stoneforge/internal/dispatch"
	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/internal/exec"
	"github.com/stoneforge/stoneforge/internal/git/gittest"
	"github.com/stoneforge/stoneforge/internal/id"
	"github.com/stoneforge/stoneforge/internal/store"
	"github.com/stoneforge/stoneforge/internal/worktree"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// scriptedRunner fakes test command execution.
type scriptedRunner struct {
	result exec.Result
	err    error
	runs   []string
}

func (f *scriptedRunner) Run(_ context.Context, workDir string, name string, args ...string) (exec.Result, error) {
	f.runs = append(f.runs, workDir+"$"+name)
	return f.result, f.err
}

func (f *scriptedRunner) RunShell(ctx context.Context, workDir string, command string) (exec.Result, error) {
	return f.Run(ctx, workDir, "sh", "-c", command)
}

type mergeEnv struct {
	store    *store.Memory
	fake     *gittest.FakeRunner
	runner   *scriptedRunner
	recorder *dispatch.Recorder
	steward  *Steward
}

func newMergeEnv(t *testing.T, cfg Config) *mergeEnv {
	t.Helper()
	e := &mergeEnv{
		store:    store.NewMemory(),
		fake:     gittest.NewFake(t.TempDir()),
		runner:   &scriptedRunner{result: exec.Result{ExitCode: 0}},
		recorder: dispatch.NewRecorder(),
	}
	e.fake.SetAheadCount(1)

	trees := worktree.NewManagerWithRunner(e.fake.Dir(), e.fake)
	e.steward = NewSteward(cfg, e.store, trees, &id.Generator{},
		WithCommandRunner(e.runner),
		WithNotifier(e.recorder),
	)
	return e
}

// seedReviewTask creates a task awaiting merge with full orchestrator
// context and registers its branch and worktree with the fake git.
func (e *mergeEnv) seedReviewTask(t *testing.T, taskID string) *models.Task {
	t.Helper()
	branch := "agent/worker-one/" + taskID + "-add-parser"
	wtree := ".stoneforge/.worktrees/worker-one-add-parser"

	task := &models.Task{
		ID:       taskID,
		Title:    "Add parser",
		Status:   models.TaskStatusReview,
		Type:     models.TaskTypeFeature,
		Priority: 2,
	}
	task.SetOrchestrator(&models.OrchestratorMeta{
		AssignedAgent: "ag-w1",
		Branch:        branch,
		Worktree:      wtree,
		MergeStatus:   models.MergePending,
	})
	created, err := e.store.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}

	e.fake.AddBranch(branch)
	e.fake.AddWorktree(filepath.Join(e.fake.Dir(), wtree), branch)
	return created
}

func TestProcessTaskHappyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestCommand = "go test ./..."
	e := newMergeEnv(t, cfg)
	e.seedReviewTask(t, "el-t1")
	ctx := context.Background()

	result, err := e.steward.ProcessTask(ctx, "el-t1")
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Outcome != models.MergeMerged {
		t.Fatalf("outcome = %s, want merged (err=%s)", result.Outcome, result.Err)
	}
	if result.TestResult == nil || !result.TestResult.Passed {
		t.Errorf("test result = %+v", result.TestResult)
	}

	task, _ := e.store.GetTask(ctx, "el-t1")
	if task.Status != models.TaskStatusClosed {
		t.Errorf("status = %s, want closed", task.Status)
	}
	if task.Assignee != "" {
		t.Errorf("assignee = %q, want cleared", task.Assignee)
	}
	meta := task.Orchestrator()
	if meta.MergeStatus != models.MergeMerged || meta.MergedAt == nil {
		t.Errorf("merge metadata = %+v", meta)
	}
	if meta.TestRunCount != 1 {
		t.Errorf("testRunCount = %d, want 1", meta.TestRunCount)
	}
	if task.ClosedAt == nil {
		t.Error("closedAt not set")
	}

	// The merge went through a squash commit and a push to the target.
	if len(e.fake.CallsTo("MergeSquash")) != 1 || len(e.fake.CallsTo("Commit")) != 1 {
		t.Error("expected a squash and commit")
	}
	pushes := e.fake.CallsTo("Push")
	if len(pushes) != 1 || pushes[0].Args[0] != "HEAD:main" {
		t.Errorf("pushes = %v", pushes)
	}

	// Cleanup removed the task worktree and both branches; the
	// throwaway worktree is gone too.
	if removes := e.fake.CallsTo("WorktreeRemove"); len(removes) != 2 {
		t.Errorf("worktree removes = %v", removes)
	}
	if len(e.fake.CallsTo("DeleteBranch")) != 1 || len(e.fake.CallsTo("DeleteRemoteBranch")) != 1 {
		t.Error("expected local and remote branch deletion")
	}
}

func TestProcessTaskShortCircuitsWhenAlreadyMerged(t *testing.T) {
	e := newMergeEnv(t, DefaultConfig())
	task := e.seedReviewTask(t, "el-t1")
	ctx := context.Background()

	task.Status = models.TaskStatusClosed
	meta := task.Orchestrator()
	meta.MergeStatus = models.MergeMerged
	task.SetOrchestrator(meta)
	if _, err := e.store.UpdateTask(ctx, task, store.UpdateOptions{ExpectedUpdatedAt: task.UpdatedAt}); err != nil {
		t.Fatal(err)
	}
	callsBefore := len(e.fake.Calls())

	result, err := e.steward.ProcessTask(ctx, "el-t1")
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Outcome != models.MergeMerged {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if len(e.fake.Calls()) != callsBefore {
		t.Error("short-circuit touched git")
	}
	if len(e.runner.runs) != 0 {
		t.Error("short-circuit ran tests")
	}
}

func TestProcessTaskTestFailureCreatesFixTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestCommand = "go test ./..."
	e := newMergeEnv(t, cfg)
	e.seedReviewTask(t, "el-t1")
	e.runner.result = exec.Result{ExitCode: 1, Output: []byte("FAIL")}
	ctx := context.Background()

	result, err := e.steward.ProcessTask(ctx, "el-t1")
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Outcome != models.MergeTestFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if result.FixTaskID == "" {
		t.Fatal("no fix task created")
	}

	task, _ := e.store.GetTask(ctx, "el-t1")
	if task.Status != models.TaskStatusReview {
		t.Errorf("status = %s, want review preserved", task.Status)
	}
	if task.Orchestrator().MergeStatus != models.MergeTestFailed {
		t.Errorf("mergeStatus = %s", task.Orchestrator().MergeStatus)
	}

	fix, _ := e.store.GetTask(ctx, result.FixTaskID)
	if fix == nil {
		t.Fatal("fix task not in store")
	}
	wantTags := map[string]bool{"fix": true, "test_failure": true, "auto-created": true}
	for _, tag := range fix.Tags {
		delete(wantTags, tag)
	}
	if len(wantTags) != 0 {
		t.Errorf("fix tags = %v, missing %v", fix.Tags, wantTags)
	}
	if fix.Metadata["originalTaskId"] != "el-t1" || fix.Metadata["fixType"] != "test_failure" {
		t.Errorf("fix metadata = %v", fix.Metadata)
	}

	// The owning agent was told about the fix task.
	if len(e.recorder.SentTo("ag-w1")) != 1 {
		t.Errorf("owner notifications = %v", e.recorder.Sent())
	}

	// Reprocessing reuses the open fix task instead of creating a
	// duplicate.
	again, err := e.steward.ProcessTask(ctx, "el-t1")
	if err != nil {
		t.Fatalf("second ProcessTask: %v", err)
	}
	if again.FixTaskID != result.FixTaskID {
		t.Errorf("fix task duplicated: %s vs %s", again.FixTaskID, result.FixTaskID)
	}
}

func TestProcessTaskConflict(t *testing.T) {
	e := newMergeEnv(t, DefaultConfig())
	e.seedReviewTask(t, "el-t1")
	e.fake.SetConflicts("parser.go", "parser_test.go")
	ctx := context.Background()

	result, err := e.steward.ProcessTask(ctx, "el-t1")
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Outcome != models.MergeConflict {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if result.FixTaskID == "" {
		t.Fatal("no fix task for conflict")
	}

	task, _ := e.store.GetTask(ctx, "el-t1")
	meta := task.Orchestrator()
	if meta.MergeStatus != models.MergeConflict {
		t.Errorf("mergeStatus = %s", meta.MergeStatus)
	}
	if meta.MergeFailureReason == "" {
		t.Error("mergeFailureReason not recorded")
	}

	fix, _ := e.store.GetTask(ctx, result.FixTaskID)
	if fix.Metadata["fixType"] != "merge_conflict" {
		t.Errorf("fixType = %v", fix.Metadata["fixType"])
	}

	// Conflict is detected in pre-flight; no worktree was created.
	if len(e.fake.CallsTo("WorktreeAddDetach")) != 0 {
		t.Error("conflict pre-flight should not create a worktree")
	}
}

func TestProcessTaskNoCommits(t *testing.T) {
	e := newMergeEnv(t, DefaultConfig())
	e.seedReviewTask(t, "el-t1")
	e.fake.SetAheadCount(0)
	ctx := context.Background()

	result, err := e.steward.ProcessTask(ctx, "el-t1")
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Outcome != models.MergeNotApplicable {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if result.FixTaskID != "" {
		t.Error("no-commits outcome should not create a fix task")
	}

	task, _ := e.store.GetTask(ctx, "el-t1")
	if task.Status != models.TaskStatusClosed {
		t.Errorf("status = %s, want closed", task.Status)
	}

	// The throwaway worktree was removed even on the empty-merge path.
	if len(e.fake.CallsTo("WorktreeRemove")) == 0 {
		t.Error("throwaway worktree not removed")
	}
	if len(e.fake.CallsTo("MergeSquash")) != 0 || len(e.fake.CallsTo("Push")) != 0 {
		t.Error("empty merge should not commit or push")
	}
}

func TestRunTestsTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestCommand = "go test ./..."
	e := newMergeEnv(t, cfg)
	e.seedReviewTask(t, "el-t1")
	e.runner.result = exec.Result{ExitCode: -1, TimedOut: true}
	ctx := context.Background()

	result, err := e.steward.ProcessTask(ctx, "el-t1")
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Outcome != models.MergeTestFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	task, _ := e.store.GetTask(ctx, "el-t1")
	meta := task.Orchestrator()
	if meta.LastTestResult == nil || meta.LastTestResult.Passed {
		t.Errorf("lastTestResult = %+v", meta.LastTestResult)
	}
	if meta.MergeFailureReason != "timeout" {
		t.Errorf("failure reason = %q, want timeout", meta.MergeFailureReason)
	}
}

func TestProcessTaskRequiresBranch(t *testing.T) {
	e := newMergeEnv(t, DefaultConfig())
	ctx := context.Background()
	if _, err := e.store.CreateTask(ctx, &models.Task{
		ID: "el-nb", Title: "No branch", Status: models.TaskStatusReview,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := e.steward.ProcessTask(ctx, "el-nb")
	if !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected Validation, got %v", err)
	}
	_, err = e.steward.ProcessTask(ctx, "el-ghost")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestProcessAllPending(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestCommand = "go test ./..."
	e := newMergeEnv(t, cfg)
	e.seedReviewTask(t, "el-t1")
	ctx := context.Background()

	// A second review task whose branch conflicts.
	branch := "agent/worker-two/el-t2-other"
	task2 := &models.Task{ID: "el-t2", Title: "Other", Status: models.TaskStatusReview}
	task2.SetOrchestrator(&models.OrchestratorMeta{Branch: branch, MergeStatus: models.MergePending})
	if _, err := e.store.CreateTask(ctx, task2); err != nil {
		t.Fatal(err)
	}
	e.fake.AddBranch(branch)

	batch, err := e.steward.ProcessAllPending(ctx)
	if err != nil {
		t.Fatalf("ProcessAllPending: %v", err)
	}
	if batch.TotalProcessed != 2 {
		t.Errorf("totalProcessed = %d", batch.TotalProcessed)
	}
	if batch.MergedCount != 2 {
		t.Errorf("mergedCount = %d, want 2", batch.MergedCount)
	}
	if batch.ErrorCount != 0 {
		t.Errorf("errorCount = %d", batch.ErrorCount)
	}
	if len(batch.Results) != 2 {
		t.Errorf("results = %+v", batch.Results)
	}
}

func TestMergeStrategyMergeCommit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyMerge
	e := newMergeEnv(t, cfg)
	e.seedReviewTask(t, "el-t1")

	result, err := e.steward.ProcessTask(context.Background(), "el-t1")
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if result.Outcome != models.MergeMerged {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if len(e.fake.CallsTo("Merge")) != 1 {
		t.Error("expected a merge commit")
	}
	if len(e.fake.CallsTo("MergeSquash")) != 0 {
		t.Error("merge strategy should not squash")
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"testCommand":   "make test",
		"testTimeoutMs": 120000,
		"strategy":      "merge",
		"autoCleanup":   false,
	})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.TestCommand != "make test" || cfg.TestTimeout != 2*time.Minute || cfg.Strategy != StrategyMerge || cfg.AutoCleanup {
		t.Errorf("config = %+v", cfg)
	}

	if _, err := ParseConfig(map[string]any{"testCmd": "x"}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("unknown key: %v", err)
	}
	if _, err := ParseConfig(map[string]any{"strategy": "rebase"}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("bad strategy: %v", err)
	}
}

func TestUpdateMetaPersistsMutation(t *testing.T) {
	e := newMergeEnv(t, DefaultConfig())
	e.seedReviewTask(t, "el-u1")
	ctx := context.Background()

	updated, err := e.steward.updateMeta(ctx, "el-u1", func(task *models.Task, meta *models.OrchestratorMeta) error {
		task.Status = models.TaskStatusClosed
		meta.MergeStatus = models.MergeMerged
		meta.TestRunCount++
		return nil
	})
	if err != nil {
		t.Fatalf("updateMeta: %v", err)
	}
	if updated.Status != models.TaskStatusClosed {
		t.Errorf("status = %s, want closed", updated.Status)
	}

	stored, err := e.store.GetTask(ctx, "el-u1")
	if err != nil {
		t.Fatal(err)
	}
	meta := stored.Orchestrator()
	if meta.MergeStatus != models.MergeMerged {
		t.Errorf("mergeStatus = %s, want merged", meta.MergeStatus)
	}
	if meta.TestRunCount != 1 {
		t.Errorf("testRunCount = %d, want 1", meta.TestRunCount)
	}
}

func TestUpdateMetaRetriesOnVersionMismatch(t *testing.T) {
	e := newMergeEnv(t, DefaultConfig())
	e.seedReviewTask(t, "el-u2")
	ctx := context.Background()

	attempts := 0
	_, err := e.steward.updateMeta(ctx, "el-u2", func(task *models.Task, meta *models.OrchestratorMeta) error {
		attempts++
		if attempts == 1 {
			// A concurrent writer lands between our read and write.
			fresh, err := e.store.GetTask(ctx, "el-u2")
			if err != nil {
				return err
			}
			fresh.Priority = 4
			if _, err := e.store.UpdateTask(ctx, fresh, store.UpdateOptions{}); err != nil {
				return err
			}
		}
		meta.TestRunCount++
		return nil
	})
	if err != nil {
		t.Fatalf("updateMeta: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	stored, err := e.store.GetTask(ctx, "el-u2")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Priority != 4 {
		t.Errorf("priority = %d, concurrent write lost", stored.Priority)
	}
	if stored.Orchestrator().TestRunCount != 1 {
		t.Errorf("testRunCount = %d, want 1", stored.Orchestrator().TestRunCount)
	}
}
