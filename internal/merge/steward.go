// Package merge drives completed task branches through test
// execution, merge into the target branch, and cleanup.
package merge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stoneforge/stoneforge/internal/dispatch"
	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/internal/exec"
	"github.com/stoneforge/stoneforge/internal/id"
	"github.com/stoneforge/stoneforge/internal/logging"
	"github.com/stoneforge/stoneforge/internal/metrics"
	"github.com/stoneforge/stoneforge/internal/store"
	"github.com/stoneforge/stoneforge/internal/worktree"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// FixType classifies a fix-task by what it remediates.
type FixType string

const (
	// FixTestFailure covers failing test runs.
	FixTestFailure FixType = "test_failure"
	// FixMergeConflict covers merge conflicts against the target.
	FixMergeConflict FixType = "merge_conflict"
	// FixGeneral covers any other merge failure.
	FixGeneral FixType = "general"
)

// ConflictError reports conflicted paths found during the merge
// pre-flight.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflicts in %d file(s): %s", len(e.Files), strings.Join(e.Files, ", "))
}

// errNoCommits classifies a merge attempt with nothing to merge.
var errNoCommits = errors.New("no commits to merge")

// Result is the outcome of processing one task.
type Result struct {
	// TaskID is the processed task.
	TaskID string
	// Outcome is the final merge status.
	Outcome models.MergeStatus
	// FixTaskID is set when a fix-task was created or reused.
	FixTaskID string
	// TestResult is the recorded test run, when tests ran.
	TestResult *models.TestResult
	// Err holds the failure detail for conflict/failed outcomes.
	Err string
}

// BatchResult summarizes one ProcessAllPending run.
type BatchResult struct {
	TotalProcessed int
	MergedCount    int
	ErrorCount     int
	Results        []Result
}

// Steward runs the merge pipeline.
type Steward struct {
	cfg      Config
	tasks    store.TaskStore
	trees    *worktree.Manager
	runner   exec.CommandRunner
	ids      *id.Generator
	notifier dispatch.Notifier
	log      logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Steward.
type Option func(*Steward)

// WithNotifier sets the agent notification channel.
func WithNotifier(n dispatch.Notifier) Option {
	return func(s *Steward) { s.notifier = n }
}

// WithLogger sets the debug logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Steward) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Steward) { s.metrics = m }
}

// WithCommandRunner overrides test command execution (for testing).
func WithCommandRunner(r exec.CommandRunner) Option {
	return func(s *Steward) { s.runner = r }
}

// WithClock overrides the steward clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Steward) { s.now = now }
}

// NewSteward creates a merge steward.
func NewSteward(cfg Config, tasks store.TaskStore, trees *worktree.Manager, ids *id.Generator, opts ...Option) *Steward {
	s := &Steward{
		cfg:    cfg,
		tasks:  tasks,
		trees:  trees,
		runner: exec.NewRunner(),
		ids:    ids,
		log:    logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// targetBranch resolves the configured target, falling back to the
// repository default.
func (s *Steward) targetBranch() string {
	if s.cfg.TargetBranch != "" {
		return s.cfg.TargetBranch
	}
	return s.trees.DefaultBranch()
}

// ProcessTask drives one task through the merge state machine.
func (s *Steward) ProcessTask(ctx context.Context, taskID string) (*Result, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errs.New(errs.KindNotFound, "task %s not found", taskID)
	}
	meta := task.Orchestrator()
	if meta.Branch == "" {
		return nil, errs.New(errs.KindValidation, "task %s has no branch to merge", taskID)
	}

	// Already-done tasks short-circuit so a rescan never reprocesses
	// them.
	if task.Status == models.TaskStatusClosed && meta.MergeStatus == models.MergeMerged {
		return &Result{TaskID: taskID, Outcome: models.MergeMerged}, nil
	}

	result := &Result{TaskID: taskID}

	testResult, err := s.RunTests(ctx, taskID)
	if err != nil {
		return nil, err
	}
	result.TestResult = testResult

	if testResult != nil && !testResult.Passed {
		if _, err := s.updateMeta(ctx, taskID, func(_ *models.Task, m *models.OrchestratorMeta) error {
			m.MergeStatus = models.MergeTestFailed
			return nil
		}); err != nil {
			return nil, err
		}
		result.Outcome = models.MergeTestFailed
		fixID, err := s.CreateFixTask(ctx, task, FixTestFailure, "automated tests failed", nil)
		if err != nil {
			s.log.Errorf("create fix task for %s: %v", taskID, err)
		}
		result.FixTaskID = fixID
		s.metrics.IncMergeProcessed(string(models.MergeTestFailed))
		return result, nil
	}

	if _, err := s.updateMeta(ctx, taskID, func(_ *models.Task, m *models.OrchestratorMeta) error {
		m.MergeStatus = models.MergeMerging
		return nil
	}); err != nil {
		return nil, err
	}

	mergeErr := s.AttemptMerge(ctx, task)
	switch {
	case mergeErr == nil:
		if err := s.finalizeMerge(ctx, taskID); err != nil {
			return nil, err
		}
		result.Outcome = models.MergeMerged
		if s.cfg.AutoCleanup {
			if err := s.CleanupAfterMerge(ctx, taskID, true); err != nil {
				s.log.Warnf("cleanup after merge of %s: %v", taskID, err)
			}
		}
		s.syncTargetBranch()

	case errors.Is(mergeErr, errNoCommits):
		if _, err := s.updateMeta(ctx, taskID, func(t *models.Task, m *models.OrchestratorMeta) error {
			m.MergeStatus = models.MergeNotApplicable
			t.Status = models.TaskStatusClosed
			now := s.now()
			t.ClosedAt = &now
			t.Assignee = ""
			return nil
		}); err != nil {
			return nil, err
		}
		result.Outcome = models.MergeNotApplicable

	default:
		var conflict *ConflictError
		fixType := FixGeneral
		outcome := models.MergeFailed
		if errors.As(mergeErr, &conflict) {
			fixType = FixMergeConflict
			outcome = models.MergeConflict
		}
		if _, err := s.updateMeta(ctx, taskID, func(_ *models.Task, m *models.OrchestratorMeta) error {
			m.MergeStatus = outcome
			m.MergeFailureReason = mergeErr.Error()
			return nil
		}); err != nil {
			return nil, err
		}
		result.Outcome = outcome
		result.Err = mergeErr.Error()
		var files []string
		if conflict != nil {
			files = conflict.Files
		}
		fixID, err := s.CreateFixTask(ctx, task, fixType, mergeErr.Error(), files)
		if err != nil {
			s.log.Errorf("create fix task for %s: %v", taskID, err)
		}
		result.FixTaskID = fixID
	}

	s.metrics.IncMergeProcessed(string(result.Outcome))
	s.log.Infof("processed %s: %s", taskID, result.Outcome)
	return result, nil
}

// RunTests executes the configured test command inside the task's
// worktree with the configured timeout. The result is recorded on the
// task; a timeout counts as a failed run.
func (s *Steward) RunTests(ctx context.Context, taskID string) (*models.TestResult, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errs.New(errs.KindNotFound, "task %s not found", taskID)
	}

	if _, err := s.updateMeta(ctx, taskID, func(_ *models.Task, m *models.OrchestratorMeta) error {
		m.MergeStatus = models.MergeTesting
		return nil
	}); err != nil {
		return nil, err
	}

	if s.cfg.TestCommand == "" {
		return nil, nil
	}

	workDir := task.Orchestrator().Worktree
	if workDir != "" && !filepath.IsAbs(workDir) {
		workDir = filepath.Join(s.trees.RepoPath(), workDir)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.TestTimeout)
	defer cancel()
	run, err := s.runner.RunShell(runCtx, workDir, s.cfg.TestCommand)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "run tests for %s", taskID)
	}

	testResult := &models.TestResult{
		Passed:      run.OK(),
		CompletedAt: s.now(),
	}
	switch {
	case run.TimedOut:
		s.metrics.IncTestRun("timeout")
		s.log.Warnf("tests for %s timed out after %s", taskID, s.cfg.TestTimeout)
	case testResult.Passed:
		s.metrics.IncTestRun("passed")
	default:
		s.metrics.IncTestRun("failed")
	}

	if _, err := s.updateMeta(ctx, taskID, func(_ *models.Task, m *models.OrchestratorMeta) error {
		m.TestRunCount++
		m.LastTestResult = testResult
		if run.TimedOut {
			m.MergeFailureReason = "timeout"
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return testResult, nil
}

// AttemptMerge merges the task's branch into origin's target branch
// inside a throwaway detached worktree. It never syncs local
// branches; callers do that after a successful merge.
func (s *Steward) AttemptMerge(ctx context.Context, task *models.Task) error {
	meta := task.Orchestrator()
	branch := meta.Branch
	target := s.targetBranch()
	g := s.trees.Git("")

	hasRemote, err := g.HasRemote()
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "check remote")
	}
	targetRef := target
	if hasRemote {
		if err := g.Fetch(); err != nil {
			return errs.Wrap(errs.KindExternal, err, "fetch origin")
		}
		targetRef = "origin/" + target
	}

	base, err := g.MergeBase(targetRef, branch)
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "merge-base %s %s", targetRef, branch)
	}
	conflicts, err := g.MergeTreeConflicts(base, targetRef, branch)
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "merge-tree pre-flight")
	}
	if len(conflicts) > 0 {
		return &ConflictError{Files: conflicts}
	}

	throwaway := filepath.Join(s.trees.RepoPath(), ".stoneforge", ".worktrees", ".merge-"+task.ID)
	if err := s.trees.CreateWorktree("", throwaway, worktree.CreateOptions{Detach: true, StartPoint: targetRef}); err != nil {
		return err
	}
	defer func() {
		if err := s.trees.RemoveWorktree(throwaway, worktree.RemoveOptions{Force: true}); err != nil {
			s.log.Warnf("remove throwaway worktree: %v", err)
		}
	}()

	wg := s.trees.Git(throwaway)
	ahead, err := wg.RevListCount("HEAD", branch)
	if err != nil {
		return errs.Wrap(errs.KindExternal, err, "rev-list %s", branch)
	}
	if ahead == 0 {
		return errNoCommits
	}

	message := fmt.Sprintf("%s: %s", task.ID, task.Title)
	switch s.cfg.Strategy {
	case StrategyMerge:
		if err := wg.Merge(branch, message); err != nil {
			return errs.Wrap(errs.KindExternal, err, "merge %s", branch)
		}
	default:
		if err := wg.MergeSquash(branch); err != nil {
			return errs.Wrap(errs.KindExternal, err, "squash %s", branch)
		}
		if err := wg.Commit(message); err != nil {
			return errs.Wrap(errs.KindExternal, err, "commit squash of %s", branch)
		}
	}

	if s.cfg.AutoPushAfterMerge && hasRemote {
		if err := wg.Push("HEAD:" + target); err != nil {
			return errs.Wrap(errs.KindExternal, err, "push to %s", target)
		}
	}
	return nil
}

// finalizeMerge closes the task after a successful merge.
func (s *Steward) finalizeMerge(ctx context.Context, taskID string) error {
	_, err := s.updateMeta(ctx, taskID, func(t *models.Task, m *models.OrchestratorMeta) error {
		now := s.now()
		t.Status = models.TaskStatusClosed
		t.ClosedAt = &now
		t.Assignee = ""
		m.MergeStatus = models.MergeMerged
		m.MergedAt = &now
		m.MergeFailureReason = ""
		return nil
	})
	return err
}

// syncTargetBranch updates the local target branch from origin after
// a merge. Failures are logged, never propagated.
func (s *Steward) syncTargetBranch() {
	g := s.trees.Git("")
	hasRemote, err := g.HasRemote()
	if err != nil || !hasRemote {
		return
	}
	target := s.targetBranch()
	if err := g.FetchBranch(target); err != nil {
		s.log.Warnf("sync local %s from origin: %v", target, err)
	}
}

// CleanupAfterMerge removes the task's worktree and, when
// deleteBranch is set, its local and remote branches. Failures are
// reported but never undo the merge.
func (s *Steward) CleanupAfterMerge(ctx context.Context, taskID string, deleteBranch bool) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return errs.New(errs.KindNotFound, "task %s not found", taskID)
	}
	meta := task.Orchestrator()

	var problems []error
	if meta.Worktree != "" {
		path := meta.Worktree
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.trees.RepoPath(), path)
		}
		if err := s.trees.RemoveWorktree(path, worktree.RemoveOptions{Force: true}); err != nil {
			problems = append(problems, err)
		}
	}
	if deleteBranch && meta.Branch != "" {
		g := s.trees.Git("")
		if err := g.DeleteBranch(meta.Branch); err != nil {
			problems = append(problems, err)
		}
		hasRemote, err := g.HasRemote()
		if err != nil {
			problems = append(problems, err)
		} else if hasRemote {
			if err := g.DeleteRemoteBranch(meta.Branch); err != nil {
				problems = append(problems, err)
			}
		}
	}
	return errors.Join(problems...)
}

// ProcessAllPending runs the pipeline over every task awaiting merge.
func (s *Steward) ProcessAllPending(ctx context.Context) (*BatchResult, error) {
	pending, err := s.tasks.ListTasks(ctx, store.TaskFilter{
		Status:      []models.TaskStatus{models.TaskStatusReview},
		MergeStatus: []models.MergeStatus{models.MergePending},
	})
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{}
	for _, task := range pending {
		batch.TotalProcessed++
		result, err := s.ProcessTask(ctx, task.ID)
		if err != nil {
			batch.ErrorCount++
			batch.Results = append(batch.Results, Result{TaskID: task.ID, Err: err.Error()})
			s.log.Errorf("process %s: %v", task.ID, err)
			continue
		}
		if result.Outcome == models.MergeMerged || result.Outcome == models.MergeNotApplicable {
			batch.MergedCount++
		} else {
			batch.ErrorCount++
		}
		batch.Results = append(batch.Results, *result)
	}
	return batch, nil
}

// CreateFixTask opens a follow-up task for a failed merge or test
// run. An existing open fix-task for the same original task and fix
// type is reused.
func (s *Steward) CreateFixTask(ctx context.Context, original *models.Task, fixType FixType, reason string, files []string) (string, error) {
	existing, err := s.findOpenFixTask(ctx, original.ID, fixType)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	title := fixTitle(fixType, original.Title)
	var body strings.Builder
	fmt.Fprintf(&body, "Automated follow-up for %s (%s).\n\nReason: %s\n", original.ID, original.Title, reason)
	if len(files) > 0 {
		body.WriteString("\nAffected files:\n")
		for _, f := range files {
			fmt.Fprintf(&body, "  - %s\n", f)
		}
	}

	fixID, err := s.ids.Generate(ctx, title, "merge-steward", id.Options{
		Collides: func(ctx context.Context, candidate string) (bool, error) {
			t, err := s.tasks.GetTask(ctx, candidate)
			return t != nil, err
		},
	})
	if err != nil {
		return "", err
	}

	fix := &models.Task{
		ID:       fixID,
		Title:    title,
		Body:     body.String(),
		Status:   models.TaskStatusOpen,
		Type:     models.TaskTypeBug,
		Priority: original.Priority,
		Tags:     []string{"fix", string(fixType), "auto-created"},
		Metadata: map[string]any{
			"originalTaskId": original.ID,
			"fixType":        string(fixType),
		},
	}
	if _, err := s.tasks.CreateTask(ctx, fix); err != nil {
		return "", err
	}
	s.log.Infof("created fix task %s (%s) for %s", fixID, fixType, original.ID)

	if owner := original.Orchestrator().AssignedAgent; owner != "" && s.notifier != nil {
		if err := s.notifier.Notify(ctx, dispatch.Notification{
			AgentID: owner,
			Kind:    dispatch.KindTaskAssignment,
			TaskID:  fixID,
			Message: fmt.Sprintf("fix task %s created for %s: %s", fixID, original.ID, reason),
		}); err != nil {
			s.log.Warnf("notify %s about fix task: %v", owner, err)
		}
	}
	return fixID, nil
}

// findOpenFixTask returns an open fix-task already linked to the
// original, or nil.
func (s *Steward) findOpenFixTask(ctx context.Context, originalID string, fixType FixType) (*models.Task, error) {
	candidates, err := s.tasks.ListTasks(ctx, store.TaskFilter{
		Status: []models.TaskStatus{models.TaskStatusOpen},
		Tags:   []string{"fix", "auto-created"},
	})
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Metadata["originalTaskId"] == originalID && c.Metadata["fixType"] == string(fixType) {
			return c, nil
		}
	}
	return nil, nil
}

func fixTitle(fixType FixType, originalTitle string) string {
	switch fixType {
	case FixTestFailure:
		return "Fix failing tests: " + originalTitle
	case FixMergeConflict:
		return "Resolve merge conflict: " + originalTitle
	default:
		return "Fix merge failure: " + originalTitle
	}
}

// updateMeta reads the task, applies mutate to it and its
// orchestrator record, and writes back with the version token. One
// retry from a fresh read on a version mismatch.
func (s *Steward) updateMeta(ctx context.Context, taskID string, mutate func(*models.Task, *models.OrchestratorMeta) error) (*models.Task, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		task, err := s.tasks.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, errs.New(errs.KindNotFound, "task %s not found", taskID)
		}
		meta := task.Orchestrator()
		if err := mutate(task, meta); err != nil {
			return nil, err
		}
		task.SetOrchestrator(meta)
		updated, err := s.tasks.UpdateTask(ctx, task, store.UpdateOptions{ExpectedUpdatedAt: task.UpdatedAt})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, store.ErrVersionMismatch) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
