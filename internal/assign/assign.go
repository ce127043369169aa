// Package assign binds tasks to agents and drives the per-task
// assignment lifecycle.
package assign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/stoneforge/stoneforge/internal/dispatch"
	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/internal/logging"
	"github.com/stoneforge/stoneforge/internal/registry"
	"github.com/stoneforge/stoneforge/internal/store"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// DefaultWorktreeRoot is where per-agent worktrees are created,
// relative to the project root.
const DefaultWorktreeRoot = ".stoneforge/.worktrees"

// AssignOptions qualifies AssignToAgent.
type AssignOptions struct {
	// Branch overrides the derived branch name.
	Branch string
	// Worktree overrides the derived worktree path.
	Worktree string
	// SessionID records the agent session taking the task.
	SessionID string
	// MarkAsStarted moves the task straight to in_progress.
	MarkAsStarted bool
}

// HandoffOptions qualifies HandoffTask.
type HandoffOptions struct {
	// SessionID is the session handing the task back.
	SessionID string
	// Message explains the handoff.
	Message string
}

// Workload summarizes one agent's current tasks.
type Workload struct {
	// AgentID identifies the agent.
	AgentID string
	// InProgress is the number of tasks being worked on.
	InProgress int
	// Total is the number of tasks bound to the agent.
	Total int
	// ByStatus breaks the bound tasks down by task status.
	ByStatus map[models.TaskStatus]int
}

// Assignment pairs a task with its derived assignment status.
type Assignment struct {
	Task   *models.Task
	Status models.AssignmentStatus
}

// AssignmentFilter narrows ListAssignments.
type AssignmentFilter struct {
	// AgentID limits to tasks bound to one agent.
	AgentID string
	// Status limits to the given derived assignment statuses.
	Status []models.AssignmentStatus
	// MergeStatus limits to the given merge statuses.
	MergeStatus []models.MergeStatus
}

// Service implements the assignment lifecycle over the store.
type Service struct {
	tasks        store.TaskStore
	agents       registry.Registry
	notifier     dispatch.Notifier
	log          logging.Logger
	worktreeRoot string
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the agent notification channel.
func WithNotifier(n dispatch.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the debug logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithWorktreeRoot overrides the derived worktree location.
func WithWorktreeRoot(root string) Option {
	return func(s *Service) { s.worktreeRoot = root }
}

// WithClock overrides the service clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an assignment service.
func NewService(tasks store.TaskStore, agents registry.Registry, opts ...Option) *Service {
	s := &Service{
		tasks:        tasks,
		agents:       agents,
		log:          logging.Nop(),
		worktreeRoot: DefaultWorktreeRoot,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// updateTask reads the task, applies mutate, and writes back with the
// version token. One retry from a fresh read on a version mismatch;
// a second mismatch surfaces as-is.
func (s *Service) updateTask(ctx context.Context, taskID string, mutate func(*models.Task) error) (*models.Task, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		task, err := s.tasks.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, errs.New(errs.KindNotFound, "task %s not found", taskID)
		}
		if err := mutate(task); err != nil {
			return nil, err
		}
		updated, err := s.tasks.UpdateTask(ctx, task, store.UpdateOptions{ExpectedUpdatedAt: task.UpdatedAt})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, store.ErrVersionMismatch) {
			return nil, err
		}
		lastErr = err
		s.log.Debugf("version mismatch on %s, retrying (attempt %d)", taskID, attempt+1)
	}
	return nil, lastErr
}

// AssignToAgent binds the task to the agent and populates the
// orchestrator metadata with branch, worktree and session context.
func (s *Service) AssignToAgent(ctx context.Context, taskID, agentID string, opts AssignOptions) (*models.Task, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errs.New(errs.KindNotFound, "agent %s not found", agentID)
	}

	updated, err := s.updateTask(ctx, taskID, func(task *models.Task) error {
		task.Assignee = agentID

		meta := task.Orchestrator()
		meta.AssignedAgent = agentID
		meta.Branch = opts.Branch
		if meta.Branch == "" {
			meta.Branch = BranchName(agent.Name, task.ID, task.Title)
		}
		meta.Worktree = opts.Worktree
		if meta.Worktree == "" {
			meta.Worktree = s.worktreePath(agent.Name, task.Title)
		}
		if opts.SessionID != "" {
			meta.SessionID = opts.SessionID
		}
		if opts.MarkAsStarted {
			task.Status = models.TaskStatusInProgress
			now := s.now()
			meta.StartedAt = &now
		} else if task.Status != models.TaskStatusReview {
			meta.MergeStatus = models.MergePending
		}
		task.SetOrchestrator(meta)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("assigned %s to %s (branch %s)", taskID, agentID, updated.Orchestrator().Branch)
	s.notify(ctx, dispatch.Notification{
		AgentID: agentID,
		Kind:    dispatch.KindTaskAssignment,
		TaskID:  taskID,
		Message: fmt.Sprintf("task %s assigned: %s", taskID, updated.Title),
	})
	return updated, nil
}

// UnassignTask releases the task from its agent. The branch is kept
// so a re-assignment can pick the work back up; status is untouched.
func (s *Service) UnassignTask(ctx context.Context, taskID string) (*models.Task, error) {
	updated, err := s.updateTask(ctx, taskID, func(task *models.Task) error {
		task.Assignee = ""
		meta := task.Orchestrator()
		meta.AssignedAgent = ""
		meta.SessionID = ""
		meta.Worktree = ""
		task.SetOrchestrator(meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("unassigned %s", taskID)
	return updated, nil
}

// StartTask marks the task in progress. Idempotent when already
// started.
func (s *Service) StartTask(ctx context.Context, taskID, sessionID string) (*models.Task, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errs.New(errs.KindNotFound, "task %s not found", taskID)
	}
	meta := task.Orchestrator()
	if task.Status == models.TaskStatusInProgress && meta.StartedAt != nil &&
		(sessionID == "" || meta.SessionID == sessionID) {
		return task, nil
	}

	return s.updateTask(ctx, taskID, func(task *models.Task) error {
		task.Status = models.TaskStatusInProgress
		meta := task.Orchestrator()
		if meta.StartedAt == nil {
			now := s.now()
			meta.StartedAt = &now
		}
		if sessionID != "" {
			meta.SessionID = sessionID
		}
		task.SetOrchestrator(meta)
		return nil
	})
}

// CompleteTask moves the task to review and marks it pending for the
// merge pipeline. The assignee is cleared so the agent can take new
// work while the merge runs.
func (s *Service) CompleteTask(ctx context.Context, taskID string) (*models.Task, error) {
	updated, err := s.updateTask(ctx, taskID, func(task *models.Task) error {
		if task.Status == models.TaskStatusClosed || task.Status == models.TaskStatusReview {
			return errs.New(errs.KindConflict, "task %s is already %s", taskID, task.Status)
		}
		task.Status = models.TaskStatusReview
		task.Assignee = ""
		meta := task.Orchestrator()
		now := s.now()
		meta.CompletedAt = &now
		meta.MergeStatus = models.MergePending
		task.SetOrchestrator(meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("completed %s, awaiting merge", taskID)
	return updated, nil
}

// HandoffTask returns the task to the pool. Branch and worktree are
// preserved into the handoff fields, the merge status is cleared so
// the merge pipeline cannot pick the task up mid-handoff, and the
// handoff is appended to the history.
func (s *Service) HandoffTask(ctx context.Context, taskID string, opts HandoffOptions) (*models.Task, error) {
	updated, err := s.updateTask(ctx, taskID, func(task *models.Task) error {
		task.Assignee = ""
		task.Status = models.TaskStatusOpen

		meta := task.Orchestrator()
		meta.HandoffBranch = meta.Branch
		meta.HandoffWorktree = meta.Worktree
		meta.LastSessionID = meta.SessionID
		meta.AssignedAgent = ""
		meta.Branch = ""
		meta.Worktree = ""
		meta.SessionID = ""
		meta.MergeStatus = ""
		now := s.now()
		meta.HandoffAt = &now
		meta.HandoffHistory = append(meta.HandoffHistory, models.HandoffEntry{
			SessionID: opts.SessionID,
			Message:   opts.Message,
			At:        now,
		})
		task.SetOrchestrator(meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("handed off %s: %s", taskID, opts.Message)
	return updated, nil
}

// GetAgentWorkload returns the agent's current task distribution.
func (s *Service) GetAgentWorkload(ctx context.Context, agentID string) (*Workload, error) {
	tasks, err := s.tasks.ListTasks(ctx, store.TaskFilter{Assignee: agentID})
	if err != nil {
		return nil, err
	}
	w := &Workload{AgentID: agentID, ByStatus: make(map[models.TaskStatus]int)}
	for _, task := range tasks {
		w.Total++
		w.ByStatus[task.Status]++
		if task.Status == models.TaskStatusInProgress {
			w.InProgress++
		}
	}
	return w, nil
}

// AgentHasCapacity reports whether the agent can take another task.
// A zero cap means one task at a time.
func (s *Service) AgentHasCapacity(ctx context.Context, agentID string) (bool, error) {
	limit, err := s.agents.MaxConcurrentTasks(ctx, agentID)
	if err != nil {
		return false, err
	}
	if limit <= 0 {
		limit = 1
	}
	w, err := s.GetAgentWorkload(ctx, agentID)
	if err != nil {
		return false, err
	}
	return w.InProgress < limit, nil
}

// GetTasksAwaitingMerge returns tasks in review with a pending merge
// status.
func (s *Service) GetTasksAwaitingMerge(ctx context.Context) ([]*models.Task, error) {
	return s.tasks.ListTasks(ctx, store.TaskFilter{
		Status:      []models.TaskStatus{models.TaskStatusReview},
		MergeStatus: []models.MergeStatus{models.MergePending},
	})
}

// ListAssignments returns tasks with their derived assignment status,
// narrowed by the filter.
func (s *Service) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error) {
	tasks, err := s.tasks.ListTasks(ctx, store.TaskFilter{
		Assignee:    filter.AgentID,
		MergeStatus: filter.MergeStatus,
	})
	if err != nil {
		return nil, err
	}

	var out []Assignment
	for _, task := range tasks {
		status := models.DeriveAssignmentStatus(task)
		if len(filter.Status) > 0 && !containsStatus(filter.Status, status) {
			continue
		}
		out = append(out, Assignment{Task: task, Status: status})
	}
	return out, nil
}

func containsStatus(haystack []models.AssignmentStatus, needle models.AssignmentStatus) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// notify sends best-effort; delivery failures never block transitions.
func (s *Service) notify(ctx context.Context, n dispatch.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warnf("notify %s failed: %v", n.AgentID, err)
	}
}

func (s *Service) worktreePath(agentName, title string) string {
	return filepath.Join(s.worktreeRoot, agentName+"-"+Slug(title))
}

// BranchName derives the work branch for a task.
func BranchName(agentName, taskID, title string) string {
	return fmt.Sprintf("agent/%s/%s-%s", agentName, taskID, Slug(title))
}

// Slug lowercases the title, replaces runs of non-alphanumerics with
// a dash, and truncates to 30 characters.
func Slug(title string) string {
	var b []byte
	dash := true // suppress a leading dash
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b = append(b, byte(r))
			dash = false
		case r >= 'A' && r <= 'Z':
			b = append(b, byte(r-'A'+'a'))
			dash = false
		default:
			if !dash {
				b = append(b, '-')
				dash = true
			}
		}
		if len(b) >= 30 {
			break
		}
	}
	for len(b) > 0 && b[len(b)-1] == '-' {
		b = b[:len(b)-1]
	}
	if len(b) > 30 {
		b = b[:30]
	}
	return string(b)
}
