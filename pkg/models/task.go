package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusOpen indicates the task is ready to be picked up.
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusReview indicates the agent declared completion and the
	// task is owned by the merge pipeline.
	TaskStatusReview TaskStatus = "review"
	// TaskStatusClosed indicates the task is finished.
	TaskStatusClosed TaskStatus = "closed"
	// TaskStatusDeferred indicates the task is postponed.
	TaskStatusDeferred TaskStatus = "deferred"
	// TaskStatusCancelled indicates the task was abandoned.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusBacklog indicates the task is parked below the open queue.
	TaskStatusBacklog TaskStatus = "backlog"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusReview, TaskStatusClosed,
		TaskStatusDeferred, TaskStatusCancelled, TaskStatusBlocked, TaskStatusBacklog:
		return true
	default:
		return false
	}
}

// TaskType classifies the kind of work a task represents.
type TaskType string

const (
	// TaskTypeBug is a defect fix.
	TaskTypeBug TaskType = "bug"
	// TaskTypeFeature is new functionality.
	TaskTypeFeature TaskType = "feature"
	// TaskTypeTask is general work.
	TaskTypeTask TaskType = "task"
	// TaskTypeChore is maintenance work.
	TaskTypeChore TaskType = "chore"
)

// Valid returns true if the task type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeBug, TaskTypeFeature, TaskTypeTask, TaskTypeChore:
		return true
	default:
		return false
	}
}

// MergeStatus gates the merge pipeline's view of a task. An empty
// value means the task is not visible to the merge steward.
type MergeStatus string

const (
	// MergePending indicates the task awaits its first merge attempt.
	MergePending MergeStatus = "pending"
	// MergeTesting indicates tests are running in the task's worktree.
	MergeTesting MergeStatus = "testing"
	// MergeMerging indicates a merge into the target branch is underway.
	MergeMerging MergeStatus = "merging"
	// MergeMerged indicates the branch merged cleanly.
	MergeMerged MergeStatus = "merged"
	// MergeConflict indicates the branch conflicts with the target.
	MergeConflict MergeStatus = "conflict"
	// MergeTestFailed indicates the test run failed.
	MergeTestFailed MergeStatus = "test_failed"
	// MergeFailed indicates the merge failed for another reason.
	MergeFailed MergeStatus = "failed"
	// MergeNotApplicable indicates the branch had no commits to merge.
	MergeNotApplicable MergeStatus = "not_applicable"
)

// Valid returns true if the merge status is a known value.
func (s MergeStatus) Valid() bool {
	switch s {
	case MergePending, MergeTesting, MergeMerging, MergeMerged,
		MergeConflict, MergeTestFailed, MergeFailed, MergeNotApplicable:
		return true
	default:
		return false
	}
}

// Terminal returns true if the merge status is a final state.
func (s MergeStatus) Terminal() bool {
	switch s {
	case MergeMerged, MergeNotApplicable:
		return true
	default:
		return false
	}
}

// Task represents a unit of work assignable to one agent.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Body provides detailed information about the task.
	Body string `json:"body,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Priority ranks the task from 1 (highest) to 5 (lowest).
	Priority int `json:"priority"`
	// Complexity estimates the task size from 1 to 5.
	Complexity int `json:"complexity"`
	// Type classifies the task.
	Type TaskType `json:"type"`
	// Assignee is the entity ID of the agent bound to this task.
	Assignee string `json:"assignee,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the optimistic-concurrency token; every write
	// compares against it and bumps it.
	UpdatedAt time.Time `json:"updated_at"`
	// ClosedAt is when the task reached closed, if it has.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	// Version counts successful writes, starting at 1.
	Version int `json:"version"`
	// Metadata holds schema-owned sub-records keyed by owner. The
	// orchestrator's record lives under "orchestrator".
	Metadata map[string]any `json:"metadata,omitempty"`
	// DeletedAt is the soft-delete tombstone.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// AssignmentStatus is a derived classification over a task. It is
// never persisted.
type AssignmentStatus string

const (
	// AssignmentUnassigned means no agent is bound to the task.
	AssignmentUnassigned AssignmentStatus = "unassigned"
	// AssignmentAssigned means an agent is bound but has not started.
	AssignmentAssigned AssignmentStatus = "assigned"
	// AssignmentInProgress means the bound agent is working.
	AssignmentInProgress AssignmentStatus = "in_progress"
	// AssignmentCompleted means the agent declared completion.
	AssignmentCompleted AssignmentStatus = "completed"
	// AssignmentMerged means the task closed through the merge pipeline.
	AssignmentMerged AssignmentStatus = "merged"
)

// DeriveAssignmentStatus classifies a task from its assignee, status
// and merge status. closed beats review beats in_progress.
func DeriveAssignmentStatus(t *Task) AssignmentStatus {
	switch {
	case t.Status == TaskStatusClosed:
		return AssignmentMerged
	case t.Status == TaskStatusReview:
		return AssignmentCompleted
	case t.Assignee != "" && t.Status == TaskStatusInProgress:
		return AssignmentInProgress
	case t.Assignee != "":
		return AssignmentAssigned
	default:
		return AssignmentUnassigned
	}
}
