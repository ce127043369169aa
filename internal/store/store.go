// Package store provides the element catalog the orchestration core
// reads and writes. Every mutation goes through a version-gated
// update keyed on the element's UpdatedAt timestamp.
package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/stoneforge/stoneforge/pkg/models"
)

// ErrVersionMismatch is returned by Update when expectedUpdatedAt
// does not equal the element's current UpdatedAt. Detect it with
// errors.Is; it is always wrapped in a Conflict-kind error.
var ErrVersionMismatch = errors.New("version mismatch")

// UpdateOptions qualifies a write.
type UpdateOptions struct {
	// ExpectedUpdatedAt is the optimistic-concurrency token read from
	// the element. Zero means unconditional.
	ExpectedUpdatedAt time.Time
	// Actor records who performed the write.
	Actor string
}

// DeleteOptions qualifies a soft delete.
type DeleteOptions struct {
	// Actor records who performed the delete.
	Actor string
	// Reason records why.
	Reason string
}

// TaskFilter selects tasks from List. Zero-valued fields match
// everything.
type TaskFilter struct {
	// Status matches tasks in any of the given states.
	Status []models.TaskStatus
	// Assignee matches tasks bound to the given agent.
	Assignee string
	// HasAssignee, when set, matches tasks with (true) or without
	// (false) an assignee.
	HasAssignee *bool
	// Tags matches tasks carrying all of the given tags.
	Tags []string
	// MergeStatus matches tasks whose orchestrator metadata carries
	// any of the given merge statuses.
	MergeStatus []models.MergeStatus
	// Limit caps the result count. Zero means no cap.
	Limit int
	// Offset skips the first N results.
	Offset int
}

// AgentFilter selects agents from ListAgents.
type AgentFilter struct {
	// Role matches agents with any of the given roles.
	Role []models.AgentRole
	// SessionStatus matches agents in any of the given session states.
	SessionStatus []models.SessionState
	// Limit caps the result count. Zero means no cap.
	Limit int
	// Offset skips the first N results.
	Offset int
}

// TaskStore handles task persistence.
type TaskStore interface {
	// GetTask returns the task or nil if it does not exist.
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// ListTasks returns tasks matching the filter, newest first.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	// CreateTask stores a new task, assigning CreatedAt, UpdatedAt
	// and Version=1.
	CreateTask(ctx context.Context, t *models.Task) (*models.Task, error)
	// UpdateTask writes the task back. When opts.ExpectedUpdatedAt is
	// set it must equal the stored UpdatedAt or the write fails with
	// ErrVersionMismatch.
	UpdateTask(ctx context.Context, t *models.Task, opts UpdateOptions) (*models.Task, error)
	// DeleteTask soft-deletes the task.
	DeleteTask(ctx context.Context, id string, opts DeleteOptions) error
}

// AgentStore handles agent persistence.
type AgentStore interface {
	// GetAgent returns the agent or nil if it does not exist.
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	// ListAgents returns agents matching the filter.
	ListAgents(ctx context.Context, filter AgentFilter) ([]*models.Agent, error)
	// CreateAgent stores a new agent.
	CreateAgent(ctx context.Context, a *models.Agent) (*models.Agent, error)
	// UpdateAgent writes the agent back under the same version gate
	// as UpdateTask.
	UpdateAgent(ctx context.Context, a *models.Agent, opts UpdateOptions) (*models.Agent, error)
	// DeleteAgent soft-deletes the agent.
	DeleteAgent(ctx context.Context, id string, opts DeleteOptions) error
}

// Migrator handles schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the complete element catalog interface.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	AgentStore
}

// matchTask applies the portions of a filter that are evaluated in
// process (tags containment, merge status). Both backends use it.
func matchTask(t *models.Task, filter TaskFilter) bool {
	if len(filter.Tags) > 0 {
		have := make(map[string]bool, len(t.Tags))
		for _, tag := range t.Tags {
			have[tag] = true
		}
		for _, tag := range filter.Tags {
			if !have[tag] {
				return false
			}
		}
	}
	if len(filter.MergeStatus) > 0 {
		ms := t.Orchestrator().MergeStatus
		found := false
		for _, want := range filter.MergeStatus {
			if ms == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.HasAssignee != nil {
		if *filter.HasAssignee != (t.Assignee != "") {
			return false
		}
	}
	return true
}

// matchTaskCore applies status and assignee, for backends that do not
// push these into the query.
func matchTaskCore(t *models.Task, filter TaskFilter) bool {
	if len(filter.Status) > 0 {
		found := false
		for _, s := range filter.Status {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Assignee != "" && t.Assignee != filter.Assignee {
		return false
	}
	return true
}

// matchAgent applies an agent filter in process.
func matchAgent(a *models.Agent, filter AgentFilter) bool {
	if len(filter.Role) > 0 {
		found := false
		for _, r := range filter.Role {
			if a.Role == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.SessionStatus) > 0 {
		found := false
		for _, s := range filter.SessionStatus {
			if a.SessionStatus == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// page applies limit/offset to an already-filtered slice length and
// returns the bounds to keep.
func page(n, limit, offset int) (int, int) {
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return offset, end
}
