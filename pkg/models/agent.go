package models

import "time"

// AgentRole identifies the responsibility of an agent.
type AgentRole string

const (
	// RoleDirector coordinates other agents and receives alerts.
	RoleDirector AgentRole = "director"
	// RoleWorker executes tasks.
	RoleWorker AgentRole = "worker"
	// RoleSteward runs a control loop (health or merge).
	RoleSteward AgentRole = "steward"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleDirector, RoleWorker, RoleSteward:
		return true
	default:
		return false
	}
}

// SessionState represents the lifecycle of an agent's session.
type SessionState string

const (
	// SessionIdle means the agent has no running session.
	SessionIdle SessionState = "idle"
	// SessionStarting means a session is being launched.
	SessionStarting SessionState = "starting"
	// SessionRunning means the session is live.
	SessionRunning SessionState = "running"
	// SessionSuspended means the session is paused.
	SessionSuspended SessionState = "suspended"
	// SessionTerminating means the session is shutting down.
	SessionTerminating SessionState = "terminating"
	// SessionTerminated means the session has exited.
	SessionTerminated SessionState = "terminated"
)

// Valid returns true if the session state is a known value.
func (s SessionState) Valid() bool {
	switch s {
	case SessionIdle, SessionStarting, SessionRunning,
		SessionSuspended, SessionTerminating, SessionTerminated:
		return true
	default:
		return false
	}
}

// Agent represents an autonomous worker identity.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the human-readable agent name, used in branch names.
	Name string `json:"name"`
	// Role is the agent's responsibility.
	Role AgentRole `json:"role"`
	// SessionStatus is the state of the agent's current session.
	SessionStatus SessionState `json:"session_status"`
	// MaxConcurrentTasks caps in-progress tasks bound to this agent.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	// CreatedAt is when the agent was registered.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the optimistic-concurrency token.
	UpdatedAt time.Time `json:"updated_at"`
	// Version counts successful writes, starting at 1.
	Version int `json:"version"`
	// Metadata holds owner-keyed sub-records, like Task.Metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
	// DeletedAt is the soft-delete tombstone.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
