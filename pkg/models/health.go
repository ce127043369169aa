package models

import "time"

// IssueType identifies a health condition detected on an agent.
type IssueType string

const (
	// IssueNoOutput means the agent has produced no output past the
	// configured threshold.
	IssueNoOutput IssueType = "no_output"
	// IssueRepeatedErrors means the rolling error count crossed the
	// configured threshold.
	IssueRepeatedErrors IssueType = "repeated_errors"
	// IssueProcessCrashed means the agent's process died.
	IssueProcessCrashed IssueType = "process_crashed"
	// IssueHighErrorRate means errors dominate the output stream.
	IssueHighErrorRate IssueType = "high_error_rate"
	// IssueSessionStale means the session's last activity is too old.
	IssueSessionStale IssueType = "session_stale"
	// IssueUnresponsive means the agent ignored the maximum number of
	// health pings.
	IssueUnresponsive IssueType = "unresponsive"
)

// Valid returns true if the issue type is a known value.
func (t IssueType) Valid() bool {
	switch t {
	case IssueNoOutput, IssueRepeatedErrors, IssueProcessCrashed,
		IssueHighErrorRate, IssueSessionStale, IssueUnresponsive:
		return true
	default:
		return false
	}
}

// Severity ranks how bad a health issue is.
type Severity string

const (
	// SeverityWarning is advisory.
	SeverityWarning Severity = "warning"
	// SeverityError requires corrective action.
	SeverityError Severity = "error"
	// SeverityCritical requires escalation.
	SeverityCritical Severity = "critical"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// HealthIssue records a detected problem with a running agent.
// Issues are in-memory only; they live from detection until
// resolution and are reconstructible after a restart.
type HealthIssue struct {
	// ID is a synthetic identifier for this issue.
	ID string `json:"id"`
	// AgentID is the agent the issue was detected on.
	AgentID string `json:"agent_id"`
	// AgentRole is the role of that agent.
	AgentRole AgentRole `json:"agent_role"`
	// Type is the detected condition.
	Type IssueType `json:"type"`
	// Severity ranks the issue.
	Severity Severity `json:"severity"`
	// DetectedAt is when the issue was first detected.
	DetectedAt time.Time `json:"detected_at"`
	// LastSeenAt is when the condition last held.
	LastSeenAt time.Time `json:"last_seen_at"`
	// OccurrenceCount is how many scans have seen the condition.
	OccurrenceCount int `json:"occurrence_count"`
	// TaskID is the task the agent was working on, if known.
	TaskID string `json:"task_id,omitempty"`
	// SessionID is the agent's session, if known.
	SessionID string `json:"session_id,omitempty"`
	// Context carries free-form diagnostic details.
	Context map[string]any `json:"context,omitempty"`
	// Escalated marks the issue for human review.
	Escalated bool `json:"escalated,omitempty"`
}
