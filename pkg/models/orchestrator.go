package models

import (
	"encoding/json"
	"time"
)

// MetadataKeyOrchestrator is the key under Task.Metadata where the
// orchestrator's sub-record lives.
const MetadataKeyOrchestrator = "orchestrator"

// HandoffEntry records one handoff of a task back to the worker pool.
type HandoffEntry struct {
	// SessionID is the session that handed the task off.
	SessionID string `json:"sessionId"`
	// Message explains why the task was handed off.
	Message string `json:"message"`
	// At is when the handoff happened.
	At time.Time `json:"at"`
}

// TestTotals summarizes a test run.
type TestTotals struct {
	// Total is the number of tests executed.
	Total int `json:"total"`
	// Passed is the number of passing tests.
	Passed int `json:"passed"`
	// Failed is the number of failing tests.
	Failed int `json:"failed"`
}

// TestResult records the outcome of one test attempt.
type TestResult struct {
	// Passed indicates whether the run succeeded.
	Passed bool `json:"passed"`
	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completedAt"`
	// Totals summarizes the run, when the test command reports counts.
	Totals TestTotals `json:"totals"`
}

// OrchestratorMeta is the schema-owned sub-record the orchestrator
// keeps under Task.Metadata["orchestrator"]. Unknown keys written by
// newer versions are preserved in Extra and round-tripped on write.
type OrchestratorMeta struct {
	// AssignedAgent is the entity ID of the agent the task is bound to.
	AssignedAgent string `json:"assignedAgent,omitempty"`
	// Branch is the git branch for agent work.
	Branch string `json:"branch,omitempty"`
	// Worktree is the filesystem path of the agent's working copy.
	Worktree string `json:"worktree,omitempty"`
	// SessionID is the current agent session, if any.
	SessionID string `json:"sessionId,omitempty"`
	// StartedAt is when the task moved to in_progress.
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// CompletedAt is when the agent declared completion.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// MergedAt is when the merge into the target branch succeeded.
	MergedAt *time.Time `json:"mergedAt,omitempty"`
	// MergeStatus gates merge-pipeline visibility; empty means hidden.
	MergeStatus MergeStatus `json:"mergeStatus,omitempty"`
	// MergeFailureReason is a free-text diagnostic on merge failure.
	MergeFailureReason string `json:"mergeFailureReason,omitempty"`
	// TestRunCount is incremented per test attempt.
	TestRunCount int `json:"testRunCount,omitempty"`
	// LastTestResult is the outcome of the most recent test attempt.
	LastTestResult *TestResult `json:"lastTestResult,omitempty"`
	// HandoffHistory has one entry per handoff, oldest first.
	HandoffHistory []HandoffEntry `json:"handoffHistory,omitempty"`
	// HandoffBranch preserves the branch from the prior owner.
	HandoffBranch string `json:"handoffBranch,omitempty"`
	// HandoffWorktree preserves the worktree from the prior owner.
	HandoffWorktree string `json:"handoffWorktree,omitempty"`
	// LastSessionID is the session of the prior owner.
	LastSessionID string `json:"lastSessionId,omitempty"`
	// HandoffAt is when the most recent handoff happened.
	HandoffAt *time.Time `json:"handoffAt,omitempty"`
	// Extra preserves keys this version does not know about.
	Extra map[string]any `json:"-"`
}

// knownOrchestratorKeys lists the JSON keys owned by OrchestratorMeta.
var knownOrchestratorKeys = map[string]bool{
	"assignedAgent":      true,
	"branch":             true,
	"worktree":           true,
	"sessionId":          true,
	"startedAt":          true,
	"completedAt":        true,
	"mergedAt":           true,
	"mergeStatus":        true,
	"mergeFailureReason": true,
	"testRunCount":       true,
	"lastTestResult":     true,
	"handoffHistory":     true,
	"handoffBranch":      true,
	"handoffWorktree":    true,
	"lastSessionId":      true,
	"handoffAt":          true,
}

// Orchestrator extracts the orchestrator sub-record from the task's
// metadata. Returns an empty record if none is present.
func (t *Task) Orchestrator() *OrchestratorMeta {
	meta := &OrchestratorMeta{}
	if t.Metadata == nil {
		return meta
	}
	raw, ok := t.Metadata[MetadataKeyOrchestrator]
	if !ok {
		return meta
	}

	// Round-trip through JSON so both map[string]any (from storage)
	// and *OrchestratorMeta (from in-process writes) decode the same.
	data, err := json.Marshal(raw)
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, meta); err != nil {
		return meta
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err == nil {
		for k, v := range all {
			if !knownOrchestratorKeys[k] {
				if meta.Extra == nil {
					meta.Extra = make(map[string]any)
				}
				meta.Extra[k] = v
			}
		}
	}
	return meta
}

// SetOrchestrator writes the orchestrator sub-record back into the
// task's metadata, merging preserved unknown keys.
func (t *Task) SetOrchestrator(meta *OrchestratorMeta) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[MetadataKeyOrchestrator] = meta.toMap()
}

// toMap renders the record as a plain map with Extra merged in.
// Known keys win over stale Extra entries.
func (m *OrchestratorMeta) toMap() map[string]any {
	out := make(map[string]any, len(knownOrchestratorKeys)+len(m.Extra))
	for k, v := range m.Extra {
		out[k] = v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return out
	}
	var known map[string]any
	if err := json.Unmarshal(data, &known); err != nil {
		return out
	}
	for k, v := range known {
		out[k] = v
	}
	return out
}

// HasMergeStatus reports whether the task is visible to the merge
// pipeline.
func (t *Task) HasMergeStatus() bool {
	return t.Orchestrator().MergeStatus != ""
}
