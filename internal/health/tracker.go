package health

import (
	"time"
)

// tracker holds the in-memory observation state for one agent. All
// access goes through the steward's lock.
type tracker struct {
	agentID string

	lastOutput time.Time
	lastError  time.Time
	// errorTimes and outputTimes are rolling rings pruned to the
	// configured window on each append and read.
	errorTimes  []time.Time
	outputTimes []time.Time

	lastPing     time.Time
	pingAttempts int

	lastCheck time.Time

	crashed      bool
	crashContext string
	crashTaskID  string
}

// newTracker starts observation for an agent. The creation time seeds
// lastOutput so a freshly seen agent is not immediately silent.
func newTracker(agentID string, now time.Time) *tracker {
	return &tracker{agentID: agentID, lastOutput: now}
}

// recordOutput notes agent output at the given time.
func (tr *tracker) recordOutput(at time.Time, window time.Duration) {
	tr.lastOutput = at
	tr.outputTimes = append(tr.outputTimes, at)
	tr.outputTimes = prune(tr.outputTimes, at.Add(-window))
}

// recordError notes an agent error at the given time.
func (tr *tracker) recordError(at time.Time, window time.Duration) {
	tr.lastError = at
	tr.errorTimes = append(tr.errorTimes, at)
	tr.errorTimes = prune(tr.errorTimes, at.Add(-window))
}

// errorsInWindow counts errors newer than the window start.
func (tr *tracker) errorsInWindow(now time.Time, window time.Duration) int {
	return countAfter(tr.errorTimes, now.Add(-window))
}

// outputsInWindow counts outputs newer than the window start.
func (tr *tracker) outputsInWindow(now time.Time, window time.Duration) int {
	return countAfter(tr.outputTimes, now.Add(-window))
}

// pingAnswered reports whether the agent produced output since the
// last ping.
func (tr *tracker) pingAnswered() bool {
	return tr.lastPing.IsZero() || tr.lastOutput.After(tr.lastPing)
}

// resetAfterRestart clears the ping and error state after a session
// restart. lastOutput is reset so the silence clock starts over.
func (tr *tracker) resetAfterRestart(now time.Time) {
	tr.pingAttempts = 0
	tr.lastPing = time.Time{}
	tr.errorTimes = nil
	tr.lastOutput = now
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	return append(times[:0], times[idx:]...)
}

func countAfter(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, at := range times {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}
