package health

import (
	"sync/atomic"
	"time"

	"github.com/stoneforge/stoneforge/internal/logging"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// EventType identifies a steward event.
type EventType string

const (
	// EventCheckCompleted carries the scan result after each scan.
	EventCheckCompleted EventType = "check:completed"
	// EventIssueDetected fires when a new issue is created.
	EventIssueDetected EventType = "issue:detected"
	// EventIssueResolved fires when an issue's condition clears.
	EventIssueResolved EventType = "issue:resolved"
	// EventActionTaken fires after each remediation action.
	EventActionTaken EventType = "action:taken"
)

// Event is one steward event. Listeners must not mutate steward state
// from inside a receive.
type Event struct {
	// Type identifies the event.
	Type EventType
	// Timestamp is when the event was emitted.
	Timestamp time.Time
	// Issue is set for issue:detected and issue:resolved.
	Issue *models.HealthIssue
	// Action is set for action:taken.
	Action *ActionResult
	// Scan is set for check:completed.
	Scan *ScanResult
}

// EventEmitter delivers steward events to subscribers.
// It provides a simple, thread-safe way to emit events over a
// buffered channel.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	log          logging.Logger
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, log logging.Logger) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		log:    log,
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
		// Channel full, try with timeout
	}

	// Give the receiver a chance to drain before dropping.
	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 && e.log != nil { // Log every 10th drop to avoid spam
			e.log.Warnf("event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
// This should be called when the steward is stopped for good.
func (e *EventEmitter) Close() {
	close(e.events)
}
