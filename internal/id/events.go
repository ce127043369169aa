package id

import "time"

// EventType identifies a generation event.
type EventType string

const (
	// EventGenerationStarted fires when Generate begins.
	EventGenerationStarted EventType = "generation_started"
	// EventGenerationCompleted fires when Generate returns an id.
	EventGenerationCompleted EventType = "generation_completed"
	// EventGenerationFailed fires when Generate exhausts its retries.
	EventGenerationFailed EventType = "generation_failed"
	// EventCollisionDetected fires when the collision predicate
	// rejects a candidate.
	EventCollisionDetected EventType = "collision_detected"
	// EventNonceIncrement fires when the nonce is bumped after a
	// collision.
	EventNonceIncrement EventType = "nonce_increment"
	// EventLengthIncrease fires when the hash length grows after the
	// nonce range is exhausted.
	EventLengthIncrease EventType = "length_increase"
)

// Event describes one step of an id generation.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// Identifier is the caller-supplied identifier being named.
	Identifier string
	// ID is the candidate or final id, when one exists.
	ID string
	// Nonce is the nonce in effect when the event fired.
	Nonce int
	// HashLength is the hash length in effect when the event fired.
	HashLength int
	// Err carries the failure for generation_failed events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Sink receives generation events. Delivery is synchronous; sinks
// must not call back into the generator.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// Logger is the pluggable leveled logger consumed by the generator.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NopLogger discards all log output.
type NopLogger struct{}

// Debugf implements Logger.
func (NopLogger) Debugf(string, ...interface{}) {}

// Infof implements Logger.
func (NopLogger) Infof(string, ...interface{}) {}

// Warnf implements Logger.
func (NopLogger) Warnf(string, ...interface{}) {}

// Errorf implements Logger.
func (NopLogger) Errorf(string, ...interface{}) {}
