// Package dispatch delivers notifications to agents.
package dispatch

import (
	"context"
	"sync"

	"github.com/stoneforge/stoneforge/internal/logging"
)

// Kind classifies a notification.
type Kind string

const (
	// KindTaskAssignment tells an agent a task was assigned to it.
	KindTaskAssignment Kind = "task-assignment"
	// KindHealthAlert escalates a health issue to a supervising agent.
	KindHealthAlert Kind = "health-alert"
)

// Notification is one message delivered to an agent.
type Notification struct {
	// AgentID identifies the recipient.
	AgentID string
	// Kind classifies the message.
	Kind Kind
	// Message is the human-readable body.
	Message string
	// TaskID is the related task, when any.
	TaskID string
}

// Notifier delivers notifications to agents. Delivery failures are
// reported but never block the caller's state transitions.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the debug log. It is the
// default sink when no agent transport is wired.
type LogNotifier struct {
	log logging.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	if l.log != nil {
		l.log.Infof("notify agent=%s kind=%s task=%s: %s", n.AgentID, n.Kind, n.TaskID, n.Message)
	}
	return nil
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	// Err is returned from Notify when set.
	Err error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns all captured notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// SentTo returns captured notifications for one agent.
func (r *Recorder) SentTo(agentID string) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.AgentID == agentID {
			out = append(out, n)
		}
	}
	return out
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
)
