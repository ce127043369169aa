// Package session tracks agent sessions and their activity.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// Session describes one active agent session.
type Session struct {
	// ID is the session identifier.
	ID string
	// AgentID is the owning agent.
	AgentID string
	// Status is the session lifecycle state.
	Status models.SessionState
	// StartedAt is when the session began.
	StartedAt time.Time
	// LastActivityAt is the last time the session produced output.
	LastActivityAt time.Time
	// OutputPath is the file the session writes its output to, when
	// known.
	OutputPath string
}

// StopOptions qualifies a session stop.
type StopOptions struct {
	// Graceful asks the session to wind down instead of being killed.
	Graceful bool
	// Reason records why the session was stopped.
	Reason string
}

// Manager starts, stops and messages agent sessions.
type Manager interface {
	// GetActiveSession returns the agent's active session, or nil when
	// it has none.
	GetActiveSession(ctx context.Context, agentID string) (*Session, error)
	// MessageSession posts a message into a session.
	MessageSession(ctx context.Context, sessionID string, content string) error
	// StopSession terminates a session.
	StopSession(ctx context.Context, sessionID string, opts StopOptions) error
}

// MessageFunc delivers a message to a running session process.
type MessageFunc func(ctx context.Context, sess *Session, content string) error

// StopFunc terminates a running session process.
type StopFunc func(ctx context.Context, sess *Session, opts StopOptions) error

// LocalManager is an in-memory Manager for sessions hosted in this
// process. Message and stop plumbing is injectable so the host wires
// in its actual process control.
type LocalManager struct {
	mu       sync.Mutex
	byID     map[string]*Session
	byAgent  map[string]string // agentID -> sessionID
	deliver  MessageFunc
	shutdown StopFunc
	now      func() time.Time
}

// LocalOption configures a LocalManager.
type LocalOption func(*LocalManager)

// WithMessageFunc sets the message delivery hook.
func WithMessageFunc(fn MessageFunc) LocalOption {
	return func(m *LocalManager) { m.deliver = fn }
}

// WithStopFunc sets the process shutdown hook.
func WithStopFunc(fn StopFunc) LocalOption {
	return func(m *LocalManager) { m.shutdown = fn }
}

// WithClock overrides the manager's clock (for testing).
func WithClock(now func() time.Time) LocalOption {
	return func(m *LocalManager) { m.now = now }
}

// NewLocalManager creates an empty local session manager.
func NewLocalManager(opts ...LocalOption) *LocalManager {
	m := &LocalManager{
		byID:    make(map[string]*Session),
		byAgent: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSession registers a new running session for the agent. At most
// one active session per agent.
func (m *LocalManager) StartSession(agentID, outputPath string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byAgent[agentID]; ok {
		if sess := m.byID[existing]; sess != nil && !terminal(sess.Status) {
			return nil, errs.New(errs.KindConflict, "agent %s already has active session %s", agentID, existing)
		}
	}

	now := m.now()
	sess := &Session{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Status:         models.SessionRunning,
		StartedAt:      now,
		LastActivityAt: now,
		OutputPath:     outputPath,
	}
	m.byID[sess.ID] = sess
	m.byAgent[agentID] = sess.ID
	return clone(sess), nil
}

// GetActiveSession implements Manager.
func (m *LocalManager) GetActiveSession(_ context.Context, agentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAgent[agentID]
	if !ok {
		return nil, nil
	}
	sess := m.byID[id]
	if sess == nil || terminal(sess.Status) {
		return nil, nil
	}
	return clone(sess), nil
}

// MessageSession implements Manager.
func (m *LocalManager) MessageSession(ctx context.Context, sessionID string, content string) error {
	m.mu.Lock()
	sess := m.byID[sessionID]
	deliver := m.deliver
	m.mu.Unlock()

	if sess == nil {
		return errs.New(errs.KindNotFound, "session %s not found", sessionID)
	}
	if terminal(sess.Status) {
		return errs.New(errs.KindConflict, "session %s is %s", sessionID, sess.Status)
	}
	if deliver == nil {
		return nil
	}
	if err := deliver(ctx, clone(sess), content); err != nil {
		return errs.Wrap(errs.KindExternal, err, "message session %s", sessionID)
	}
	return nil
}

// StopSession implements Manager.
func (m *LocalManager) StopSession(ctx context.Context, sessionID string, opts StopOptions) error {
	m.mu.Lock()
	sess := m.byID[sessionID]
	shutdown := m.shutdown
	if sess != nil && !terminal(sess.Status) {
		sess.Status = models.SessionTerminating
	}
	m.mu.Unlock()

	if sess == nil {
		return errs.New(errs.KindNotFound, "session %s not found", sessionID)
	}

	if shutdown != nil {
		if err := shutdown(ctx, clone(sess), opts); err != nil {
			return errs.Wrap(errs.KindExternal, err, "stop session %s", sessionID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess.Status = models.SessionTerminated
	if m.byAgent[sess.AgentID] == sessionID {
		delete(m.byAgent, sess.AgentID)
	}
	return nil
}

// RecordActivity bumps the session's last-activity timestamp.
func (m *LocalManager) RecordActivity(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess := m.byID[sessionID]; sess != nil {
		sess.LastActivityAt = m.now()
	}
}

// SessionByOutputPath finds the session writing to the given path.
func (m *LocalManager) SessionByOutputPath(path string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.byID {
		if sess.OutputPath == path && !terminal(sess.Status) {
			return clone(sess)
		}
	}
	return nil
}

func terminal(s models.SessionState) bool {
	return s == models.SessionTerminated
}

func clone(s *Session) *Session {
	c := *s
	return &c
}

// Verify LocalManager implements Manager at compile time.
var _ Manager = (*LocalManager)(nil)
