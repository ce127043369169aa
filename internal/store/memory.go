package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// Memory is an in-memory Store with the same semantics as the SQLite
// backend. It is used by tests and by ephemeral runs.
type Memory struct {
	mu     sync.RWMutex
	tasks  map[string]*models.Task
	agents map[string]*models.Agent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:  make(map[string]*models.Task),
		agents: make(map[string]*models.Agent),
	}
}

// Close implements io.Closer.
func (m *Memory) Close() error { return nil }

// Migrate implements Migrator.
func (m *Memory) Migrate() error { return nil }

// cloneTask round-trips through JSON so callers never share memory
// with the store and metadata normalizes the same way as the SQLite
// backend.
func cloneTask(t *models.Task) *models.Task {
	data, _ := json.Marshal(t)
	out := &models.Task{}
	_ = json.Unmarshal(data, out)
	return out
}

func cloneAgent(a *models.Agent) *models.Agent {
	data, _ := json.Marshal(a)
	out := &models.Agent{}
	_ = json.Unmarshal(data, out)
	return out
}

// touch returns a write timestamp strictly after prev.
func touch(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// GetTask implements TaskStore.
func (m *Memory) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok || t.DeletedAt != nil {
		return nil, nil
	}
	return cloneTask(t), nil
}

// ListTasks implements TaskStore.
func (m *Memory) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Task
	for _, t := range m.tasks {
		if t.DeletedAt != nil {
			continue
		}
		if !matchTaskCore(t, filter) || !matchTask(t, filter) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	start, end := page(len(out), filter.Limit, filter.Offset)
	return out[start:end], nil
}

// CreateTask implements TaskStore.
func (m *Memory) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	if t.ID == "" {
		return nil, errs.New(errs.KindValidation, "task id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return nil, errs.New(errs.KindConflict, "task %s already exists", t.ID)
	}

	stored := cloneTask(t)
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Version = 1
	m.tasks[t.ID] = stored
	return cloneTask(stored), nil
}

// UpdateTask implements TaskStore.
func (m *Memory) UpdateTask(ctx context.Context, t *models.Task, opts UpdateOptions) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.tasks[t.ID]
	if !ok || current.DeletedAt != nil {
		return nil, errs.New(errs.KindNotFound, "task %s not found", t.ID)
	}
	if !opts.ExpectedUpdatedAt.IsZero() && !opts.ExpectedUpdatedAt.Equal(current.UpdatedAt) {
		return nil, errs.Wrap(errs.KindConflict, ErrVersionMismatch,
			"task %s: expected %s, have %s", t.ID,
			opts.ExpectedUpdatedAt.Format(time.RFC3339Nano),
			current.UpdatedAt.Format(time.RFC3339Nano))
	}

	stored := cloneTask(t)
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = touch(current.UpdatedAt)
	stored.Version = current.Version + 1
	m.tasks[t.ID] = stored
	return cloneTask(stored), nil
}

// DeleteTask implements TaskStore.
func (m *Memory) DeleteTask(ctx context.Context, id string, opts DeleteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tasks[id]
	if !ok || current.DeletedAt != nil {
		return errs.New(errs.KindNotFound, "task %s not found", id)
	}
	now := time.Now().UTC()
	current.DeletedAt = &now
	current.UpdatedAt = touch(current.UpdatedAt)
	current.Version++
	return nil
}

// GetAgent implements AgentStore.
func (m *Memory) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok || a.DeletedAt != nil {
		return nil, nil
	}
	return cloneAgent(a), nil
}

// ListAgents implements AgentStore.
func (m *Memory) ListAgents(ctx context.Context, filter AgentFilter) ([]*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Agent
	for _, a := range m.agents {
		if a.DeletedAt != nil {
			continue
		}
		if !matchAgent(a, filter) {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	start, end := page(len(out), filter.Limit, filter.Offset)
	return out[start:end], nil
}

// CreateAgent implements AgentStore.
func (m *Memory) CreateAgent(ctx context.Context, a *models.Agent) (*models.Agent, error) {
	if a.ID == "" {
		return nil, errs.New(errs.KindValidation, "agent id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[a.ID]; exists {
		return nil, errs.New(errs.KindConflict, "agent %s already exists", a.ID)
	}

	stored := cloneAgent(a)
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Version = 1
	m.agents[a.ID] = stored
	return cloneAgent(stored), nil
}

// UpdateAgent implements AgentStore.
func (m *Memory) UpdateAgent(ctx context.Context, a *models.Agent, opts UpdateOptions) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.agents[a.ID]
	if !ok || current.DeletedAt != nil {
		return nil, errs.New(errs.KindNotFound, "agent %s not found", a.ID)
	}
	if !opts.ExpectedUpdatedAt.IsZero() && !opts.ExpectedUpdatedAt.Equal(current.UpdatedAt) {
		return nil, errs.Wrap(errs.KindConflict, ErrVersionMismatch,
			"agent %s: expected %s, have %s", a.ID,
			opts.ExpectedUpdatedAt.Format(time.RFC3339Nano),
			current.UpdatedAt.Format(time.RFC3339Nano))
	}

	stored := cloneAgent(a)
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = touch(current.UpdatedAt)
	stored.Version = current.Version + 1
	m.agents[a.ID] = stored
	return cloneAgent(stored), nil
}

// DeleteAgent implements AgentStore.
func (m *Memory) DeleteAgent(ctx context.Context, id string, opts DeleteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.agents[id]
	if !ok || current.DeletedAt != nil {
		return errs.New(errs.KindNotFound, "agent %s not found", id)
	}
	now := time.Now().UTC()
	current.DeletedAt = &now
	current.UpdatedAt = touch(current.UpdatedAt)
	current.Version++
	return nil
}

// Compile-time verification that Memory implements Store.
var _ Store = (*Memory)(nil)
