// Package registry exposes agent lookup on top of the store.
package registry

import (
	"context"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/internal/store"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// Registry enumerates agents and their concurrency caps.
type Registry interface {
	// Get returns the agent, or nil when it does not exist.
	Get(ctx context.Context, agentID string) (*models.Agent, error)
	// ListByRole returns agents with the given role.
	ListByRole(ctx context.Context, role models.AgentRole) ([]*models.Agent, error)
	// ListBySessionStatus returns agents whose session is in one of the
	// given states.
	ListBySessionStatus(ctx context.Context, states ...models.SessionState) ([]*models.Agent, error)
	// MaxConcurrentTasks returns the agent's concurrency cap. Zero
	// means one task at a time.
	MaxConcurrentTasks(ctx context.Context, agentID string) (int, error)
	// FirstDirector returns the first agent with the director role, or
	// nil when none is registered.
	FirstDirector(ctx context.Context) (*models.Agent, error)
}

// StoreRegistry implements Registry backed by an agent store.
type StoreRegistry struct {
	agents store.AgentStore
}

// New creates a registry over the given agent store.
func New(agents store.AgentStore) *StoreRegistry {
	return &StoreRegistry{agents: agents}
}

// Get implements Registry.
func (r *StoreRegistry) Get(ctx context.Context, agentID string) (*models.Agent, error) {
	return r.agents.GetAgent(ctx, agentID)
}

// ListByRole implements Registry.
func (r *StoreRegistry) ListByRole(ctx context.Context, role models.AgentRole) ([]*models.Agent, error) {
	return r.agents.ListAgents(ctx, store.AgentFilter{Role: []models.AgentRole{role}})
}

// ListBySessionStatus implements Registry.
func (r *StoreRegistry) ListBySessionStatus(ctx context.Context, states ...models.SessionState) ([]*models.Agent, error) {
	return r.agents.ListAgents(ctx, store.AgentFilter{SessionStatus: states})
}

// MaxConcurrentTasks implements Registry.
func (r *StoreRegistry) MaxConcurrentTasks(ctx context.Context, agentID string) (int, error) {
	agent, err := r.agents.GetAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if agent == nil {
		return 0, errs.New(errs.KindNotFound, "agent %s not found", agentID)
	}
	return agent.MaxConcurrentTasks, nil
}

// FirstDirector implements Registry.
func (r *StoreRegistry) FirstDirector(ctx context.Context) (*models.Agent, error) {
	directors, err := r.ListByRole(ctx, models.RoleDirector)
	if err != nil {
		return nil, err
	}
	if len(directors) == 0 {
		return nil, nil
	}
	return directors[0], nil
}

// Verify StoreRegistry implements Registry at compile time.
var _ Registry = (*StoreRegistry)(nil)
