package registry

import (
	"context"
	"testing"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/internal/store"
	"github.com/stoneforge/stoneforge/pkg/models"
)

func seedRegistry(t *testing.T) *StoreRegistry {
	t.Helper()
	s := store.NewMemory()
	ctx := context.Background()
	agents := []*models.Agent{
		{ID: "ag-d1", Name: "director", Role: models.RoleDirector, SessionStatus: models.SessionRunning},
		{ID: "ag-w1", Name: "worker-one", Role: models.RoleWorker, SessionStatus: models.SessionRunning, MaxConcurrentTasks: 3},
		{ID: "ag-w2", Name: "worker-two", Role: models.RoleWorker, SessionStatus: models.SessionIdle},
	}
	for _, a := range agents {
		if _, err := s.CreateAgent(ctx, a); err != nil {
			t.Fatalf("seed %s: %v", a.ID, err)
		}
	}
	return New(s)
}

func TestListByRole(t *testing.T) {
	r := seedRegistry(t)
	workers, err := r.ListByRole(context.Background(), models.RoleWorker)
	if err != nil {
		t.Fatalf("ListByRole: %v", err)
	}
	if len(workers) != 2 {
		t.Errorf("workers = %d, want 2", len(workers))
	}
}

func TestListBySessionStatus(t *testing.T) {
	r := seedRegistry(t)
	running, err := r.ListBySessionStatus(context.Background(), models.SessionRunning)
	if err != nil {
		t.Fatalf("ListBySessionStatus: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("running agents = %d, want 2", len(running))
	}
}

func TestMaxConcurrentTasks(t *testing.T) {
	r := seedRegistry(t)
	cap, err := r.MaxConcurrentTasks(context.Background(), "ag-w1")
	if err != nil {
		t.Fatalf("MaxConcurrentTasks: %v", err)
	}
	if cap != 3 {
		t.Errorf("cap = %d, want 3", cap)
	}

	_, err = r.MaxConcurrentTasks(context.Background(), "ag-ghost")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestFirstDirector(t *testing.T) {
	r := seedRegistry(t)
	d, err := r.FirstDirector(context.Background())
	if err != nil {
		t.Fatalf("FirstDirector: %v", err)
	}
	if d == nil || d.ID != "ag-d1" {
		t.Errorf("director = %+v", d)
	}
}
