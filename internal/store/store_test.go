package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stoneforge/stoneforge/internal/errs"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// backends returns one of each Store implementation, migrated and
// ready.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": db,
	}
}

func TestCreateAndGetTask(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.CreateTask(ctx, &models.Task{
				ID:     "el-abc",
				Title:  "Implement parser",
				Status: models.TaskStatusOpen,
				Type:   models.TaskTypeFeature,
			})
			if err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			if created.Version != 1 {
				t.Errorf("version = %d, want 1", created.Version)
			}
			if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
				t.Error("timestamps not assigned")
			}

			got, err := s.GetTask(ctx, "el-abc")
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if got == nil {
				t.Fatal("task not found after create")
			}
			if got.Title != "Implement parser" {
				t.Errorf("title = %q", got.Title)
			}
		})
	}
}

func TestGetMissingTaskReturnsNil(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.GetTask(context.Background(), "el-nope")
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if got != nil {
				t.Errorf("expected nil for missing task, got %+v", got)
			}
		})
	}
}

func TestCreateTaskRequiresID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.CreateTask(context.Background(), &models.Task{Title: "anonymous"})
			if !errs.Is(err, errs.KindValidation) {
				t.Errorf("expected Validation error, got %v", err)
			}
		})
	}
}

func TestUpdateTaskVersionGate(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.CreateTask(ctx, &models.Task{
				ID:     "el-ver",
				Title:  "Versioned",
				Status: models.TaskStatusOpen,
			})
			if err != nil {
				t.Fatalf("CreateTask: %v", err)
			}

			created.Status = models.TaskStatusInProgress
			created.Assignee = "ag-w1"
			updated, err := s.UpdateTask(ctx, created, UpdateOptions{ExpectedUpdatedAt: created.UpdatedAt})
			if err != nil {
				t.Fatalf("UpdateTask: %v", err)
			}
			if updated.Version != 2 {
				t.Errorf("version = %d, want 2", updated.Version)
			}
			if !updated.UpdatedAt.After(created.UpdatedAt) {
				t.Error("UpdatedAt did not advance")
			}

			// Writing with the stale token must fail with a version
			// mismatch wrapped in a Conflict.
			created.Title = "stale write"
			_, err = s.UpdateTask(ctx, created, UpdateOptions{ExpectedUpdatedAt: created.UpdatedAt})
			if !errors.Is(err, ErrVersionMismatch) {
				t.Errorf("expected ErrVersionMismatch, got %v", err)
			}
			if !errs.Is(err, errs.KindConflict) {
				t.Errorf("expected Conflict kind, got %v", err)
			}
		})
	}
}

func TestUpdateMissingTask(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateTask(context.Background(), &models.Task{ID: "el-ghost"}, UpdateOptions{})
			if !errs.Is(err, errs.KindNotFound) {
				t.Errorf("expected NotFound, got %v", err)
			}
		})
	}
}

func TestListTasksFilters(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed := []*models.Task{
				{ID: "el-t1", Title: "A", Status: models.TaskStatusOpen, Tags: []string{"fix", "auto-created"}},
				{ID: "el-t2", Title: "B", Status: models.TaskStatusInProgress, Assignee: "ag-w1"},
				{ID: "el-t3", Title: "C", Status: models.TaskStatusReview},
				{ID: "el-t4", Title: "D", Status: models.TaskStatusReview},
			}
			for _, task := range seed {
				if _, err := s.CreateTask(ctx, task); err != nil {
					t.Fatalf("seed %s: %v", task.ID, err)
				}
			}

			// Mark el-t3 pending for merge.
			t3, _ := s.GetTask(ctx, "el-t3")
			meta := t3.Orchestrator()
			meta.MergeStatus = models.MergePending
			t3.SetOrchestrator(meta)
			if _, err := s.UpdateTask(ctx, t3, UpdateOptions{ExpectedUpdatedAt: t3.UpdatedAt}); err != nil {
				t.Fatalf("update t3: %v", err)
			}

			byStatus, err := s.ListTasks(ctx, TaskFilter{Status: []models.TaskStatus{models.TaskStatusReview}})
			if err != nil {
				t.Fatalf("list by status: %v", err)
			}
			if len(byStatus) != 2 {
				t.Errorf("review tasks = %d, want 2", len(byStatus))
			}

			byAssignee, err := s.ListTasks(ctx, TaskFilter{Assignee: "ag-w1"})
			if err != nil {
				t.Fatalf("list by assignee: %v", err)
			}
			if len(byAssignee) != 1 || byAssignee[0].ID != "el-t2" {
				t.Errorf("assignee filter returned %v", byAssignee)
			}

			byTags, err := s.ListTasks(ctx, TaskFilter{Tags: []string{"fix", "auto-created"}})
			if err != nil {
				t.Fatalf("list by tags: %v", err)
			}
			if len(byTags) != 1 || byTags[0].ID != "el-t1" {
				t.Errorf("tag filter returned %v", byTags)
			}

			byMerge, err := s.ListTasks(ctx, TaskFilter{
				Status:      []models.TaskStatus{models.TaskStatusReview},
				MergeStatus: []models.MergeStatus{models.MergePending},
			})
			if err != nil {
				t.Fatalf("list by merge status: %v", err)
			}
			if len(byMerge) != 1 || byMerge[0].ID != "el-t3" {
				t.Errorf("merge status filter returned %v", byMerge)
			}

			limited, err := s.ListTasks(ctx, TaskFilter{Limit: 2})
			if err != nil {
				t.Fatalf("list limited: %v", err)
			}
			if len(limited) != 2 {
				t.Errorf("limit 2 returned %d", len(limited))
			}
		})
	}
}

func TestDeleteTaskTombstone(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.CreateTask(ctx, &models.Task{ID: "el-del", Title: "E", Status: models.TaskStatusOpen}); err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			if err := s.DeleteTask(ctx, "el-del", DeleteOptions{Actor: "test", Reason: "cleanup"}); err != nil {
				t.Fatalf("DeleteTask: %v", err)
			}
			got, err := s.GetTask(ctx, "el-del")
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if got != nil {
				t.Error("deleted task still visible")
			}
			if err := s.DeleteTask(ctx, "el-del", DeleteOptions{}); !errs.Is(err, errs.KindNotFound) {
				t.Errorf("second delete: expected NotFound, got %v", err)
			}
		})
	}
}

func TestMetadataRoundTripPreservesUnknownKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := &models.Task{
				ID:     "el-meta",
				Title:  "Meta",
				Status: models.TaskStatusOpen,
				Metadata: map[string]any{
					"orchestrator": map[string]any{
						"branch":    "agent/w1/el-meta-x",
						"futureKey": "kept",
					},
					"other": map[string]any{"k": "v"},
				},
			}
			if _, err := s.CreateTask(ctx, task); err != nil {
				t.Fatalf("CreateTask: %v", err)
			}

			got, err := s.GetTask(ctx, "el-meta")
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			meta := got.Orchestrator()
			if meta.Branch != "agent/w1/el-meta-x" {
				t.Errorf("branch = %q", meta.Branch)
			}
			if meta.Extra["futureKey"] != "kept" {
				t.Errorf("unknown key lost: %v", meta.Extra)
			}

			// Rewrite through the typed record and confirm the unknown
			// key survives another round trip.
			meta.MergeStatus = models.MergePending
			got.SetOrchestrator(meta)
			if _, err := s.UpdateTask(ctx, got, UpdateOptions{ExpectedUpdatedAt: got.UpdatedAt}); err != nil {
				t.Fatalf("UpdateTask: %v", err)
			}
			again, err := s.GetTask(ctx, "el-meta")
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			if again.Orchestrator().Extra["futureKey"] != "kept" {
				t.Error("unknown key lost after typed rewrite")
			}
			if again.Orchestrator().MergeStatus != models.MergePending {
				t.Error("merge status lost")
			}
			if again.Metadata["other"] == nil {
				t.Error("sibling metadata record lost")
			}
		})
	}
}

func TestAgentLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.CreateAgent(ctx, &models.Agent{
				ID:                 "ag-w1",
				Name:               "worker-one",
				Role:               models.RoleWorker,
				SessionStatus:      models.SessionIdle,
				MaxConcurrentTasks: 2,
			})
			if err != nil {
				t.Fatalf("CreateAgent: %v", err)
			}

			created.SessionStatus = models.SessionRunning
			if _, err := s.UpdateAgent(ctx, created, UpdateOptions{ExpectedUpdatedAt: created.UpdatedAt}); err != nil {
				t.Fatalf("UpdateAgent: %v", err)
			}

			if _, err := s.CreateAgent(ctx, &models.Agent{
				ID: "ag-d1", Name: "director", Role: models.RoleDirector, SessionStatus: models.SessionRunning,
			}); err != nil {
				t.Fatalf("CreateAgent director: %v", err)
			}

			workers, err := s.ListAgents(ctx, AgentFilter{Role: []models.AgentRole{models.RoleWorker}})
			if err != nil {
				t.Fatalf("ListAgents: %v", err)
			}
			if len(workers) != 1 || workers[0].ID != "ag-w1" {
				t.Errorf("role filter returned %v", workers)
			}

			running, err := s.ListAgents(ctx, AgentFilter{SessionStatus: []models.SessionState{models.SessionRunning}})
			if err != nil {
				t.Fatalf("ListAgents running: %v", err)
			}
			if len(running) != 2 {
				t.Errorf("running agents = %d, want 2", len(running))
			}
		})
	}
}
