package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stoneforge/stoneforge/internal/assign"
	"github.com/stoneforge/stoneforge/internal/registry"
	"github.com/stoneforge/stoneforge/internal/store"
	"github.com/stoneforge/stoneforge/pkg/models"
)

var statusAgent string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current assignments",
	Long: `Display the current assignment state of the project.

Shows:
  - Registered agents, their roles and workloads
  - Tasks bound to agents and their assignment status
  - Tasks awaiting merge`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAgent, "agent", "", "Limit to one agent's assignments")
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, cfg, err := locateProject()
	if err != nil {
		return err
	}
	st, err := openStore(root, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	agents := registry.New(st)
	assigner := assign.NewService(st, agents, assign.WithWorktreeRoot(cfg.Worktrees.Root))

	agentList, err := st.ListAgents(ctx, store.AgentFilter{})
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if len(agentList) == 0 {
		fmt.Println("No agents registered.")
	} else {
		fmt.Println("Agents:")
		for _, a := range agentList {
			workload, err := assigner.GetAgentWorkload(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("workload for %s: %w", a.ID, err)
			}
			fmt.Printf("  %s (%s, %s): %d in progress, %d total\n",
				a.Name, a.Role, a.SessionStatus, workload.InProgress, workload.Total)
		}
	}

	assignments, err := assigner.ListAssignments(ctx, assign.AssignmentFilter{AgentID: statusAgent})
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}

	fmt.Println()
	if len(assignments) == 0 {
		fmt.Println("No assigned tasks.")
	} else {
		fmt.Println("Assignments:")
		for _, a := range assignments {
			meta := a.Task.Orchestrator()
			fmt.Printf("  %s %s \"%s\" -> %s%s\n",
				colorAssignment(a.Status), a.Task.ID, a.Task.Title,
				meta.AssignedAgent, ageSuffix(meta.StartedAt))
		}
	}

	awaiting, err := assigner.GetTasksAwaitingMerge(ctx)
	if err != nil {
		return fmt.Errorf("tasks awaiting merge: %w", err)
	}
	if len(awaiting) > 0 {
		fmt.Println()
		fmt.Printf("Awaiting merge: %d task(s)\n", len(awaiting))
		for _, t := range awaiting {
			fmt.Printf("  %s \"%s\" (branch %s)\n", t.ID, t.Title, t.Orchestrator().Branch)
		}
	}

	return nil
}

func colorAssignment(s models.AssignmentStatus) string {
	switch s {
	case models.AssignmentInProgress:
		return color.GreenString("%-12s", s)
	case models.AssignmentCompleted:
		return color.CyanString("%-12s", s)
	case models.AssignmentMerged:
		return color.HiBlackString("%-12s", s)
	default:
		return fmt.Sprintf("%-12s", s)
	}
}

func ageSuffix(t *time.Time) string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf(" (%s)", formatDuration(time.Since(*t)))
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
