package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stoneforge/stoneforge/internal/assign"
	"github.com/stoneforge/stoneforge/internal/dispatch"
	"github.com/stoneforge/stoneforge/internal/health"
	"github.com/stoneforge/stoneforge/internal/logging"
	"github.com/stoneforge/stoneforge/internal/registry"
	"github.com/stoneforge/stoneforge/internal/session"
	"github.com/stoneforge/stoneforge/pkg/models"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run one health scan and show active issues",
	Long: `Run a single health-check scan against the registered agents and
print any active issues with their severity and occurrence counts.

Detection uses the thresholds from the health config section.`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	root, cfg, err := locateProject()
	if err != nil {
		return err
	}
	healthCfg, err := cfg.HealthConfig()
	if err != nil {
		return err
	}
	st, err := openStore(root, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log := logging.NewDebugLoggerForProject(root)
	defer log.Close()

	agents := registry.New(st)
	assigner := assign.NewService(st, agents, assign.WithWorktreeRoot(cfg.Worktrees.Root))
	steward := health.NewSteward(healthCfg, agents, session.NewLocalManager(), assigner,
		health.WithNotifier(dispatch.NewLogNotifier(log)),
		health.WithLogger(log),
	)

	scan, err := steward.CheckNow(context.Background())
	if err != nil {
		return fmt.Errorf("health scan: %w", err)
	}

	fmt.Printf("Scanned %d agent(s) in %s.\n", scan.AgentsChecked, scan.Duration)

	issues := steward.GetActiveIssues()
	if len(issues) == 0 {
		fmt.Printf("%s No active health issues.\n", color.GreenString("✓"))
		return nil
	}

	fmt.Printf("\nActive issues (%d):\n", len(issues))
	for _, issue := range issues {
		fmt.Printf("  %s %s agent=%s first=%s count=%d\n",
			colorSeverity(issue.Severity), issue.Type, issue.AgentID,
			issue.DetectedAt.Format("15:04:05"), issue.OccurrenceCount)
		if issue.TaskID != "" {
			fmt.Printf("      task %s\n", issue.TaskID)
		}
	}
	return nil
}

func colorSeverity(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return color.RedString("%-8s", s)
	case models.SeverityError:
		return color.YellowString("%-8s", s)
	default:
		return fmt.Sprintf("%-8s", s)
	}
}
