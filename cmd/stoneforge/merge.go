package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stoneforge/stoneforge/internal/dispatch"
	"github.com/stoneforge/stoneforge/internal/id"
	"github.com/stoneforge/stoneforge/internal/logging"
	"github.com/stoneforge/stoneforge/internal/merge"
	"github.com/stoneforge/stoneforge/internal/worktree"
	"github.com/stoneforge/stoneforge/pkg/models"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [taskID]",
	Short: "Merge tasks awaiting merge",
	Long: `Process tasks in review with a pending merge through the test gate
and onto the target branch. With a task id, process only that task.

Examples:
  stoneforge merge           # process all tasks awaiting merge
  stoneforge merge el-ab12   # process one task`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	root, cfg, err := locateProject()
	if err != nil {
		return err
	}
	mergeCfg, err := cfg.MergeConfig()
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

	steward := merge.NewSteward(mergeCfg, st, worktree.NewManager(root), id.New(cfg.IDGen.Prefix),
		merge.WithNotifier(dispatch.NewLogNotifier(log)),
		merge.WithLogger(log),
	)
	ctx := context.Background()

	if len(args) == 1 {
		result, err := steward.ProcessTask(ctx, args[0])
		if err != nil {
			return err
		}
		printMergeResult(*result)
		return nil
	}

	batch, err := steward.ProcessAllPending(ctx)
	if err != nil {
		return err
	}
	if batch.TotalProcessed == 0 {
		fmt.Println("No tasks awaiting merge.")
		return nil
	}
	for _, result := range batch.Results {
		printMergeResult(result)
	}
	fmt.Printf("\n%d processed, %d merged, %d with errors.\n",
		batch.TotalProcessed, batch.MergedCount, batch.ErrorCount)
	return nil
}

func printMergeResult(r merge.Result) {
	line := fmt.Sprintf("%s: %s", r.TaskID, colorOutcome(r.Outcome))
	if r.FixTaskID != "" {
		line += fmt.Sprintf(" (fix task %s)", r.FixTaskID)
	}
	if r.Err != "" {
		line += ": " + r.Err
	}
	fmt.Println(line)
}

func colorOutcome(o models.MergeStatus) string {
	switch o {
	case models.MergeMerged:
		return color.GreenString(string(o))
	case models.MergeNotApplicable:
		return color.HiBlackString(string(o))
	case models.MergeConflict, models.MergeTestFailed, models.MergeFailed:
		return color.RedString(string(o))
	default:
		return string(o)
	}
}
