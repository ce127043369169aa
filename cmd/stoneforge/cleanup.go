package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stoneforge/stoneforge/internal/store"
	"github.com/stoneforge/stoneforge/internal/worktree"
	"github.com/stoneforge/stoneforge/pkg/models"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned agent worktrees",
	Long: `Clean up agent worktrees no longer referenced by any live task.

This command:
  - Lists worktrees under the configured worktree root
  - Identifies orphans (no open, in-progress or review task points at them)
  - Removes orphaned worktrees and their branches
  - Runs git worktree prune

Use this after a crash or interrupted run to reclaim disk and branches.

Examples:
  stoneforge cleanup              # Interactive cleanup with confirmation
  stoneforge cleanup --force      # Skip confirmation prompt
  stoneforge cleanup --dry-run    # Show what would be removed
  stoneforge cleanup -v           # Verbose output showing each removal`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	root, cfg, err := locateProject()
	if err != nil {
		return err
	}
	st, err := openStore(root, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	trees := worktree.NewManager(root)
	orphans, err := findOrphanWorktrees(context.Background(), st, trees, root, cfg.Worktrees.Root)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Println("No orphaned worktrees found.")
		return nil
	}

	fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
	for _, path := range orphans {
		fmt.Printf("  - %s\n", path)
	}
	fmt.Println()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no worktrees were removed.")
		return nil
	}

	if !cleanupForce {
		fmt.Print("Remove these worktrees? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	removed := 0
	for _, path := range orphans {
		err := trees.RemoveWorktree(path, worktree.RemoveOptions{
			Force:              true,
			DeleteBranch:       true,
			DeleteRemoteBranch: true,
		})
		if err != nil {
			fmt.Printf("Failed to remove %s: %v\n", path, err)
			continue
		}
		if cleanupVerbose {
			fmt.Printf("Removed: %s\n", path)
		}
		removed++
	}
	fmt.Printf("Successfully removed %d orphaned worktree(s).\n", removed)
	return nil
}

// findOrphanWorktrees lists worktrees under the worktree root that no
// live task references.
func findOrphanWorktrees(ctx context.Context, st store.Store, trees *worktree.Manager, root, worktreeRoot string) ([]string, error) {
	all, err := trees.Git("").WorktreeList()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	tasks, err := st.ListTasks(ctx, store.TaskFilter{
		Status: []models.TaskStatus{
			models.TaskStatusOpen,
			models.TaskStatusInProgress,
			models.TaskStatusReview,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	referenced := make(map[string]bool)
	for _, t := range tasks {
		for _, wt := range []string{t.Orchestrator().Worktree, t.Orchestrator().HandoffWorktree} {
			if wt == "" {
				continue
			}
			if !filepath.IsAbs(wt) {
				wt = filepath.Join(root, wt)
			}
			referenced[filepath.Clean(wt)] = true
		}
	}

	prefix := filepath.Clean(filepath.Join(root, worktreeRoot)) + string(filepath.Separator)
	var orphans []string
	for _, path := range all {
		clean := filepath.Clean(path)
		if !strings.HasPrefix(clean, prefix) {
			continue
		}
		if !referenced[clean] {
			orphans = append(orphans, clean)
		}
	}
	return orphans, nil
}
