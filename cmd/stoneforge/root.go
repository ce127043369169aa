package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// checkGitInstalled verifies that git is available in PATH.
func checkGitInstalled() error {
	_, err := exec.LookPath("git")
	if err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"Stoneforge requires git to manage agent branches and worktrees.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "stoneforge",
	Short: "Multi-agent development orchestrator backplane",
	Long: `Stoneforge coordinates a crew of coding agents working against one
git repository. It hands tasks to agents in isolated worktrees,
watches agent health, and merges finished branches back to the
target branch behind a test gate.

Core capabilities:
- Assigns tasks with derived branch and worktree names per agent
- Detects silent, crashed and error-looping agents and intervenes
- Test-gates and merges finished work, filing fix tasks on failure
- Mints short collision-resistant hierarchical task ids`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
