package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stoneforge/stoneforge/internal/config"
)

var (
	initForce bool
	initNoGit bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a stoneforge project",
	Long: `Initialize a directory for use with stoneforge.

This command sets up everything needed to run stoneforge:
  - Verifies git is available
  - Initializes a git repository if needed
  - Creates the .stoneforge directory structure
  - Writes a default .stoneforge/config.yaml

The directory argument is optional and defaults to the current directory.

Examples:
  stoneforge init              # Initialize current directory
  stoneforge init ./myproject  # Initialize specific directory
  stoneforge init --force      # Rewrite config even if already set up
  stoneforge init --no-git     # Skip git initialization`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Rewrite config even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing stoneforge in %s...\n\n", absPath)

	configPath := config.ProjectConfigPath(absPath)
	if _, err := os.Stat(configPath); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to rewrite the config.")
		return nil
	}

	if err := checkGitInstalled(); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return err
	}
	printStatus("✓", "Git found", color.FgGreen)

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	if err := config.EnsureProjectLayout(absPath); err != nil {
		return fmt.Errorf("creating .stoneforge directory structure: %w", err)
	}
	printStatus("✓", "Created .stoneforge directory structure", color.FgGreen)

	data, err := config.DefaultYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	printStatus("✓", "Wrote "+filepath.Join(config.ProjectDirName, "config.yaml"), color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with stoneforge entries", color.FgGreen)
	}

	fmt.Printf("\n%s Stoneforge initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Adjust .stoneforge/config.yaml (test command, thresholds)")
	fmt.Println("  2. Start the stewards:")
	fmt.Println("     stoneforge run")
	fmt.Println("  3. Learn more:")
	fmt.Println("     stoneforge --help")

	return nil
}

// initGitRepo initializes a git repository and ensures it has at
// least one commit on a main branch.
func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init failed: %s\n%s", err, string(output))
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	hasCommits, err := hasAnyCommits(repoPath)
	if err != nil {
		return fmt.Errorf("checking for commits: %w", err)
	}
	if !hasCommits {
		if err := ensureInitialCommit(repoPath); err != nil {
			return fmt.Errorf("creating initial commit: %w", err)
		}
		printStatus("✓", "Created initial commit", color.FgGreen)
	} else {
		printStatus("✓", "Git repository has commits", color.FgGreen)
	}

	if err := ensureMainBranch(repoPath); err != nil {
		return fmt.Errorf("ensuring main branch: %w", err)
	}
	printStatus("✓", "Main branch exists", color.FgGreen)

	return nil
}

// hasAnyCommits checks if the repository has any commits.
func hasAnyCommits(repoPath string) (bool, error) {
	cmd := exec.Command("git", "rev-list", "-n", "1", "--all")
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit code 128 typically means no commits.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, fmt.Errorf("git rev-list failed: %s", string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ensureInitialCommit creates an initial commit if needed.
func ensureInitialCommit(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		content := "# stoneforge\n.stoneforge/logs/\n.stoneforge/.worktrees/\n.stoneforge/*.db*\n"
		if err := os.WriteFile(gitignorePath, []byte(content), 0644); err != nil {
			return fmt.Errorf("creating .gitignore: %w", err)
		}
	}

	addCmd := exec.Command("git", "add", ".")
	addCmd.Dir = repoPath
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %s\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "--allow-empty", "-m", "Initial commit")
	commitCmd.Dir = repoPath
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s\n%s", err, string(output))
	}
	return nil
}

// ensureMainBranch ensures the primary branch is named "main". If
// "master" exists but "main" doesn't, renames master to main so merge
// targets stay consistent.
func ensureMainBranch(repoPath string) error {
	mainCmd := exec.Command("git", "rev-parse", "--verify", "main")
	mainCmd.Dir = repoPath
	if err := mainCmd.Run(); err == nil {
		return nil
	}

	renameCmd := exec.Command("git", "branch", "-M", "main")
	renameCmd.Dir = repoPath
	if output, err := renameCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating main branch: %s\n%s", err, string(output))
	}
	return nil
}

// updateGitignore adds stoneforge entries to .gitignore if not
// present.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	entries := []string{
		".stoneforge/logs/",
		".stoneforge/.worktrees/",
		".stoneforge/*.db*",
	}

	needsUpdate := false
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# stoneforge\n")
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}
	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

// printStatus prints a status line with color.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
