package config

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNoProject is returned when no project root can be located.
var ErrNoProject = errors.New("not inside a stoneforge project (no .git or .stoneforge found)")

// ProjectDirName is the per-project state directory.
const ProjectDirName = ".stoneforge"

// FindProjectRoot walks up from dir looking for a .stoneforge or .git
// directory. Empty dir means the current working directory.
func FindProjectRoot(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = cwd
	}
	for {
		for _, marker := range []string{ProjectDirName, ".git"} {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoProject
		}
		dir = parent
	}
}

// EnsureProjectLayout creates the .stoneforge state directories under
// root. It is idempotent.
func EnsureProjectLayout(root string) error {
	for _, sub := range []string{
		ProjectDirName,
		filepath.Join(ProjectDirName, "logs"),
		filepath.Join(ProjectDirName, ".worktrees"),
	} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ProjectConfigPath returns the config file path inside root's state
// directory.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, ProjectDirName, "config.yaml")
}
