package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stoneforge/stoneforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the effective configuration after merging defaults, the
user config, the project config and environment variables.

Configuration is stored at ~/.config/stoneforge/config.yaml
Project-specific overrides live in .stoneforge/config.yaml`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("# user config:    %s\n", describePath(config.GetUserConfigPath()))
	fmt.Printf("# project config: %s\n\n", describePath(config.GetProjectConfigPath()))

	healthCfg, err := cfg.HealthConfig()
	if err != nil {
		return fmt.Errorf("health section: %w", err)
	}
	mergeCfg, err := cfg.MergeConfig()
	if err != nil {
		return fmt.Errorf("merge section: %w", err)
	}

	doc := map[string]any{
		"database":  map[string]any{"path": cfg.Database.Path},
		"idgen":     map[string]any{"prefix": cfg.IDGen.Prefix},
		"worktrees": map[string]any{"root": cfg.Worktrees.Root},
		"health": map[string]any{
			"noOutputThresholdMs":     healthCfg.NoOutputThreshold.Milliseconds(),
			"errorCountThreshold":     healthCfg.ErrorCountThreshold,
			"errorWindowMs":           healthCfg.ErrorWindow.Milliseconds(),
			"staleSessionThresholdMs": healthCfg.StaleSessionThreshold.Milliseconds(),
			"healthCheckIntervalMs":   healthCfg.CheckInterval.Milliseconds(),
			"maxPingAttempts":         healthCfg.MaxPingAttempts,
			"autoRestart":             healthCfg.AutoRestart,
			"autoReassign":            healthCfg.AutoReassign,
			"notifyDirector":          healthCfg.NotifyDirector,
		},
		"merge": map[string]any{
			"testCommand":        mergeCfg.TestCommand,
			"testTimeoutMs":      mergeCfg.TestTimeout.Milliseconds(),
			"targetBranch":       mergeCfg.TargetBranch,
			"strategy":           string(mergeCfg.Strategy),
			"autoPushAfterMerge": mergeCfg.AutoPushAfterMerge,
			"autoCleanup":        mergeCfg.AutoCleanup,
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func describePath(path string) string {
	if path == "" {
		return "(none)"
	}
	if _, err := os.Stat(path); err != nil {
		return path + " (missing)"
	}
	return path
}
