// Package config handles configuration loading for stoneforge. It
// supports XDG config paths, project-level overrides and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stoneforge/stoneforge/internal/health"
	"github.com/stoneforge/stoneforge/internal/merge"
)

// Config holds all configuration for stoneforge.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	IDGen     IDGenConfig     `mapstructure:"idgen"`
	Worktrees WorktreesConfig `mapstructure:"worktrees"`

	// Health and Merge stay raw so the stewards can reject unknown
	// keys instead of viper silently dropping them.
	Health map[string]any `mapstructure:"health"`
	Merge  map[string]any `mapstructure:"merge"`
}

// DatabaseConfig holds task store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory
	// store.
	Path string `mapstructure:"path"`
}

// IDGenConfig holds id generation settings.
type IDGenConfig struct {
	// Prefix is the short tag on every generated id.
	Prefix string `mapstructure:"prefix"`
}

// WorktreesConfig holds worktree layout settings.
type WorktreesConfig struct {
	// Root is the directory agent worktrees are created under,
	// relative to the repository root.
	Root string `mapstructure:"root"`
}

// HealthConfig parses the raw health section. Unknown keys are
// rejected.
func (c *Config) HealthConfig() (health.Config, error) {
	return health.ParseConfig(c.Health)
}

// MergeConfig parses the raw merge section. Unknown keys are
// rejected.
func (c *Config) MergeConfig() (merge.Config, error) {
	return merge.ParseConfig(c.Merge)
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (STONEFORGE_*)
// 2. Project config (.stoneforge/config.yaml in current directory or parent)
// 3. User config (~/.config/stoneforge/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("STONEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("database.path", "STONEFORGE_DATABASE_PATH")
	v.BindEnv("idgen.prefix", "STONEFORGE_IDGEN_PREFIX")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Database.Path = os.ExpandEnv(cfg.Database.Path)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Database.Path = os.ExpandEnv(cfg.Database.Path)
	return cfg, nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Database:  DatabaseConfig{Path: ".stoneforge/stoneforge.db"},
		IDGen:     IDGenConfig{Prefix: "el"},
		Worktrees: WorktreesConfig{Root: ".stoneforge/.worktrees"},
	}
}

// DefaultYAML renders the default configuration as a commented YAML
// document, used by `stoneforge init`.
func DefaultYAML() ([]byte, error) {
	cfg := Default()
	doc := map[string]any{
		"database": map[string]any{"path": cfg.Database.Path},
		"idgen":    map[string]any{"prefix": cfg.IDGen.Prefix},
		"worktrees": map[string]any{
			"root": cfg.Worktrees.Root,
		},
		"health": map[string]any{
			"healthCheckIntervalMs": 60000,
			"noOutputThresholdMs":   300000,
			"autoRestart":           true,
		},
		"merge": map[string]any{
			"testCommand": "",
			"strategy":    "squash",
		},
	}
	var buf strings.Builder
	buf.WriteString("# stoneforge configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	return []byte(buf.String()), nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if
// it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", ".stoneforge/stoneforge.db")
	v.SetDefault("idgen.prefix", "el")
	v.SetDefault("worktrees.root", ".stoneforge/.worktrees")
}

// getUserConfigDir returns the XDG config directory for stoneforge.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stoneforge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "stoneforge")
	}
	return filepath.Join(home, ".config", "stoneforge")
}

// findProjectConfig searches for .stoneforge/config.yaml in the
// current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".stoneforge", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
