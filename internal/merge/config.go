package merge

import (
	"strings"
	"time"

	"github.com/stoneforge/stoneforge/internal/errs"
)

// Strategy selects how a task branch lands on the target branch.
type Strategy string

const (
	// StrategySquash collapses the branch into one commit.
	StrategySquash Strategy = "squash"
	// StrategyMerge creates a regular merge commit.
	StrategyMerge Strategy = "merge"
)

// Valid returns true for a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategySquash || s == StrategyMerge
}

// Config controls the merge steward.
type Config struct {
	// TestCommand is the shell command run inside the task worktree.
	// Empty means no test gate.
	TestCommand string
	// TestTimeout bounds one test run; exceeding it counts as a
	// failed run with reason "timeout".
	TestTimeout time.Duration
	// TargetBranch is the merge destination. Empty means the
	// repository's default branch.
	TargetBranch string
	// Strategy is squash or merge.
	Strategy Strategy
	// AutoPushAfterMerge pushes the merge result to origin.
	AutoPushAfterMerge bool
	// AutoCleanup removes the task worktree and branch after a merge.
	AutoCleanup bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TestTimeout:        60 * time.Second,
		Strategy:           StrategySquash,
		AutoPushAfterMerge: true,
		AutoCleanup:        true,
	}
}

// ParseConfig applies overrides from a raw options map onto the
// defaults. Unknown options are rejected; matching is
// case-insensitive because viper lowercases map keys.
func ParseConfig(opts map[string]any) (Config, error) {
	cfg := DefaultConfig()
	for key, value := range opts {
		switch strings.ToLower(key) {
		case "testcommand":
			s, err := toString(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.TestCommand = s
		case "testtimeoutms":
			ms, err := toInt(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.TestTimeout = time.Duration(ms) * time.Millisecond
		case "targetbranch":
			s, err := toString(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.TargetBranch = s
		case "strategy":
			s, err := toString(key, value)
			if err != nil {
				return cfg, err
			}
			strategy := Strategy(s)
			if !strategy.Valid() {
				return cfg, errs.New(errs.KindValidation, "unknown merge strategy %q", s)
			}
			cfg.Strategy = strategy
		case "autopushaftermerge":
			b, err := toBool(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.AutoPushAfterMerge = b
		case "autocleanup":
			b, err := toBool(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.AutoCleanup = b
		default:
			return cfg, errs.New(errs.KindValidation, "unknown merge option %q", key)
		}
	}
	return cfg, nil
}

func toString(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", errs.New(errs.KindValidation, "merge option %q must be a string, got %T", key, value)
	}
	return s, nil
}

func toInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, errs.New(errs.KindValidation, "merge option %q must be a number, got %T", key, value)
	}
}

func toBool(key string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, errs.New(errs.KindValidation, "merge option %q must be a boolean, got %T", key, value)
	}
	return b, nil
}
