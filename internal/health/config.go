package health

import (
	"strings"
	"time"

	"github.com/stoneforge/stoneforge/internal/errs"
)

// Config controls the health steward's detection thresholds and
// action policy.
type Config struct {
	// NoOutputThreshold is how long an agent may stay silent before a
	// no_output issue fires.
	NoOutputThreshold time.Duration
	// ErrorCountThreshold is the rolling error count that triggers
	// repeated_errors.
	ErrorCountThreshold int
	// ErrorWindow is the rolling window for error and output counts.
	ErrorWindow time.Duration
	// StaleSessionThreshold is the maximum age of a session's last
	// activity before session_stale fires.
	StaleSessionThreshold time.Duration
	// CheckInterval is the periodic scan cadence.
	CheckInterval time.Duration
	// MaxPingAttempts is how many pings are sent before escalating to
	// restart or director notification.
	MaxPingAttempts int
	// AutoRestart allows the steward to stop stuck sessions.
	AutoRestart bool
	// AutoReassign allows the steward to unassign tasks from crashed
	// agents.
	AutoReassign bool
	// NotifyDirector allows alerts to the director agent.
	NotifyDirector bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		NoOutputThreshold:     5 * time.Minute,
		ErrorCountThreshold:   5,
		ErrorWindow:           10 * time.Minute,
		StaleSessionThreshold: 15 * time.Minute,
		CheckInterval:         time.Minute,
		MaxPingAttempts:       3,
		AutoRestart:           true,
		AutoReassign:          true,
		NotifyDirector:        true,
	}
}

// ParseConfig applies overrides from a raw options map onto the
// defaults. Option names are exactly the documented set; anything
// else is rejected. Matching is case-insensitive because viper
// lowercases map keys.
func ParseConfig(opts map[string]any) (Config, error) {
	cfg := DefaultConfig()
	for key, value := range opts {
		switch strings.ToLower(key) {
		case "nooutputthresholdms":
			ms, err := toInt(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.NoOutputThreshold = time.Duration(ms) * time.Millisecond
		case "errorcountthreshold":
			n, err := toInt(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.ErrorCountThreshold = n
		case "errorwindowms":
			ms, err := toInt(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.ErrorWindow = time.Duration(ms) * time.Millisecond
		case "stalesessionthresholdms":
			ms, err := toInt(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.StaleSessionThreshold = time.Duration(ms) * time.Millisecond
		case "healthcheckintervalms":
			ms, err := toInt(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.CheckInterval = time.Duration(ms) * time.Millisecond
		case "maxpingattempts":
			n, err := toInt(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.MaxPingAttempts = n
		case "autorestart":
			b, err := toBool(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.AutoRestart = b
		case "autoreassign":
			b, err := toBool(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.AutoReassign = b
		case "notifydirector":
			b, err := toBool(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.NotifyDirector = b
		default:
			return cfg, errs.New(errs.KindValidation, "unknown health option %q", key)
		}
	}
	return cfg, nil
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
		return 0, errs.New(errs.KindValidation, "health option %q must be a number, got %T", key, value)
	}
}

func toBool(key string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, errs.New(errs.KindValidation, "health option %q must be a boolean, got %T", key, value)
	}
	return b, nil
}
