package scheduler

import (
	"time"

	"github.com/predixa/entitlements/internal/config"
)

// Config controls the maintenance job cadence. A zero EventLogRetention
// disables event log pruning.
type Config struct {
	RunInterval       time.Duration
	JobTimeout        time.Duration
	EventLogRetention time.Duration
	Enabled           bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       24 * time.Hour,
		JobTimeout:        10 * time.Minute,
		EventLogRetention: 90 * 24 * time.Hour,
		Enabled:           true,
	}
}

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	if cfg.TrialSweepInterval > 0 {
		out.RunInterval = cfg.TrialSweepInterval
	}
	out.EventLogRetention = cfg.EventLogRetention
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
