package eventual

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/stratadb/strata/internal/types"
)

// Mode selects when consolidation runs relative to transaction creation.
type Mode string

const (
	// ModeSync consolidates inline: add/sub/set block until the primary
	// record reflects the transaction.
	ModeSync Mode = "sync"

	// ModeAsync returns after the transaction is written; the scheduler
	// consolidates on its interval.
	ModeAsync Mode = "async"
)

// Config declares the plugin's managed streams and tuning knobs. Zero
// values fall back to the documented defaults.
type Config struct {
	// Resources maps a target resource name to the numeric fields kept
	// eventually consistent. Fields may be dotted paths.
	Resources map[string][]string `toml:"resources" json:"resources" yaml:"resources"`

	Consolidation     ConsolidationConfig `toml:"consolidation" json:"consolidation" yaml:"consolidation"`
	Analytics         AnalyticsConfig     `toml:"analytics" json:"analytics" yaml:"analytics"`
	Locks             LocksConfig         `toml:"locks" json:"locks" yaml:"locks"`
	GarbageCollection GCConfig            `toml:"garbageCollection" json:"garbageCollection" yaml:"garbageCollection"`
	Checkpoints       CheckpointConfig    `toml:"checkpoints" json:"checkpoints" yaml:"checkpoints"`
	Cohort            CohortConfig        `toml:"cohort" json:"cohort" yaml:"cohort"`
}

// ConsolidationConfig tunes the consolidator.
type ConsolidationConfig struct {
	Mode Mode `toml:"mode" json:"mode" yaml:"mode"`

	// Auto enables the scheduled consolidation loop in async mode.
	Auto bool `toml:"auto" json:"auto" yaml:"auto"`

	// IntervalSeconds is the scheduler period. Default 60.
	IntervalSeconds int `toml:"interval_s" json:"interval_s" yaml:"interval_s"`

	// WindowHours bounds how far back pending transactions are picked
	// up. Default 24.
	WindowHours int `toml:"window_h" json:"window_h" yaml:"window_h"`

	// Concurrency caps parallel (record, field) consolidations. Default 5.
	Concurrency int `toml:"concurrency" json:"concurrency" yaml:"concurrency"`

	// MarkAppliedConcurrency caps parallel applied-flag writes. Default 50.
	MarkAppliedConcurrency int `toml:"markAppliedConcurrency" json:"markAppliedConcurrency" yaml:"markAppliedConcurrency"`

	// RollupConcurrency caps parallel analytics upserts. Default 10.
	RollupConcurrency int `toml:"rollupConcurrency" json:"rollupConcurrency" yaml:"rollupConcurrency"`
}

// AnalyticsConfig tunes cohort rollups.
type AnalyticsConfig struct {
	Enabled bool           `toml:"enabled" json:"enabled" yaml:"enabled"`
	Periods []types.Period `toml:"periods" json:"periods" yaml:"periods"`
}

// LocksConfig tunes consolidation leases.
type LocksConfig struct {
	// TimeoutSeconds is the lease TTL. Default 60.
	TimeoutSeconds int `toml:"timeout_s" json:"timeout_s" yaml:"timeout_s"`
}

// GCConfig tunes the applied-transaction sweeper.
type GCConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// IntervalSeconds is the sweep period. Default 86400 (daily).
	IntervalSeconds int `toml:"interval_s" json:"interval_s" yaml:"interval_s"`

	// RetentionDays keeps applied transactions this long. Default 30.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// CheckpointConfig tunes recovery snapshots.
type CheckpointConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Strategy is "every" (each successful consolidation) or "hourly".
	// Default "every".
	Strategy string `toml:"strategy" json:"strategy" yaml:"strategy"`

	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// CohortConfig pins the timezone cohort keys are computed in.
type CohortConfig struct {
	// Timezone is an IANA zone name. Default "UTC".
	Timezone string `toml:"timezone" json:"timezone" yaml:"timezone"`
}

// LoadConfig reads a TOML plugin config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() (Config, error) {
	if len(c.Resources) == 0 {
		return c, fmt.Errorf("eventual: no resources configured")
	}
	switch c.Consolidation.Mode {
	case "":
		c.Consolidation.Mode = ModeAsync
	case ModeSync, ModeAsync:
	default:
		return c, fmt.Errorf("eventual: unknown consolidation mode %q", c.Consolidation.Mode)
	}
	if c.Consolidation.IntervalSeconds <= 0 {
		c.Consolidation.IntervalSeconds = 60
	}
	if c.Consolidation.WindowHours <= 0 {
		c.Consolidation.WindowHours = 24
	}
	if c.Consolidation.Concurrency <= 0 {
		c.Consolidation.Concurrency = 5
	}
	if c.Consolidation.MarkAppliedConcurrency <= 0 {
		c.Consolidation.MarkAppliedConcurrency = 50
	}
	if c.Consolidation.RollupConcurrency <= 0 {
		c.Consolidation.RollupConcurrency = 10
	}
	if len(c.Analytics.Periods) == 0 {
		c.Analytics.Periods = []types.Period{types.PeriodHour, types.PeriodDay}
	}
	for _, p := range c.Analytics.Periods {
		switch p {
		case types.PeriodHour, types.PeriodDay, types.PeriodWeek, types.PeriodMonth:
		default:
			return c, fmt.Errorf("eventual: unknown analytics period %q", p)
		}
	}
	if c.Locks.TimeoutSeconds <= 0 {
		c.Locks.TimeoutSeconds = 60
	}
	if c.GarbageCollection.IntervalSeconds <= 0 {
		c.GarbageCollection.IntervalSeconds = 86400
	}
	if c.GarbageCollection.RetentionDays <= 0 {
		c.GarbageCollection.RetentionDays = 30
	}
	if c.Checkpoints.Strategy == "" {
		c.Checkpoints.Strategy = "every"
	}
	if c.Checkpoints.RetentionDays <= 0 {
		c.Checkpoints.RetentionDays = 90
	}
	if c.Cohort.Timezone == "" {
		c.Cohort.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Cohort.Timezone); err != nil {
		return c, fmt.Errorf("eventual: cohort timezone: %w", err)
	}
	return c, nil
}

func (c Config) lockTTL() time.Duration {
	return time.Duration(c.Locks.TimeoutSeconds) * time.Second
}

func (c Config) window() time.Duration {
	return time.Duration(c.Consolidation.WindowHours) * time.Hour
}
