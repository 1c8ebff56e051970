package config

import (
	"fmt"
	"time"
)

// LoopRetentionConfig controls how long completed/discarded worktree loop
// directories stay on disk before Coordinator.CollectGarbage removes them
// (spec §4.7's worktree lifecycle, spec §6's state directory layout).
// Adapted from the teacher's executor instance cleanup policy
// (same age/keep-floor shape, applied to loop directories instead of
// executor instances).
type LoopRetentionConfig struct {
	// RetentionAgeHours is how old a completed or discarded loop's
	// directory must be before it is eligible for removal.
	// Default: 24, Range: 0-720 (0 disables cleanup).
	RetentionAgeHours int `yaml:"retention_age_hours,omitempty"`

	// RetentionKeep is the minimum number of completed/discarded loop
	// directories to keep regardless of age, so there's always some
	// recent history to inspect.
	// Default: 10, Range: 0-1000.
	RetentionKeep int `yaml:"retention_keep,omitempty"`
}

// DefaultLoopRetentionConfig returns the default retention policy: keep a
// day of history, and at least 10 loop directories regardless of age.
func DefaultLoopRetentionConfig() LoopRetentionConfig {
	return LoopRetentionConfig{
		RetentionAgeHours: 24,
		RetentionKeep:     10,
	}
}

// Validate checks that the configuration's values are in range.
func (c LoopRetentionConfig) Validate() error {
	if c.RetentionAgeHours < 0 || c.RetentionAgeHours > 720 {
		return fmt.Errorf("retention_age_hours must be between 0 and 720 (got %d)", c.RetentionAgeHours)
	}
	if c.RetentionKeep < 0 || c.RetentionKeep > 1000 {
		return fmt.Errorf("retention_keep must be between 0 and 1000 (got %d)", c.RetentionKeep)
	}
	return nil
}

// RetentionAge returns RetentionAgeHours as a time.Duration.
func (c LoopRetentionConfig) RetentionAge() time.Duration {
	return time.Duration(c.RetentionAgeHours) * time.Hour
}

// LoopRetentionConfigFromEnv builds a LoopRetentionConfig from defaults,
// overridden by:
//   - RALPH_LOOP_RETENTION_AGE_HOURS
//   - RALPH_LOOP_RETENTION_KEEP
func LoopRetentionConfigFromEnv() (LoopRetentionConfig, error) {
	cfg := DefaultLoopRetentionConfig()
	if err := parseEnvInt("RALPH_LOOP_RETENTION_AGE_HOURS", &cfg.RetentionAgeHours); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("RALPH_LOOP_RETENTION_KEEP", &cfg.RetentionKeep); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid loop retention configuration from environment: %w", err)
	}
	return cfg, nil
}
