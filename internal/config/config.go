// Package config loads ralph.yaml — the hat topology plus loop-engine and
// backend tunables (spec §5's Configuration section) — and layers RALPH_*
// environment variable overrides on top, following the teacher's
// VC_ENABLE_* pattern from cmd/vc/execute.go. The YAML loading itself is
// grounded in the teacher's internal/health/config.go: read the whole
// file, yaml.Unmarshal into a typed struct, return an error on failure
// rather than silently falling back.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ralph-run/ralph/internal/hats"
)

// BackendConfig names the agent-runner collaborator a loop invokes (spec
// §6's "Agent-runner capability"). Command/Args configure an ExecRunner;
// Model configures an AnthropicRunner. A config carries at most one
// backend at a time — which field is populated is a deploy-time decision,
// not something ralph.yaml needs a discriminator for.
type BackendConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Model   string   `yaml:"model,omitempty"`
}

// LoopConfig carries the engine tunables: max iterations, max runtime,
// completion sentinel, idle/total agent timeouts. The fallback-injection
// cap is not configurable here; the engine uses a fixed value. Durations
// are strings in the YAML file (e.g. "2h30m"), parsed on demand by the
// *Duration methods rather than by Load.
type LoopConfig struct {
	StartingEvent      string `yaml:"starting_event,omitempty"`
	CompletionTopic    string `yaml:"completion_topic,omitempty"`
	CompletionSentinel string `yaml:"completion_sentinel,omitempty"`
	MaxIterations      int    `yaml:"max_iterations,omitempty"`
	MaxRuntime         string `yaml:"max_runtime,omitempty"`
	IdleTimeout        string `yaml:"idle_timeout,omitempty"`
	TotalTimeout       string `yaml:"total_timeout,omitempty"`
	Interactive        bool   `yaml:"interactive,omitempty"`
}

// MaxRuntimeDuration parses MaxRuntime, returning 0 (no limit) if unset.
func (c LoopConfig) MaxRuntimeDuration() (time.Duration, error) {
	return parseOptionalDuration(c.MaxRuntime)
}

// IdleTimeoutDuration parses IdleTimeout, returning 0 (no limit) if unset.
func (c LoopConfig) IdleTimeoutDuration() (time.Duration, error) {
	return parseOptionalDuration(c.IdleTimeout)
}

// TotalTimeoutDuration parses TotalTimeout, returning 0 (no limit) if unset.
func (c LoopConfig) TotalTimeoutDuration() (time.Duration, error) {
	return parseOptionalDuration(c.TotalTimeout)
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Config is the top-level shape of ralph.yaml: the hat topology plus the
// loop engine and backend settings every `ralph run` invocation reads.
type Config struct {
	Hats    []hats.Hat    `yaml:"hats"`
	Loop    LoopConfig    `yaml:"loop"`
	Backend BackendConfig `yaml:"backend"`
}

// Load reads and parses ralph.yaml at path (spec §5: "gopkg.in/yaml.v3
// for the hats/topology file"). A missing file is an error — unlike
// memories.md or tasks.jsonl, which start empty, ralph.yaml must exist
// before a loop can determine its hat topology.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing ralph.yaml: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML, the inverse of Load.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ApplyEnv layers RALPH_* environment variable overrides onto cfg,
// following the teacher's VC_ENABLE_* fallback pattern (cmd/vc/execute.go):
// an explicit environment variable wins over whatever ralph.yaml set.
//
// Environment variables:
//   - RALPH_MAX_ITERATIONS: overrides loop.max_iterations
//   - RALPH_MAX_RUNTIME: overrides loop.max_runtime (duration string)
//   - RALPH_IDLE_TIMEOUT: overrides loop.idle_timeout (duration string)
//   - RALPH_INTERACTIVE: overrides loop.interactive ("true"/"false")
//   - RALPH_BACKEND_COMMAND: overrides backend.command
//   - RALPH_BACKEND_MODEL: overrides backend.model
func ApplyEnv(cfg *Config) error {
	if err := parseEnvInt("RALPH_MAX_ITERATIONS", &cfg.Loop.MaxIterations); err != nil {
		return err
	}
	if err := parseEnvString("RALPH_MAX_RUNTIME", &cfg.Loop.MaxRuntime); err != nil {
		return err
	}
	if err := parseEnvString("RALPH_IDLE_TIMEOUT", &cfg.Loop.IdleTimeout); err != nil {
		return err
	}
	if err := parseEnvBool("RALPH_INTERACTIVE", &cfg.Loop.Interactive); err != nil {
		return err
	}
	if err := parseEnvString("RALPH_BACKEND_COMMAND", &cfg.Backend.Command); err != nil {
		return err
	}
	if err := parseEnvString("RALPH_BACKEND_MODEL", &cfg.Backend.Model); err != nil {
		return err
	}
	return nil
}

// LoadWithEnv loads path and applies RALPH_* overrides in one step — the
// entry point `cmd/ralph` uses.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying RALPH_* overrides: %w", err)
	}
	return cfg, nil
}
