// Package config loads `.supervisor.yaml`, the per-project configuration
// file, grounded directly on wt/config.go's LoadRepoConfig: read, default on
// absence, yaml.Unmarshal, backfill zero-valued fields. Precedence is
// three-tier per SPEC_FULL.md A.2: CLI flags override file values, file
// values override the defaults returned here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bazelment/conductor/modelselect"
	"github.com/bazelment/conductor/protocol"
)

// Config is the full set of project-level settings read from
// `.supervisor.yaml`. A field absent from the file keeps Default()'s value;
// an empty or non-positive runs_dir, max_iterations, max_minor_fix_attempts,
// model_strategy or recoverable_errors also falls back to the default, while
// an explicit false for a bool field is kept.
type Config struct {
	RunsDir           string                           `yaml:"runs_dir"`
	MaxIterations     int                              `yaml:"max_iterations"`
	MaxMinorFixAttempts int                            `yaml:"max_minor_fix_attempts"`
	ModelStrategy     modelselect.Strategy             `yaml:"model_strategy"`
	DynamicModels     bool                             `yaml:"dynamic_models"`
	ModelOverrides    map[protocol.AgentRole]string     `yaml:"model_overrides"`
	AgentWallTime     map[protocol.AgentRole]string     `yaml:"agent_wall_time"`
	AutoRetryEnabled  bool                              `yaml:"auto_retry_enabled"`
	RecoverableErrors []string                          `yaml:"recoverable_errors"`
	YoloMode          bool                              `yaml:"yolo_mode"`
}

// Default returns the supervisor's built-in defaults, used when
// `.supervisor.yaml` is absent or a field within it is unset.
func Default() *Config {
	return &Config{
		RunsDir:             ".conductor/runs",
		MaxIterations:       5,
		MaxMinorFixAttempts: 2,
		ModelStrategy:       modelselect.StrategyBalanced,
		DynamicModels:       true,
		AutoRetryEnabled:    true,
		RecoverableErrors:   []string{protocol.ErrorCrash, protocol.ErrorTimeout, protocol.ErrorValidation},
	}
}

// Load reads `.supervisor.yaml` from projectRoot. A missing file is not an
// error: Load returns Default() unchanged, mirroring LoadRepoConfig's
// absence handling.
func Load(projectRoot string) (*Config, error) {
	path := filepath.Join(projectRoot, ".supervisor.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.RunsDir == "" {
		cfg.RunsDir = ".conductor/runs"
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.MaxMinorFixAttempts <= 0 {
		cfg.MaxMinorFixAttempts = 2
	}
	if cfg.ModelStrategy == "" {
		cfg.ModelStrategy = modelselect.StrategyBalanced
	}
	if len(cfg.RecoverableErrors) == 0 {
		cfg.RecoverableErrors = Default().RecoverableErrors
	}

	return cfg, nil
}

// AgentWallTimeDuration parses the configured per-agent hard wall-time
// string (e.g. "10m") for role, falling back to fallback on an unset or
// unparsable entry.
func (c *Config) AgentWallTimeDuration(role protocol.AgentRole, fallback time.Duration) time.Duration {
	raw, ok := c.AgentWallTime[role]
	if !ok || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// RecoverableErrorSet returns the configured recoverable error types as a
// lookup set, for ErrorRecoveryService's Config.RecoverableTypes.
func (c *Config) RecoverableErrorSet() map[string]bool {
	set := make(map[string]bool, len(c.RecoverableErrors))
	for _, t := range c.RecoverableErrors {
		set[t] = true
	}
	return set
}
