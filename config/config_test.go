package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/modelselect"
	"github.com/bazelment/conductor/protocol"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialOverrideBackfillsZeroFields(t *testing.T) {
	dir := t.TempDir()
	yaml := `
max_iterations: 8
dynamic_models: false
model_overrides:
  builder: opus
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".supervisor.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxIterations)
	assert.False(t, cfg.DynamicModels)
	assert.Equal(t, "opus", cfg.ModelOverrides[protocol.RoleBuilder])

	// Unset fields fall back to defaults.
	assert.Equal(t, ".conductor/runs", cfg.RunsDir)
	assert.Equal(t, 2, cfg.MaxMinorFixAttempts)
	assert.Equal(t, modelselect.StrategyBalanced, cfg.ModelStrategy)
	assert.Equal(t, Default().RecoverableErrors, cfg.RecoverableErrors)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".supervisor.yaml"), []byte("not: [valid"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestAgentWallTimeDuration_ParsesOrFallsBack(t *testing.T) {
	cfg := Default()
	cfg.AgentWallTime = map[protocol.AgentRole]string{
		protocol.RoleBuilder:  "15m",
		protocol.RoleVerifier: "not-a-duration",
	}

	assert.Equal(t, 15*time.Minute, cfg.AgentWallTimeDuration(protocol.RoleBuilder, time.Minute))
	assert.Equal(t, time.Minute, cfg.AgentWallTimeDuration(protocol.RoleVerifier, time.Minute))
	assert.Equal(t, time.Minute, cfg.AgentWallTimeDuration(protocol.RoleRefiner, time.Minute))
}

func TestRecoverableErrorSet(t *testing.T) {
	cfg := Default()
	set := cfg.RecoverableErrorSet()
	assert.True(t, set[protocol.ErrorCrash])
	assert.True(t, set[protocol.ErrorTimeout])
	assert.True(t, set[protocol.ErrorValidation])
	assert.False(t, set["exotic"])
}
