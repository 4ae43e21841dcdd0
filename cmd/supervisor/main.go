// Command supervisor drives the local run/mission pipeline: start, recover,
// and mission CLI surface per spec.md §6. Grounded on multiagent/cmd/swarm's
// cobra root command and persistent-flag composition, generalized from the
// Orchestrator/Planner/Designer/Builder/Reviewer swarm to the refiner/
// builder/verifier/gatekeeper pipeline plus MissionManager.
package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bazelment/conductor/cliutil"
	"github.com/bazelment/conductor/config"
	"github.com/bazelment/conductor/errorsvc"
	"github.com/bazelment/conductor/modelselect"
	"github.com/bazelment/conductor/orchestrator"
	"github.com/bazelment/conductor/protocol"
)

var (
	projectRoot   string
	runsDirFlag   string
	maxIterations int
	modelStrategy string
	dynamicModels bool
)

var rootCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Local supervisor for the refiner/builder/verifier/gatekeeper run pipeline",
	Long: `supervisor starts and recovers runs of the four-agent pipeline
(Refiner, Builder, Verifier, Gatekeeper) against a briefing, and manages
multi-phase missions built from a Planner/Critic plan.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", ".", "Project root directory")
	rootCmd.PersistentFlags().StringVar(&runsDirFlag, "runs-dir", "", "Run directory (default: <project-root>/.conductor/runs)")
	rootCmd.PersistentFlags().IntVar(&maxIterations, "max-iterations", 0, "Max build/verify/gate iterations (default: config or 5)")
	rootCmd.PersistentFlags().StringVar(&modelStrategy, "model-strategy", "", "Model selection strategy: cost_optimized|balanced|quality_first|performance_first")
	rootCmd.PersistentFlags().BoolVar(&dynamicModels, "dynamic-models", false, "Enable briefing-based model tier selection at run start")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(missionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadProjectConfig reads .supervisor.yaml and overlays CLI flags, per
// SPEC_FULL.md A.2's three-tier precedence: CLI > file > built-in default.
func loadProjectConfig() (*config.Config, error) {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, err
	}
	if runsDirFlag != "" {
		cfg.RunsDir = runsDirFlag
	}
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}
	if modelStrategy != "" {
		cfg.ModelStrategy = modelselect.Strategy(modelStrategy)
	}
	if dynamicModels {
		cfg.DynamicModels = true
	}
	return cfg, nil
}

func resolveRunsDir(cfg *config.Config) string {
	if filepath.IsAbs(cfg.RunsDir) {
		return cfg.RunsDir
	}
	return filepath.Join(projectRoot, cfg.RunsDir)
}

func resolveMissionsDir() string {
	return filepath.Join(projectRoot, ".conductor", "missions")
}

// orchestratorConfig builds an orchestrator.Config from the loaded project
// config, so every command that creates an Orchestrator (start, recover,
// mission) wires the same .supervisor.yaml knobs instead of each picking a
// different subset.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	agentWallTime := make(map[protocol.AgentRole]time.Duration, len(cfg.AgentWallTime))
	for role := range cfg.AgentWallTime {
		agentWallTime[role] = cfg.AgentWallTimeDuration(role, 30*time.Minute)
	}

	errCfg := errorsvc.Config{
		AutoRetryEnabled: cfg.AutoRetryEnabled,
		RecoverableTypes: cfg.RecoverableErrorSet(),
	}

	return orchestrator.Config{
		ProjectRoot:         projectRoot,
		RunsDir:             resolveRunsDir(cfg),
		MaxIterations:       cfg.MaxIterations,
		MaxMinorFixAttempts: cfg.MaxMinorFixAttempts,
		ModelStrategy:       cfg.ModelStrategy,
		DynamicModels:       cfg.DynamicModels,
		AgentWallTime:       agentWallTime,
		ModelOverrides:      cfg.ModelOverrides,
		YoloMode:            cfg.YoloMode,
		ErrorConfig:         errCfg,
	}
}

var out = cliutil.DefaultOutput()
