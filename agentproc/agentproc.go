// Package agentproc builds the explicit argv and environment for launching
// an external coding-agent CLI, grounded on agent-cli-wrapper/acp/process.go's
// processManager.Start (BinaryPath + BinaryArgs passed to exec.CommandContext
// as a slice, never a shell string, with explicit env var composition). Only
// that launch-conventions idiom is adapted here; the provider-specific
// stdin/stdout wire protocols in agent-cli-wrapper's acp/codex/cursor
// subpackages are out of scope (the Orchestrator drives each agent through
// a terminal pane, not a managed pipe).
package agentproc

import (
	"fmt"

	"github.com/bazelment/conductor/protocol"
)

// Model names a concrete model within a tier, mirroring
// multiagent/agent/model_registry.go's AgentModel shape.
type Model struct {
	ID       string
	Provider string
}

// tierModels maps each ModelTier to the model invoked for it. A deployment
// overrides this via config (see config.Config.ModelOverrides); these are
// the defaults absent an override.
var tierModels = map[protocol.ModelTier]Model{
	protocol.TierLow:  {ID: "haiku", Provider: "claude"},
	protocol.TierMid:  {ID: "sonnet", Provider: "claude"},
	protocol.TierHigh: {ID: "opus", Provider: "claude"},
}

// ModelForTier returns the default model bound to a tier.
func ModelForTier(tier protocol.ModelTier) Model {
	if m, ok := tierModels[tier]; ok {
		return m
	}
	return tierModels[protocol.TierMid]
}

// Spec describes one agent invocation: the binary, its argv, and the
// environment it needs, built fresh for each startAgent call.
type Spec struct {
	Binary string
	Argv   []string
	Env    map[string]string
}

// Options configures the invocation an agent role needs.
type Options struct {
	Role       protocol.AgentRole
	Model      Model
	PromptFile string
	WorkDir    string
	// Clarification, if non-empty, is appended to the prompt context on a
	// restart-with-clarification (the human's answer to a pending CRP).
	Clarification string
	YoloMode      bool
}

// Build constructs the explicit argv for launching opts.Role's agent,
// mirroring processManager.Start's pattern of an explicit binary + args
// slice (no shell interpretation at this layer).
func Build(opts Options) (Spec, error) {
	if opts.PromptFile == "" {
		return Spec{}, fmt.Errorf("agentproc: prompt file is required for role %s", opts.Role)
	}
	argv := []string{
		opts.Model.Provider,
		"--model", opts.Model.ID,
		"--prompt-file", opts.PromptFile,
	}
	if opts.Clarification != "" {
		argv = append(argv, "--clarification", opts.Clarification)
	}
	if opts.YoloMode {
		argv = append(argv, "--dangerously-skip-permissions")
	} else {
		argv = append(argv, "--permission-mode", "default")
	}

	env := map[string]string{
		"CONDUCTOR_AGENT_ROLE": string(opts.Role),
		"CONDUCTOR_WORK_DIR":   opts.WorkDir,
	}

	return Spec{Binary: opts.Model.Provider, Argv: argv, Env: env}, nil
}
