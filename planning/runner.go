// Package planning implements the PlanningPipeline (§4.15): the Planner/Critic
// loop that turns a mission description into an approved PlanDraft, or escalates
// to a human when the draft and its critique fail to converge. Grounded on
// multiagent/planner/iteration.go's RunIterationLoop (budget/time/iteration
// limit checks, builder/reviewer cycle shape), generalized from a code-build
// iteration loop to a plan-draft iteration loop with the spec's own
// convergence and auto-approve arithmetic layered in.
package planning

import (
	"context"
	"os"
	"os/exec"

	"github.com/bazelment/conductor/agentproc"
	"github.com/bazelment/conductor/protocol"
)

// AgentKind distinguishes the two planning-stage agents from the four
// pipeline AgentRoles; Planner/Critic never occupy a tmux pane, so they do
// not belong in protocol.AgentRole.
type AgentKind string

const (
	KindPlanner AgentKind = "planner"
	KindCritic  AgentKind = "critic"
)

// Runner invokes one planning-stage agent to completion and returns once the
// agent has written its output file (draft-v{n}.json or critique-v{n}.json)
// and exited, or an error if it did not.
type Runner interface {
	Run(ctx context.Context, kind AgentKind, tier protocol.ModelTier, promptFile, workDir string) error
}

// ProcessRunner runs a planning agent as a synchronous subprocess, mirroring
// agent-cli-wrapper/acp/process.go's processManager.Start convention: an
// explicit binary + argv slice, never a shell string, with explicit env
// composition. Unlike the four pipeline roles, a planning agent is not given
// a pane to live in -- it runs once, to completion, and is expected to have
// written its result file to workDir before exiting.
type ProcessRunner struct{}

// NewProcessRunner creates a ProcessRunner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, kind AgentKind, tier protocol.ModelTier, promptFile, workDir string) error {
	model := agentproc.ModelForTier(tier)
	argv := []string{"--model", model.ID, "--prompt-file", promptFile, "--permission-mode", "default"}

	cmd := exec.CommandContext(ctx, model.Provider, argv...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "CONDUCTOR_AGENT_ROLE="+string(kind))
	return cmd.Run()
}
