// Package coordinator implements AgentCoordinator (§4.12): on every agent
// completion it decides whether the run can advance to the next phase or
// must wait for a human to resolve a clarification request. Grounded on
// multiagent/planner/planner.go's handleSessionEventStreaming — a type-switch
// dispatcher sitting between a raw event source and the state machine it
// drives — generalized from Claude SDK event types to this repo's own
// events.Event sum type.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/lifecycle"
	"github.com/bazelment/conductor/phase"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// PromptRenderer renders the prompt file for the given agent/phase and returns
// its path plus the run's working directory, so the coordinator can start the
// next agent without owning prompt-template knowledge itself.
type PromptRenderer func(agent protocol.AgentRole, run *protocol.Run) (promptFile, workDir string, err error)

// Coordinator wires FileWatcher's done/CRP events to PhaseMachine transitions
// and AgentLifecycle starts/stops.
type Coordinator struct {
	dir         *runstate.Dir
	store       *runstate.StateStore
	machine     *phase.Machine
	lifecycle   *lifecycle.Lifecycle
	stream      *events.Stream
	render      PromptRenderer
	maxMinorFix int
}

// New creates a Coordinator for one run. maxMinorFix is the configured cap
// on minor-fix round-trips (config.Config.MaxMinorFixAttempts) before a
// MINOR_FAIL verdict is treated as a FAIL; 0 or negative falls back to 2.
func New(dir *runstate.Dir, store *runstate.StateStore, machine *phase.Machine, lc *lifecycle.Lifecycle, stream *events.Stream, render PromptRenderer, maxMinorFix int) *Coordinator {
	if maxMinorFix <= 0 {
		maxMinorFix = 2
	}
	return &Coordinator{dir: dir, store: store, machine: machine, lifecycle: lc, stream: stream, render: render, maxMinorFix: maxMinorFix}
}

// unresolvedCRP scans crp/ and vcr/ for a clarification request id with no
// matching resolution, returning the first one found (directory order).
func (c *Coordinator) unresolvedCRP() (string, error) {
	crpEntries, err := os.ReadDir(c.dir.CRPDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read crp dir: %w", err)
	}

	resolved := make(map[string]bool)
	vcrEntries, err := os.ReadDir(c.dir.VCRDir())
	if err == nil {
		for _, e := range vcrEntries {
			data, rerr := os.ReadFile(filepath.Join(c.dir.VCRDir(), e.Name()))
			if rerr != nil {
				continue
			}
			var vcr protocol.VCR
			if json.Unmarshal(data, &vcr) == nil {
				resolved[vcr.CRPID] = true
			}
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read vcr dir: %w", err)
	}

	for _, e := range crpEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if !resolved[id] {
			return id, nil
		}
	}
	return "", nil
}

func (c *Coordinator) waitForHuman(ctx context.Context, crpID string) error {
	run, err := c.store.Load()
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run state to enter waiting_human")
	}
	if ok, err := c.machine.Transition(protocol.PhaseWaitingHuman, "pending_crp:"+crpID); !ok {
		return err
	}
	run.Phase = protocol.PhaseWaitingHuman
	run.PendingCRP = crpID
	if err := c.store.Save(run); err != nil {
		return fmt.Errorf("persist waiting_human: %w", err)
	}
	c.stream.Emit(ctx, events.NewWaitingHumanEvent(crpID, "unresolved clarification request"))
	return nil
}

// HandleDone processes a done(agent) signal per §4.12: checks for an
// unresolved clarification request first, and otherwise advances the
// PhaseMachine and starts the next agent.
func (c *Coordinator) HandleDone(ctx context.Context, agent protocol.AgentRole) error {
	crpID, err := c.unresolvedCRP()
	if err != nil {
		return err
	}
	if crpID != "" {
		if err := c.lifecycle.Complete(agent); err != nil {
			return err
		}
		return c.waitForHuman(ctx, crpID)
	}

	run, err := c.store.Load()
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run state for done(%s)", agent)
	}

	next, trigger, err := c.nextPhase(agent, run)
	if err != nil {
		return err
	}

	if err := c.lifecycle.Complete(agent); err != nil {
		return err
	}

	fromPhase := run.Phase
	ok, terr := c.machine.Transition(next, trigger)
	if !ok {
		c.stream.Emit(ctx, events.NewTransitionBlockedEvent(fromPhase, next))
		return terr
	}

	run, err = c.store.Load()
	if err != nil {
		return err
	}
	run.Phase = next
	// Iteration is incremented on entry to build from gate (§4.10); the
	// minor-fix counter resets with it (Open Question resolved in DESIGN.md).
	if next == protocol.PhaseBuild && agent == protocol.RoleGatekeeper {
		run.Iteration++
		run.MinorFixAttempts = 0
	} else if next == protocol.PhaseVerify && agent == protocol.RoleGatekeeper {
		run.MinorFixAttempts++
	}
	if err := c.store.Save(run); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}

	nextAgent := phase.AgentForPhase(next)
	c.stream.Emit(ctx, events.NewTransitionEvent(fromPhase, next, nextAgent))

	switch next {
	case protocol.PhaseReadyForMerge, protocol.PhaseCompleted, protocol.PhaseFailed, protocol.PhaseWaitingHuman:
		return nil
	}

	promptFile, workDir, err := c.render(nextAgent, run)
	if err != nil {
		return fmt.Errorf("render prompt for %s: %w", nextAgent, err)
	}
	tier := run.SelectedModels[nextAgent]
	return c.lifecycle.Start(ctx, nextAgent, tier, promptFile, workDir)
}

// nextPhase computes the phase a completing agent hands off to: direct
// forward motion for refiner/builder/verifier, verdict-driven routing for the
// gatekeeper (read from gatekeeper/verdict.json per §6).
func (c *Coordinator) nextPhase(agent protocol.AgentRole, run *protocol.Run) (protocol.Phase, string, error) {
	if agent != protocol.RoleGatekeeper {
		switch run.Phase {
		case protocol.PhaseRefine:
			return protocol.PhaseBuild, "agent_done", nil
		case protocol.PhaseBuild:
			return protocol.PhaseVerify, "agent_done", nil
		case protocol.PhaseVerify:
			return protocol.PhaseGate, "agent_done", nil
		default:
			return "", "", fmt.Errorf("unexpected phase %s for agent %s completion", run.Phase, agent)
		}
	}

	report, err := c.readVerdict()
	if err != nil {
		return "", "", err
	}
	next := phase.NextForVerdict(report.Verdict, run.Iteration, run.MaxIterations, run.MinorFixAttempts, c.maxMinorFix)
	return next, "verdict:" + string(report.Verdict), nil
}

func (c *Coordinator) readVerdict() (protocol.VerdictReport, error) {
	path := filepath.Join(c.dir.AgentDir(protocol.RoleGatekeeper), "verdict.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.VerdictReport{}, fmt.Errorf("read verdict.json: %w", err)
	}
	var report protocol.VerdictReport
	if err := json.Unmarshal(data, &report); err != nil {
		return protocol.VerdictReport{}, fmt.Errorf("parse verdict.json: %w", err)
	}
	return report, nil
}

// HandleCRPCreated processes a clarification request authored by the
// currently-running agent: stop it, clear its status to pending, record
// pending_crp, and transition to waiting_human, per §4.12's last paragraph.
func (c *Coordinator) HandleCRPCreated(ctx context.Context, agent protocol.AgentRole, crpID string) error {
	if err := c.lifecycle.Stop(ctx, agent); err != nil {
		return err
	}
	run, err := c.store.Load()
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run state for crp_created(%s)", agent)
	}
	if rec := run.Agents[agent]; rec != nil {
		rec.Status = protocol.AgentPending
	}
	if err := c.store.Save(run); err != nil {
		return err
	}
	c.stream.Emit(ctx, events.NewCRPCreatedEvent(crpID, agent))
	return c.waitForHuman(ctx, crpID)
}
