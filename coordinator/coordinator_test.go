package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/lifecycle"
	"github.com/bazelment/conductor/monitor"
	"github.com/bazelment/conductor/phase"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
	"github.com/bazelment/conductor/terminal"
)

func setupCoordinator(t *testing.T, runID string, initialPhase protocol.Phase) (*Coordinator, *runstate.Dir, *runstate.StateStore, *events.Stream) {
	t.Helper()
	dir := runstate.NewDir(t.TempDir(), runID)
	require.NoError(t, dir.Create())
	store := runstate.NewStateStore(dir.StatePath())
	run := protocol.NewRun(runID, 3)
	run.Phase = initialPhase
	require.NoError(t, store.Save(run))

	stream := events.NewStream(16)
	mon := monitor.New(stream)
	term := terminal.New(runID)
	lc := lifecycle.New(runID, term, mon, store, stream, monitor.Config{}, nil, lifecycle.RuntimeOptions{})
	machine := phase.NewMachine(initialPhase)

	render := func(agent protocol.AgentRole, run *protocol.Run) (string, string, error) {
		return dir.PromptsDir() + "/" + string(agent) + ".md", dir.Root, nil
	}

	return New(dir, store, machine, lc, stream, render, 2), dir, store, stream
}

func TestHandleDone_AdvancesPhaseWithoutCRP(t *testing.T) {
	c, _, store, stream := setupCoordinator(t, "run-20260730130000", protocol.PhaseRefine)

	err := c.HandleDone(context.Background(), protocol.RoleRefiner)
	require.NoError(t, err)

	run, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseBuild, run.Phase)
	assert.Equal(t, protocol.AgentCompleted, run.Agents[protocol.RoleRefiner].Status)

	select {
	case ev := <-stream.Events():
		_, ok := ev.(events.TransitionEvent)
		assert.True(t, ok)
	default:
		t.Fatal("expected a transition event")
	}
}

func TestHandleDone_WaitsForHumanOnUnresolvedCRP(t *testing.T) {
	c, dir, store, _ := setupCoordinator(t, "run-20260730130100", protocol.PhaseRefine)

	crp := protocol.CRP{ID: "crp-001", CreatedBy: protocol.RoleRefiner, Status: protocol.CRPPending}
	data, err := json.Marshal(crp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir.CRPDir(), "crp-001.json"), data, 0o644))

	require.NoError(t, c.HandleDone(context.Background(), protocol.RoleRefiner))

	run, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseWaitingHuman, run.Phase)
	assert.Equal(t, "crp-001", run.PendingCRP)
}

func TestHandleDone_GatekeeperRoutesOnVerdict(t *testing.T) {
	c, dir, store, _ := setupCoordinator(t, "run-20260730130200", protocol.PhaseGate)

	report := protocol.VerdictReport{Verdict: protocol.VerdictPass, Reason: "all good"}
	data, err := json.Marshal(report)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir.AgentDir(protocol.RoleGatekeeper), "verdict.json"), data, 0o644))

	require.NoError(t, c.HandleDone(context.Background(), protocol.RoleGatekeeper))

	run, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseReadyForMerge, run.Phase)
}

func TestHandleCRPCreated_ParksRunningAgent(t *testing.T) {
	c, _, store, _ := setupCoordinator(t, "run-20260730130300", protocol.PhaseBuild)

	require.NoError(t, c.HandleCRPCreated(context.Background(), protocol.RoleBuilder, "crp-002"))

	run, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseWaitingHuman, run.Phase)
	assert.Equal(t, "crp-002", run.PendingCRP)
	assert.Equal(t, protocol.AgentPending, run.Agents[protocol.RoleBuilder].Status)
}
