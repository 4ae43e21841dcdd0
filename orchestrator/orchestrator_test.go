package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/coordinator"
	"github.com/bazelment/conductor/errorsvc"
	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/lifecycle"
	"github.com/bazelment/conductor/monitor"
	"github.com/bazelment/conductor/phase"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/recovery"
	"github.com/bazelment/conductor/retry"
	"github.com/bazelment/conductor/runstate"
	"github.com/bazelment/conductor/terminal"
	"github.com/bazelment/conductor/usage"
	"github.com/bazelment/conductor/watcher"
)

func TestValidateBriefing(t *testing.T) {
	assert.Error(t, validateBriefing(""))
	assert.Error(t, validateBriefing("   \n  "))
	assert.Error(t, validateBriefing("has a \x00 null byte"))
	assert.Error(t, validateBriefing(strings.Repeat("a", maxBriefingBytes+1)))
	assert.NoError(t, validateBriefing("implement the thing"))
}

func TestPhaseForAgent(t *testing.T) {
	assert.Equal(t, protocol.PhaseRefine, phaseForAgent(protocol.RoleRefiner))
	assert.Equal(t, protocol.PhaseBuild, phaseForAgent(protocol.RoleBuilder))
	assert.Equal(t, protocol.PhaseVerify, phaseForAgent(protocol.RoleVerifier))
	assert.Equal(t, protocol.PhaseGate, phaseForAgent(protocol.RoleGatekeeper))
}

// newTestRunHandle builds a runHandle against a fresh temp run directory
// without starting a real tmux session, so dispatch paths that don't reach
// lifecycle.Start/terminal.StartAgent can be exercised directly.
func newTestRunHandle(t *testing.T, runID string, initialPhase protocol.Phase) *runHandle {
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
		return filepath.Join(dir.PromptsDir(), string(agent)+".md"), dir.Root, nil
	}
	coord := coordinator.New(dir, store, machine, lc, stream, render, 2)

	wch, err := watcher.New(dir, watcher.DefaultConfig(), stream)
	require.NoError(t, err)

	svc := errorsvc.New(runID, errorsvc.DefaultConfig(), recovery.NewRegistry(),
		retry.NewManager(retry.DefaultConfig(), stream), stream)

	return &runHandle{
		dir: dir, store: store, stream: stream, machine: machine,
		term: term, mon: mon, lc: lc, coord: coord, errsvc: svc, wch: wch,
		tracker: usage.NewTracker(), lastLaunch: make(map[protocol.AgentRole]launchParams),
	}
}

func TestCompleteRun_WritesMRPAndTransitionsToCompleted(t *testing.T) {
	rh := newTestRunHandle(t, "run-20260730140000", protocol.PhaseReadyForMerge)
	done := o().completeRun(context.Background(), rh)
	assert.True(t, done)

	run, err := rh.store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseCompleted, run.Phase)

	summary, err := os.ReadFile(filepath.Join(rh.dir.MRPDir(), "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), run.RunID)

	evidenceBytes, err := os.ReadFile(filepath.Join(rh.dir.MRPDir(), "evidence.json"))
	require.NoError(t, err)
	var evidence map[string]any
	require.NoError(t, json.Unmarshal(evidenceBytes, &evidence))
	assert.Equal(t, run.RunID, evidence["run_id"])
}

func TestFailRun_MarksFailedUnlessAlreadyTerminal(t *testing.T) {
	rh := newTestRunHandle(t, "run-20260730140100", protocol.PhaseBuild)
	done := o().failRun(context.Background(), rh, "boom")
	assert.True(t, done)

	run, err := rh.store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseFailed, run.Phase)
}

func TestDispatch_ObservabilityEventsDoNotStopTheLoop(t *testing.T) {
	rh := newTestRunHandle(t, "run-20260730140200", protocol.PhaseBuild)
	done := o().dispatch(context.Background(), rh, events.NewRetryStartedEvent(protocol.RoleBuilder, protocol.ErrorCrash, 1, 3))
	assert.False(t, done)
}

func TestPaneAdapter_StartReplaysLastLaunchParams(t *testing.T) {
	rh := newTestRunHandle(t, "run-20260730140300", protocol.PhaseBuild)
	rh.recordLaunch(protocol.RoleBuilder, protocol.TierMid, "/tmp/prompt.md", "/tmp/work")

	_, ok := rh.launchFor(protocol.RoleBuilder)
	assert.True(t, ok)

	_, ok = rh.launchFor(protocol.RoleVerifier)
	assert.False(t, ok)
}

func o() *Orchestrator {
	return New(Config{})
}
