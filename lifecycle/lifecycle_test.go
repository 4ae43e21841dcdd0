package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/monitor"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
	"github.com/bazelment/conductor/terminal"
)

func newStoreWithRun(t *testing.T, runID string) *runstate.StateStore {
	t.Helper()
	dir := runstate.NewDir(t.TempDir(), runID)
	require.NoError(t, dir.Create())
	store := runstate.NewStateStore(dir.StatePath())
	require.NoError(t, store.Save(protocol.NewRun(runID, 3)))
	return store
}

func TestLifecycle_CompleteMarksAgentDone(t *testing.T) {
	runID := "run-20260730120000"
	store := newStoreWithRun(t, runID)
	stream := events.NewStream(8)
	mon := monitor.New(stream)
	term := terminal.New(runID)
	lc := New(runID, term, mon, store, stream, monitor.Config{}, nil, RuntimeOptions{})

	require.NoError(t, lc.Complete(protocol.RoleBuilder))

	run, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.AgentCompleted, run.Agents[protocol.RoleBuilder].Status)
	assert.NotNil(t, run.Agents[protocol.RoleBuilder].CompletedAt)
}

func TestLifecycle_FailRecordsErrorFlag(t *testing.T) {
	runID := "run-20260730120100"
	store := newStoreWithRun(t, runID)
	stream := events.NewStream(8)
	mon := monitor.New(stream)
	term := terminal.New(runID)
	lc := New(runID, term, mon, store, stream, monitor.Config{}, nil, RuntimeOptions{})

	flag := protocol.ErrorFlag{Agent: protocol.RoleVerifier, ErrorType: protocol.ErrorCrash, Timestamp: time.Now()}
	require.NoError(t, lc.Fail(protocol.RoleVerifier, flag))

	run, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, protocol.AgentFailed, run.Agents[protocol.RoleVerifier].Status)
	require.NotNil(t, run.Agents[protocol.RoleVerifier].Error)
	assert.Equal(t, protocol.ErrorCrash, run.Agents[protocol.RoleVerifier].Error.ErrorType)
}

func TestLifecycle_StartRejectsDoubleStart(t *testing.T) {
	if !terminal.IsTmuxAvailable() {
		t.Skip("tmux not available")
	}
	runID := "run-20260730120200"
	store := newStoreWithRun(t, runID)
	stream := events.NewStream(8)
	mon := monitor.New(stream)
	term := terminal.New(runID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, term.CreateSession(ctx, "/tmp"))
	defer term.DestroySession(ctx)

	lc := New(runID, term, mon, store, stream, monitor.Config{ProbeInterval: time.Hour}, nil, RuntimeOptions{})
	promptFile := t.TempDir() + "/builder.md"
	require.NoError(t, lc.Start(ctx, protocol.RoleBuilder, protocol.TierMid, promptFile, "/tmp"))
	defer lc.Stop(ctx, protocol.RoleBuilder)

	err := lc.Start(ctx, protocol.RoleBuilder, protocol.TierMid, promptFile, "/tmp")
	assert.Error(t, err)
}
