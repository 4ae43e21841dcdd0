package watcher

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

func setup(t *testing.T) (*runstate.Dir, *events.Stream, *Watcher) {
	t.Helper()
	root := t.TempDir()
	dir := runstate.NewDir(root, "run-20260730120000")
	require.NoError(t, dir.Create())
	stream := events.NewStream(16)
	w, err := New(dir, Config{DebounceWindow: 10 * time.Millisecond, ParseRetryWindow: 200 * time.Millisecond}, stream)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	return dir, stream, w
}

func writeRenamed(t *testing.T, path string, data []byte) {
	t.Helper()
	tmp := path + ".writing"
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcher_EmitsDoneEvent(t *testing.T) {
	dir, stream, _ := setup(t)
	writeRenamed(t, dir.DoneFlag(protocol.RoleBuilder), []byte{})

	select {
	case ev := <-stream.Events():
		done, ok := ev.(events.DoneEvent)
		require.True(t, ok)
		assert.Equal(t, protocol.RoleBuilder, done.Agent)
	case <-time.After(2 * time.Second):
		t.Fatal("expected done event")
	}
}

func TestWatcher_EmitsErrorEventWithParsedFlag(t *testing.T) {
	dir, stream, _ := setup(t)
	flag := protocol.ErrorFlag{Agent: protocol.RoleVerifier, ErrorType: protocol.ErrorCrash, Message: "boom", Recoverable: true}
	data, err := json.Marshal(flag)
	require.NoError(t, err)
	writeRenamed(t, dir.ErrorFlagPath(protocol.RoleVerifier), data)

	select {
	case ev := <-stream.Events():
		errEv, ok := ev.(events.ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, protocol.RoleVerifier, errEv.Agent)
		assert.Equal(t, protocol.ErrorCrash, errEv.Flag.ErrorType)
	case <-time.After(2 * time.Second):
		t.Fatal("expected error event")
	}
}

func TestWatcher_EmitsCRPCreatedEvent(t *testing.T) {
	dir, stream, _ := setup(t)
	crp := protocol.CRP{ID: "crp-001", CreatedBy: protocol.RoleRefiner, Question: "auth method?", Status: protocol.CRPPending}
	data, err := json.Marshal(crp)
	require.NoError(t, err)
	path := dir.CRPDir() + "/crp-001.json"
	writeRenamed(t, path, data)

	select {
	case ev := <-stream.Events():
		created, ok := ev.(events.CRPCreatedEvent)
		require.True(t, ok)
		assert.Equal(t, "crp-001", created.CRPID)
		assert.Equal(t, protocol.RoleRefiner, created.CreatedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("expected crp_created event")
	}
}
