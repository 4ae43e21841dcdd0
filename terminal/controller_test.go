package terminal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/protocol"
)

// requireTmux skips the test when tmux isn't installed on the host running
// the test suite; these tests exercise a real tmux session, not a fake.
func requireTmux(t *testing.T) {
	t.Helper()
	if !IsTmuxAvailable() {
		t.Skip("tmux not available")
	}
}

func TestBuildShellCommand_EscapesSingleQuotes(t *testing.T) {
	got := buildShellCommand([]string{"echo", "it's a test"}, nil)
	assert.Equal(t, `'echo' 'it'\''s a test'`, got)
}

func TestBuildShellCommand_ExportsEnvSorted(t *testing.T) {
	got := buildShellCommand([]string{"echo", "hi"}, map[string]string{"B": "2", "A": "1's"})
	assert.Equal(t, `A='1'\''s' B='2' exec 'echo' 'hi'`, got)
}

func TestController_CreateStartCaptureDestroy(t *testing.T) {
	requireTmux(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := New("run-20260730120000-test")
	require.NoError(t, c.CreateSession(ctx, t.TempDir()))
	defer c.DestroySession(ctx)

	assert.True(t, c.SessionExists(ctx))

	require.NoError(t, c.StartAgent(ctx, protocol.RoleBuilder, []string{"echo", "hello from builder"}, "", nil))
	time.Sleep(300 * time.Millisecond)

	out, err := c.CapturePane(ctx, protocol.RoleBuilder, 10)
	require.NoError(t, err)
	assert.Contains(t, out, "hello from builder")
}

func TestController_ClearAgentResetsScrollback(t *testing.T) {
	requireTmux(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := New("run-20260730120100-test")
	require.NoError(t, c.CreateSession(ctx, t.TempDir()))
	defer c.DestroySession(ctx)

	require.NoError(t, c.StartAgent(ctx, protocol.RoleVerifier, []string{"echo", "marker-before-clear"}, "", nil))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, c.ClearAgent(ctx, protocol.RoleVerifier))
	time.Sleep(200 * time.Millisecond)

	out, err := c.CapturePane(ctx, protocol.RoleVerifier, 10)
	require.NoError(t, err)
	assert.NotContains(t, out, "marker-before-clear")
}

func TestController_UnknownAgentErrors(t *testing.T) {
	c := New("run-20260730120200-test")
	_, err := c.CapturePane(context.Background(), protocol.AgentRole("nonsense"), 10)
	assert.Error(t, err)
}

func TestController_DestroyWithoutCreateIsNoop(t *testing.T) {
	requireTmux(t)
	c := New("run-20260730120300-nonexistent")
	assert.NoError(t, c.DestroySession(context.Background()))
}
