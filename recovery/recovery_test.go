package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/protocol"
)

type fakePane struct {
	clearCalls int
	startCalls int
	clearErr   error
	startErr   error
	capture    string
	captureErr error
}

func (f *fakePane) Clear(ctx context.Context, agent protocol.AgentRole) error {
	f.clearCalls++
	return f.clearErr
}

func (f *fakePane) Start(ctx context.Context, agent protocol.AgentRole) error {
	f.startCalls++
	return f.startErr
}

func (f *fakePane) CapturePane(ctx context.Context, agent protocol.AgentRole, maxLines int) (string, error) {
	return f.capture, f.captureErr
}

func TestRegistry_UnknownErrorTypeAborts(t *testing.T) {
	r := NewRegistry()
	out := r.Recover(context.Background(), &fakePane{}, protocol.ErrorFlag{ErrorType: "mystery"})
	assert.False(t, out.Success)
	assert.Equal(t, ActionAbort, out.Action)
}

func TestCrashStrategy_RestartsWhenRecoverable(t *testing.T) {
	r := NewRegistry()
	pane := &fakePane{}
	out := r.Recover(context.Background(), pane, protocol.ErrorFlag{ErrorType: protocol.ErrorCrash, Recoverable: true, Agent: protocol.RoleBuilder})
	require.True(t, out.Success)
	assert.Equal(t, ActionRestart, out.Action)
	assert.Equal(t, 1, pane.clearCalls)
	assert.Equal(t, 1, pane.startCalls)
}

func TestCrashStrategy_DoesNotHandleUnrecoverable(t *testing.T) {
	r := NewRegistry()
	out := r.Recover(context.Background(), &fakePane{}, protocol.ErrorFlag{ErrorType: protocol.ErrorCrash, Recoverable: false})
	assert.Equal(t, ActionAbort, out.Action)
}

func TestTimeoutStrategy_ExtendsWhenStillProducingOutput(t *testing.T) {
	r := NewRegistry()
	pane := &fakePane{capture: "still working..."}
	out := r.Recover(context.Background(), pane, protocol.ErrorFlag{ErrorType: protocol.ErrorTimeout, Agent: protocol.RoleVerifier})
	assert.Equal(t, ActionExtendTimeout, out.Action)
	assert.Equal(t, 0, pane.clearCalls)
}

func TestTimeoutStrategy_RestartsWhenOutputEndsInErrorMarker(t *testing.T) {
	r := NewRegistry()
	pane := &fakePane{capture: "building...\npanic: nil pointer dereference\n"}
	out := r.Recover(context.Background(), pane, protocol.ErrorFlag{ErrorType: protocol.ErrorTimeout, Agent: protocol.RoleVerifier})
	assert.Equal(t, ActionRestart, out.Action)
	assert.Equal(t, 1, pane.clearCalls)
}

func TestTimeoutStrategy_RestartsWhenNoOutput(t *testing.T) {
	r := NewRegistry()
	pane := &fakePane{capture: ""}
	out := r.Recover(context.Background(), pane, protocol.ErrorFlag{ErrorType: protocol.ErrorTimeout, Agent: protocol.RoleVerifier})
	assert.Equal(t, ActionRestart, out.Action)
	assert.Equal(t, 1, pane.clearCalls)
}

func TestValidationStrategy_Restarts(t *testing.T) {
	r := NewRegistry()
	pane := &fakePane{}
	out := r.Recover(context.Background(), pane, protocol.ErrorFlag{ErrorType: protocol.ErrorValidation, Agent: protocol.RoleRefiner})
	assert.Equal(t, ActionRestart, out.Action)
}

func TestStrategiesAreIdempotent(t *testing.T) {
	r := NewRegistry()
	pane := &fakePane{}
	flag := protocol.ErrorFlag{ErrorType: protocol.ErrorCrash, Recoverable: true, Agent: protocol.RoleBuilder}
	for i := 0; i < 3; i++ {
		out := r.Recover(context.Background(), pane, flag)
		require.True(t, out.Success)
	}
	assert.Equal(t, 3, pane.clearCalls)
	assert.Equal(t, 3, pane.startCalls)
}
