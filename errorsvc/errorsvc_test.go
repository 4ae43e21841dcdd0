package errorsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/recovery"
	"github.com/bazelment/conductor/retry"
)

type fakePane struct {
	clearCalls int
	startCalls int
	failClear  bool
}

func (p *fakePane) Clear(ctx context.Context, agent protocol.AgentRole) error {
	p.clearCalls++
	if p.failClear {
		return assertErr
	}
	return nil
}
func (p *fakePane) Start(ctx context.Context, agent protocol.AgentRole) error {
	p.startCalls++
	return nil
}
func (p *fakePane) CapturePane(ctx context.Context, agent protocol.AgentRole, maxLines int) (string, error) {
	return "", nil
}

var assertErr = assertError("clear failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func fastRetryManager() *retry.Manager {
	return retry.NewManager(retry.Config{Base: time.Millisecond, Multiplier: 1, Cap: time.Millisecond, MaxAttempts: 2}, nil)
}

func TestHandleError_SkipsWhenNotRecoverable(t *testing.T) {
	svc := New("run-x", DefaultConfig(), recovery.NewRegistry(), fastRetryManager(), events.NewStream(4))
	flag := protocol.ErrorFlag{Agent: protocol.RoleBuilder, ErrorType: protocol.ErrorCrash, Recoverable: false}
	outcome := svc.HandleError(context.Background(), &fakePane{}, flag)
	assert.False(t, outcome.Success)
	assert.Equal(t, recovery.ActionAbort, outcome.Action)
	require.Len(t, svc.History(), 1)
	assert.True(t, svc.History()[0].Skipped)
}

func TestHandleError_SkipsWhenAutoRetryDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoRetryEnabled = false
	svc := New("run-x", cfg, recovery.NewRegistry(), fastRetryManager(), events.NewStream(4))
	flag := protocol.ErrorFlag{Agent: protocol.RoleBuilder, ErrorType: protocol.ErrorCrash, Recoverable: true}
	outcome := svc.HandleError(context.Background(), &fakePane{}, flag)
	assert.False(t, outcome.Success)
}

func TestHandleError_SucceedsViaRecoveryStrategy(t *testing.T) {
	svc := New("run-x", DefaultConfig(), recovery.NewRegistry(), fastRetryManager(), events.NewStream(4))
	pane := &fakePane{}
	flag := protocol.ErrorFlag{Agent: protocol.RoleBuilder, ErrorType: protocol.ErrorCrash, Recoverable: true}
	outcome := svc.HandleError(context.Background(), pane, flag)
	assert.True(t, outcome.Success)
	assert.Equal(t, recovery.ActionRestart, outcome.Action)
	assert.Equal(t, 1, pane.clearCalls)
	assert.Equal(t, 1, pane.startCalls)
}

func TestHandleError_ExhaustsAfterRepeatedFailure(t *testing.T) {
	svc := New("run-x", DefaultConfig(), recovery.NewRegistry(), fastRetryManager(), events.NewStream(4))
	pane := &fakePane{failClear: true}
	flag := protocol.ErrorFlag{Agent: protocol.RoleBuilder, ErrorType: protocol.ErrorCrash, Recoverable: true}
	outcome := svc.HandleError(context.Background(), pane, flag)
	assert.False(t, outcome.Success)
	assert.Equal(t, 2, pane.clearCalls)
}

func TestHandleError_SkipsUnknownErrorType(t *testing.T) {
	svc := New("run-x", DefaultConfig(), recovery.NewRegistry(), fastRetryManager(), events.NewStream(4))
	flag := protocol.ErrorFlag{Agent: protocol.RoleBuilder, ErrorType: "exotic", Recoverable: true}
	cfg := DefaultConfig()
	cfg.RecoverableTypes = nil
	svc2 := New("run-x", cfg, recovery.NewRegistry(), fastRetryManager(), events.NewStream(4))
	outcome := svc2.HandleError(context.Background(), &fakePane{}, flag)
	assert.False(t, outcome.Success)
	_ = svc
}
