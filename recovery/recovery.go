// Package recovery implements RecoveryManager (§4.8): a registry of
// (canRecover, recover) strategy pairs chosen by error kind. The small-
// interface-plus-registry shape is adapted from multiagent/agent/provider.go's
// Provider/LongRunningProvider interfaces (an open set of interchangeable
// behaviours selected by a string key), generalized here from provider
// selection to error-kind selection exactly as spec.md §9's "Source patterns
// requiring re-architecture" calls for. The idempotent-restart idiom is
// grounded on medivac/engine/agent.go's attempt-numbered, retry-safe
// branch-naming discipline.
package recovery

import (
	"context"
	"strings"

	"github.com/bazelment/conductor/protocol"
)

// errorMarkers are substrings that, if present in a pane's tail, indicate the
// agent process has already crashed into an error/prompt rather than still
// making progress -- e.g. a shell's error prompt or an uncaught exception
// trailer left on screen after the process exits. Continued scrollback
// growth alone isn't enough signal; a pane can keep printing a stack trace
// well past its wall-time deadline.
var errorMarkers = []string{
	"panic:",
	"fatal error:",
	"Traceback (most recent call last)",
	"Unhandled Rejection",
	"command not found",
}

func hasErrorMarker(capture string) bool {
	for _, m := range errorMarkers {
		if strings.Contains(capture, m) {
			return true
		}
	}
	return false
}

// Action is what a strategy decided to do.
type Action string

const (
	ActionRestart       Action = "restart"
	ActionExtendTimeout Action = "extend_timeout"
	ActionSkip          Action = "skip"
	ActionAbort         Action = "abort"
)

// Outcome is the result of a recovery attempt.
type Outcome struct {
	Success bool
	Action  Action
	Message string
}

// Pane is the minimal capability RecoveryManager needs from a running agent
// pane to decide and act, satisfied by lifecycle.AgentLifecycle in production
// and a fake in tests. Kept small and behavior-only per §9's dependency-
// injection guidance.
type Pane interface {
	Clear(ctx context.Context, agent protocol.AgentRole) error
	Start(ctx context.Context, agent protocol.AgentRole) error
	CapturePane(ctx context.Context, agent protocol.AgentRole, maxLines int) (string, error)
}

// Strategy decides whether it can handle an error flag and, if so, performs
// the recovery. Implementations must be idempotent: RetryManager may invoke
// Recover repeatedly for the same errorFlag.
type Strategy interface {
	CanRecover(flag protocol.ErrorFlag) bool
	Recover(ctx context.Context, pane Pane, flag protocol.ErrorFlag) Outcome
}

// Registry holds the ordered set of registered strategies, tried in order;
// the first whose CanRecover returns true handles the error.
type Registry struct {
	strategies []Strategy
}

// NewRegistry returns a Registry with the default crash/timeout/validation
// strategies pre-registered, per §4.8.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(crashStrategy{})
	r.Register(timeoutStrategy{})
	r.Register(validationStrategy{})
	return r
}

// Register appends a strategy. Strategies registered later are tried only
// after earlier ones decline, so callers wanting to override a default
// strategy should construct an empty Registry and register their own order.
func (r *Registry) Register(s Strategy) { r.strategies = append(r.strategies, s) }

// CanHandle reports whether some registered strategy claims flag, without
// running it. ErrorRecoveryService uses this to short-circuit to
// recovery_skipped before ever invoking RetryManager.
func (r *Registry) CanHandle(flag protocol.ErrorFlag) bool {
	for _, s := range r.strategies {
		if s.CanRecover(flag) {
			return true
		}
	}
	return false
}

// Recover finds the first strategy that can handle flag and runs it.
// Unknown error_type, or no registered strategy claiming it, returns
// {Success:false, Action:abort} per §4.8.
func (r *Registry) Recover(ctx context.Context, pane Pane, flag protocol.ErrorFlag) Outcome {
	for _, s := range r.strategies {
		if s.CanRecover(flag) {
			return s.Recover(ctx, pane, flag)
		}
	}
	return Outcome{Success: false, Action: ActionAbort, Message: "no strategy registered for error_type " + flag.ErrorType}
}

// crashStrategy clears the pane and restarts the agent with the same prompt
// and model. Recovers error_type=crash when recoverable=true.
type crashStrategy struct{}

func (crashStrategy) CanRecover(flag protocol.ErrorFlag) bool {
	return flag.ErrorType == protocol.ErrorCrash && flag.Recoverable
}

func (crashStrategy) Recover(ctx context.Context, pane Pane, flag protocol.ErrorFlag) Outcome {
	if err := pane.Clear(ctx, flag.Agent); err != nil {
		return Outcome{Success: false, Action: ActionAbort, Message: "clear failed: " + err.Error()}
	}
	if err := pane.Start(ctx, flag.Agent); err != nil {
		return Outcome{Success: false, Action: ActionAbort, Message: "restart failed: " + err.Error()}
	}
	return Outcome{Success: true, Action: ActionRestart, Message: "cleared and restarted after crash"}
}

// timeoutStrategy extends the deadline if the agent still appears to be
// producing output without an error marker; otherwise restarts as for crash.
type timeoutStrategy struct{}

func (timeoutStrategy) CanRecover(flag protocol.ErrorFlag) bool {
	return flag.ErrorType == protocol.ErrorTimeout
}

func (timeoutStrategy) Recover(ctx context.Context, pane Pane, flag protocol.ErrorFlag) Outcome {
	capture, err := pane.CapturePane(ctx, flag.Agent, 50)
	if err == nil && len(capture) > 0 && !hasErrorMarker(capture) {
		return Outcome{Success: true, Action: ActionExtendTimeout, Message: "agent still producing output, extending deadline"}
	}
	if err := pane.Clear(ctx, flag.Agent); err != nil {
		return Outcome{Success: false, Action: ActionAbort, Message: "clear failed: " + err.Error()}
	}
	if err := pane.Start(ctx, flag.Agent); err != nil {
		return Outcome{Success: false, Action: ActionAbort, Message: "restart failed: " + err.Error()}
	}
	return Outcome{Success: true, Action: ActionRestart, Message: "no activity, restarted after timeout"}
}

// validationStrategy restarts after clearing so the agent re-reads the
// sentinel error file and corrects its output format.
type validationStrategy struct{}

func (validationStrategy) CanRecover(flag protocol.ErrorFlag) bool {
	return flag.ErrorType == protocol.ErrorValidation
}

func (validationStrategy) Recover(ctx context.Context, pane Pane, flag protocol.ErrorFlag) Outcome {
	if err := pane.Clear(ctx, flag.Agent); err != nil {
		return Outcome{Success: false, Action: ActionAbort, Message: "clear failed: " + err.Error()}
	}
	if err := pane.Start(ctx, flag.Agent); err != nil {
		return Outcome{Success: false, Action: ActionAbort, Message: "restart failed: " + err.Error()}
	}
	return Outcome{Success: true, Action: ActionRestart, Message: "restarted after validation error"}
}
