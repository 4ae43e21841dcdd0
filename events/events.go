// Package events defines the coordinated-event sum type that carries every
// notable occurrence in a run out of its component goroutines and into the
// Orchestrator's single event loop. This mirrors multiagent/planner's
// MissionEvent pattern: a marker method plus an embedded base struct, so the
// set of event types is closed and there is no runtime listener table to
// register against.
package events

import (
	"time"

	"github.com/bazelment/conductor/protocol"
)

// Event is the interface satisfied by every run event. The unexported marker
// method prevents implementations outside this package.
type Event interface {
	runEvent()
	Timestamp() time.Time
}

type base struct {
	ts time.Time
}

func (b base) Timestamp() time.Time { return b.ts }

func newBase() base { return base{ts: time.Now()} }

// DoneEvent fires when an agent writes its done.flag sentinel.
type DoneEvent struct {
	base
	Agent protocol.AgentRole
}

func (DoneEvent) runEvent() {}

// NewDoneEvent constructs a DoneEvent.
func NewDoneEvent(agent protocol.AgentRole) DoneEvent {
	return DoneEvent{base: newBase(), Agent: agent}
}

// ErrorEvent fires when an agent's error.flag sentinel appears (agent-written
// or synthesized by AgentMonitor on crash/timeout).
type ErrorEvent struct {
	base
	Agent protocol.AgentRole
	Flag  protocol.ErrorFlag
}

func NewErrorEvent(agent protocol.AgentRole, flag protocol.ErrorFlag) ErrorEvent {
	return ErrorEvent{base: newBase(), Agent: agent, Flag: flag}
}
func (ErrorEvent) runEvent() {}

// CRPCreatedEvent fires when a crp/*.json file appears.
type CRPCreatedEvent struct {
	base
	CRPID     string
	CreatedBy protocol.AgentRole
}

func NewCRPCreatedEvent(crpID string, createdBy protocol.AgentRole) CRPCreatedEvent {
	return CRPCreatedEvent{base: newBase(), CRPID: crpID, CreatedBy: createdBy}
}
func (CRPCreatedEvent) runEvent() {}

// VCRCreatedEvent fires when a vcr/*.json file appears, resolving a CRP.
type VCRCreatedEvent struct {
	base
	VCRID string
	CRPID string
}

func NewVCRCreatedEvent(vcrID, crpID string) VCRCreatedEvent {
	return VCRCreatedEvent{base: newBase(), VCRID: vcrID, CRPID: crpID}
}
func (VCRCreatedEvent) runEvent() {}

// TestsReadyEvent fires when an agent's tests-ready.flag appears (two-phase
// external-runner verifier mode).
type TestsReadyEvent struct {
	base
	Agent protocol.AgentRole
}

func NewTestsReadyEvent(agent protocol.AgentRole) TestsReadyEvent {
	return TestsReadyEvent{base: newBase(), Agent: agent}
}
func (TestsReadyEvent) runEvent() {}

// TestOutputEvent fires when an agent's test-output.json appears.
type TestOutputEvent struct {
	base
	Agent protocol.AgentRole
}

func NewTestOutputEvent(agent protocol.AgentRole) TestOutputEvent {
	return TestOutputEvent{base: newBase(), Agent: agent}
}
func (TestOutputEvent) runEvent() {}

// TransitionEvent fires when PhaseMachine executes a valid transition.
type TransitionEvent struct {
	base
	From      protocol.Phase
	To        protocol.Phase
	NextAgent protocol.AgentRole
}

func NewTransitionEvent(from, to protocol.Phase, nextAgent protocol.AgentRole) TransitionEvent {
	return TransitionEvent{base: newBase(), From: from, To: to, NextAgent: nextAgent}
}
func (TransitionEvent) runEvent() {}

// TransitionBlockedEvent fires when a requested transition is rejected.
type TransitionBlockedEvent struct {
	base
	From protocol.Phase
	To   protocol.Phase
}

func NewTransitionBlockedEvent(from, to protocol.Phase) TransitionBlockedEvent {
	return TransitionBlockedEvent{base: newBase(), From: from, To: to}
}
func (TransitionBlockedEvent) runEvent() {}

// WaitingHumanEvent fires when a run parks waiting for a VCR or verdict review.
type WaitingHumanEvent struct {
	base
	PendingCRP string
	Reason     string
}

func NewWaitingHumanEvent(pendingCRP, reason string) WaitingHumanEvent {
	return WaitingHumanEvent{base: newBase(), PendingCRP: pendingCRP, Reason: reason}
}
func (WaitingHumanEvent) runEvent() {}

// StaleEvent fires when AgentMonitor detects no scrollback activity for
// maxInactivityTime.
type StaleEvent struct {
	base
	Agent       protocol.AgentRole
	InactiveFor time.Duration
}

func NewStaleEvent(agent protocol.AgentRole, inactiveFor time.Duration) StaleEvent {
	return StaleEvent{base: newBase(), Agent: agent, InactiveFor: inactiveFor}
}
func (StaleEvent) runEvent() {}

// TimeoutEvent fires when AgentMonitor's hard deadline for an agent elapses.
type TimeoutEvent struct {
	base
	Agent protocol.AgentRole
}

func NewTimeoutEvent(agent protocol.AgentRole) TimeoutEvent {
	return TimeoutEvent{base: newBase(), Agent: agent}
}
func (TimeoutEvent) runEvent() {}

// OutputEvent carries a full scrollback snapshot from OutputStreamer.
type OutputEvent struct {
	base
	Agent    protocol.AgentRole
	Snapshot string
	IsNew    bool
}

func NewOutputEvent(agent protocol.AgentRole, snapshot string, isNew bool) OutputEvent {
	return OutputEvent{base: newBase(), Agent: agent, Snapshot: snapshot, IsNew: isNew}
}
func (OutputEvent) runEvent() {}

// NewOutputEventDelta carries an incremental scrollback delta from OutputStreamer.
type NewOutputEventDelta struct {
	base
	Agent protocol.AgentRole
	Delta string
}

func NewNewOutputEvent(agent protocol.AgentRole, delta string) NewOutputEventDelta {
	return NewOutputEventDelta{base: newBase(), Agent: agent, Delta: delta}
}
func (NewOutputEventDelta) runEvent() {}

// RetryStartedEvent fires when RetryManager begins an attempt.
type RetryStartedEvent struct {
	base
	Agent       protocol.AgentRole
	ErrorType   string
	Attempt     int
	MaxAttempts int
}

func NewRetryStartedEvent(agent protocol.AgentRole, errorType string, attempt, maxAttempts int) RetryStartedEvent {
	return RetryStartedEvent{base: newBase(), Agent: agent, ErrorType: errorType, Attempt: attempt, MaxAttempts: maxAttempts}
}
func (RetryStartedEvent) runEvent() {}

// RetrySuccessEvent fires when a retried operation succeeds.
type RetrySuccessEvent struct {
	base
	Agent   protocol.AgentRole
	Attempt int
}

func NewRetrySuccessEvent(agent protocol.AgentRole, attempt int) RetrySuccessEvent {
	return RetrySuccessEvent{base: newBase(), Agent: agent, Attempt: attempt}
}
func (RetrySuccessEvent) runEvent() {}

// RetryExhaustedEvent fires when RetryManager gives up.
type RetryExhaustedEvent struct {
	base
	Agent         protocol.AgentRole
	ErrorType     string
	TotalAttempts int
	LastError     error
}

func NewRetryExhaustedEvent(agent protocol.AgentRole, errorType string, totalAttempts int, lastErr error) RetryExhaustedEvent {
	return RetryExhaustedEvent{base: newBase(), Agent: agent, ErrorType: errorType, TotalAttempts: totalAttempts, LastError: lastErr}
}
func (RetryExhaustedEvent) runEvent() {}

// RecoverySkippedEvent fires when ErrorRecoveryService declines to attempt recovery.
type RecoverySkippedEvent struct {
	base
	Agent  protocol.AgentRole
	Reason string
}

func NewRecoverySkippedEvent(agent protocol.AgentRole, reason string) RecoverySkippedEvent {
	return RecoverySkippedEvent{base: newBase(), Agent: agent, Reason: reason}
}
func (RecoverySkippedEvent) runEvent() {}

// RunFailedEvent fires when a run transitions into the terminal failed phase.
type RunFailedEvent struct {
	base
	Reason string
	Cause  error
}

func NewRunFailedEvent(reason string, cause error) RunFailedEvent {
	return RunFailedEvent{base: newBase(), Reason: reason, Cause: cause}
}
func (RunFailedEvent) runEvent() {}

// RunCompletedEvent fires when a run reaches completed (MRP written).
type RunCompletedEvent struct {
	base
	RunID string
}

func NewRunCompletedEvent(runID string) RunCompletedEvent {
	return RunCompletedEvent{base: newBase(), RunID: runID}
}
func (RunCompletedEvent) runEvent() {}
