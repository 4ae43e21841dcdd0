// Package errorsvc implements ErrorRecoveryService (§4.13): a thin
// composition of RecoveryManager wrapped by RetryManager, plus the per-run
// recovery-history list both reference. No single teacher file owns this
// shape; it is the composition-root wiring pattern multiagent/cmd/swarm's
// main.go and planner.go both use (construct the small pieces, wire them
// together at the top, keep the glue itself free of business logic).
package errorsvc

import (
	"context"
	"sync"
	"time"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/recovery"
	"github.com/bazelment/conductor/retry"
)

// HistoryEntry records one recovery attempt outcome for a run's in-memory
// history, per §4.13 "every attempt, success, failure, and exhaustion is
// recorded".
type HistoryEntry struct {
	At        time.Time
	Agent     protocol.AgentRole
	ErrorType string
	Outcome   recovery.Outcome
	Skipped   bool
	Reason    string
}

// Config controls which error types auto-retry applies to.
type Config struct {
	AutoRetryEnabled   bool
	RecoverableTypes   map[string]bool // empty means "all types recovery strategies claim"
}

// DefaultConfig enables auto-retry for every error type a default Registry
// has a strategy for.
func DefaultConfig() Config {
	return Config{
		AutoRetryEnabled: true,
		RecoverableTypes: map[string]bool{
			protocol.ErrorCrash:      true,
			protocol.ErrorTimeout:    true,
			protocol.ErrorValidation: true,
		},
	}
}

// Service routes error(agent, errorFlag) signals through RecoveryManager
// wrapped by RetryManager.
type Service struct {
	cfg      Config
	registry *recovery.Registry
	retryMgr *retry.Manager
	stream   *events.Stream
	runID    string

	mu      sync.Mutex
	history []HistoryEntry
}

// New creates a Service for one run.
func New(runID string, cfg Config, registry *recovery.Registry, retryMgr *retry.Manager, stream *events.Stream) *Service {
	return &Service{runID: runID, cfg: cfg, registry: registry, retryMgr: retryMgr, stream: stream}
}

func (s *Service) record(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.At = time.Now()
	s.history = append(s.history, entry)
}

// History returns a copy of every recovery attempt recorded so far.
func (s *Service) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// HandleError processes an error(agent, errorFlag) signal per §4.13.
func (s *Service) HandleError(ctx context.Context, pane recovery.Pane, flag protocol.ErrorFlag) recovery.Outcome {
	if skip, reason := s.shouldSkip(flag); skip {
		s.stream.Emit(ctx, events.NewRecoverySkippedEvent(flag.Agent, reason))
		outcome := recovery.Outcome{Success: false, Action: recovery.ActionAbort, Message: reason}
		s.record(HistoryEntry{Agent: flag.Agent, ErrorType: flag.ErrorType, Skipped: true, Reason: reason, Outcome: outcome})
		return outcome
	}

	var outcome recovery.Outcome
	rc := retry.Context{Agent: flag.Agent, ErrorType: flag.ErrorType, RunID: s.runID}
	err := s.retryMgr.ExecuteWithRetry(ctx, rc, func(ctx context.Context) error {
		outcome = s.registry.Recover(ctx, pane, flag)
		if !outcome.Success {
			return &recoveryFailedError{outcome: outcome}
		}
		return nil
	})

	if err != nil {
		outcome = recovery.Outcome{Success: false, Action: recovery.ActionAbort, Message: err.Error()}
	}
	s.record(HistoryEntry{Agent: flag.Agent, ErrorType: flag.ErrorType, Outcome: outcome})
	return outcome
}

func (s *Service) shouldSkip(flag protocol.ErrorFlag) (bool, string) {
	if !s.cfg.AutoRetryEnabled {
		return true, "auto-retry disabled"
	}
	if !flag.Recoverable {
		return true, "error flag marked not recoverable"
	}
	if len(s.cfg.RecoverableTypes) > 0 && !s.cfg.RecoverableTypes[flag.ErrorType] {
		return true, "error_type " + flag.ErrorType + " not in recoverable list"
	}
	if !s.registry.CanHandle(flag) {
		return true, "no strategy registered for error_type " + flag.ErrorType
	}
	return false, ""
}

// recoveryFailedError lets ExecuteWithRetry treat a failed-but-non-erroring
// strategy Outcome as a retryable failure without losing the outcome detail.
type recoveryFailedError struct {
	outcome recovery.Outcome
}

func (e *recoveryFailedError) Error() string { return e.outcome.Message }
