// Package retry implements RetryManager (§4.7): a bounded exponential
// backoff wrapper keyed by (agent, errorType, runId). The backoff arithmetic
// is adapted from bramble/remote/session_proxy.go's streamEvents reconnect
// loop (backoff := base; ...; backoff = min(backoff*2, cap)), generalized
// from an unbounded reconnect loop to a bounded-attempts operation wrapper.
// No third-party backoff library is used: the teacher's own backoff code is
// hand-rolled inline rather than built on cenkalti/backoff, so this package
// keeps that idiom rather than introducing a library the teacher doesn't
// reach for (see DESIGN.md).
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
)

// Config holds the bounded-exponential-backoff parameters.
type Config struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultConfig mirrors session_proxy.go's own constants (500ms base, x2,
// 10s cap), with a finite attempt budget added since RetryManager's contract
// is bounded, unlike the teacher's unbounded reconnect loop.
func DefaultConfig() Config {
	return Config{
		Base:        500 * time.Millisecond,
		Multiplier:  2.0,
		Cap:         10 * time.Second,
		MaxAttempts: 3,
	}
}

// key identifies one (agent, errorType, runId) attempt counter.
type key struct {
	agent     protocol.AgentRole
	errorType string
	runID     string
}

// Manager tracks attempt counts per (agent, errorType, runId) and executes
// operations with bounded exponential backoff between attempts.
type Manager struct {
	cfg    Config
	stream *events.Stream

	mu       sync.Mutex
	attempts map[key]int
}

// NewManager creates a Manager. stream may be nil in tests that don't care
// about emitted events.
func NewManager(cfg Config, stream *events.Stream) *Manager {
	return &Manager{cfg: cfg, stream: stream, attempts: make(map[key]int)}
}

// Context identifies the operation being retried, per §4.7's contract.
type Context struct {
	Agent     protocol.AgentRole
	ErrorType string
	RunID     string
}

func (c Context) key() key { return key{c.Agent, c.ErrorType, c.RunID} }

// Reset clears the attempt counter for ctx, per §4.7 "can be reset externally".
func (m *Manager) Reset(ctx Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, ctx.key())
}

func (m *Manager) nextAttempt(k key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[k]++
	return m.attempts[k]
}

func (m *Manager) emit(ctx context.Context, ev events.Event) {
	if m.stream == nil {
		return
	}
	m.stream.Emit(ctx, ev)
}

// ExecuteWithRetry runs op, retrying on error with bounded exponential
// backoff up to cfg.MaxAttempts total attempts. It emits retry_started
// before each attempt after the first, retry_success on a succeeding retry,
// and retry_exhausted (wrapping the last error) once the budget is spent.
func (m *Manager) ExecuteWithRetry(ctx context.Context, rc Context, op func(ctx context.Context) error) error {
	k := rc.key()
	delay := m.cfg.Base
	var lastErr error

	for {
		attempt := m.nextAttempt(k)
		if attempt > 1 {
			m.emit(ctx, events.NewRetryStartedEvent(rc.Agent, rc.ErrorType, attempt, m.cfg.MaxAttempts))
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				m.emit(ctx, events.NewRetrySuccessEvent(rc.Agent, attempt))
			}
			m.Reset(rc)
			return nil
		}
		lastErr = err

		if attempt >= m.cfg.MaxAttempts {
			m.emit(ctx, events.NewRetryExhaustedEvent(rc.Agent, rc.ErrorType, attempt, lastErr))
			return &protocol.RecoveryExhaustedError{
				Agent: rc.Agent, ErrorType: rc.ErrorType, Attempts: attempt, Cause: lastErr,
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}

		next := time.Duration(float64(delay) * m.cfg.Multiplier)
		if next > m.cfg.Cap {
			next = m.cfg.Cap
		}
		delay = next
	}
}

// AttemptCount returns the current attempt count for ctx (0 if none recorded).
func (m *Manager) AttemptCount(rc Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[rc.key()]
}
