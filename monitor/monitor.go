// Package monitor implements AgentMonitor (§4.4): per-agent hard-deadline and
// inactivity timers. The progress/stall-timer shape (UpdateProgress resets a
// last-activity timestamp, TimeSinceProgress measures the gap) is adapted
// from multiagent/control/controller.go's Controller, generalized from one
// mission-wide stall timer to one timer pair per watched agent pane.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/protocol"
)

// Config holds the timing parameters for one watched agent.
type Config struct {
	MaxWallTime       time.Duration // hard deadline
	MaxInactivityTime time.Duration // default 2 minutes
	ProbeInterval     time.Duration // default 30 seconds
}

// DefaultConfig matches the defaults named in §4.4.
func DefaultConfig(maxWallTime time.Duration) Config {
	return Config{
		MaxWallTime:       maxWallTime,
		MaxInactivityTime: 2 * time.Minute,
		ProbeInterval:     30 * time.Second,
	}
}

// watch tracks one monitored agent's timers.
type watch struct {
	startedAt    time.Time
	lastActivity time.Time
	cancel       context.CancelFunc
	stopped      bool
}

// Monitor supervises hard-timeout and inactivity timers for the agents of one
// run, emitting events.StaleEvent / events.TimeoutEvent into the run's stream.
type Monitor struct {
	stream *events.Stream

	mu      sync.Mutex
	watches map[protocol.AgentRole]*watch
}

// New creates a Monitor bound to a run's event stream.
func New(stream *events.Stream) *Monitor {
	return &Monitor{stream: stream, watches: make(map[protocol.AgentRole]*watch)}
}

// Start begins monitoring agent under cfg. If already monitoring that agent,
// the prior watch is stopped first (Stop is idempotent, see below), matching
// AgentLifecycle's invariant that monitoring is always paired 1:1 with a
// start.
func (m *Monitor) Start(ctx context.Context, agent protocol.AgentRole, cfg Config, capture func() (string, error)) {
	m.Stop(agent)

	watchCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	w := &watch{startedAt: now, lastActivity: now, cancel: cancel}

	m.mu.Lock()
	m.watches[agent] = w
	m.mu.Unlock()

	go m.run(watchCtx, agent, cfg, w, capture)
}

func (m *Monitor) run(ctx context.Context, agent protocol.AgentRole, cfg Config, w *watch, capture func() (string, error)) {
	var deadlineC <-chan time.Time
	if cfg.MaxWallTime > 0 {
		timer := time.NewTimer(cfg.MaxWallTime)
		defer timer.Stop()
		deadlineC = timer.C
	}

	probe := cfg.ProbeInterval
	if probe <= 0 {
		probe = 30 * time.Second
	}
	ticker := time.NewTicker(probe)
	defer ticker.Stop()

	var lastSnapshot string
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadlineC:
			m.stream.Emit(ctx, events.NewTimeoutEvent(agent))
			return
		case <-ticker.C:
			if capture == nil {
				continue
			}
			snapshot, err := capture()
			if err != nil {
				continue
			}
			if snapshot != lastSnapshot {
				lastSnapshot = snapshot
				m.UpdateProgress(agent)
				continue
			}
			m.mu.Lock()
			inactiveFor := time.Since(w.lastActivity)
			m.mu.Unlock()
			if cfg.MaxInactivityTime > 0 && inactiveFor >= cfg.MaxInactivityTime {
				m.stream.Emit(ctx, events.NewStaleEvent(agent, inactiveFor))
			}
		}
	}
}

// UpdateProgress records fresh activity for agent, resetting its inactivity
// timer, mirroring Controller.UpdateProgress.
func (m *Monitor) UpdateProgress(agent protocol.AgentRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[agent]; ok {
		w.lastActivity = time.Now()
	}
}

// TimeSinceActivity returns how long since the last recorded activity for agent.
func (m *Monitor) TimeSinceActivity(agent protocol.AgentRole) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[agent]
	if !ok {
		return 0
	}
	return time.Since(w.lastActivity)
}

// Stop ends monitoring for agent. Idempotent: stopping an agent not
// currently monitored, or stopping twice, is a no-op.
func (m *Monitor) Stop(agent protocol.AgentRole) {
	m.mu.Lock()
	w, ok := m.watches[agent]
	if ok {
		delete(m.watches, agent)
	}
	m.mu.Unlock()
	if ok && !w.stopped {
		w.stopped = true
		w.cancel()
	}
}

// StopAll stops every monitored agent, used on run cancellation.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	agents := make([]protocol.AgentRole, 0, len(m.watches))
	for a := range m.watches {
		agents = append(agents, a)
	}
	m.mu.Unlock()
	for _, a := range agents {
		m.Stop(a)
	}
}
