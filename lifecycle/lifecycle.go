// Package lifecycle implements AgentLifecycle (§4.11): starting, stopping,
// restarting, and terminal-state transitions for a single agent pane across
// its run, composing terminal.Controller, monitor.Monitor and
// runstate.StateStore. Grounded on multiagent/agent/session.go's
// LongRunningSession — lazy/guarded start (ensureSession), a mutex-guarded
// started flag, a nopLogger fallback, and the "stop the producer before
// waiting on its consumer" goroutine-ordering discipline from
// runSessionWithFileTracking (applied here to Stop: the pane's monitor watch
// is always stopped before the pane itself is torn down).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bazelment/conductor/agentproc"
	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/monitor"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
	"github.com/bazelment/conductor/terminal"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

var nopLogger = slog.New(nopHandler{})

// RuntimeOptions carries the per-project .supervisor.yaml knobs a Lifecycle
// needs that aren't already implied by tier/promptFile/workDir: per-agent
// hard wall-time overrides, per-agent model overrides, and yolo-mode. Zero
// value means "no overrides, permission prompts on" for every field.
type RuntimeOptions struct {
	WallTimeOf     func(protocol.AgentRole) time.Duration
	ModelOverrides map[protocol.AgentRole]string
	YoloMode       bool
}

// Lifecycle manages one agent's pane, monitor watch and status record across
// a single run.
type Lifecycle struct {
	runID   string
	term    *terminal.Controller
	mon     *monitor.Monitor
	store   *runstate.StateStore
	stream  *events.Stream
	logger  *slog.Logger
	mcfg    monitor.Config
	runtime RuntimeOptions

	mu      sync.Mutex
	started map[protocol.AgentRole]bool
}

// New creates a Lifecycle for one run.
func New(runID string, term *terminal.Controller, mon *monitor.Monitor, store *runstate.StateStore, stream *events.Stream, mcfg monitor.Config, logger *slog.Logger, runtime RuntimeOptions) *Lifecycle {
	if logger == nil {
		logger = nopLogger
	}
	return &Lifecycle{
		runID:   runID,
		term:    term,
		mon:     mon,
		store:   store,
		stream:  stream,
		mcfg:    mcfg,
		logger:  logger,
		runtime: runtime,
		started: make(map[protocol.AgentRole]bool),
	}
}

// modelFor returns tier's default model with any configured per-agent
// override (config.Config.ModelOverrides) applied to its ID.
func (l *Lifecycle) modelFor(agent protocol.AgentRole, tier protocol.ModelTier) agentproc.Model {
	model := agentproc.ModelForTier(tier)
	if override, ok := l.runtime.ModelOverrides[agent]; ok && override != "" {
		model.ID = override
	}
	return model
}

func (l *Lifecycle) logf() *slog.Logger { return l.logger.With("run", l.runID) }

// monitorConfigFor returns l.mcfg with MaxWallTime overridden for agent when
// wallTimeOf is set, so per-agent hard deadlines (config.Config.AgentWallTime)
// apply without every Lifecycle user needing a Config per agent.
func (l *Lifecycle) monitorConfigFor(agent protocol.AgentRole) monitor.Config {
	cfg := l.mcfg
	if l.runtime.WallTimeOf != nil {
		if d := l.runtime.WallTimeOf(agent); d > 0 {
			cfg.MaxWallTime = d
		}
	}
	return cfg
}

// mutateRun loads the run, applies fn, and persists the result.
func (l *Lifecycle) mutateRun(fn func(*protocol.Run)) error {
	run, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s has no state yet", l.runID)
	}
	fn(run)
	return l.store.Save(run)
}

// Start launches agent's pane for the first time (or after Stop), records it
// running in the state store, and starts its stall/timeout monitor.
func (l *Lifecycle) Start(ctx context.Context, agent protocol.AgentRole, tier protocol.ModelTier, promptFile, workDir string) error {
	l.mu.Lock()
	if l.started[agent] {
		l.mu.Unlock()
		return fmt.Errorf("agent %s already started for run %s", agent, l.runID)
	}
	l.started[agent] = true
	l.mu.Unlock()

	log := l.logf().With("agent", agent)
	log.Info("agent starting", "tier", tier)

	spec, err := agentproc.Build(agentproc.Options{
		Role:       agent,
		Model:      l.modelFor(agent, tier),
		PromptFile: promptFile,
		WorkDir:    workDir,
		YoloMode:   l.runtime.YoloMode,
	})
	if err != nil {
		l.clearStarted(agent)
		return fmt.Errorf("build invocation for %s: %w", agent, err)
	}

	if err := l.term.StartAgent(ctx, agent, spec.Argv, workDir, spec.Env); err != nil {
		l.clearStarted(agent)
		return fmt.Errorf("start pane for %s: %w", agent, err)
	}

	now := time.Now()
	if err := l.mutateRun(func(run *protocol.Run) {
		rec := run.Agents[agent]
		if rec == nil {
			rec = &protocol.AgentRecord{}
			run.Agents[agent] = rec
		}
		rec.Status = protocol.AgentRunning
		rec.StartedAt = &now
		run.SelectedModels[agent] = tier
	}); err != nil {
		log.Warn("failed to persist start", "error", err)
	}

	l.mon.Start(ctx, agent, l.monitorConfigFor(agent), func() (string, error) {
		return l.term.CapturePane(ctx, agent, 500)
	})

	return nil
}

func (l *Lifecycle) clearStarted(agent protocol.AgentRole) {
	l.mu.Lock()
	delete(l.started, agent)
	l.mu.Unlock()
}

// Stop halts agent's monitor watch and clears its pane. The monitor is
// always stopped before the pane itself, matching session.go's
// stop-producer-before-wait-on-consumer discipline: a monitor watch reads
// the pane via CapturePane, so tearing the pane down first risks the watch
// observing a torn-down target mid-probe.
func (l *Lifecycle) Stop(ctx context.Context, agent protocol.AgentRole) error {
	l.mon.Stop(agent)
	if err := l.term.ClearAgent(ctx, agent); err != nil {
		return fmt.Errorf("stop agent %s: %w", agent, err)
	}
	l.clearStarted(agent)
	l.logf().With("agent", agent).Info("agent stopped")
	return nil
}

// Clear resets agent's pane (scrollback and child process) without touching
// its state-store record, for a same-phase retry.
func (l *Lifecycle) Clear(ctx context.Context, agent protocol.AgentRole) error {
	l.mon.Stop(agent)
	l.clearStarted(agent)
	return l.term.ClearAgent(ctx, agent)
}

// RestartWithClarification tears down agent's pane and relaunches it with the
// human's resolution to a pending clarification request folded into the
// prompt (§4.3's restartAgentWithClarification).
func (l *Lifecycle) RestartWithClarification(ctx context.Context, agent protocol.AgentRole, tier protocol.ModelTier, promptFile, workDir, clarification string) error {
	l.mon.Stop(agent)
	l.clearStarted(agent)

	spec, err := agentproc.Build(agentproc.Options{
		Role:          agent,
		Model:         l.modelFor(agent, tier),
		PromptFile:    promptFile,
		WorkDir:       workDir,
		Clarification: clarification,
		YoloMode:      l.runtime.YoloMode,
	})
	if err != nil {
		return fmt.Errorf("build clarified invocation for %s: %w", agent, err)
	}
	if err := l.term.RestartAgentWithClarification(ctx, agent, spec.Argv, workDir, spec.Env); err != nil {
		return fmt.Errorf("restart agent %s with clarification: %w", agent, err)
	}

	l.mu.Lock()
	l.started[agent] = true
	l.mu.Unlock()

	now := time.Now()
	if err := l.mutateRun(func(run *protocol.Run) {
		rec := run.Agents[agent]
		if rec == nil {
			rec = &protocol.AgentRecord{}
			run.Agents[agent] = rec
		}
		rec.Status = protocol.AgentRunning
		rec.StartedAt = &now
	}); err != nil {
		l.logf().With("agent", agent).Warn("failed to persist restart", "error", err)
	}

	l.mon.Start(ctx, agent, l.monitorConfigFor(agent), func() (string, error) {
		return l.term.CapturePane(ctx, agent, 500)
	})
	return nil
}

// Complete marks agent done in the state store and stops its monitor.
func (l *Lifecycle) Complete(agent protocol.AgentRole) error {
	l.mon.Stop(agent)
	l.clearStarted(agent)
	now := time.Now()
	return l.mutateRun(func(run *protocol.Run) {
		rec := run.Agents[agent]
		if rec == nil {
			rec = &protocol.AgentRecord{}
			run.Agents[agent] = rec
		}
		rec.Status = protocol.AgentCompleted
		rec.CompletedAt = &now
	})
}

// Fail marks agent crashed/failed in the state store with the triggering
// error flag and stops its monitor.
func (l *Lifecycle) Fail(agent protocol.AgentRole, flag protocol.ErrorFlag) error {
	l.mon.Stop(agent)
	l.clearStarted(agent)
	now := time.Now()
	return l.mutateRun(func(run *protocol.Run) {
		rec := run.Agents[agent]
		if rec == nil {
			rec = &protocol.AgentRecord{}
			run.Agents[agent] = rec
		}
		rec.Status = protocol.AgentFailed
		rec.CompletedAt = &now
		rec.Error = &flag
	})
}
