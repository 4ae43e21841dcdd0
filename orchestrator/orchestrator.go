// Package orchestrator implements the Orchestrator (§4.14): the composition
// root that owns one instance of every run-scoped collaborator (RunDirectory,
// FileWatcher, TerminalController, AgentMonitor, OutputStreamer, UsageTracker,
// RetryManager, RecoveryManager, ModelSelector, PhaseMachine, AgentLifecycle,
// AgentCoordinator, ErrorRecoveryService) and drives a run from startRun
// through to a terminal phase. Grounded on multiagent/cmd/swarm/main.go's
// startOrchestrator/stopOrchestrator/setupContext (signal handling, double-
// SIGINT force-exit) and multiagent/planner/planner.go's composition-root
// wiring, generalized from one in-process Claude session to a tmux-pane-
// driven multi-agent pipeline.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/conductor/coordinator"
	"github.com/bazelment/conductor/errorsvc"
	"github.com/bazelment/conductor/events"
	"github.com/bazelment/conductor/lifecycle"
	"github.com/bazelment/conductor/modelselect"
	"github.com/bazelment/conductor/monitor"
	"github.com/bazelment/conductor/phase"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/recovery"
	"github.com/bazelment/conductor/retry"
	"github.com/bazelment/conductor/runstate"
	"github.com/bazelment/conductor/streamer"
	"github.com/bazelment/conductor/terminal"
	"github.com/bazelment/conductor/usage"
	"github.com/bazelment/conductor/watcher"
)

// maxBriefingBytes bounds a briefing per §4.14 step 1's "within size limits";
// the spec names no concrete figure, so this is a conservative supervisor-
// chosen constant rather than a value read from the original.
const maxBriefingBytes = 256 * 1024

// Config holds the per-project settings a run is created with.
type Config struct {
	ProjectRoot          string
	RunsDir              string // absolute; defaults to ProjectRoot/.conductor/runs
	MaxIterations        int
	MaxMinorFixAttempts  int
	ModelStrategy        modelselect.Strategy
	DynamicModels        bool
	DefaultAgentWallTime time.Duration
	AgentWallTime        map[protocol.AgentRole]time.Duration
	ModelOverrides       map[protocol.AgentRole]string
	YoloMode             bool
	ErrorConfig          errorsvc.Config
	Logger               *slog.Logger
}

func (c Config) runsDir() string {
	if c.RunsDir != "" {
		return c.RunsDir
	}
	return filepath.Join(c.ProjectRoot, ".conductor", "runs")
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// wallTimeFor returns the configured per-agent hard wall-time override
// (config.Config.AgentWallTime), falling back to wallTime() when unset.
func (c Config) wallTimeFor(agent protocol.AgentRole) time.Duration {
	if d, ok := c.AgentWallTime[agent]; ok && d > 0 {
		return d
	}
	return c.wallTime()
}

// minorFixLimit returns the configured max-minor-fix-attempts, falling back
// to the spec's default of 2 when unset.
func (c Config) minorFixLimit() int {
	if c.MaxMinorFixAttempts > 0 {
		return c.MaxMinorFixAttempts
	}
	return 2
}

// runtimeOptions derives the lifecycle.RuntimeOptions this run's agents
// should launch with from the project config.
func (c Config) runtimeOptions() lifecycle.RuntimeOptions {
	return lifecycle.RuntimeOptions{
		WallTimeOf:     c.wallTimeFor,
		ModelOverrides: c.ModelOverrides,
		YoloMode:       c.YoloMode,
	}
}

func (c Config) wallTime() time.Duration {
	if c.DefaultAgentWallTime > 0 {
		return c.DefaultAgentWallTime
	}
	return 30 * time.Minute
}

// Orchestrator owns every in-flight run for one project.
type Orchestrator struct {
	cfg Config

	mu   sync.Mutex
	runs map[string]*runHandle
}

// New creates an Orchestrator bound to cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg, runs: make(map[string]*runHandle)}
}

// launchParams records the tier/promptFile/workDir an agent was last started
// with, so a later crash/timeout/validation recovery can relaunch it
// identically without the recovery package needing to know how prompts are
// rendered or models selected.
type launchParams struct {
	tier       protocol.ModelTier
	promptFile string
	workDir    string
}

// runHandle bundles one run's collaborators, all scoped to its lifetime.
type runHandle struct {
	dir     *runstate.Dir
	store   *runstate.StateStore
	stream  *events.Stream
	machine *phase.Machine
	term    *terminal.Controller
	mon     *monitor.Monitor
	lc      *lifecycle.Lifecycle
	coord   *coordinator.Coordinator
	errsvc  *errorsvc.Service
	wch     *watcher.Watcher
	tracker *usage.Tracker
	cfg     Config
	log     *slog.Logger

	mu         sync.Mutex
	lastLaunch map[protocol.AgentRole]launchParams

	cancel context.CancelFunc
	done   chan struct{}
}

func (rh *runHandle) recordLaunch(agent protocol.AgentRole, tier protocol.ModelTier, promptFile, workDir string) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.lastLaunch[agent] = launchParams{tier: tier, promptFile: promptFile, workDir: workDir}
}

func (rh *runHandle) launchFor(agent protocol.AgentRole) (launchParams, bool) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	lp, ok := rh.lastLaunch[agent]
	return lp, ok
}

// paneAdapter satisfies recovery.Pane by replaying an agent's last recorded
// launch parameters. recovery.Pane.Start takes no tier/promptFile/workDir,
// but lifecycle.Lifecycle.Start needs all three to rebuild the agent's argv
// (per agentproc.Build); this adapter is the seam that lets
// errorsvc.Service's RecoveryManager relaunch an agent without owning
// prompt-rendering or model-selection knowledge itself.
type paneAdapter struct{ rh *runHandle }

func (p paneAdapter) Clear(ctx context.Context, agent protocol.AgentRole) error {
	return p.rh.lc.Clear(ctx, agent)
}

func (p paneAdapter) Start(ctx context.Context, agent protocol.AgentRole) error {
	lp, ok := p.rh.launchFor(agent)
	if !ok {
		return fmt.Errorf("no prior launch recorded for %s, cannot recover", agent)
	}
	return p.rh.lc.Start(ctx, agent, lp.tier, lp.promptFile, lp.workDir)
}

func (p paneAdapter) CapturePane(ctx context.Context, agent protocol.AgentRole, maxLines int) (string, error) {
	return p.rh.term.CapturePane(ctx, agent, maxLines)
}

// StartRun implements §4.14: validate, allocate, select models, persist
// initial state, render prompts, create the terminal session, start the
// refiner, and return immediately with the run id. The run continues to
// completion on a background goroutine driven by the event stream.
func (o *Orchestrator) StartRun(ctx context.Context, briefing string) (string, error) {
	if err := validateBriefing(briefing); err != nil {
		return "", err
	}

	runID := runstate.NewRunID(time.Now())
	dir := runstate.NewDir(o.cfg.runsDir(), runID)
	if err := dir.Create(); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	if err := runstate.WriteAtomic(filepath.Join(dir.BriefingDir(), "raw.md"), []byte(briefing), 0o644); err != nil {
		return "", fmt.Errorf("persist briefing: %w", err)
	}

	maxIter := o.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 5
	}
	run := protocol.NewRun(runID, maxIter)

	selection := modelselect.Select(briefing, o.cfg.DynamicModels, o.cfg.ModelStrategy)
	run.SelectedModels = selection.Models

	store := runstate.NewStateStore(dir.StatePath())
	if err := store.Save(run); err != nil {
		return "", fmt.Errorf("persist initial state: %w", err)
	}

	stream := events.NewStream(64)
	term := terminal.New(runID)
	if err := term.CreateSession(ctx, o.cfg.ProjectRoot); err != nil {
		return "", fmt.Errorf("create terminal session: %w", err)
	}

	mon := monitor.New(stream)
	lg := o.cfg.logger().With("run_id", runID)
	mcfg := monitor.DefaultConfig(o.cfg.wallTime())
	lc := lifecycle.New(runID, term, mon, store, stream, mcfg, lg, o.cfg.runtimeOptions())
	machine := phase.NewMachine(protocol.PhaseRefine)

	rh := &runHandle{
		dir: dir, store: store, stream: stream, machine: machine,
		term: term, mon: mon, lc: lc, tracker: usage.NewTracker(),
		cfg: o.cfg, log: lg, lastLaunch: make(map[protocol.AgentRole]launchParams),
	}
	render := func(agent protocol.AgentRole, r *protocol.Run) (string, string, error) {
		promptFile, workDir, err := renderPrompt(dir, o.cfg.ProjectRoot, agent, r, "")
		if err == nil {
			rh.recordLaunch(agent, r.SelectedModels[agent], promptFile, workDir)
		}
		return promptFile, workDir, err
	}
	rh.coord = coordinator.New(dir, store, machine, lc, stream, render, o.cfg.minorFixLimit())

	registry := recovery.NewRegistry()
	retryMgr := retry.NewManager(retry.DefaultConfig(), stream)
	errCfg := o.cfg.ErrorConfig
	if errCfg.RecoverableTypes == nil && !errCfg.AutoRetryEnabled {
		errCfg = errorsvc.DefaultConfig()
	}
	rh.errsvc = errorsvc.New(runID, errCfg, registry, retryMgr, stream)

	wch, err := watcher.New(dir, watcher.DefaultConfig(), stream)
	if err != nil {
		return "", fmt.Errorf("create watcher: %w", err)
	}
	rh.wch = wch

	runCtx, cancel := context.WithCancel(context.Background())
	rh.cancel = cancel
	rh.done = make(chan struct{})

	if err := wch.Start(runCtx); err != nil {
		cancel()
		return "", fmt.Errorf("start watcher: %w", err)
	}

	str := streamer.New(streamer.DefaultConfig(), stream)
	for _, role := range protocol.Roles {
		role := role
		go str.Watch(runCtx, role, func(ctx context.Context) (string, error) {
			return term.CapturePane(ctx, role, 500)
		})
	}

	promptFile, workDir, err := renderPrompt(dir, o.cfg.ProjectRoot, protocol.RoleRefiner, run, "")
	if err != nil {
		cancel()
		return "", fmt.Errorf("render refiner prompt: %w", err)
	}
	rh.recordLaunch(protocol.RoleRefiner, run.SelectedModels[protocol.RoleRefiner], promptFile, workDir)

	if err := lc.Start(runCtx, protocol.RoleRefiner, run.SelectedModels[protocol.RoleRefiner], promptFile, workDir); err != nil {
		cancel()
		return "", fmt.Errorf("start refiner: %w", err)
	}

	o.mu.Lock()
	o.runs[runID] = rh
	o.mu.Unlock()

	go o.runLoop(runCtx, rh)

	return runID, nil
}

func validateBriefing(briefing string) error {
	if strings.TrimSpace(briefing) == "" {
		return protocol.NewValidationError("briefing", "must not be empty")
	}
	if len(briefing) > maxBriefingBytes {
		return protocol.NewValidationError("briefing", fmt.Sprintf("exceeds %d byte limit", maxBriefingBytes))
	}
	if strings.ContainsRune(briefing, 0) {
		return protocol.NewValidationError("briefing", "contains a null byte")
	}
	return nil
}

// runLoop drains rh's event stream and reacts to each event until the run
// reaches a terminal phase or ctx is cancelled, per §4.14 step 6/7 and §5's
// single-event-loop state-mutation discipline: every event is handled
// one at a time, on this one goroutine, so StateStore never sees concurrent
// writers for this run.
func (o *Orchestrator) runLoop(ctx context.Context, rh *runHandle) {
	defer close(rh.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rh.stream.Events():
			if !ok {
				return
			}
			appendEventLog(rh.dir, ev)
			if o.dispatch(ctx, rh, ev) {
				return
			}
		}
	}
}

// dispatch handles one event and reports whether the run has reached a
// terminal phase and the loop should stop.
func (o *Orchestrator) dispatch(ctx context.Context, rh *runHandle, ev events.Event) bool {
	switch e := ev.(type) {
	case events.DoneEvent:
		if err := rh.coord.HandleDone(ctx, e.Agent); err != nil {
			rh.log.Error("handle done failed", "agent", e.Agent, "error", err)
			return o.failRun(ctx, rh, "coordinator error: "+err.Error())
		}
		return o.checkTerminal(ctx, rh)

	case events.ErrorEvent:
		outcome := rh.errsvc.HandleError(ctx, paneAdapter{rh: rh}, e.Flag)
		if !outcome.Success {
			if err := rh.lc.Fail(e.Agent, e.Flag); err != nil {
				rh.log.Error("failed to persist agent failure", "agent", e.Agent, "error", err)
			}
			return o.failRun(ctx, rh, fmt.Sprintf("%s: %s", outcome.Action, outcome.Message))
		}
		return false

	case events.CRPCreatedEvent:
		if err := rh.coord.HandleCRPCreated(ctx, e.CreatedBy, e.CRPID); err != nil {
			rh.log.Error("handle crp_created failed", "agent", e.CreatedBy, "error", err)
			return o.failRun(ctx, rh, "crp handling error: "+err.Error())
		}
		return false

	case events.VCRCreatedEvent:
		if err := o.resumeAfterVCR(ctx, rh, e); err != nil {
			rh.log.Error("resume after vcr failed", "crp_id", e.CRPID, "error", err)
			return o.failRun(ctx, rh, "resume error: "+err.Error())
		}
		return false

	case events.TimeoutEvent:
		flag := protocol.ErrorFlag{Agent: e.Agent, ErrorType: protocol.ErrorTimeout, Message: "hard wall-time exceeded", Timestamp: time.Now(), Recoverable: true}
		outcome := rh.errsvc.HandleError(ctx, paneAdapter{rh: rh}, flag)
		if !outcome.Success {
			if err := rh.lc.Fail(e.Agent, flag); err != nil {
				rh.log.Error("failed to persist timeout failure", "agent", e.Agent, "error", err)
			}
			return o.failRun(ctx, rh, "timeout: "+outcome.Message)
		}
		return false

	case events.StaleEvent:
		flag := protocol.ErrorFlag{Agent: e.Agent, ErrorType: protocol.ErrorTimeout, Message: fmt.Sprintf("no progress for %s", e.InactiveFor), Timestamp: time.Now(), Recoverable: true}
		outcome := rh.errsvc.HandleError(ctx, paneAdapter{rh: rh}, flag)
		if !outcome.Success {
			return o.failRun(ctx, rh, "stale: "+outcome.Message)
		}
		return false

	case events.TransitionEvent:
		if e.To == protocol.PhaseReadyForMerge {
			return o.completeRun(ctx, rh)
		}
		return false

	case events.TestsReadyEvent, events.TestOutputEvent,
		events.TransitionBlockedEvent, events.WaitingHumanEvent,
		events.RetryStartedEvent, events.RetrySuccessEvent, events.RetryExhaustedEvent,
		events.RecoverySkippedEvent, events.RunFailedEvent, events.RunCompletedEvent,
		events.OutputEvent, events.NewOutputEventDelta:
		// Observability-only: nothing for the loop to drive here. A
		// production build would forward these to the component's slog
		// logger and to any attached CLI stream (see SPEC_FULL.md A.1).
		return false

	default:
		return false
	}
}

// appendEventLog appends a one-line JSON record of ev to the run's
// logs/events.log, best-effort: a logging failure must never block the event
// loop or fail the run.
func appendEventLog(dir *runstate.Dir, ev events.Event) {
	f, err := os.OpenFile(dir.EventsLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	entry := map[string]any{"ts": ev.Timestamp(), "type": fmt.Sprintf("%T", ev)}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = f.Write(data)
}

func (o *Orchestrator) checkTerminal(ctx context.Context, rh *runHandle) bool {
	run, err := rh.store.Load()
	if err != nil || run == nil {
		return false
	}
	return run.IsTerminal()
}

// resumeAfterVCR implements the restart-with-clarification half of §4.12's
// CRP/VCR handshake: read the CRP to learn who asked and the VCR to learn the
// human's decision, restart that agent with the decision folded into its
// prompt, and move the run's phase back from waiting_human to the phase that
// agent owns.
func (o *Orchestrator) resumeAfterVCR(ctx context.Context, rh *runHandle, e events.VCRCreatedEvent) error {
	crp, err := readCRP(rh.dir.CRPDir(), e.CRPID)
	if err != nil {
		return fmt.Errorf("read crp %s: %w", e.CRPID, err)
	}
	vcr, err := readVCR(rh.dir.VCRDir(), e.VCRID)
	if err != nil {
		return fmt.Errorf("read vcr %s: %w", e.VCRID, err)
	}

	agent := crp.CreatedBy
	targetPhase := phaseForAgent(agent)
	if ok, terr := rh.machine.Transition(targetPhase, "vcr_resolved:"+e.VCRID); !ok {
		rh.stream.Emit(ctx, events.NewTransitionBlockedEvent(protocol.PhaseWaitingHuman, targetPhase))
		return terr
	}

	run, err := rh.store.Load()
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("no run state to resume")
	}
	run.Phase = targetPhase
	run.PendingCRP = ""
	if err := rh.store.Save(run); err != nil {
		return fmt.Errorf("persist resume: %w", err)
	}

	lp, ok := rh.launchFor(agent)
	if !ok {
		return fmt.Errorf("no prior launch recorded for %s, cannot resume", agent)
	}
	clarification := vcr.Decision
	if vcr.Rationale != "" {
		clarification += "\n\n" + vcr.Rationale
	}
	promptFile, _, err := renderPrompt(rh.dir, rh.cfg.ProjectRoot, agent, run, clarification)
	if err != nil {
		return fmt.Errorf("render clarified prompt for %s: %w", agent, err)
	}
	rh.recordLaunch(agent, lp.tier, promptFile, lp.workDir)

	if err := rh.lc.RestartWithClarification(ctx, agent, lp.tier, promptFile, lp.workDir, clarification); err != nil {
		return fmt.Errorf("restart %s with clarification: %w", agent, err)
	}
	rh.stream.Emit(ctx, events.NewTransitionEvent(protocol.PhaseWaitingHuman, targetPhase, agent))
	return nil
}

func phaseForAgent(agent protocol.AgentRole) protocol.Phase {
	switch agent {
	case protocol.RoleRefiner:
		return protocol.PhaseRefine
	case protocol.RoleBuilder:
		return protocol.PhaseBuild
	case protocol.RoleVerifier:
		return protocol.PhaseVerify
	case protocol.RoleGatekeeper:
		return protocol.PhaseGate
	default:
		return protocol.PhaseRefine
	}
}

func readCRP(crpDir, id string) (*protocol.CRP, error) {
	data, err := os.ReadFile(filepath.Join(crpDir, id+".json"))
	if err != nil {
		return nil, err
	}
	var crp protocol.CRP
	if err := json.Unmarshal(data, &crp); err != nil {
		return nil, err
	}
	return &crp, nil
}

func readVCR(vcrDir, id string) (*protocol.VCR, error) {
	data, err := os.ReadFile(filepath.Join(vcrDir, id+".json"))
	if err != nil {
		return nil, err
	}
	var vcr protocol.VCR
	if err := json.Unmarshal(data, &vcr); err != nil {
		return nil, err
	}
	return &vcr, nil
}

// completeRun implements §4.14 step 7: on reaching ready_for_merge, write the
// MRP (mrp/summary.md, mrp/evidence.json) and transition to completed.
func (o *Orchestrator) completeRun(ctx context.Context, rh *runHandle) bool {
	run, err := rh.store.Load()
	if err != nil || run == nil {
		rh.log.Error("failed to load run for mrp", "error", err)
		return o.failRun(ctx, rh, "failed to load run state for merge report")
	}

	if err := writeMRP(rh, run); err != nil {
		rh.log.Error("failed to write mrp", "error", err)
		return o.failRun(ctx, rh, "failed to write merge report: "+err.Error())
	}

	if ok, terr := rh.machine.Transition(protocol.PhaseCompleted, "mrp_written"); !ok {
		rh.log.Error("ready_for_merge -> completed rejected", "error", terr)
		return o.failRun(ctx, rh, "could not transition to completed")
	}
	run.Phase = protocol.PhaseCompleted
	if err := rh.store.Save(run); err != nil {
		rh.log.Error("failed to persist completed state", "error", err)
		return o.failRun(ctx, rh, "failed to persist completed state")
	}

	rh.mon.StopAll()
	_ = rh.wch.Close()
	rh.stream.Emit(ctx, events.NewRunCompletedEvent(run.RunID))
	return true
}

func writeMRP(rh *runHandle, run *protocol.Run) error {
	total := rh.tracker.Total()
	summary := fmt.Sprintf("# Merge Report: %s\n\nIterations: %d\nTotal cost: $%.4f\n",
		run.RunID, run.Iteration, total.CostUSD)
	if err := runstate.WriteAtomic(filepath.Join(rh.dir.MRPDir(), "summary.md"), []byte(summary), 0o644); err != nil {
		return fmt.Errorf("write summary.md: %w", err)
	}

	evidence := map[string]any{
		"run_id":    run.RunID,
		"iteration": run.Iteration,
		"usage":     total,
		"agents":    run.Agents,
	}
	data, err := json.MarshalIndent(evidence, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal evidence.json: %w", err)
	}
	if err := runstate.WriteAtomic(filepath.Join(rh.dir.MRPDir(), "evidence.json"), data, 0o644); err != nil {
		return fmt.Errorf("write evidence.json: %w", err)
	}
	return nil
}

// failRun marks the run failed (unless already terminal) and reports true so
// the event loop stops.
func (o *Orchestrator) failRun(ctx context.Context, rh *runHandle, reason string) bool {
	run, err := rh.store.Load()
	if err == nil && run != nil && !run.IsTerminal() {
		run.Phase = protocol.PhaseFailed
		_ = rh.store.Save(run)
	}
	rh.mon.StopAll()
	_ = rh.wch.Close()
	rh.stream.Emit(ctx, events.NewRunFailedEvent(reason, nil))
	return true
}

// Stream returns the event stream for an in-flight run, for a CLI or test to
// observe run progress.
func (o *Orchestrator) Stream(runID string) (*events.Stream, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rh, ok := o.runs[runID]
	if !ok {
		return nil, false
	}
	return rh.stream, true
}

// Wait blocks until runID reaches a terminal phase or ctx is cancelled.
func (o *Orchestrator) Wait(ctx context.Context, runID string) error {
	o.mu.Lock()
	rh, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such run %s", runID)
	}
	select {
	case <-rh.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelRun implements §5's cancellation contract: terminate the multiplexer
// session (killing child processes), stop all monitors/pollers, and mark the
// run failed with reason "cancelled" unless already terminal.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	o.mu.Lock()
	rh, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such run %s", runID)
	}

	run, err := rh.store.Load()
	if err == nil && run != nil && !run.IsTerminal() {
		run.Phase = protocol.PhaseFailed
		_ = rh.store.Save(run)
		rh.stream.Emit(ctx, events.NewRunFailedEvent("cancelled", nil))
	}

	rh.mon.StopAll()
	_ = rh.wch.Close()
	_ = rh.term.DestroySession(ctx)
	rh.cancel()
	return nil
}

// FinalPhase returns runID's current phase as persisted in state.json (the
// start command reads it after Wait returns to pick its exit code).
func (o *Orchestrator) FinalPhase(runID string) (protocol.Phase, error) {
	o.mu.Lock()
	rh, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no such run %s", runID)
	}
	run, err := rh.store.Load()
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("run %s has no state", runID)
	}
	return run.Phase, nil
}

// SessionAlive reports whether runID still has a live tmux session,
// independent of whether this process holds an in-memory handle for it.
// `recover --list` uses this to tell a genuinely interrupted run (state
// non-terminal, session gone) apart from one another process is still
// driving.
func SessionAlive(ctx context.Context, runID string) bool {
	return terminal.New(runID).SessionExists(ctx)
}

// InterruptedRun describes a run this process found abandoned: non-terminal
// state.json, no live tmux session.
type InterruptedRun struct {
	RunID string
	Phase protocol.Phase
}

// ListInterruptedRuns scans runsDir for runs whose state.json reports a
// non-terminal phase and whose tmux session no longer exists, per §6's
// `recover --list` contract.
func ListInterruptedRuns(ctx context.Context, runsDir string) ([]InterruptedRun, error) {
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", runsDir, err)
	}

	var out []InterruptedRun
	for _, e := range entries {
		if !e.IsDir() || runstate.ValidateRunID(e.Name()) != nil {
			continue
		}
		runID := e.Name()
		dir := runstate.NewDir(runsDir, runID)
		run, err := runstate.NewStateStore(dir.StatePath()).Load()
		if err != nil || run == nil || run.IsTerminal() {
			continue
		}
		if SessionAlive(ctx, runID) {
			continue
		}
		out = append(out, InterruptedRun{RunID: runID, Phase: run.Phase})
	}
	return out, nil
}

// ResumeRun re-attaches to a run directory left behind by a crashed
// supervisor process (non-terminal state.json, no live tmux session): it
// recreates the tmux session, renders that agent's prompt again from the
// persisted run state, relaunches the agent that owns the run's current
// phase with it, and resumes the
// normal event-driven run loop. This is StartRun's construction tail
// replayed against an existing run directory instead of a fresh one --
// conceptually the same "relaunch the agent fresh" idea as recovery's
// crashStrategy, applied at the process-restart granularity rather than
// a single in-run crash.
func (o *Orchestrator) ResumeRun(ctx context.Context, runID string) (string, error) {
	if err := runstate.ValidateRunID(runID); err != nil {
		return "", err
	}

	o.mu.Lock()
	_, alreadyActive := o.runs[runID]
	o.mu.Unlock()
	if alreadyActive {
		return "", fmt.Errorf("run %s is already active in this process", runID)
	}

	dir := runstate.NewDir(o.cfg.runsDir(), runID)
	store := runstate.NewStateStore(dir.StatePath())
	run, err := store.Load()
	if err != nil {
		return "", fmt.Errorf("load run state: %w", err)
	}
	if run == nil {
		return "", fmt.Errorf("run %s has no state.json", runID)
	}
	if run.IsTerminal() {
		return "", fmt.Errorf("run %s is already in terminal phase %s", runID, run.Phase)
	}

	agent := phase.AgentForPhase(run.Phase)
	if agent == "" {
		return "", fmt.Errorf("run %s is in phase %s, which has no owning agent to relaunch -- needs a human VCR decision instead", runID, run.Phase)
	}

	stream := events.NewStream(64)
	term := terminal.New(runID)
	if err := term.CreateSession(ctx, o.cfg.ProjectRoot); err != nil {
		return "", fmt.Errorf("create terminal session: %w", err)
	}

	mon := monitor.New(stream)
	lg := o.cfg.logger().With("run_id", runID)
	mcfg := monitor.DefaultConfig(o.cfg.wallTime())
	lc := lifecycle.New(runID, term, mon, store, stream, mcfg, lg, o.cfg.runtimeOptions())
	machine := phase.NewMachine(run.Phase)

	rh := &runHandle{
		dir: dir, store: store, stream: stream, machine: machine,
		term: term, mon: mon, lc: lc, tracker: usage.NewTracker(),
		cfg: o.cfg, log: lg, lastLaunch: make(map[protocol.AgentRole]launchParams),
	}
	render := func(a protocol.AgentRole, r *protocol.Run) (string, string, error) {
		promptFile, workDir, err := renderPrompt(dir, o.cfg.ProjectRoot, a, r, "")
		if err == nil {
			rh.recordLaunch(a, r.SelectedModels[a], promptFile, workDir)
		}
		return promptFile, workDir, err
	}
	rh.coord = coordinator.New(dir, store, machine, lc, stream, render, o.cfg.minorFixLimit())

	registry := recovery.NewRegistry()
	retryMgr := retry.NewManager(retry.DefaultConfig(), stream)
	errCfg := o.cfg.ErrorConfig
	if errCfg.RecoverableTypes == nil && !errCfg.AutoRetryEnabled {
		errCfg = errorsvc.DefaultConfig()
	}
	rh.errsvc = errorsvc.New(runID, errCfg, registry, retryMgr, stream)

	wch, err := watcher.New(dir, watcher.DefaultConfig(), stream)
	if err != nil {
		return "", fmt.Errorf("create watcher: %w", err)
	}
	rh.wch = wch

	runCtx, cancel := context.WithCancel(context.Background())
	rh.cancel = cancel
	rh.done = make(chan struct{})

	if err := wch.Start(runCtx); err != nil {
		cancel()
		return "", fmt.Errorf("start watcher: %w", err)
	}

	str := streamer.New(streamer.DefaultConfig(), stream)
	for _, role := range protocol.Roles {
		role := role
		go str.Watch(runCtx, role, func(ctx context.Context) (string, error) {
			return term.CapturePane(ctx, role, 500)
		})
	}

	promptFile, workDir, err := renderPrompt(dir, o.cfg.ProjectRoot, agent, run, "")
	if err != nil {
		cancel()
		return "", fmt.Errorf("render %s prompt: %w", agent, err)
	}
	rh.recordLaunch(agent, run.SelectedModels[agent], promptFile, workDir)

	if err := lc.Start(runCtx, agent, run.SelectedModels[agent], promptFile, workDir); err != nil {
		cancel()
		return "", fmt.Errorf("restart %s: %w", agent, err)
	}

	o.mu.Lock()
	o.runs[runID] = rh
	o.mu.Unlock()

	go o.runLoop(runCtx, rh)

	return runID, nil
}
