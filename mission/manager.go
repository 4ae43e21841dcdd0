package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bazelment/conductor/orchestrator"
	"github.com/bazelment/conductor/planning"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// Config holds Manager's per-project settings.
type Config struct {
	ProjectRoot string
	MissionsDir string // absolute; defaults to ProjectRoot/.conductor/missions
	// RunsDir must equal the value the Orchestrator passed was constructed
	// with (orchestrator.Config.RunsDir), since Manager reads a task's run
	// directory directly to find its gatekeeper verdict.
	RunsDir  string
	Planning planning.Config
	Logger   *slog.Logger
}

func (c Config) missionsDir() string {
	if c.MissionsDir != "" {
		return c.MissionsDir
	}
	return filepath.Join(c.ProjectRoot, ".conductor", "missions")
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Manager implements MissionManager (§4.16), composed from the planning
// package (for createMission's planning stage) and the Orchestrator (for
// runPhase/runTask's child Runs).
type Manager struct {
	cfg    Config
	orch   *orchestrator.Orchestrator
	runner planning.Runner
}

// New creates a Manager bound to cfg, orch, and runner.
func New(cfg Config, orch *orchestrator.Orchestrator, runner planning.Runner) *Manager {
	return &Manager{cfg: cfg, orch: orch, runner: runner}
}

func (m *Manager) dir(missionID string) *Dir {
	return NewDir(m.cfg.missionsDir(), missionID)
}

func (m *Manager) store(missionID string) *Store {
	return NewStore(m.dir(missionID).MissionPath())
}

// loadMission loads a mission or returns a "not found" error if absent.
func (m *Manager) loadMission(missionID string) (*Store, *protocol.Mission, error) {
	store := m.store(missionID)
	mission, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	if mission == nil {
		return nil, nil, fmt.Errorf("mission %s not found", missionID)
	}
	return store, mission, nil
}

// CreateMission implements §4.16's createMission: allocate, persist input,
// run the PlanningPipeline, and materialise phases/tasks on approval.
func (m *Manager) CreateMission(ctx context.Context, description string) (*protocol.Mission, error) {
	missionID := NewMissionID(time.Now())
	dir := m.dir(missionID)
	if err := dir.Create(); err != nil {
		return nil, fmt.Errorf("create mission directory: %w", err)
	}
	if err := runstate.WriteAtomic(dir.InputPath(), []byte(description), 0o644); err != nil {
		return nil, fmt.Errorf("persist mission input: %w", err)
	}

	mission := &protocol.Mission{
		MissionID: missionID, Description: description,
		Status: protocol.MissionPlanning, CreatedAt: time.Now(),
	}
	store := NewStore(dir.MissionPath())
	if err := store.Save(mission); err != nil {
		return nil, fmt.Errorf("persist initial mission state: %w", err)
	}

	pipeline := planning.New(m.cfg.Planning, m.runner)
	result, err := pipeline.Run(ctx, dir.PlanningDir(), description)
	if err != nil {
		mission.Status = protocol.MissionFailed
		_ = store.Save(mission)
		return mission, fmt.Errorf("planning pipeline: %w", err)
	}

	mission.Planning = protocol.PlanningBlock{Stage: string(result.Outcome), Iteration: result.Iteration}
	for n := 1; n <= result.Iteration; n++ {
		mission.Planning.DraftFiles = append(mission.Planning.DraftFiles, fmt.Sprintf("draft-v%d.json", n))
		mission.Planning.CritiqueFiles = append(mission.Planning.CritiqueFiles, fmt.Sprintf("critique-v%d.json", n))
	}

	if result.Outcome == planning.OutcomeApproved {
		materializeMission(mission, result.Final)
		mission.Status = protocol.MissionReady
	} else {
		mission.Status = protocol.MissionPlanReview
	}

	if err := store.Save(mission); err != nil {
		return mission, fmt.Errorf("persist planning outcome: %w", err)
	}
	return mission, nil
}

// materializeMission assigns draft's phases onto m and initializes every
// phase/task to its pending state.
func materializeMission(m *protocol.Mission, draft *protocol.PlanDraft) {
	m.Phases = draft.Phases
	for pi := range m.Phases {
		phase := &m.Phases[pi]
		phase.Status = protocol.PhaseStatusPending
		for ti := range phase.Tasks {
			task := &phase.Tasks[ti]
			task.PhaseID = phase.PhaseID
			task.Status = protocol.TaskPending
		}
	}
}

// GetMission loads a single mission by id.
func (m *Manager) GetMission(missionID string) (*protocol.Mission, error) {
	_, mission, err := m.loadMission(missionID)
	return mission, err
}

// ListMissions loads every mission under the configured missions directory,
// for the `mission list` CLI command.
func (m *Manager) ListMissions() ([]*protocol.Mission, error) {
	entries, err := os.ReadDir(m.cfg.missionsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan missions dir: %w", err)
	}

	var out []*protocol.Mission
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		mission, err := NewStore(NewDir(m.cfg.missionsDir(), e.Name()).MissionPath()).Load()
		if err != nil || mission == nil {
			continue
		}
		out = append(out, mission)
	}
	return out, nil
}

// ApprovePlan implements §4.16's approvePlan: only valid from needs_human,
// materialises the mission from the last draft produced (the plan a human
// is reviewing), and promotes the mission to ready.
func (m *Manager) ApprovePlan(missionID string) error {
	store, mission, err := m.loadMission(missionID)
	if err != nil {
		return err
	}
	if mission.Planning.Stage != string(planning.OutcomeNeedsHuman) {
		return fmt.Errorf("approvePlan: mission %s planning stage is %q, not needs_human", missionID, mission.Planning.Stage)
	}

	dir := m.dir(missionID)
	draftPath := filepath.Join(dir.PlanningDir(), fmt.Sprintf("draft-v%d.json", mission.Planning.Iteration))
	data, err := os.ReadFile(draftPath)
	if err != nil {
		return fmt.Errorf("read last plan draft: %w", err)
	}
	var draft protocol.PlanDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		return fmt.Errorf("parse last plan draft: %w", err)
	}

	materializeMission(mission, &draft)
	mission.Planning.Stage = string(planning.OutcomeApproved)
	mission.Status = protocol.MissionReady
	return store.Save(mission)
}

// RunPhase implements §4.16's runPhase.
func (m *Manager) RunPhase(ctx context.Context, missionID string, phaseNumber int, continueOnFailure bool) error {
	store, mission, err := m.loadMission(missionID)
	if err != nil {
		return err
	}
	dir := m.dir(missionID)

	phase := findPhase(mission, phaseNumber)
	if phase == nil {
		return fmt.Errorf("mission %s has no phase %d", missionID, phaseNumber)
	}
	if phaseNumber > 1 {
		prev := findPhase(mission, phaseNumber-1)
		if prev == nil || prev.Status != protocol.PhaseStatusCompleted {
			return fmt.Errorf("runPhase: phase %d requires phase %d to be completed first", phaseNumber, phaseNumber-1)
		}
	}

	var previousContext string
	if data, rerr := os.ReadFile(dir.PhaseSummaryPath(phaseNumber - 1)); rerr == nil {
		previousContext = string(data)
	}

	tasksByID := allTasksByID(mission)
	phase.Status = protocol.PhaseStatusInProgress
	_ = store.Save(mission)

	halted := false
	for ti := range phase.Tasks {
		task := &phase.Tasks[ti]
		if task.Status == protocol.TaskPassed || task.Status == protocol.TaskSkipped {
			continue
		}
		if !task.Eligible(tasksByID) {
			task.Status = protocol.TaskBlocked
			writeKanban(dir, mission, m.cfg.logger())
			continue
		}

		if err := m.runOneTask(ctx, dir, task, previousContext); err != nil {
			m.cfg.logger().Error("run task failed", "mission_id", missionID, "task_id", task.TaskID, "error", err)
		}
		_ = store.Save(mission)
		writeKanban(dir, mission, m.cfg.logger())

		if task.Status == protocol.TaskFailed && !continueOnFailure {
			halted = true
			break
		}
	}

	if halted {
		phase.Status = protocol.PhaseStatusFailed
		return store.Save(mission)
	}

	phase.Status = protocol.PhaseStatusCompleted
	phase.Summary = composePhaseContext(phase)
	if err := runstate.WriteAtomic(dir.PhaseSummaryPath(phaseNumber), []byte(phase.Summary), 0o644); err != nil {
		m.cfg.logger().Error("write phase summary failed", "mission_id", missionID, "phase", phaseNumber, "error", err)
	}

	if allPhasesCompleted(mission) {
		mission.Status = protocol.MissionCompleted
	}
	return store.Save(mission)
}

// RunTask implements §4.16's runTask: the single-task variant of runPhase,
// with the same dependency-eligibility check.
func (m *Manager) RunTask(ctx context.Context, missionID, taskID string) error {
	store, mission, err := m.loadMission(missionID)
	if err != nil {
		return err
	}
	dir := m.dir(missionID)

	task := findTask(mission, taskID)
	if task == nil {
		return fmt.Errorf("mission %s has no task %s", missionID, taskID)
	}
	tasksByID := allTasksByID(mission)
	if !task.Eligible(tasksByID) {
		return fmt.Errorf("runTask: %s has unmet dependencies", taskID)
	}

	var previousContext string
	phase := findPhase(mission, phaseNumberOf(mission, task.PhaseID))
	if phase != nil {
		if data, rerr := os.ReadFile(dir.PhaseSummaryPath(phase.Number - 1)); rerr == nil {
			previousContext = string(data)
		}
	}

	if err := m.runOneTask(ctx, dir, task, previousContext); err != nil {
		m.cfg.logger().Error("run task failed", "mission_id", missionID, "task_id", taskID, "error", err)
	}
	writeKanban(dir, mission, m.cfg.logger())
	return store.Save(mission)
}

// runOneTask starts a child Run for task's briefing (with previousContext and
// any carry-forward prepended), waits for it to reach a terminal phase, and
// maps the gatekeeper verdict to a task status: PASS -> passed,
// NEEDS_HUMAN -> needs_human, else -> failed. Mirrors medivac/engine/
// agent.go's recordFixAttempt three-way outcome classification
// (pr_created/analysis_only/failed), generalized to this task-status set.
func (m *Manager) runOneTask(ctx context.Context, dir *Dir, task *protocol.Task, previousContext string) error {
	task.Status = protocol.TaskInProgress
	task.Error = ""

	briefing, err := os.ReadFile(task.BriefingPath)
	if err != nil {
		task.Status = protocol.TaskFailed
		task.Error = fmt.Sprintf("read briefing: %v", err)
		return err
	}

	var sb strings.Builder
	if previousContext != "" {
		sb.WriteString("## Previous Context\n\n")
		sb.WriteString(previousContext)
		sb.WriteString("\n\n")
	}
	sb.Write(briefing)
	if task.CarryForward != "" {
		sb.WriteString("\n\n## Carry-forward from prior attempt\n\n")
		sb.WriteString(task.CarryForward)
	}

	runID, err := m.orch.StartRun(ctx, sb.String())
	if err != nil {
		task.Status = protocol.TaskFailed
		task.Error = fmt.Sprintf("start run: %v", err)
		return err
	}
	task.RunID = runID

	if err := m.orch.Wait(ctx, runID); err != nil {
		task.Status = protocol.TaskFailed
		task.Error = fmt.Sprintf("wait for run: %v", err)
		return err
	}

	report, verr := readVerdict(m.cfg.RunsDir, runID)
	switch {
	case verr != nil:
		task.Status = protocol.TaskFailed
		task.Error = fmt.Sprintf("no gatekeeper verdict: %v", verr)
	case report.Verdict == protocol.VerdictPass:
		task.Status = protocol.TaskPassed
		task.CarryForward = ""
	case report.Verdict == protocol.VerdictNeedsHuman:
		task.Status = protocol.TaskNeedsHuman
		task.CarryForward = report.CarryForward
	default:
		task.Status = protocol.TaskFailed
		task.Error = report.Reason
		task.CarryForward = report.CarryForward
	}
	return nil
}

// readVerdict reads a completed run's gatekeeper/verdict.json directly off
// disk, the same path coordinator.Coordinator.readVerdict uses, since
// Manager needs the verdict after the Orchestrator has already driven the
// run to completion and torn down its in-memory handle.
func readVerdict(runsDir, runID string) (protocol.VerdictReport, error) {
	rdir := runstate.NewDir(runsDir, runID)
	path := filepath.Join(rdir.AgentDir(protocol.RoleGatekeeper), "verdict.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.VerdictReport{}, fmt.Errorf("read verdict.json: %w", err)
	}
	var report protocol.VerdictReport
	if err := json.Unmarshal(data, &report); err != nil {
		return protocol.VerdictReport{}, fmt.Errorf("parse verdict.json: %w", err)
	}
	return report, nil
}

// RetryTask resets a failed/needs_human task back to pending so the next
// runPhase/runTask call picks it up again. State transition only, per §4.16.
func (m *Manager) RetryTask(missionID, taskID string) error {
	store, mission, err := m.loadMission(missionID)
	if err != nil {
		return err
	}
	task := findTask(mission, taskID)
	if task == nil {
		return fmt.Errorf("mission %s has no task %s", missionID, taskID)
	}
	task.Status = protocol.TaskPending
	task.Error = ""
	task.RunID = ""
	return store.Save(mission)
}

// SkipTask marks a task skipped. State transition only, per §4.16.
func (m *Manager) SkipTask(missionID, taskID string) error {
	store, mission, err := m.loadMission(missionID)
	if err != nil {
		return err
	}
	task := findTask(mission, taskID)
	if task == nil {
		return fmt.Errorf("mission %s has no task %s", missionID, taskID)
	}
	task.Status = protocol.TaskSkipped
	return store.Save(mission)
}

// DeleteMission marks a mission cancelled. State transition only, per
// §4.16 -- the mission directory and its runs are left on disk for audit.
func (m *Manager) DeleteMission(missionID string) error {
	store, mission, err := m.loadMission(missionID)
	if err != nil {
		return err
	}
	mission.Status = protocol.MissionCancelled
	return store.Save(mission)
}

func findPhase(m *protocol.Mission, number int) *protocol.Phase2 {
	for i := range m.Phases {
		if m.Phases[i].Number == number {
			return &m.Phases[i]
		}
	}
	return nil
}

func findTask(m *protocol.Mission, taskID string) *protocol.Task {
	for pi := range m.Phases {
		for ti := range m.Phases[pi].Tasks {
			if m.Phases[pi].Tasks[ti].TaskID == taskID {
				return &m.Phases[pi].Tasks[ti]
			}
		}
	}
	return nil
}

func phaseNumberOf(m *protocol.Mission, phaseID string) int {
	for i := range m.Phases {
		if m.Phases[i].PhaseID == phaseID {
			return m.Phases[i].Number
		}
	}
	return 0
}

// allTasksByID indexes every task across every phase, since a task's
// dependencies may reference tasks from an earlier phase.
func allTasksByID(m *protocol.Mission) map[string]*protocol.Task {
	out := make(map[string]*protocol.Task)
	for pi := range m.Phases {
		for ti := range m.Phases[pi].Tasks {
			t := &m.Phases[pi].Tasks[ti]
			out[t.TaskID] = t
		}
	}
	return out
}

func allPhasesCompleted(m *protocol.Mission) bool {
	for _, phase := range m.Phases {
		if phase.Status != protocol.PhaseStatusCompleted {
			return false
		}
	}
	return true
}

// composePhaseContext builds the Phase Context carry-forward summary written
// to context/phase-{n}-summary.md: every passed task's title and any
// carry-forward note it produced, per §4.16.
func composePhaseContext(phase *protocol.Phase2) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Phase %d: %s\n\n", phase.Number, phase.Title)
	for _, task := range phase.Tasks {
		if task.Status != protocol.TaskPassed {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n", task.Title)
		if task.CarryForward != "" {
			sb.WriteString(task.CarryForward)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
