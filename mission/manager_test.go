package mission

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/planning"
	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// scriptedRunner writes a fixed draft and critique for every planner/critic
// call, so CreateMission can drive a real planning.Pipeline without a real
// agent subprocess.
type scriptedRunner struct {
	draft    protocol.PlanDraft
	critique protocol.Critique
}

func (r *scriptedRunner) Run(ctx context.Context, kind planning.AgentKind, tier protocol.ModelTier, promptFile, workDir string) error {
	switch kind {
	case planning.KindPlanner:
		n := countFiles(workDir, "draft-v") + 1
		data, err := json.Marshal(r.draft)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(workDir, draftName(n)), data, 0o644)
	case planning.KindCritic:
		n := countFiles(workDir, "critique-v") + 1
		data, err := json.Marshal(r.critique)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(workDir, critiqueName(n)), data, 0o644)
	}
	return nil
}

func countFiles(dir, prefix string) int {
	entries, _ := os.ReadDir(dir)
	n := 0
	for _, e := range entries {
		if len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func draftName(n int) string    { return "draft-v" + strconv.Itoa(n) + ".json" }
func critiqueName(n int) string { return "critique-v" + strconv.Itoa(n) + ".json" }

func sampleDraft() protocol.PlanDraft {
	return protocol.PlanDraft{
		Summary: "two phase rollout",
		Phases: []protocol.Phase2{
			{
				PhaseID: "phase-1", Number: 1, Title: "Setup",
				Tasks: []protocol.Task{
					{TaskID: "task-1", Title: "bootstrap", BriefingPath: "phases/phase-1/task-1.md"},
				},
			},
			{
				PhaseID: "phase-2", Number: 2, Title: "Build",
				Tasks: []protocol.Task{
					{TaskID: "task-2", Title: "implement", BriefingPath: "phases/phase-2/task-2.md", DependsOn: []string{"task-1"}},
				},
			},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{MissionsDir: filepath.Join(root, "missions")}
	runner := &scriptedRunner{
		draft:    sampleDraft(),
		critique: protocol.Critique{Verdict: protocol.CritiqueApproved},
	}
	return New(cfg, nil, runner), root
}

func TestCreateMission_ApprovedDraftMaterializesPhases(t *testing.T) {
	m, _ := newTestManager(t)

	mission, err := m.CreateMission(context.Background(), "build the thing")
	require.NoError(t, err)

	assert.Equal(t, protocol.MissionReady, mission.Status)
	assert.Equal(t, string(planning.OutcomeApproved), mission.Planning.Stage)
	require.Len(t, mission.Phases, 2)
	assert.Equal(t, protocol.PhaseStatusPending, mission.Phases[0].Status)
	assert.Equal(t, protocol.TaskPending, mission.Phases[0].Tasks[0].Status)
	assert.Equal(t, "phase-1", mission.Phases[0].Tasks[0].PhaseID)

	data, err := os.ReadFile(m.dir(mission.MissionID).MissionPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), mission.MissionID)
}

func TestCreateMission_NeedsHumanLeavesMissionInPlanReview(t *testing.T) {
	root := t.TempDir()
	cfg := Config{MissionsDir: filepath.Join(root, "missions")}
	runner := &scriptedRunner{
		draft:    sampleDraft(),
		critique: protocol.Critique{Verdict: protocol.CritiqueNeedsHuman, Stats: protocol.CritiqueStats{Critical: 1}},
	}
	m := New(cfg, nil, runner)

	mission, err := m.CreateMission(context.Background(), "a vague ask")
	require.NoError(t, err)

	assert.Equal(t, protocol.MissionPlanReview, mission.Status)
	assert.Equal(t, string(planning.OutcomeNeedsHuman), mission.Planning.Stage)
	assert.Empty(t, mission.Phases)
}

func TestApprovePlan_MaterializesFromLastDraftAndPromotesToReady(t *testing.T) {
	root := t.TempDir()
	cfg := Config{MissionsDir: filepath.Join(root, "missions")}
	runner := &scriptedRunner{
		draft:    sampleDraft(),
		critique: protocol.Critique{Verdict: protocol.CritiqueNeedsHuman, Stats: protocol.CritiqueStats{Critical: 1}},
	}
	m := New(cfg, nil, runner)

	mission, err := m.CreateMission(context.Background(), "a vague ask")
	require.NoError(t, err)
	require.Equal(t, protocol.MissionPlanReview, mission.Status)

	require.NoError(t, m.ApprovePlan(mission.MissionID))

	_, reloaded, err := m.loadMission(mission.MissionID)
	require.NoError(t, err)
	assert.Equal(t, protocol.MissionReady, reloaded.Status)
	assert.Equal(t, string(planning.OutcomeApproved), reloaded.Planning.Stage)
	require.Len(t, reloaded.Phases, 2)
}

func TestApprovePlan_RejectsMissionNotAwaitingHuman(t *testing.T) {
	m, _ := newTestManager(t)
	mission, err := m.CreateMission(context.Background(), "build the thing")
	require.NoError(t, err)

	err = m.ApprovePlan(mission.MissionID)
	assert.Error(t, err)
}

func TestRetrySkipDeleteTask_StateTransitionsOnly(t *testing.T) {
	m, _ := newTestManager(t)
	mission, err := m.CreateMission(context.Background(), "build the thing")
	require.NoError(t, err)

	task := findTask(mission, "task-1")
	task.Status = protocol.TaskFailed
	task.Error = "boom"
	require.NoError(t, m.store(mission.MissionID).Save(mission))

	require.NoError(t, m.RetryTask(mission.MissionID, "task-1"))
	_, reloaded, err := m.loadMission(mission.MissionID)
	require.NoError(t, err)
	retried := findTask(reloaded, "task-1")
	assert.Equal(t, protocol.TaskPending, retried.Status)
	assert.Empty(t, retried.Error)

	require.NoError(t, m.SkipTask(mission.MissionID, "task-2"))
	_, reloaded, err = m.loadMission(mission.MissionID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskSkipped, findTask(reloaded, "task-2").Status)

	require.NoError(t, m.DeleteMission(mission.MissionID))
	_, reloaded, err = m.loadMission(mission.MissionID)
	require.NoError(t, err)
	assert.Equal(t, protocol.MissionCancelled, reloaded.Status)
}

func TestReadVerdict(t *testing.T) {
	runsDir := t.TempDir()
	runID := "run-20260730120000"
	rdir := runstate.NewDir(runsDir, runID)
	require.NoError(t, rdir.Create())

	report := protocol.VerdictReport{Verdict: protocol.VerdictPass, Reason: "looks good"}
	data, err := json.Marshal(report)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rdir.AgentDir(protocol.RoleGatekeeper), "verdict.json"), data, 0o644))

	got, err := readVerdict(runsDir, runID)
	require.NoError(t, err)
	assert.Equal(t, protocol.VerdictPass, got.Verdict)
	assert.Equal(t, "looks good", got.Reason)
}

func TestReadVerdict_MissingFileErrors(t *testing.T) {
	runsDir := t.TempDir()
	_, err := readVerdict(runsDir, "run-missing")
	assert.Error(t, err)
}

func TestComposePhaseContext_IncludesOnlyPassedTasks(t *testing.T) {
	phase := &protocol.Phase2{
		Number: 1, Title: "Setup",
		Tasks: []protocol.Task{
			{Title: "bootstrap", Status: protocol.TaskPassed, CarryForward: "db migrated to v2"},
			{Title: "skipped one", Status: protocol.TaskSkipped},
		},
	}

	summary := composePhaseContext(phase)
	assert.Contains(t, summary, "bootstrap")
	assert.Contains(t, summary, "db migrated to v2")
	assert.NotContains(t, summary, "skipped one")
}

func TestAllPhasesCompleted(t *testing.T) {
	m := &protocol.Mission{Phases: []protocol.Phase2{
		{Status: protocol.PhaseStatusCompleted},
		{Status: protocol.PhaseStatusCompleted},
	}}
	assert.True(t, allPhasesCompleted(m))

	m.Phases[1].Status = protocol.PhaseStatusInProgress
	assert.False(t, allPhasesCompleted(m))
}
