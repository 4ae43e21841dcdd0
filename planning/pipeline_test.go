package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/conductor/protocol"
)

// scriptedRunner writes a pre-baked draft/critique pair for each iteration
// instead of invoking a real subprocess, so Pipeline.Run can be tested
// without an agent binary. Iterations are tracked per-kind since Pipeline
// always calls KindPlanner then KindCritic once per loop pass, in order.
type scriptedRunner struct {
	drafts    map[int]protocol.PlanDraft
	critiques map[int]protocol.Critique
	runs      []AgentKind

	plannerCalls int
	criticCalls  int
}

func (r *scriptedRunner) Run(ctx context.Context, kind AgentKind, tier protocol.ModelTier, promptFile, workDir string) error {
	r.runs = append(r.runs, kind)

	var (
		path string
		data []byte
	)
	switch kind {
	case KindPlanner:
		r.plannerCalls++
		d := r.drafts[r.plannerCalls]
		path = filepath.Join(workDir, fmt.Sprintf("draft-v%d.json", r.plannerCalls))
		data, _ = json.Marshal(d)
	case KindCritic:
		r.criticCalls++
		c := r.critiques[r.criticCalls]
		path = filepath.Join(workDir, fmt.Sprintf("critique-v%d.json", r.criticCalls))
		data, _ = json.Marshal(c)
	}
	return os.WriteFile(path, data, 0o644)
}

func TestPipeline_ApprovesOnFirstIterationWhenCriticApproves(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{
		drafts: map[int]protocol.PlanDraft{
			1: {Summary: "do the thing", Phases: []protocol.Phase2{{PhaseID: "p1", Number: 1, Title: "Phase 1"}}},
		},
		critiques: map[int]protocol.Critique{
			1: {Verdict: protocol.CritiqueApproved},
		},
	}

	p := New(DefaultConfig(), runner)
	result, err := p.Run(context.Background(), dir, "build the thing")
	require.NoError(t, err)

	assert.Equal(t, OutcomeApproved, result.Outcome)
	assert.Equal(t, 1, result.Iteration)
	require.NotNil(t, result.Final)
	assert.Equal(t, "do the thing", result.Final.Summary)

	_, err = os.Stat(filepath.Join(dir, "final.json"))
	assert.NoError(t, err)
}

func TestPipeline_EscalatesWhenCriticSaysNeedsHuman(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{
		drafts: map[int]protocol.PlanDraft{
			1: {Summary: "ambiguous mission"},
		},
		critiques: map[int]protocol.Critique{
			1: {Verdict: protocol.CritiqueNeedsHuman, Stats: protocol.CritiqueStats{Critical: 1}},
		},
	}

	p := New(DefaultConfig(), runner)
	result, err := p.Run(context.Background(), dir, "do something vague")
	require.NoError(t, err)

	assert.Equal(t, OutcomeNeedsHuman, result.Outcome)
	assert.Equal(t, "critic escalated to needs_human", result.Reason)
}

func TestPipeline_EscalatesOnConvergenceWithoutApproval(t *testing.T) {
	dir := t.TempDir()
	sameItems := []protocol.CritiqueItem{
		{ID: "a", Severity: protocol.SeverityMajor, Category: "scope", Target: protocol.CritiqueTarget{Type: "phase", ID: "p1"}},
	}
	runner := &scriptedRunner{
		drafts: map[int]protocol.PlanDraft{
			1: {Summary: "v1"},
			2: {Summary: "v2"},
		},
		critiques: map[int]protocol.Critique{
			1: {Verdict: protocol.CritiqueNeedsRevision, Items: sameItems, Stats: protocol.CritiqueStats{Major: 1}},
			2: {Verdict: protocol.CritiqueNeedsRevision, Items: sameItems, Stats: protocol.CritiqueStats{Major: 1}},
		},
	}

	p := New(Config{MaxIterations: 3}, runner)
	result, err := p.Run(context.Background(), dir, "repeatedly flawed mission")
	require.NoError(t, err)

	assert.Equal(t, OutcomeNeedsHuman, result.Outcome)
	assert.Equal(t, 2, result.Iteration)
	assert.Contains(t, result.Reason, "converging without resolution")
}

func TestPipeline_ExhaustsIterationsWithoutConvergenceOrApproval(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{
		drafts: map[int]protocol.PlanDraft{
			1: {Summary: "v1"},
			2: {Summary: "v2"},
		},
		critiques: map[int]protocol.Critique{
			1: {Verdict: protocol.CritiqueNeedsRevision, Items: []protocol.CritiqueItem{
				{ID: "a", Severity: protocol.SeverityMajor, Category: "x", Target: protocol.CritiqueTarget{Type: "phase", ID: "p1"}},
			}, Stats: protocol.CritiqueStats{Major: 1}},
			2: {Verdict: protocol.CritiqueNeedsRevision, Items: []protocol.CritiqueItem{
				{ID: "b", Severity: protocol.SeverityMajor, Category: "y", Target: protocol.CritiqueTarget{Type: "phase", ID: "p2"}},
			}, Stats: protocol.CritiqueStats{Major: 1}},
		},
	}

	p := New(Config{MaxIterations: 2}, runner)
	result, err := p.Run(context.Background(), dir, "mission with shifting feedback")
	require.NoError(t, err)

	assert.Equal(t, OutcomeNeedsHuman, result.Outcome)
	assert.Equal(t, "max iterations without convergence", result.Reason)
	assert.Equal(t, []AgentKind{KindPlanner, KindCritic, KindPlanner, KindCritic}, runner.runs)
}

func TestOverlapRatio(t *testing.T) {
	prev := []protocol.CritiqueItem{
		{Category: "a", Target: protocol.CritiqueTarget{Type: "phase", ID: "1"}},
		{Category: "b", Target: protocol.CritiqueTarget{Type: "phase", ID: "2"}},
	}
	curr := []protocol.CritiqueItem{
		{Category: "a", Target: protocol.CritiqueTarget{Type: "phase", ID: "1"}},
	}
	assert.InDelta(t, 0.5, overlapRatio(prev, curr), 0.0001)
	assert.Equal(t, float64(0), overlapRatio(nil, curr))
}
