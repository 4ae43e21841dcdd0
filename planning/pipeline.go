package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// Outcome is PlanningPipeline's terminal result, per §4.15.
type Outcome string

const (
	OutcomeApproved   Outcome = "approved"
	OutcomeNeedsHuman Outcome = "needs_human"
)

// Config controls PlanningPipeline iteration limits and thresholds. Zero
// values resolve to DefaultConfig's defaults via Config.effective.
type Config struct {
	// MaxIterations bounds the Planner/Critic loop. Spec default: 2.
	MaxIterations int
	// ConvergenceThreshold is the item-overlap ratio above which the loop
	// escalates rather than keeps revising. Spec default: 0.7.
	ConvergenceThreshold float64
	// MaxMinor is the highest minor-item count the auto-approve rule still
	// accepts (critical<=0 && major<=0 implied). Spec default: 3.
	MaxMinor int
	// PlannerTier/CriticTier select the model tier each agent runs at.
	PlannerTier protocol.ModelTier
	CriticTier  protocol.ModelTier
}

// DefaultConfig returns §4.15's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        2,
		ConvergenceThreshold: 0.7,
		MaxMinor:             3,
		PlannerTier:          protocol.TierHigh,
		CriticTier:           protocol.TierHigh,
	}
}

func (c Config) effective() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = d.ConvergenceThreshold
	}
	if c.MaxMinor <= 0 {
		c.MaxMinor = d.MaxMinor
	}
	if c.PlannerTier == "" {
		c.PlannerTier = d.PlannerTier
	}
	if c.CriticTier == "" {
		c.CriticTier = d.CriticTier
	}
	return c
}

// Result is what PlanningPipeline.Run returns.
type Result struct {
	Outcome      Outcome
	Reason       string
	Iteration    int
	Final        *protocol.PlanDraft
	LastDraft    *protocol.PlanDraft
	LastCritique *protocol.Critique
}

// Pipeline implements §4.15's Planner/Critic loop.
type Pipeline struct {
	cfg    Config
	runner Runner
}

// New creates a Pipeline bound to cfg and runner.
func New(cfg Config, runner Runner) *Pipeline {
	return &Pipeline{cfg: cfg.effective(), runner: runner}
}

// Run executes the loop against dir (a mission's planning/ subdirectory,
// already expected to exist) and returns once the plan is approved or
// escalated to a human.
func (p *Pipeline) Run(ctx context.Context, dir, description string) (*Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create planning dir: %w", err)
	}
	if err := runstate.WriteAtomic(filepath.Join(dir, "input.md"), []byte(description), 0o644); err != nil {
		return nil, fmt.Errorf("persist planning input: %w", err)
	}

	var (
		prevDraft    *protocol.PlanDraft
		prevCritique *protocol.Critique
		critiqueHist []*protocol.Critique
	)

	for n := 1; n <= p.cfg.MaxIterations; n++ {
		var revision []protocol.CritiqueItem
		if prevCritique != nil {
			revision = prevCritique.RevisionItems()
		}

		draft, err := p.runPlanner(ctx, dir, description, n, revision)
		if err != nil {
			return nil, fmt.Errorf("planner iteration %d: %w", n, err)
		}

		critique, err := p.runCritic(ctx, dir, n, draft, len(critiqueHist))
		if err != nil {
			return nil, fmt.Errorf("critic iteration %d: %w", n, err)
		}

		if prevCritique != nil {
			ratio := overlapRatio(prevCritique.Items, critique.Items)
			if ratio > p.cfg.ConvergenceThreshold {
				return &Result{
					Outcome: OutcomeNeedsHuman, Iteration: n,
					Reason:       fmt.Sprintf("critique items converging without resolution (overlap %.2f > %.2f)", ratio, p.cfg.ConvergenceThreshold),
					LastDraft:    draft, LastCritique: critique,
				}, nil
			}
		}

		if critique.AutoApprovable(p.cfg.MaxMinor) {
			if err := p.writeFinal(dir, draft); err != nil {
				return nil, fmt.Errorf("persist final plan: %w", err)
			}
			return &Result{
				Outcome: OutcomeApproved, Iteration: n, Final: draft,
				LastDraft: draft, LastCritique: critique,
			}, nil
		}

		if critique.Verdict == protocol.CritiqueNeedsHuman {
			return &Result{
				Outcome: OutcomeNeedsHuman, Iteration: n,
				Reason:       "critic escalated to needs_human",
				LastDraft:    draft, LastCritique: critique,
			}, nil
		}

		prevDraft, prevCritique = draft, critique
		critiqueHist = append(critiqueHist, critique)
	}

	return &Result{
		Outcome: OutcomeNeedsHuman, Iteration: p.cfg.MaxIterations,
		Reason:       "max iterations without convergence",
		LastDraft:    prevDraft, LastCritique: prevCritique,
	}, nil
}

func (p *Pipeline) runPlanner(ctx context.Context, dir, description string, n int, revision []protocol.CritiqueItem) (*protocol.PlanDraft, error) {
	promptFile, err := renderPlannerPrompt(dir, description, n, revision)
	if err != nil {
		return nil, err
	}
	if err := p.runner.Run(ctx, KindPlanner, p.cfg.PlannerTier, promptFile, dir); err != nil {
		return nil, fmt.Errorf("run planner: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("draft-v%d.json", n))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var draft protocol.PlanDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	draft.Version = n
	return &draft, nil
}

func (p *Pipeline) runCritic(ctx context.Context, dir string, n int, draft *protocol.PlanDraft, historyLen int) (*protocol.Critique, error) {
	promptFile, err := renderCriticPrompt(dir, n, draft, historyLen)
	if err != nil {
		return nil, err
	}
	if err := p.runner.Run(ctx, KindCritic, p.cfg.CriticTier, promptFile, dir); err != nil {
		return nil, fmt.Errorf("run critic: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("critique-v%d.json", n))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var critique protocol.Critique
	if err := json.Unmarshal(data, &critique); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	critique.Version = n
	return &critique, nil
}

func (p *Pipeline) writeFinal(dir string, draft *protocol.PlanDraft) error {
	data, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal final plan: %w", err)
	}
	return runstate.WriteAtomic(filepath.Join(dir, "final.json"), data, 0o644)
}

// overlapRatio computes |prev ∩ curr| / |prev| over CritiqueItem.Key(), the
// convergence-check formula from §4.15.
func overlapRatio(prev, curr []protocol.CritiqueItem) float64 {
	if len(prev) == 0 {
		return 0
	}
	prevKeys := make(map[string]bool, len(prev))
	for _, it := range prev {
		prevKeys[it.Key()] = true
	}
	overlap := 0
	for _, it := range curr {
		if prevKeys[it.Key()] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(prev))
}
