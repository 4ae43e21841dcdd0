// Package modelselect implements ModelSelector (§4.9): a deterministic
// briefing -> {refiner,builder,verifier,gatekeeper} -> tier map. The tier
// catalog/strategy-table shape is adapted from multiagent/agent/
// model_registry.go's ModelRegistry (provider-filtered model catalog,
// generalized here to a fixed low/mid/high tier catalog per agent role); the
// scoring formulas are built fresh from the spec's own arithmetic since no
// teacher file computes a briefing-complexity score.
package modelselect

import (
	"strings"

	"github.com/bazelment/conductor/protocol"
)

// Strategy picks how complexity levels map to tiers.
type Strategy string

const (
	StrategyCostOptimized    Strategy = "cost_optimized"
	StrategyBalanced         Strategy = "balanced"
	StrategyQualityFirst     Strategy = "quality_first"
	StrategyPerformanceFirst Strategy = "performance_first"
)

// Level is the overall briefing complexity bucket.
type Level string

const (
	LevelSimple  Level = "simple"
	LevelMedium  Level = "medium"
	LevelComplex Level = "complex"
)

// Scores holds the four 0-100 component scores plus the weighted total.
type Scores struct {
	Length          float64 `json:"length"`
	TechnicalDepth  float64 `json:"technical_depth"`
	ScopeEstimate   float64 `json:"scope_estimate"`
	RiskLevel       float64 `json:"risk_level"`
	Weighted        float64 `json:"weighted"`
	Level           Level   `json:"level"`
}

// Analysis is returned alongside the selected models for observability.
type Analysis struct {
	Scores Scores `json:"scores"`
}

// Result is ModelSelector's full output: {models, analysis, selection_method}.
type Result struct {
	Models           map[protocol.AgentRole]protocol.ModelTier `json:"models"`
	Analysis         Analysis                                  `json:"analysis"`
	SelectionMethod  string                                     `json:"selection_method"` // "static" | "dynamic"
	EstimatedSavings float64                                    `json:"estimated_savings_pct"`
}

// staticDefault is returned when dynamic selection is disabled.
var staticDefault = map[protocol.AgentRole]protocol.ModelTier{
	protocol.RoleRefiner:    protocol.TierMid,
	protocol.RoleBuilder:    protocol.TierHigh,
	protocol.RoleVerifier:   protocol.TierMid,
	protocol.RoleGatekeeper: protocol.TierMid,
}

// tierPrice is a relative per-tier price table for the estimated-savings
// figure, with the same 1:3:10 ratios as usage.TierPrice (which holds the USD
// values UsageTracker derives cost from).
var tierPrice = map[protocol.ModelTier]float64{
	protocol.TierLow:  1.0,
	protocol.TierMid:  3.0,
	protocol.TierHigh: 10.0,
}

// levelTierTable maps (strategy, level) -> per-agent tier assignment,
// deterministically, per §4.9.
var levelTierTable = map[Strategy]map[Level]map[protocol.AgentRole]protocol.ModelTier{
	StrategyCostOptimized: {
		LevelSimple:  uniformTier(protocol.TierLow),
		LevelMedium:  uniformTier(protocol.TierLow),
		LevelComplex: uniformTier(protocol.TierMid),
	},
	StrategyBalanced: {
		LevelSimple:  uniformTier(protocol.TierLow),
		LevelMedium:  uniformTier(protocol.TierMid),
		LevelComplex: {
			protocol.RoleRefiner: protocol.TierMid, protocol.RoleBuilder: protocol.TierHigh,
			protocol.RoleVerifier: protocol.TierMid, protocol.RoleGatekeeper: protocol.TierMid,
		},
	},
	StrategyQualityFirst: {
		LevelSimple:  uniformTier(protocol.TierMid),
		LevelMedium:  uniformTier(protocol.TierHigh),
		LevelComplex: uniformTier(protocol.TierHigh),
	},
	StrategyPerformanceFirst: {
		LevelSimple: {
			protocol.RoleRefiner: protocol.TierLow, protocol.RoleBuilder: protocol.TierHigh,
			protocol.RoleVerifier: protocol.TierLow, protocol.RoleGatekeeper: protocol.TierMid,
		},
		LevelMedium: {
			protocol.RoleRefiner: protocol.TierMid, protocol.RoleBuilder: protocol.TierHigh,
			protocol.RoleVerifier: protocol.TierMid, protocol.RoleGatekeeper: protocol.TierHigh,
		},
		LevelComplex: uniformTier(protocol.TierHigh),
	},
}

func uniformTier(t protocol.ModelTier) map[protocol.AgentRole]protocol.ModelTier {
	return map[protocol.AgentRole]protocol.ModelTier{
		protocol.RoleRefiner: t, protocol.RoleBuilder: t,
		protocol.RoleVerifier: t, protocol.RoleGatekeeper: t,
	}
}

// Keyword lists are bilingual (English + a secondary language) per §4.9.
var technicalKeywords = []string{
	"architecture", "microservice", "microservices", "distributed", "concurrency",
	"algorithm", "protocol", "schema", "migration", "kubernetes", "grpc",
	"arquitectura", "algoritmo", "protocolo", "esquema",
}

var scopeKeywords = []string{
	"entire", "whole", "all", "every", "system-wide", "end-to-end", "full",
	"multiple", "across", "refactor",
	"completo", "todo", "todos", "sistema",
}

var riskKeywords = []string{
	"production", "payment", "auth", "security", "critical", "breaking",
	"irreversible", "financial", "pii", "compliance",
	"producción", "seguridad", "crítico", "financiero",
}

func keywordRatioScore(text string, keywords []string) float64 {
	lower := strings.ToLower(text)
	seen := make(map[string]bool, len(keywords))
	matched := 0
	for _, kw := range keywords {
		if seen[kw] {
			continue
		}
		if strings.Contains(lower, kw) {
			matched++
		}
		seen[kw] = true
	}
	if len(keywords) == 0 {
		return 0
	}
	ratio := float64(matched) / float64(len(keywords))
	score := ratio * 100
	if score > 100 {
		score = 100
	}
	return score
}

func lengthScore(briefing string) float64 {
	n := len(briefing)
	var score float64
	switch {
	case n < 500:
		score = float64(n) / 500 * 50
	case n <= 2000:
		score = 50 + float64(n-500)/1500*30
	default:
		extra := float64(n-2000) / 3000 * 20
		if extra > 20 {
			extra = 20
		}
		score = 80 + extra
	}
	if strings.Count(briefing, "\n") > 20 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func levelForWeighted(w float64) Level {
	switch {
	case w < 30:
		return LevelSimple
	case w < 60:
		return LevelMedium
	default:
		return LevelComplex
	}
}

func computeScores(briefing string) Scores {
	s := Scores{
		Length:         lengthScore(briefing),
		TechnicalDepth: keywordRatioScore(briefing, technicalKeywords),
		ScopeEstimate:  keywordRatioScore(briefing, scopeKeywords),
		RiskLevel:      keywordRatioScore(briefing, riskKeywords),
	}
	s.Weighted = 0.1*s.Length + 0.4*s.TechnicalDepth + 0.2*s.ScopeEstimate + 0.3*s.RiskLevel
	s.Level = levelForWeighted(s.Weighted)
	return s
}

func estimatedSavings(selected map[protocol.AgentRole]protocol.ModelTier) float64 {
	var staticCost, selectedCost float64
	for _, role := range protocol.Roles {
		staticCost += tierPrice[staticDefault[role]]
		selectedCost += tierPrice[selected[role]]
	}
	if staticCost == 0 {
		return 0
	}
	return (staticCost - selectedCost) / staticCost * 100
}

// Select implements §4.9. dynamicEnabled=false returns the static default map
// with selection_method="static"; otherwise it scores the briefing and maps
// the resulting level through strategy. The result is deterministic: same
// briefing + same strategy + same config (built-in keyword lists and
// tier table, both fixed at compile time here) always produce the same
// byte-identical Result, per §8 property 6.
func Select(briefing string, dynamicEnabled bool, strategy Strategy) Result {
	if !dynamicEnabled {
		return Result{
			Models:          copyTierMap(staticDefault),
			SelectionMethod: "static",
		}
	}
	scores := computeScores(briefing)
	table, ok := levelTierTable[strategy]
	if !ok {
		table = levelTierTable[StrategyBalanced]
	}
	selected := table[scores.Level]
	return Result{
		Models:           copyTierMap(selected),
		Analysis:         Analysis{Scores: scores},
		SelectionMethod:  "dynamic",
		EstimatedSavings: estimatedSavings(selected),
	}
}

func copyTierMap(m map[protocol.AgentRole]protocol.ModelTier) map[protocol.AgentRole]protocol.ModelTier {
	out := make(map[protocol.AgentRole]protocol.ModelTier, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
