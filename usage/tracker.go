// Package usage implements UsageTracker (§4.6): per-agent token/cost
// accumulation. The accumulate-and-total shape is adapted from
// multiagent/planner/stats.go's SessionStats/PhaseStats (Add/AddStats/Total),
// generalized from per-phase tracking to per-agent-per-run tracking and from
// a single model price to the three-tier price table ModelSelector's tiers
// require. Pure stdlib arithmetic, matching stats.go's own choice not to
// reach for a library for simple running totals.
package usage

import "github.com/bazelment/conductor/protocol"

// TierPrice is the fixed per-tier price table (USD per 1K combined
// input+output tokens) cost is derived from. ModelSelector keeps its own
// relative price table (modelselect.tierPrice) with the same 1:3:10 ratios
// for its estimated-savings figure; the two tables are separate values.
var TierPrice = map[protocol.ModelTier]float64{
	protocol.TierLow:  0.001,
	protocol.TierMid:  0.003,
	protocol.TierHigh: 0.010,
}

// Tracker accumulates usage per agent for one run.
type Tracker struct {
	perAgent map[protocol.AgentRole]*protocol.Usage
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{perAgent: make(map[protocol.AgentRole]*protocol.Usage)}
}

// Record accumulates a turn's token usage for agent at the given tier,
// deriving cost from TierPrice. Call at agent completion and, if the agent
// reports incremental usage mid-run, on demand during the run, per §4.6.
func (t *Tracker) Record(agent protocol.AgentRole, tier protocol.ModelTier, input, output, cacheCreate, cacheRead int64) {
	u := t.ensure(agent)
	u.InputTokens += input
	u.OutputTokens += output
	u.CacheCreationTokens += cacheCreate
	u.CacheReadTokens += cacheRead
	tokens := float64(input+output) / 1000.0
	u.CostUSD += tokens * TierPrice[tier]
}

func (t *Tracker) ensure(agent protocol.AgentRole) *protocol.Usage {
	u, ok := t.perAgent[agent]
	if !ok {
		u = &protocol.Usage{}
		t.perAgent[agent] = u
	}
	return u
}

// ForAgent returns a copy of the accumulated usage for one agent.
func (t *Tracker) ForAgent(agent protocol.AgentRole) protocol.Usage {
	if u, ok := t.perAgent[agent]; ok {
		return *u
	}
	return protocol.Usage{}
}

// Total returns the sum across all agents.
func (t *Tracker) Total() protocol.Usage {
	var total protocol.Usage
	for _, u := range t.perAgent {
		total.Add(*u)
	}
	return total
}

// Reset clears all accumulated usage, mirroring stats.go's Reset.
func (t *Tracker) Reset() {
	t.perAgent = make(map[protocol.AgentRole]*protocol.Usage)
}
