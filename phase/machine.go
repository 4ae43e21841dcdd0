// Package phase implements the run PhaseMachine: a mutex-guarded state
// machine validating transitions against a fixed table, plus the verdict
// routing rules that decide the next phase out of "gate". The transition
// table shape (states as small ints, validity keyed by from*100+to) is
// adapted directly from multiagent/planner/state.go's PlannerState/
// StateMachine.
package phase

import (
	"sync"
	"time"

	"github.com/bazelment/conductor/protocol"
)

// stateIndex assigns each Phase a small integer so the transition table can
// be keyed by from*100+to, exactly as planner/state.go keys its own table.
var stateIndex = map[protocol.Phase]int{
	protocol.PhaseRefine:        1,
	protocol.PhaseBuild:         2,
	protocol.PhaseVerify:        3,
	protocol.PhaseGate:          4,
	protocol.PhaseWaitingHuman:  5,
	protocol.PhaseReadyForMerge: 6,
	protocol.PhaseCompleted:     7,
	protocol.PhaseFailed:        8,
}

// validTransitions enumerates every allowed (from, to) pair per spec §4.10.
var validTransitions = buildTransitionTable()

func buildTransitionTable() map[int]bool {
	t := make(map[int]bool)
	add := func(from, to protocol.Phase) {
		t[stateIndex[from]*100+stateIndex[to]] = true
	}
	add(protocol.PhaseRefine, protocol.PhaseBuild)
	add(protocol.PhaseRefine, protocol.PhaseWaitingHuman)

	add(protocol.PhaseBuild, protocol.PhaseVerify)
	add(protocol.PhaseBuild, protocol.PhaseWaitingHuman)

	add(protocol.PhaseVerify, protocol.PhaseGate)
	add(protocol.PhaseVerify, protocol.PhaseWaitingHuman)

	add(protocol.PhaseGate, protocol.PhaseReadyForMerge)
	add(protocol.PhaseGate, protocol.PhaseBuild)
	add(protocol.PhaseGate, protocol.PhaseVerify)
	add(protocol.PhaseGate, protocol.PhaseWaitingHuman)
	add(protocol.PhaseGate, protocol.PhaseFailed)

	add(protocol.PhaseWaitingHuman, protocol.PhaseRefine)
	add(protocol.PhaseWaitingHuman, protocol.PhaseBuild)
	add(protocol.PhaseWaitingHuman, protocol.PhaseVerify)
	add(protocol.PhaseWaitingHuman, protocol.PhaseGate)

	add(protocol.PhaseReadyForMerge, protocol.PhaseCompleted)
	// completed, failed: no outgoing transitions.
	return t
}

// isValidTransition reports whether from->to appears in the table.
func isValidTransition(from, to protocol.Phase) bool {
	fi, ok1 := stateIndex[from]
	ti, ok2 := stateIndex[to]
	if !ok1 || !ok2 {
		return false
	}
	return validTransitions[fi*100+ti]
}

// transitionRecord is one entry in a Machine's history.
type transitionRecord struct {
	From    protocol.Phase
	To      protocol.Phase
	At      time.Time
	Trigger string
}

// Machine is a mutex-guarded per-run phase state machine, matching
// planner/state.go's StateMachine shape (guarded current state plus an
// append-only history for observability/debugging).
type Machine struct {
	mu      sync.Mutex
	current protocol.Phase
	history []transitionRecord
}

// NewMachine creates a Machine starting at the given phase (normally
// protocol.PhaseRefine for a fresh run, or a persisted phase on resume).
func NewMachine(initial protocol.Phase) *Machine {
	return &Machine{current: initial}
}

// Current returns the current phase.
func (m *Machine) Current() protocol.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition attempts to move from the current phase to "to". On success it
// updates current and returns true. On an invalid transition it leaves state
// unchanged and returns false with a *protocol.StateTransitionError — callers
// emit events.TransitionBlockedEvent and must not mutate StateStore.
func (m *Machine) Transition(to protocol.Phase, trigger string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.current
	if !isValidTransition(from, to) {
		return false, &protocol.StateTransitionError{From: from, To: to}
	}
	m.current = to
	m.history = append(m.history, transitionRecord{From: from, To: to, At: time.Now(), Trigger: trigger})
	return true, nil
}

// ForceState sets the current phase without validating the transition table.
// Used only when restoring a Machine from a persisted state.json on process
// restart, where the prior phase is trusted as already having been reached
// validly.
func (m *Machine) ForceState(p protocol.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = p
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []transitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// NextForVerdict implements §4.10's verdict routing table from "gate". It
// returns only the destination phase; the caller updates the run's counters
// before calling Transition. minorFixAttempts/maxMinorFix and iteration/maxIterations are
// passed in rather than tracked here because Machine has no knowledge of the
// owning Run's counters (single-responsibility: Machine only validates
// transitions, Run/StateStore owns the counters it routes on).
func NextForVerdict(v protocol.Verdict, iteration, maxIterations, minorFixAttempts, maxMinorFix int) protocol.Phase {
	switch v {
	case protocol.VerdictPass:
		return protocol.PhaseReadyForMerge
	case protocol.VerdictMinorFail:
		if minorFixAttempts < maxMinorFix {
			return protocol.PhaseVerify
		}
		if iteration < maxIterations {
			return protocol.PhaseBuild
		}
		return protocol.PhaseFailed
	case protocol.VerdictFail:
		if iteration < maxIterations {
			return protocol.PhaseBuild
		}
		return protocol.PhaseFailed
	case protocol.VerdictNeedsHuman:
		return protocol.PhaseWaitingHuman
	default:
		return protocol.PhaseFailed
	}
}

// AgentForPhase returns the single agent role that owns a given pipeline
// phase, or "" for phases with no owning agent (waiting_human,
// ready_for_merge, completed, failed).
func AgentForPhase(p protocol.Phase) protocol.AgentRole {
	switch p {
	case protocol.PhaseRefine:
		return protocol.RoleRefiner
	case protocol.PhaseBuild:
		return protocol.RoleBuilder
	case protocol.PhaseVerify:
		return protocol.RoleVerifier
	case protocol.PhaseGate:
		return protocol.RoleGatekeeper
	default:
		return ""
	}
}
