package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bazelment/conductor/protocol"
)

// StateStore owns a single run's state.json. Per §4.1, only the Orchestrator
// mutates it (single-writer discipline enforced by convention: this type has
// no concurrency guard beyond in-process serialization of its own calls,
// matching the teacher's Store, which also leaves cross-process coordination
// to "only one writer exists by construction" rather than file locking).
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore returns a StateStore bound to the given run directory's
// state.json path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load reads state.json. Absence of the file is not an error: it returns a
// sentinel empty value (nil, nil) per §4.1 "absence means 'no state'".
// Any other read failure (permission denied, malformed JSON) is fatal and
// returned as an error, per §7's Filesystem taxonomy.
func (s *StateStore) Load() (*protocol.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state.json: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse state.json: %w", err)
	}

	var run protocol.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal state.json: %w", err)
	}

	// Preserve any field this process' Run struct doesn't know about, so a
	// future writer with more fields round-trips them unchanged.
	known := map[string]bool{
		"run_id": true, "phase": true, "iteration": true, "max_iterations": true,
		"minor_fix_attempts": true, "agents": true, "pending_crp": true,
		"selected_models": true, "usage": true, "created_at": true, "updated_at": true,
	}
	extra := make(map[string]any)
	for k, v := range raw {
		if known[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			extra[k] = val
		}
	}
	run.Extra = extra
	return &run, nil
}

// Save writes state.json atomically. It bumps UpdatedAt and re-attaches any
// previously-unknown fields the Run carries from a prior Load, per §4.1's
// forward-compatibility requirement. Writes fail the run with a state-save
// error per §7's Filesystem taxonomy.
func (s *StateStore) Save(run *protocol.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state.json: %w", err)
	}

	if len(run.Extra) > 0 {
		var merged map[string]json.RawMessage
		if err := json.Unmarshal(data, &merged); err != nil {
			return fmt.Errorf("remarshal state.json for extras: %w", err)
		}
		for k, v := range run.Extra {
			if _, known := merged[k]; known {
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			merged[k] = b
		}
		data, err = json.MarshalIndent(merged, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal merged state.json: %w", err)
		}
	}

	if err := WriteAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("save state.json: %w", err)
	}
	return nil
}
