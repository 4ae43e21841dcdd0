package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// Store owns a single mission's mission.json, mirroring
// runstate.StateStore's single-writer-by-construction discipline and
// write-tmp-then-rename persistence.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a Store bound to the given mission directory's
// mission.json path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads mission.json. Absence of the file is not an error: it returns
// (nil, nil), matching runstate.StateStore.Load's "no state" convention.
func (s *Store) Load() (*protocol.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mission.json: %w", err)
	}
	var m protocol.Mission
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mission.json: %w", err)
	}
	return &m, nil
}

// Save writes mission.json atomically, bumping UpdatedAt.
func (s *Store) Save(m *protocol.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mission.json: %w", err)
	}
	if err := runstate.WriteAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("save mission.json: %w", err)
	}
	return nil
}
