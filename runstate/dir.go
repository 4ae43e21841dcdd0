// Package runstate implements RunDirectory (§4.1 run directory layout) and
// StateStore (atomic state.json persistence). The write discipline is adapted
// directly from bramble/session/store.go's SaveSession: marshal, write to a
// ".tmp" sibling, fsync, then rename over the final path.
package runstate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/bazelment/conductor/protocol"
)

var runIDPattern = regexp.MustCompile(`^run-\d{14}$`)

// ValidateRunID checks a run id against the spec's ^run-\d{14}$ pattern.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return protocol.NewValidationError("run_id", "must match ^run-\\d{14}$")
	}
	return nil
}

// NewRunID allocates a run id from the current time, monotonic per second
// the way the spec requires; two calls within the same second return the
// same id. The Orchestrator makes one call per StartRun and holds no lock
// around it.
func NewRunID(now time.Time) string {
	return "run-" + now.Format("20060102150405")
}

// Dir describes the on-disk layout of a single run directory and creates its
// required subtrees, per spec §6.
type Dir struct {
	Root string // <project>/.<app>/runs/<runId>
}

// NewDir returns the Dir for runID under the given runs root
// (<project>/.<app>/runs).
func NewDir(runsRoot, runID string) *Dir {
	return &Dir{Root: filepath.Join(runsRoot, runID)}
}

// subdirs that must exist for a run, beyond the per-agent ones.
var sharedSubdirs = []string{"briefing", "prompts", "crp", "vcr", "mrp", "logs"}

// Create materializes the full run directory tree. It rolls back everything
// it created if any step fails, following wt/atomic.go's undo-stack pattern:
// each successful mkdir pushes an undo step, and a deferred rollback fires
// unless Create reaches the end.
func (d *Dir) Create() (err error) {
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	mkdir := func(path string) error {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil // already exists, nothing to roll back
		}
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return mkErr
		}
		undo = append(undo, func() { os.Remove(path) })
		return nil
	}

	if err = mkdir(d.Root); err != nil {
		return fmt.Errorf("create run root: %w", err)
	}
	for _, sub := range sharedSubdirs {
		if err = mkdir(filepath.Join(d.Root, sub)); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	for _, role := range protocol.Roles {
		if err = mkdir(filepath.Join(d.Root, string(role))); err != nil {
			return fmt.Errorf("create %s: %w", role, err)
		}
	}
	if err = mkdir(filepath.Join(d.Root, string(protocol.RoleVerifier), "tests")); err != nil {
		return fmt.Errorf("create verifier/tests: %w", err)
	}
	if err = mkdir(filepath.Join(d.Root, string(protocol.RoleBuilder), "output")); err != nil {
		return fmt.Errorf("create builder/output: %w", err)
	}
	return nil
}

// StatePath returns the path to this run's state.json.
func (d *Dir) StatePath() string { return filepath.Join(d.Root, "state.json") }

// AgentDir returns the subdirectory for one agent.
func (d *Dir) AgentDir(role protocol.AgentRole) string { return filepath.Join(d.Root, string(role)) }

// DoneFlag returns the path to an agent's done.flag sentinel.
func (d *Dir) DoneFlag(role protocol.AgentRole) string {
	return filepath.Join(d.AgentDir(role), "done.flag")
}

// ErrorFlagPath returns the path to an agent's error.flag sentinel.
func (d *Dir) ErrorFlagPath(role protocol.AgentRole) string {
	return filepath.Join(d.AgentDir(role), "error.flag")
}

// CRPDir, VCRDir, PromptsDir, BriefingDir, MRPDir, LogsDir return the
// corresponding shared subtree paths.
func (d *Dir) CRPDir() string      { return filepath.Join(d.Root, "crp") }
func (d *Dir) VCRDir() string      { return filepath.Join(d.Root, "vcr") }
func (d *Dir) PromptsDir() string  { return filepath.Join(d.Root, "prompts") }
func (d *Dir) BriefingDir() string { return filepath.Join(d.Root, "briefing") }
func (d *Dir) MRPDir() string      { return filepath.Join(d.Root, "mrp") }
func (d *Dir) LogsDir() string     { return filepath.Join(d.Root, "logs") }
func (d *Dir) EventsLog() string   { return filepath.Join(d.Root, "logs", "events.log") }

// WriteAtomic writes data to path via a ".tmp" sibling, fsync, then rename,
// exactly as bramble/session/store.go's SaveSession does. Sentinel files
// (done.flag, error.flag) use this too, satisfying §5's "agents write
// sentinel files last so any readable subtree seen before the flag may be
// assumed complete" by construction: writers never observe a half-written
// file at the final path.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename tmp file: %w", err)
	}
	return nil
}
