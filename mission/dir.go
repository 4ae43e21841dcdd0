// Package mission implements MissionManager (§4.16): multi-phase plans whose
// leaf tasks each spawn a child Run through the Orchestrator, composed with
// the planning package's Planner/Critic loop for the initial plan-approval
// stage. Grounded on medivac/engine/agent.go's three-way outcome
// classification (pr_created/analysis_only/failed), generalized from "did the
// fix agent open a PR" to "what did the gatekeeper verdict say about this
// task's run".
package mission

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Dir describes the on-disk layout of a single mission directory, mirroring
// runstate.Dir's run-directory layout per §6: "missions/<id>/{planning/,
// phases/, context/}".
type Dir struct {
	Root string // <project>/.<app>/missions/<missionId>
}

// NewMissionID allocates a mission id from the current time, the same
// monotonic-per-second convention as runstate.NewRunID.
func NewMissionID(now time.Time) string {
	return "mission-" + now.Format("20060102150405")
}

// NewDir returns the Dir for missionID under the given missions root.
func NewDir(missionsRoot, missionID string) *Dir {
	return &Dir{Root: filepath.Join(missionsRoot, missionID)}
}

// Create materializes the mission directory tree.
func (d *Dir) Create() error {
	for _, sub := range []string{"", "planning", "phases", "context"} {
		if err := os.MkdirAll(filepath.Join(d.Root, sub), 0o755); err != nil {
			return fmt.Errorf("create mission dir %s: %w", sub, err)
		}
	}
	return nil
}

// MissionPath returns the path to this mission's mission.json.
func (d *Dir) MissionPath() string { return filepath.Join(d.Root, "mission.json") }

// InputPath returns the path to the mission's persisted input.md.
func (d *Dir) InputPath() string { return filepath.Join(d.Root, "input.md") }

// PlanningDir returns the subtree PlanningPipeline operates in.
func (d *Dir) PlanningDir() string { return filepath.Join(d.Root, "planning") }

// PhasesDir returns the subtree holding per-phase task briefings.
func (d *Dir) PhasesDir() string { return filepath.Join(d.Root, "phases") }

// ContextDir returns the subtree holding phase-{n}-summary.md carry-forward
// context files.
func (d *Dir) ContextDir() string { return filepath.Join(d.Root, "context") }

// PhaseSummaryPath returns the path to phase n's carry-forward context file.
func (d *Dir) PhaseSummaryPath(n int) string {
	return filepath.Join(d.ContextDir(), fmt.Sprintf("phase-%d-summary.md", n))
}

// TaskBriefingPath returns the path to a task's briefing file within its
// phase's subtree.
func (d *Dir) TaskBriefingPath(phaseID, taskID string) string {
	return filepath.Join(d.PhasesDir(), phaseID, taskID+".md")
}

// KanbanPath returns the path to the Kanban mirror file (§4.16: "a separate
// file tracks per-task status for UI consumption").
func (d *Dir) KanbanPath() string { return filepath.Join(d.Root, "kanban.json") }
