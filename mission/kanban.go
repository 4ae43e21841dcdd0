package mission

import (
	"encoding/json"
	"log/slog"

	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// kanbanEntry is one row of the Kanban mirror: enough for a UI to render a
// board without parsing mission.json's full phase/task tree.
type kanbanEntry struct {
	TaskID  string              `json:"task_id"`
	PhaseID string              `json:"phase_id"`
	Title   string              `json:"title"`
	Status  protocol.TaskStatus `json:"status"`
	RunID   string              `json:"run_id,omitempty"`
}

// writeKanban mirrors every task's status into the mission's Kanban file for
// UI consumption. Per §4.16, "update failures log but do not abort
// execution" -- a failed write here must never fail the caller's operation.
func writeKanban(dir *Dir, m *protocol.Mission, logger *slog.Logger) {
	var entries []kanbanEntry
	for _, phase := range m.Phases {
		for _, task := range phase.Tasks {
			entries = append(entries, kanbanEntry{
				TaskID: task.TaskID, PhaseID: phase.PhaseID,
				Title: task.Title, Status: task.Status, RunID: task.RunID,
			})
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		logger.Warn("marshal kanban mirror failed", "mission_id", m.MissionID, "error", err)
		return
	}
	if err := runstate.WriteAtomic(dir.KanbanPath(), data, 0o644); err != nil {
		logger.Warn("write kanban mirror failed", "mission_id", m.MissionID, "error", err)
	}
}
