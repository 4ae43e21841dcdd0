package planning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

type plannerPromptData struct {
	Description string
	Iteration   int
	Revision    string // non-empty on iteration > 1: critical/major items to address
}

type criticPromptData struct {
	Iteration  int
	DraftJSON  string
	HistoryLen int
}

var plannerTmpl = template.Must(template.New("planner").Parse(plannerPromptTmpl))
var criticTmpl = template.Must(template.New("critic").Parse(criticPromptTmpl))

const plannerPromptTmpl = `# Planner

iteration: {{.Iteration}}

Break the following mission into an ordered sequence of phases, each with a
set of tasks. Every task needs a short briefing describing what a single Run
should accomplish, plus the task IDs (if any) it depends on. Write your
result as JSON to draft-v{{.Iteration}}.json in this directory, matching the
PlanDraft shape: {"version": {{.Iteration}}, "summary": "...", "phases": [...]}.

## Mission

{{.Description}}
{{- if .Revision}}

## Revision required

The previous draft was critiqued. Address these items before producing the
new draft:

{{.Revision}}
{{- end}}
`

const criticPromptTmpl = `# Critic

iteration: {{.Iteration}}

Review the plan draft below for gaps, infeasible dependencies, missing
acceptance criteria, and scope creep. Write your verdict as JSON to
critique-v{{.Iteration}}.json in this directory, matching the Critique shape:
{"version": {{.Iteration}}, "verdict": "approved|needs_revision|needs_human",
"items": [...], "stats": {"critical": 0, "major": 0, "minor": 0, "suggestion": 0}}.
{{if gt .HistoryLen 0}}
This is a revision; {{.HistoryLen}} prior critique(s) exist for this mission --
do not repeat items the plan has already addressed.
{{end}}
## Draft under review

{{.DraftJSON}}
`

// renderPlannerPrompt writes iteration n's planner prompt into dir and
// returns its path. revision lists the critical/major items (if any) from
// the previous critique, formatted one per line.
func renderPlannerPrompt(dir, description string, n int, revision []protocol.CritiqueItem) (string, error) {
	var revisionText string
	for _, it := range revision {
		revisionText += fmt.Sprintf("- [%s/%s] %s: %s\n", it.Severity, it.Category, it.Title, it.Description)
	}

	var buf bytes.Buffer
	if err := plannerTmpl.Execute(&buf, plannerPromptData{Description: description, Iteration: n, Revision: revisionText}); err != nil {
		return "", fmt.Errorf("render planner prompt: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("planner-prompt-v%d.md", n))
	if err := runstate.WriteAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write planner prompt: %w", err)
	}
	return path, nil
}

// renderCriticPrompt writes iteration n's critic prompt into dir and returns
// its path. historyLen is the number of previous critiques for this mission.
func renderCriticPrompt(dir string, n int, draft *protocol.PlanDraft, historyLen int) (string, error) {
	draftJSON, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal draft for critic prompt: %w", err)
	}

	var buf bytes.Buffer
	if err := criticTmpl.Execute(&buf, criticPromptData{Iteration: n, DraftJSON: string(draftJSON), HistoryLen: historyLen}); err != nil {
		return "", fmt.Errorf("render critic prompt: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("critic-prompt-v%d.md", n))
	if err := runstate.WriteAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write critic prompt: %w", err)
	}
	return path, nil
}
