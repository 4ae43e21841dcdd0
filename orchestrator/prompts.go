package orchestrator

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/bazelment/conductor/protocol"
	"github.com/bazelment/conductor/runstate"
)

// promptData is substituted into an agent's prompt template per §4.14 step 4:
// {project_root, run_id, config, iteration, has_review}.
type promptData struct {
	ProjectRoot string
	RunID       string
	Iteration   int
	HasReview   bool
	Clarification string
}

var promptTmpl = map[protocol.AgentRole]*template.Template{
	protocol.RoleRefiner:    template.Must(template.New("refiner").Parse(refinerPromptTmpl)),
	protocol.RoleBuilder:    template.Must(template.New("builder").Parse(builderPromptTmpl)),
	protocol.RoleVerifier:   template.Must(template.New("verifier").Parse(verifierPromptTmpl)),
	protocol.RoleGatekeeper: template.Must(template.New("gatekeeper").Parse(gatekeeperPromptTmpl)),
}

// renderPrompt writes role's rendered prompt file into dir/prompts and
// returns its path plus the run's working directory (the project root,
// per §4.3 "working directory set to the run directory" -- the agent itself
// operates against ProjectRoot, with the run directory available for its
// sentinel/log writes).
func renderPrompt(dir *runstate.Dir, projectRoot string, role protocol.AgentRole, run *protocol.Run, clarification string) (promptFile, workDir string, err error) {
	tmpl, ok := promptTmpl[role]
	if !ok {
		return "", "", fmt.Errorf("no prompt template for role %s", role)
	}

	data := promptData{
		ProjectRoot:   projectRoot,
		RunID:         run.RunID,
		Iteration:     run.Iteration,
		HasReview:     run.Iteration > 1,
		Clarification: clarification,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s prompt: %w", role, err)
	}

	path := filepath.Join(dir.PromptsDir(), string(role)+".md")
	if err := runstate.WriteAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("write %s prompt: %w", role, err)
	}
	return path, projectRoot, nil
}

const refinerPromptTmpl = `# Refiner

project_root: {{.ProjectRoot}}
run_id: {{.RunID}}
iteration: {{.Iteration}}

Read briefing/raw.md in the run directory. Clarify ambiguity with the human
by writing a crp/crp-*.json file when a decision is required before work can
proceed safely; otherwise write briefing/refined.md with a clear, actionable
restatement of the task, then create refiner/done.flag.
{{- if .Clarification}}

## Clarification received

{{.Clarification}}
{{- end}}
`

const builderPromptTmpl = `# Builder

project_root: {{.ProjectRoot}}
run_id: {{.RunID}}
iteration: {{.Iteration}}
has_review: {{.HasReview}}

Read briefing/refined.md. Implement the change in {{.ProjectRoot}}, writing a
manifest of touched files to builder/output/manifest.json, then create
builder/done.flag.
{{- if .HasReview}}

This is iteration {{.Iteration}}: address the prior verifier/gatekeeper
feedback before making further changes.
{{- end}}
{{- if .Clarification}}

## Clarification received

{{.Clarification}}
{{- end}}
`

const verifierPromptTmpl = `# Verifier

project_root: {{.ProjectRoot}}
run_id: {{.RunID}}
iteration: {{.Iteration}}

Read builder/output/manifest.json. Verify the change: run or inspect tests as
appropriate, write verifier/results.json, then create verifier/done.flag. If
an external test runner owns execution, write verifier/tests-ready.flag
instead and wait for verifier/test-output.json to appear before finishing.
{{- if .Clarification}}

## Clarification received

{{.Clarification}}
{{- end}}
`

const gatekeeperPromptTmpl = `# Gatekeeper

project_root: {{.ProjectRoot}}
run_id: {{.RunID}}
iteration: {{.Iteration}}

Read verifier/results.json and the full diff. Render a verdict of PASS,
MINOR_FAIL, FAIL, or NEEDS_HUMAN into gatekeeper/verdict.json with a reason
and, for a failing verdict, a carry_forward note for the next builder
iteration. Create gatekeeper/done.flag when finished.
{{- if .Clarification}}

## Clarification received

{{.Clarification}}
{{- end}}
`
