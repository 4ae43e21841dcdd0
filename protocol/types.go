// Package protocol defines the data model shared between the supervisor and the
// external agent executables: runs, missions, phases, tasks, and the clarification
// and verdict exchange types that flow through the run directory.
package protocol

import "time"

// Phase is one stage of a run's four-agent pipeline, plus its terminal and
// human-waiting states.
type Phase string

const (
	PhaseRefine         Phase = "refine"
	PhaseBuild          Phase = "build"
	PhaseVerify         Phase = "verify"
	PhaseGate           Phase = "gate"
	PhaseWaitingHuman   Phase = "waiting_human"
	PhaseReadyForMerge  Phase = "ready_for_merge"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

// AgentRole identifies one of the four pipeline agents.
type AgentRole string

const (
	RoleRefiner    AgentRole = "refiner"
	RoleBuilder    AgentRole = "builder"
	RoleVerifier   AgentRole = "verifier"
	RoleGatekeeper AgentRole = "gatekeeper"
)

// Roles is the fixed, ordered set of pipeline agents.
var Roles = []AgentRole{RoleRefiner, RoleBuilder, RoleVerifier, RoleGatekeeper}

// AgentStatus is the lifecycle state of a single agent within a run.
type AgentStatus string

const (
	AgentPending              AgentStatus = "pending"
	AgentRunning              AgentStatus = "running"
	AgentWaitingTestExecution AgentStatus = "waiting_test_execution"
	AgentWaitingHuman         AgentStatus = "waiting_human"
	AgentCompleted            AgentStatus = "completed"
	AgentFailed               AgentStatus = "failed"
	AgentTimeout              AgentStatus = "timeout"
)

// ModelTier is a coarse model-capability band.
type ModelTier string

const (
	TierLow  ModelTier = "low"
	TierMid  ModelTier = "mid"
	TierHigh ModelTier = "high"
)

// Usage accumulates token counts and derived dollar cost.
type Usage struct {
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CostUSD             float64 `json:"cost_usd"`
}

// Add accumulates other into u and returns u for chaining.
func (u *Usage) Add(other Usage) *Usage {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CostUSD += other.CostUSD
	return u
}

// AgentRecord is the per-agent sub-record embedded in Run.
type AgentRecord struct {
	Status      AgentStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       *ErrorFlag  `json:"error,omitempty"`
	Usage       Usage       `json:"usage"`
}

// Run is one end-to-end execution of the four-agent pipeline against a briefing.
type Run struct {
	RunID             string                       `json:"run_id"`
	Phase             Phase                        `json:"phase"`
	Iteration         int                          `json:"iteration"`
	MaxIterations     int                           `json:"max_iterations"`
	MinorFixAttempts  int                           `json:"minor_fix_attempts"`
	Agents            map[AgentRole]*AgentRecord    `json:"agents"`
	PendingCRP        string                        `json:"pending_crp,omitempty"`
	SelectedModels    map[AgentRole]ModelTier       `json:"selected_models"`
	Usage             Usage                         `json:"usage"`
	CreatedAt         time.Time                     `json:"created_at"`
	UpdatedAt         time.Time                     `json:"updated_at"`

	// Extra preserves unknown fields round-tripped from disk for forward
	// compatibility with newer writers. Never populated by this process' own
	// writes; merged back in verbatim on save.
	Extra map[string]any `json:"-"`
}

// NewRun allocates a zero-value run in its initial state.
func NewRun(runID string, maxIterations int) *Run {
	now := time.Now()
	agents := make(map[AgentRole]*AgentRecord, len(Roles))
	for _, r := range Roles {
		agents[r] = &AgentRecord{Status: AgentPending}
	}
	return &Run{
		RunID:          runID,
		Phase:          PhaseRefine,
		Iteration:      1,
		MaxIterations:  maxIterations,
		Agents:         agents,
		SelectedModels: make(map[AgentRole]ModelTier, len(Roles)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RunningAgent returns the role currently running, or "" if none is.
func (r *Run) RunningAgent() AgentRole {
	for role, rec := range r.Agents {
		if rec.Status == AgentRunning {
			return role
		}
	}
	return ""
}

// IsTerminal reports whether the run's phase accepts no further transitions.
func (r *Run) IsTerminal() bool {
	switch r.Phase {
	case PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// ErrorFlag is the contents of an agent's error.flag sentinel file.
type ErrorFlag struct {
	Agent       AgentRole `json:"agent"`
	ErrorType   string    `json:"error_type"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// Known error_type values. The set is open (errorFlag.ErrorType is a plain
// string on the wire). RecoveryManager's default registry has strategies for
// crash, timeout and validation; permission and resource have none.
const (
	ErrorCrash      = "crash"
	ErrorTimeout    = "timeout"
	ErrorValidation = "validation"
	ErrorPermission = "permission"
	ErrorResource   = "resource"
)

// CRPOption is one choice offered to the human in a clarification request.
type CRPOption struct {
	ID    string `json:"id" jsonschema:"required,description=short identifier for this option"`
	Label string `json:"label" jsonschema:"required,description=human-readable option text"`
	Risk  string `json:"risk,omitempty" jsonschema:"description=risk note for choosing this option"`
}

// CRPStatus is the lifecycle state of a clarification request.
type CRPStatus string

const (
	CRPPending  CRPStatus = "pending"
	CRPResolved CRPStatus = "resolved"
)

// CRP (Clarification Request Pack) is an agent-authored question that requires
// a human decision before the run can proceed.
type CRP struct {
	ID             string      `json:"id"`
	CreatedBy      AgentRole   `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	Type           string      `json:"type"`
	Question       string      `json:"question"`
	Options        []CRPOption `json:"options"`
	Recommendation string      `json:"recommendation,omitempty"`
	Status         CRPStatus   `json:"status"`
}

// VCR (Versioned Clarification Resolution) is the human's recorded answer to a CRP.
type VCR struct {
	ID              string    `json:"id"`
	CRPID           string    `json:"crp_id"`
	Decision        string    `json:"decision"`
	Rationale       string    `json:"rationale,omitempty"`
	AppliesToFuture bool      `json:"applies_to_future"`
	CreatedAt       time.Time `json:"created_at"`
}

// Verdict is the Gatekeeper's classification of a run outcome.
type Verdict string

const (
	VerdictPass       Verdict = "PASS"
	VerdictMinorFail  Verdict = "MINOR_FAIL"
	VerdictFail       Verdict = "FAIL"
	VerdictNeedsHuman Verdict = "NEEDS_HUMAN"
)

// VerdictReport is the contents of gatekeeper/verdict.json.
type VerdictReport struct {
	Verdict      Verdict   `json:"verdict"`
	Reason       string    `json:"reason"`
	Issues       []string  `json:"issues,omitempty"`
	CarryForward string    `json:"carry_forward,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// MissionStatus is the lifecycle state of a Mission.
type MissionStatus string

const (
	MissionPlanning   MissionStatus = "planning"
	MissionPlanReview MissionStatus = "plan_review"
	MissionReady      MissionStatus = "ready"
	MissionInProgress MissionStatus = "in_progress"
	MissionCompleted  MissionStatus = "completed"
	MissionFailed     MissionStatus = "failed"
	MissionCancelled  MissionStatus = "cancelled"
)

// PlanningBlock holds the Planner/Critic loop's running state for a mission.
type PlanningBlock struct {
	Stage      string   `json:"stage"` // "" | "needs_human" | "approved"
	Iteration  int      `json:"iteration"`
	DraftFiles []string `json:"draft_files,omitempty"`
	CritiqueFiles []string `json:"critique_files,omitempty"`
}

// Mission is a human-approved multi-phase plan whose leaf tasks spawn Runs.
type Mission struct {
	MissionID   string        `json:"mission_id"`
	Description string        `json:"description"`
	Planning    PlanningBlock `json:"planning"`
	Phases      []Phase2      `json:"phases"`
	Status      MissionStatus `json:"status"`
	Stats       Usage         `json:"stats"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Phase2 is a mission phase. Named to avoid colliding with the run Phase enum;
// on the wire its JSON key is simply "phases" inside Mission.
type Phase2 struct {
	PhaseID     string        `json:"phase_id"`
	Number      int           `json:"number"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Tasks       []Task        `json:"tasks"`
	Status      PhaseStatus   `json:"status"`
	Summary     string        `json:"summary,omitempty"`
}

// PhaseStatus is a mission phase's lifecycle state.
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
)

// TaskStatus is a mission task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskBlocked    TaskStatus = "blocked"
	TaskInProgress TaskStatus = "in_progress"
	TaskPassed     TaskStatus = "passed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
	TaskNeedsHuman TaskStatus = "needs_human"
)

// Task is a single leaf unit of work within a mission phase; each spawns at
// most one Run.
type Task struct {
	TaskID              string     `json:"task_id"`
	PhaseID             string     `json:"phase_id"`
	Title               string     `json:"title"`
	BriefingPath        string     `json:"briefing_path"`
	DependsOn           []string   `json:"depends_on,omitempty"`
	Status              TaskStatus `json:"status"`
	RunID               string     `json:"run_id,omitempty"`
	CarryForward        string     `json:"carry_forward,omitempty"`
	Error               string     `json:"error,omitempty"`
	AgentConfigOverride map[AgentRole]ModelTier `json:"agent_config_override,omitempty"`
}

// Eligible reports whether every dependency of t has status Passed in tasksByID.
func (t *Task) Eligible(tasksByID map[string]*Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := tasksByID[dep]
		if !ok || d.Status != TaskPassed {
			return false
		}
	}
	return true
}

// CritiqueVerdict is the Critic's overall judgement of a plan draft.
type CritiqueVerdict string

const (
	CritiqueApproved      CritiqueVerdict = "approved"
	CritiqueNeedsRevision CritiqueVerdict = "needs_revision"
	CritiqueNeedsHuman    CritiqueVerdict = "needs_human"
)

// Severity ranks a critique item's importance.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

// CritiqueTarget identifies what a critique item is about.
type CritiqueTarget struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// CritiqueItem is one finding within a Critique.
type CritiqueItem struct {
	ID          string         `json:"id"`
	Severity    Severity       `json:"severity"`
	Category    string         `json:"category"`
	Target      CritiqueTarget `json:"target"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Suggestion  string         `json:"suggestion,omitempty"`
}

// Key returns the overlap-comparison key used by PlanningPipeline's
// convergence check: "category:target.type:target.id-or-global".
func (c CritiqueItem) Key() string {
	id := c.Target.ID
	if id == "" {
		id = "global"
	}
	return c.Category + ":" + c.Target.Type + ":" + id
}

// CritiqueStats summarizes item counts by severity.
type CritiqueStats struct {
	Critical   int `json:"critical"`
	Major      int `json:"major"`
	Minor      int `json:"minor"`
	Suggestion int `json:"suggestion"`
}

// Critique is the Critic agent's response to a plan draft.
type Critique struct {
	Version int             `json:"version"`
	Verdict CritiqueVerdict `json:"verdict"`
	Items   []CritiqueItem  `json:"items"`
	Stats   CritiqueStats   `json:"stats"`
}

// HasCriticalIssues reports whether the critique contains any critical-severity
// item, mirroring the teacher protocol package's helper-method convention.
func (c *Critique) HasCriticalIssues() bool {
	return c.Stats.Critical > 0
}

// AutoApprovable reports whether the critique satisfies the default
// auto-approve rule: critical<=0 && major<=0 && minor<=maxMinor.
func (c *Critique) AutoApprovable(maxMinor int) bool {
	if c.Verdict == CritiqueApproved {
		return true
	}
	return c.Stats.Critical <= 0 && c.Stats.Major <= 0 && c.Stats.Minor <= maxMinor
}

// RevisionItems returns the items that matter for a "revision required"
// instruction set: critical and major only, per §4.15.
func (c *Critique) RevisionItems() []CritiqueItem {
	var out []CritiqueItem
	for _, it := range c.Items {
		if it.Severity == SeverityCritical || it.Severity == SeverityMajor {
			out = append(out, it)
		}
	}
	return out
}

// PlanDraft is the Planner agent's proposed mission breakdown: persisted as
// draft-v{n}.json on every PlanningPipeline iteration and, once approved, as
// final.json. MissionManager.createMission materialises Mission.Phases
// directly from an approved PlanDraft's Phases.
type PlanDraft struct {
	Version int      `json:"version"`
	Summary string   `json:"summary"`
	Phases  []Phase2 `json:"phases"`
}
