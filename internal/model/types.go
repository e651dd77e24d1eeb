// Package model defines the entities of the dispatch engine's data model:
// plans, tasks, dependency edges, invariants, gate results, and the
// append-only agent event log. These are plain structs; persistence lives
// in internal/store, transition rules live in internal/statemachine.
package model

import "time"

// PlanStatus is the lifecycle stage of a Plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanApproved  PlanStatus = "approved"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// TaskStatus is the lifecycle stage of a Task within the state machine
// described in SPEC_FULL.md §4.1.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskRunning    TaskStatus = "running"
	TaskChecking   TaskStatus = "checking"
	TaskPassed     TaskStatus = "passed"
	TaskFailed     TaskStatus = "failed"
	TaskEscalated  TaskStatus = "escalated"
)

// TaskScope hints at the blast radius of a task's expected changes.
type TaskScope string

const (
	ScopeNarrow TaskScope = "narrow"
	ScopeMedium TaskScope = "medium"
	ScopeBroad  TaskScope = "broad"
)

// GatePolicy controls how a Gate verdict is turned into an Action.
// human_approve and human_review are evaluated identically today (both
// yield HumanRequired) but are kept distinct in the data model so a
// future operator-facing surface can tell them apart; see SPEC_FULL.md §9.
type GatePolicy string

const (
	GateAuto         GatePolicy = "auto"
	GateHumanReview  GatePolicy = "human_review"
	GateHumanApprove GatePolicy = "human_approve"
)

// AgentEventType enumerates the kinds of events a Harness can record.
type AgentEventType string

const (
	EventMessage        AgentEventType = "message"
	EventToolCall       AgentEventType = "tool_call"
	EventToolResult     AgentEventType = "tool_result"
	EventTokenUsage     AgentEventType = "token_usage"
	EventError          AgentEventType = "error"
	EventProgress       AgentEventType = "progress"
	EventInvariantCheck AgentEventType = "invariant_check"
	EventDoneSignal     AgentEventType = "done_signal"
	EventCompleted      AgentEventType = "completed"
)

// Plan is the unit of work: a name, a base branch, and a DAG of tasks.
type Plan struct {
	ID             string
	Name           string
	ProjectPath    string
	BaseBranch     string
	TokenBudget    *int64
	DefaultHarness string
	IsolationMode  string
	Status         PlanStatus
	CreatedAt      time.Time
	ApprovedAt     *time.Time
	CompletedAt    *time.Time
}

// Task is a single unit of agent work within a Plan.
type Task struct {
	ID               string
	PlanID           string
	Name             string
	Description      string
	Scope            TaskScope
	GatePolicy       GatePolicy
	RetryMax         int
	Status           TaskStatus
	AssignedHarness  string
	RequestedHarness string
	WorkspacePath    string
	Attempt          int
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// TaskDependency is an edge task -> depends_on within the same plan.
type TaskDependency struct {
	TaskID       string
	DependsOnID  string
}

// Invariant is a reusable check definition: a command whose exit code is
// the pass/fail signal.
type Invariant struct {
	ID                string
	Name              string
	Kind              string
	Command           string
	Args              []string
	ExpectedExitCode  int
	TimeoutSecs       int
	Scope             string
	Description       string
	Threshold         *float64
}

// TaskInvariant links a Task to an Invariant the gate must run for it.
type TaskInvariant struct {
	TaskID      string
	InvariantID string
}

// GateResult is one invariant's outcome for one (task, attempt).
type GateResult struct {
	TaskID       string
	InvariantID  string
	InvariantName string
	Attempt      int
	Passed       bool
	ExitCode     *int
	Stdout       string
	Stderr       string
	DurationMs   int64
	CheckedAt    time.Time
}

// AgentEvent is one append-only row in a task attempt's event log.
type AgentEvent struct {
	ID         int64
	TaskID     string
	Attempt    int
	EventType  AgentEventType
	Payload    map[string]interface{}
	RecordedAt time.Time
}

// TokenUsagePayload is the structured payload of a token_usage AgentEvent.
type TokenUsagePayload struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
