// Package store is the persistent-state layer: plans, tasks, dependency
// edges, invariants, task-invariant links, per-attempt gate results, and
// the append-only agent event log (SPEC_FULL.md §3, §6). Two backends
// conform to the same Store interface: Postgres (postgres.go, grounded on
// the teacher's internal/db/postgres.go) and SQLite (sqlite.go, grounded
// on the teacher's internal/db/sqlite.go) — the teacher tests against
// SQLite before exercising Postgres-only SQL, and this package keeps that
// discipline.
package store

import (
	"context"

	"gator/internal/model"
)

// Store is the durable-state contract every component in the dispatch
// engine writes through. All mutating Task methods apply the optimistic
// predicate described by internal/statemachine and return
// gatorerr.ErrOptimisticLockFailed on a zero-row update.
type Store interface {
	// Plans
	CreatePlan(ctx context.Context, plan model.Plan, tasks []model.Task, deps []model.TaskDependency, taskInvariants []model.TaskInvariant) error
	GetPlan(ctx context.Context, planID string) (model.Plan, error)
	ApprovePlan(ctx context.Context, planID string) error
	SetPlanStatus(ctx context.Context, planID string, status model.PlanStatus) error

	// Tasks
	GetTask(ctx context.Context, taskID string) (model.Task, error)
	ListTasksByPlan(ctx context.Context, planID string) ([]model.Task, error)
	ListTaskDependencies(ctx context.Context, planID string) ([]model.TaskDependency, error)
	ReadyTasks(ctx context.Context, planID string) ([]model.Task, error)

	// TransitionTask applies (from -> to) with the optimistic predicate
	// "status = from" (and, for retry edges, "attempt = observedAttempt").
	// Side effects (timestamps, attempt increment) are derived from
	// internal/statemachine.Validate. Returns gatorerr.ErrOptimisticLockFailed
	// on no matching row, gatorerr.ErrDependencyNotSatisfied for a
	// pending->assigned transition whose dependencies are not all passed,
	// and a *gatorerr.TaskError wrapping gatorerr.ErrInvalidTransition for
	// an illegal edge.
	TransitionTask(ctx context.Context, taskID string, from, to model.TaskStatus, observedAttempt int) error

	// AssignTask additionally sets assigned_harness and workspace_path as
	// part of the pending->assigned transition (Lifecycle step 5).
	AssignTask(ctx context.Context, taskID string, harness, workspacePath string, observedAttempt int) error

	// Invariants
	CreateInvariant(ctx context.Context, inv model.Invariant) error
	GetInvariant(ctx context.Context, invariantID string) (model.Invariant, error)
	ListTaskInvariants(ctx context.Context, taskID string) ([]model.Invariant, error)
	LinkTaskInvariant(ctx context.Context, taskID, invariantID string) error

	// Gate results
	SaveGateResult(ctx context.Context, result model.GateResult) error
	ListGateResults(ctx context.Context, taskID string, attempt int) ([]model.GateResult, error)
	LastFailingGateResults(ctx context.Context, taskID string, attempt int) ([]model.GateResult, error)

	// Agent events
	AppendAgentEvent(ctx context.Context, event model.AgentEvent) error
	SumTokenUsage(ctx context.Context, planID string) (int64, error)

	Close() error
}

// StoreConfig selects and configures a backend, mirroring the teacher's
// db.StoreConfig (Type + ConnectionString) but renamed to Gator's own
// config vocabulary ("db.type"/"db.dsn" in internal/config).
type StoreConfig struct {
	Type string // "sqlite" or "postgres"
	DSN  string // file path for sqlite, connection string for postgres
}
