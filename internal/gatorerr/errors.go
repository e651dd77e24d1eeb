// Package gatorerr defines the error taxonomy shared across the dispatch
// engine: validation, conflict, authorization, external, policy, and
// timeout failures (SPEC_FULL.md §7). Callers branch on these with
// errors.As/errors.Is rather than string-matching, the same discipline
// the teacher's internal/errors package applies to Jira API failures.
package gatorerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for logging and exit-code mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindAuthorization  Kind = "authorization"
	KindExternal       Kind = "external"
	KindPolicy         Kind = "policy"
	KindTimeout        Kind = "timeout"
)

// Sentinel errors for conditions callers frequently need errors.Is checks on.
var (
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrOptimisticLockFailed  = errors.New("optimistic lock failed: status changed since read")
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	ErrMissingSecret         = errors.New("token secret not configured")
	ErrInvalidFormat         = errors.New("invalid scoped token format")
	ErrInvalidTaskID         = errors.New("invalid task id in scoped token")
	ErrInvalidAttempt        = errors.New("invalid attempt in scoped token")
	ErrHmacMismatch          = errors.New("scoped token hmac mismatch")
	ErrNoInvariantsLinked    = errors.New("task has no linked invariants")
	ErrInvalidPlanStatus     = errors.New("plan is not in a dispatchable status")
	ErrMissingAgentToken     = errors.New("GATOR_AGENT_TOKEN is not set")
	ErrOperatorUnderAgentToken = errors.New("operator command refused: GATOR_AGENT_TOKEN is set")
)

// TaskError carries the affected task/plan alongside a classified error,
// giving callers (CLI, logs) enough context to act without leaking
// internals — per SPEC_FULL.md §7's "no stack traces leak to users".
type TaskError struct {
	Kind   Kind
	PlanID string
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s: task %s: %v", e.Kind, e.TaskID, e.Err)
	}
	if e.PlanID != "" {
		return fmt.Sprintf("%s: plan %s: %v", e.Kind, e.PlanID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// NewTaskError wraps err with a Kind and task/plan identifiers.
func NewTaskError(kind Kind, planID, taskID string, err error) *TaskError {
	return &TaskError{Kind: kind, PlanID: planID, TaskID: taskID, Err: err}
}

// TimeoutError records a timeout with the budget that was exceeded.
type TimeoutError struct {
	Operation string
	Budget    string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded budget %s: %v", e.Operation, e.Budget, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsConflict reports whether err (or a wrapped error) is an optimistic-lock
// or similar conflict that callers should re-read-and-retry rather than
// propagate as fatal.
func IsConflict(err error) bool {
	if errors.Is(err, ErrOptimisticLockFailed) {
		return true
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind == KindConflict
	}
	return false
}
