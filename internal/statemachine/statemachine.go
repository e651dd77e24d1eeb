// Package statemachine validates and applies Task status transitions. It
// holds no state itself — internal/store applies the optimistic-locking
// predicate this package only describes — mirroring the teacher's
// internal/db/postgres.go UpdateFeatureStatus transaction, generalized
// from a single ad hoc status field update into a named transition graph.
package statemachine

import (
	"fmt"

	"gator/internal/gatorerr"
	"gator/internal/model"
)

// Edge is a legal (from, to) pair in the task transition graph.
type Edge struct {
	From model.TaskStatus
	To   model.TaskStatus
}

// legalEdges enumerates every transition SPEC_FULL.md §4.1 allows.
var legalEdges = map[Edge]struct{}{
	{model.TaskPending, model.TaskAssigned}:    {},
	{model.TaskAssigned, model.TaskRunning}:    {},
	{model.TaskRunning, model.TaskChecking}:    {},
	{model.TaskChecking, model.TaskPassed}:     {},
	{model.TaskChecking, model.TaskFailed}:     {},
	{model.TaskFailed, model.TaskPending}:       {}, // retry, requires attempt < retry_max
	{model.TaskFailed, model.TaskEscalated}:    {},
	{model.TaskEscalated, model.TaskPending}:   {}, // operator force-retry
}

// IsLegalEdge reports whether (from, to) is one of the named edges.
func IsLegalEdge(from, to model.TaskStatus) bool {
	_, ok := legalEdges[Edge{from, to}]
	return ok
}

// Effect describes the side effects a caller applying a transition must
// persist alongside the status change itself: timestamp updates and the
// attempt-counter adjustment. The caller (internal/store) turns this into
// the SET clause of its conditional UPDATE.
type Effect struct {
	SetStartedAtNow    bool
	ClearStartedAt     bool
	SetCompletedAtNow  bool
	ClearCompletedAt   bool
	IncrementAttempt   bool
	ClearAssignment    bool
	RequiresAttemptLT  bool // retry edges require attempt < retry_max before applying
}

// Validate checks that (from, to) is legal, returning an error wrapping
// ErrInvalidTransition if not, and otherwise the Effect the caller must
// apply; a retry edge's budget precondition is reported as
// Effect.RequiresAttemptLT, not as an error. It does not itself know the
// task's dependency statuses or retry_max — those live in the store,
// which is the only place with durable state.
func Validate(from, to model.TaskStatus) (Effect, error) {
	if !IsLegalEdge(from, to) {
		return Effect{}, fmt.Errorf("%w: %s -> %s", gatorerr.ErrInvalidTransition, from, to)
	}

	switch (Edge{from, to}) {
	case Edge{model.TaskAssigned, model.TaskRunning}:
		return Effect{SetStartedAtNow: true}, nil
	case Edge{model.TaskChecking, model.TaskPassed}, Edge{model.TaskChecking, model.TaskFailed}:
		return Effect{SetCompletedAtNow: true}, nil
	case Edge{model.TaskFailed, model.TaskEscalated}:
		return Effect{SetCompletedAtNow: true}, nil
	case Edge{model.TaskFailed, model.TaskPending}:
		return Effect{
			IncrementAttempt:  true,
			ClearStartedAt:    true,
			ClearCompletedAt:  true,
			ClearAssignment:   true,
			RequiresAttemptLT: true,
		}, nil
	case Edge{model.TaskEscalated, model.TaskPending}:
		return Effect{
			IncrementAttempt: true,
			ClearStartedAt:   true,
			ClearCompletedAt: true,
			ClearAssignment:  true,
		}, nil
	case Edge{model.TaskPending, model.TaskAssigned}:
		// DependencyNotSatisfied is checked by the store, which alone
		// knows the dependency edges and their current statuses.
		return Effect{}, nil
	default:
		return Effect{}, nil
	}
}

// RequiresDependencyCheck reports whether (from, to) additionally requires
// every dependency task to be passed before the transition may apply.
func RequiresDependencyCheck(from, to model.TaskStatus) bool {
	return from == model.TaskPending && to == model.TaskAssigned
}
