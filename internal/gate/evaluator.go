package gate

import (
	"context"

	"gator/internal/model"
	"gator/internal/store"
)

// ActionKind enumerates the Gate Evaluator's possible outputs.
type ActionKind string

const (
	ActionAutoPassed    ActionKind = "auto_passed"
	ActionAutoFailed    ActionKind = "auto_failed"
	ActionHumanRequired ActionKind = "human_required"
)

// Action is the Gate Evaluator's policy-aware translation of a Verdict
// into a next step. The Lifecycle acts on Kind; the Orchestrator decides
// retry vs. escalate once a task lands in failed (SPEC_FULL.md §4.5).
type Action struct {
	Kind     ActionKind
	CanRetry bool
}

// Evaluate applies the task's gate policy and retry budget to verdict and
// persists the resulting checking->{passed,failed} transition (or leaves
// the task in checking for HumanRequired).
func Evaluate(ctx context.Context, st store.Store, task model.Task, verdict Verdict) (Action, error) {
	if verdict.Passed {
		switch task.GatePolicy {
		case model.GateAuto:
			if err := st.TransitionTask(ctx, task.ID, model.TaskChecking, model.TaskPassed, task.Attempt); err != nil {
				return Action{}, err
			}
			return Action{Kind: ActionAutoPassed}, nil
		default: // human_review, human_approve
			return Action{Kind: ActionHumanRequired}, nil
		}
	}

	switch task.GatePolicy {
	case model.GateAuto:
		if err := st.TransitionTask(ctx, task.ID, model.TaskChecking, model.TaskFailed, task.Attempt); err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionAutoFailed, CanRetry: task.Attempt < task.RetryMax}, nil
	default: // human_review, human_approve
		return Action{Kind: ActionHumanRequired}, nil
	}
}
