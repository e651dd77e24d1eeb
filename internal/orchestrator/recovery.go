package orchestrator

import (
	"context"
	"fmt"

	"gator/internal/model"
)

// recoverOrphans implements SPEC_FULL.md §4.9's startup/restart recovery:
// any task left in {assigned, running, checking} was orphaned by a prior
// crash (no Lifecycle is actually running for it anymore). Each is walked
// through the legal transition graph to failed, then settled exactly like
// a normal failed-task sweep — reset to pending with an incremented
// attempt if budget remains, else escalated.
func (o *Orchestrator) recoverOrphans(ctx context.Context, planID string) error {
	tasks, err := o.Store.ListTasksByPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	for _, t := range tasks {
		switch t.Status {
		case model.TaskAssigned, model.TaskRunning, model.TaskChecking:
			if err := o.forceTaskToFailed(ctx, t); err != nil {
				return fmt.Errorf("recover orphaned task %s: %w", t.ID, err)
			}
			t.Status = model.TaskFailed
			if err := o.settleFailedTask(ctx, t); err != nil {
				return fmt.Errorf("settle orphaned task %s: %w", t.ID, err)
			}
		}
	}
	return nil
}

// forceTaskToFailed walks task from assigned/running/checking to failed
// via the only legal edges available (assigned->running->checking->failed),
// since there is no direct edge to failed from anywhere but checking.
func (o *Orchestrator) forceTaskToFailed(ctx context.Context, task model.Task) error {
	status := task.Status
	attempt := task.Attempt

	if status == model.TaskAssigned {
		if err := o.Store.TransitionTask(ctx, task.ID, model.TaskAssigned, model.TaskRunning, attempt); err != nil {
			return err
		}
		status = model.TaskRunning
	}
	if status == model.TaskRunning {
		if err := o.Store.TransitionTask(ctx, task.ID, model.TaskRunning, model.TaskChecking, attempt); err != nil {
			return err
		}
		status = model.TaskChecking
	}
	if status == model.TaskChecking {
		return o.Store.TransitionTask(ctx, task.ID, model.TaskChecking, model.TaskFailed, attempt)
	}
	return nil
}
