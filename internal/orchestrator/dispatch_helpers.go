package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"gator/internal/harness"
	"gator/internal/lifecycle"
	"gator/internal/model"
	"gator/internal/notify"
)

// spawnReady acquires a permit per ready task (bounded by cap(sem)), picks
// a harness, and spawns a Lifecycle attempt that posts its result to
// completions on exit. It stops trying once the semaphore is full —
// remaining ready tasks are picked up on a later tick. Returns the number
// of tasks actually spawned this call.
func (o *Orchestrator) spawnReady(ctx context.Context, plan model.Plan, ready []model.Task, sem chan struct{}, completions chan<- lifecycleCompletion, inFlight *int, log *slog.Logger) int {
	spawned := 0
	for _, t := range ready {
		h, ok := o.resolveHarness(plan, t)
		if !ok {
			log.Warn("no harness available for task, skipping dispatch this tick", "task_id", t.ID)
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			// at capacity; remaining ready tasks wait for a later tick.
			return spawned
		}

		*inFlight++
		spawned++
		log.Info("dispatching task", "task_id", t.ID, "task_name", t.Name, "attempt", t.Attempt, "harness", h.Name())

		go func(task model.Task, h harness.Harness) {
			defer func() { <-sem }()
			result := o.Lifecycle.Run(ctx, plan, task, h)
			select {
			case completions <- lifecycleCompletion{task: task, result: result}:
			case <-ctx.Done():
			}
		}(t, h)
	}
	return spawned
}

// resolveHarness applies per-task requested > plan default > first
// registered, warning on a fallback and reporting false if the registry
// is empty (SPEC_FULL.md §4.9 step 7).
func (o *Orchestrator) resolveHarness(plan model.Plan, task model.Task) (harness.Harness, bool) {
	if len(o.harnessOrder) == 0 {
		return nil, false
	}

	name := task.RequestedHarness
	if name == "" {
		name = plan.DefaultHarness
	}
	if name == "" {
		name = o.harnessOrder[0]
	}

	if h, ok := o.harnesses[name]; ok {
		return h, true
	}

	fallback := o.harnessOrder[0]
	o.Logger.Warn("requested harness not registered, falling back",
		"task_id", task.ID, "requested", name, "fallback", fallback)
	return o.harnesses[fallback], true
}

// drainCompletions consumes every completion already buffered in the
// channel without blocking (step 2 of the main loop).
func (o *Orchestrator) drainCompletions(ctx context.Context, completions <-chan lifecycleCompletion, inFlight int, log *slog.Logger) int {
	for {
		select {
		case c := <-completions:
			inFlight--
			o.handleCompletion(ctx, c, log)
		default:
			return inFlight
		}
	}
}

// handleCompletion logs the outcome. The task's own status was already
// driven to a terminal or checking state inside Lifecycle.Run; the main
// loop's failed-task sweep (step 6) decides retry vs escalate on the
// next iteration once nothing is in flight.
func (o *Orchestrator) handleCompletion(ctx context.Context, c lifecycleCompletion, log *slog.Logger) {
	if c.result.Err != nil {
		log.Warn("lifecycle attempt ended with an error", "task_id", c.task.ID, "outcome", c.result.Outcome, "error", c.result.Err)
		return
	}
	log.Info("lifecycle attempt finished", "task_id", c.task.ID, "outcome", c.result.Outcome)

	switch c.result.Outcome {
	case lifecycle.Passed:
		o.notify(ctx, notify.EventGatePassed, fmt.Sprintf("task %s passed on attempt %d", c.task.Name, c.result.Attempt))
	case lifecycle.HumanRequired:
		o.notify(ctx, notify.EventHumanRequired, fmt.Sprintf("task %s needs human review after attempt %d", c.task.Name, c.result.Attempt))
	case lifecycle.FailedCanRetry, lifecycle.FailedNoRetry, lifecycle.TimedOut:
		o.notify(ctx, notify.EventGateFailed, fmt.Sprintf("task %s failed attempt %d (%s)", c.task.Name, c.result.Attempt, c.result.Outcome))
	}
}

// settleFailedTask applies the failed->pending retry edge when the task
// still has retry budget, else failed->escalated.
func (o *Orchestrator) settleFailedTask(ctx context.Context, task model.Task) error {
	if task.Attempt < task.RetryMax {
		return o.Store.TransitionTask(ctx, task.ID, model.TaskFailed, model.TaskPending, task.Attempt)
	}
	return o.Store.TransitionTask(ctx, task.ID, model.TaskFailed, model.TaskEscalated, task.Attempt)
}

// allPassed reports whether every task has reached TaskPassed.
func allPassed(tasks []model.Task) bool {
	for _, t := range tasks {
		if t.Status != model.TaskPassed {
			return false
		}
	}
	return true
}

// classify reports whether any task is still actively progressing
// (pending/assigned/running/failed — all of which can still produce more
// work) and collects the names of tasks stuck in checking or escalated.
func classify(tasks []model.Task) (active bool, checking, escalated []string) {
	for _, t := range tasks {
		switch t.Status {
		case model.TaskPending, model.TaskAssigned, model.TaskRunning, model.TaskFailed:
			active = true
		case model.TaskChecking:
			checking = append(checking, t.Name)
		case model.TaskEscalated:
			escalated = append(escalated, t.Name)
		}
	}
	return active, checking, escalated
}
