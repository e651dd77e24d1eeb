// Package orchestrator is the DAG scheduler: it drives a plan's tasks to
// completion by repeatedly computing the ready set, bounding concurrent
// Lifecycle attempts to max_agents, and sweeping failed tasks toward
// retry or escalation (SPEC_FULL.md §4.9). It owns no task-execution
// logic itself — that's internal/lifecycle — only the scheduling loop,
// grounded on the teacher's internal/runner/orchestrator.go ticker loop
// (refreshGraph + deadlock/failure-rate guardrails + WorkerPool dispatch)
// generalized from an in-memory TaskGraph to the durable store as the
// single source of truth.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gator/internal/gatorerr"
	"gator/internal/harness"
	"gator/internal/lifecycle"
	"gator/internal/model"
	"gator/internal/notify"
	"gator/internal/store"
)

const (
	drainTimeout = 10 * time.Second
	idleSleep    = 50 * time.Millisecond
)

// ResultKind enumerates Dispatch's five terminal return values.
type ResultKind string

const (
	ResultCompleted     ResultKind = "completed"
	ResultFailed        ResultKind = "failed"
	ResultHumanRequired ResultKind = "human_required"
	ResultBudgetExceeded ResultKind = "budget_exceeded"
	ResultInterrupted   ResultKind = "interrupted"
)

// Result is what Dispatch returns once the plan reaches a terminal state.
type Result struct {
	Kind                ResultKind
	FailedTasks         []string
	TasksAwaitingReview []string
	TokenUsed           int64
	TokenBudget         int64
}

// ExitCode maps a Result to the process exit code SPEC_FULL.md §6 defines
// for CLI callers: 0 completed, 1 failed, 2 human-required, 3 budget
// exceeded, 130 interrupted.
func (r Result) ExitCode() int {
	switch r.Kind {
	case ResultCompleted:
		return 0
	case ResultFailed:
		return 1
	case ResultHumanRequired:
		return 2
	case ResultBudgetExceeded:
		return 3
	case ResultInterrupted:
		return 130
	default:
		return 1
	}
}

// Orchestrator dispatches one plan at a time. A single instance may be
// reused across plans since it holds no per-dispatch state outside a
// call to Dispatch.
type Orchestrator struct {
	Store     store.Store
	Lifecycle *lifecycle.Runner
	MaxAgents int
	Logger    *slog.Logger

	// Notifier, if set, receives best-effort posts at plan start, after
	// each attempt, and when Dispatch returns Completed, Failed or
	// HumanRequired (BudgetExceeded and Interrupted post nothing). A nil
	// Notifier disables notifications entirely; failures to notify never
	// affect the Result returned to the caller.
	Notifier notify.Notifier

	harnesses    map[string]harness.Harness
	harnessOrder []string
}

// New builds an Orchestrator. harnesses is the registry, in registration
// order — order matters because it supplies the "first registered"
// fallback SPEC_FULL.md §4.9 step 7 names. The registry is read-only
// after construction.
func New(st store.Store, lc *lifecycle.Runner, harnesses []harness.Harness, maxAgents int, logger *slog.Logger) (*Orchestrator, error) {
	if maxAgents <= 0 {
		return nil, fmt.Errorf("max_agents must be positive, got %d", maxAgents)
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := make(map[string]harness.Harness, len(harnesses))
	order := make([]string, 0, len(harnesses))
	for _, h := range harnesses {
		name := h.Name()
		if _, exists := reg[name]; !exists {
			order = append(order, name)
		}
		reg[name] = h
	}

	return &Orchestrator{
		Store:        st,
		Lifecycle:    lc,
		MaxAgents:    maxAgents,
		Logger:       logger,
		harnesses:    reg,
		harnessOrder: order,
	}, nil
}

type lifecycleCompletion struct {
	task   model.Task
	result lifecycle.Result
}

// notify posts a best-effort notification; a nil Notifier or a send
// failure is logged (at most) and never changes Dispatch's outcome.
func (o *Orchestrator) notify(ctx context.Context, eventType, message string) {
	if o.Notifier == nil {
		return
	}
	if _, err := o.Notifier.Notify(ctx, eventType, message, ""); err != nil {
		o.Logger.Warn("notify failed", "event", eventType, "error", err)
	}
}

// Dispatch runs plan planID to a terminal Result. It blocks until the
// plan completes, fails, needs a human, exceeds its token budget, or ctx
// is cancelled.
func (o *Orchestrator) Dispatch(ctx context.Context, planID string) (Result, error) {
	log := o.Logger.With("plan_id", planID)

	if err := o.validateAcyclic(ctx, planID); err != nil {
		return Result{}, err
	}

	if err := o.recoverOrphans(ctx, planID); err != nil {
		return Result{}, fmt.Errorf("restart recovery: %w", err)
	}

	plan, err := o.Store.GetPlan(ctx, planID)
	if err != nil {
		return Result{}, fmt.Errorf("load plan: %w", err)
	}
	switch plan.Status {
	case model.PlanApproved:
		if err := o.Store.SetPlanStatus(ctx, planID, model.PlanRunning); err != nil {
			return Result{}, err
		}
		o.notify(ctx, notify.EventPlanStarted, fmt.Sprintf("plan %s (%s) started", planID, plan.Name))
	case model.PlanRunning:
		// already dispatching (or resuming after a restart); accept.
	default:
		return Result{}, gatorerr.NewTaskError(gatorerr.KindValidation, planID, "", fmt.Errorf("%w: status=%s", gatorerr.ErrInvalidPlanStatus, plan.Status))
	}

	sem := make(chan struct{}, o.MaxAgents)
	completions := make(chan lifecycleCompletion)
	inFlight := 0

	for {
		// 1. cancellation: drain in-flight work for up to drainTimeout,
		// then report whatever we have.
		select {
		case <-ctx.Done():
			o.drainOnCancel(completions, inFlight)
			_ = o.Store.SetPlanStatus(context.Background(), planID, model.PlanFailed)
			return Result{Kind: ResultInterrupted}, nil
		default:
		}

		// 2. drain completions that already arrived.
		inFlight = o.drainCompletions(ctx, completions, inFlight, log)

		// 3. token budget.
		if plan.TokenBudget != nil {
			used, err := o.Store.SumTokenUsage(ctx, planID)
			if err != nil {
				log.Warn("sum token usage failed", "error", err)
			} else if used >= *plan.TokenBudget {
				_ = o.Store.SetPlanStatus(ctx, planID, model.PlanFailed)
				return Result{Kind: ResultBudgetExceeded, TokenUsed: used, TokenBudget: *plan.TokenBudget}, nil
			}
		}

		tasks, err := o.Store.ListTasksByPlan(ctx, planID)
		if err != nil {
			return Result{}, fmt.Errorf("list tasks: %w", err)
		}

		// 4. completion check.
		if allPassed(tasks) {
			if err := o.Store.SetPlanStatus(ctx, planID, model.PlanCompleted); err != nil {
				return Result{}, err
			}
			o.notify(ctx, notify.EventPlanCompleted, fmt.Sprintf("plan %s completed", planID))
			return Result{Kind: ResultCompleted}, nil
		}

		// 5. stuck-plan classification.
		active, checking, escalated := classify(tasks)
		if !active && inFlight == 0 {
			if len(checking) > 0 {
				o.notify(ctx, notify.EventHumanRequired, fmt.Sprintf("plan %s has %d task(s) awaiting human review: %v", planID, len(checking), checking))
				return Result{Kind: ResultHumanRequired, TasksAwaitingReview: checking}, nil
			}
			if len(escalated) > 0 {
				if err := o.Store.SetPlanStatus(ctx, planID, model.PlanFailed); err != nil {
					return Result{}, err
				}
				o.notify(ctx, notify.EventGateFailed, fmt.Sprintf("plan %s failed: escalated task(s) %v", planID, escalated))
				return Result{Kind: ResultFailed, FailedTasks: escalated}, nil
			}
		}

		// 6. failed-task sweep: only while nothing is in flight, so a
		// task's attempt counter never moves while its own Lifecycle
		// might still be writing to it.
		if inFlight == 0 {
			swept := false
			for _, t := range tasks {
				if t.Status != model.TaskFailed {
					continue
				}
				swept = true
				if err := o.settleFailedTask(ctx, t); err != nil {
					log.Warn("settle failed task failed", "task_id", t.ID, "error", err)
				}
			}
			if swept {
				continue
			}
		}

		// 7. dispatch ready tasks, bounded by max_agents.
		ready, err := o.Store.ReadyTasks(ctx, planID)
		if err != nil {
			return Result{}, fmt.Errorf("ready tasks: %w", err)
		}
		spawned := o.spawnReady(ctx, plan, ready, sem, completions, &inFlight, log)

		// 8. idle wait or wait for the next completion.
		if spawned == 0 && inFlight == 0 {
			select {
			case <-time.After(idleSleep):
			case <-ctx.Done():
			}
		} else {
			select {
			case c := <-completions:
				inFlight--
				o.handleCompletion(ctx, c, log)
			case <-ctx.Done():
			}
		}
	}
}
