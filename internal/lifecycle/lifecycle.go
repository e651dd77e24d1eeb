// Package lifecycle runs a single attempt of a single task end to end:
// create a workspace, mint a token, spawn the agent, stream its events,
// gate the result, and report a terminal outcome. It never writes
// plan-level state and never decides retry vs. escalate — that is the
// Orchestrator's job (SPEC_FULL.md §4.8).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gator/internal/gate"
	"gator/internal/harness"
	"gator/internal/isolation"
	"gator/internal/model"
	"gator/internal/store"
	"gator/internal/token"
)

var tracer = otel.Tracer("gator/lifecycle")

// Outcome enumerates the terminal results of one attempt.
type Outcome string

const (
	Passed         Outcome = "passed"
	FailedCanRetry Outcome = "failed_can_retry"
	FailedNoRetry  Outcome = "failed_no_retry"
	HumanRequired  Outcome = "human_required"
	TimedOut       Outcome = "timed_out"
)

// Result is what an attempt reports back to the Orchestrator.
type Result struct {
	Outcome  Outcome
	TaskID   string
	Attempt  int
	Verdict  gate.Verdict
	Err      error
}

// Runner executes single attempts. It is stateless aside from its
// collaborators, so one Runner can be shared across concurrent attempts.
type Runner struct {
	Store       store.Store
	Isolation   isolation.Backend
	TokenSecret []byte
	DatabaseURL string // passed through to the agent env when non-empty
	TaskTimeout time.Duration
	Logger      *slog.Logger
}

func New(st store.Store, iso isolation.Backend, tokenSecret []byte, taskTimeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Minute
	}
	return &Runner{Store: st, Isolation: iso, TokenSecret: tokenSecret, TaskTimeout: taskTimeout, Logger: logger}
}

// Run executes one attempt of task using h, per the 12 ordered steps of
// SPEC_FULL.md §4.8.
func (r *Runner) Run(ctx context.Context, plan model.Plan, task model.Task, h harness.Harness) Result {
	ctx, span := tracer.Start(ctx, "lifecycle.run", trace.WithAttributes(
		attribute.String("task_id", task.ID),
		attribute.String("plan_id", plan.ID),
		attribute.Int("attempt", task.Attempt),
	))
	defer span.End()

	log := r.Logger.With("task_id", task.ID, "plan_id", plan.ID, "attempt", task.Attempt)

	// 1. create workspace
	ws, err := step(ctx, "create_workspace", func(ctx context.Context) (isolation.WorkspaceInfo, error) {
		return r.Isolation.CreateWorkspace(ctx, plan.Name, task.Name)
	})
	if err != nil {
		log.Error("create workspace failed", "error", err)
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	// 2. mint token
	tok, err := token.Mint(r.TokenSecret, token.Scope{TaskID: task.ID, Attempt: task.Attempt})
	if err != nil {
		log.Error("mint token failed", "error", err)
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	// 3. materialize prompt
	invariants, err := r.Store.ListTaskInvariants(ctx, task.ID)
	if err != nil {
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: fmt.Errorf("load invariants: %w", err)}
	}
	prompt, err := r.materializePrompt(ctx, task, invariants)
	if err != nil {
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	// 4. build env
	env := buildEnv(tok, r.TokenSecret, r.DatabaseURL, ws)

	// 5. assign
	if err := r.Store.AssignTask(ctx, task.ID, h.Name(), ws.HostPath, task.Attempt); err != nil {
		log.Error("assign failed", "error", err)
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	invariantCmds := make([]string, len(invariants))
	for i, inv := range invariants {
		invariantCmds[i] = fmt.Sprintf("%s %v", inv.Command, inv.Args)
	}

	// 6. spawn
	handle, err := step(ctx, "spawn", func(ctx context.Context) (harness.Handle, error) {
		return h.Spawn(ctx, harness.MaterializedTask{
			TaskID:            task.ID,
			Attempt:           task.Attempt,
			Name:              task.Name,
			Description:       prompt,
			InvariantCommands: invariantCmds,
			WorkingDir:        ws.AgentPath,
			Env:               env,
		})
	})
	if err != nil {
		log.Error("spawn failed", "error", err)
		return Result{Outcome: FailedCanRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	// 7. transition assigned -> running
	if err := r.Store.TransitionTask(ctx, task.ID, model.TaskAssigned, model.TaskRunning, task.Attempt); err != nil {
		log.Error("transition to running failed", "error", err)
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	// 8. stream events with deadline
	if timedOut := r.streamEvents(ctx, log, h, handle, task); timedOut {
		if err := r.Store.TransitionTask(ctx, task.ID, model.TaskRunning, model.TaskChecking, task.Attempt); err != nil {
			log.Warn("transition to checking after timeout failed", "error", err)
		}
		if err := r.Store.TransitionTask(ctx, task.ID, model.TaskChecking, model.TaskFailed, task.Attempt); err != nil {
			log.Warn("transition to failed after timeout failed", "error", err)
		}
		return Result{Outcome: TimedOut, TaskID: task.ID, Attempt: task.Attempt}
	}

	// 9. extract results (no-op for host workspaces)
	if err := r.Isolation.ExtractResults(ctx, ws); err != nil {
		log.Warn("extract results failed", "error", err)
	}

	// 10. run gate, evaluate
	verdict, err := gate.Run(ctx, r.Store, task.ID)
	if err != nil {
		log.Error("gate run failed", "error", err)
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	current, err := r.Store.GetTask(ctx, task.ID)
	if err != nil {
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Err: err}
	}

	action, err := gate.Evaluate(ctx, r.Store, current, verdict)
	if err != nil {
		log.Error("gate evaluate failed", "error", err)
		return Result{Outcome: FailedNoRetry, TaskID: task.ID, Attempt: task.Attempt, Verdict: verdict, Err: err}
	}

	// 11. on auto-pass, commit
	if action.Kind == gate.ActionAutoPassed {
		if err := commitWorkspace(ctx, ws.HostPath, fmt.Sprintf("%s (attempt %d)", task.Name, task.Attempt)); err != nil {
			log.Warn("auto-commit failed", "error", err)
		}
	}

	return Result{Outcome: outcomeFor(action), TaskID: task.ID, Attempt: task.Attempt, Verdict: verdict}
}

func outcomeFor(action gate.Action) Outcome {
	switch action.Kind {
	case gate.ActionAutoPassed:
		return Passed
	case gate.ActionHumanRequired:
		return HumanRequired
	default:
		if action.CanRetry {
			return FailedCanRetry
		}
		return FailedNoRetry
	}
}

// step wraps a single Lifecycle step in its own child span of
// lifecycle.run; Run uses it for the create-workspace and spawn steps.
func step[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "lifecycle."+name)
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return v, err
}

// streamEvents reads the harness's event stream, persisting each event
// best-effort, until the stream closes (Completed) or task_timeout elapses.
// Returns true if the deadline was hit before the stream closed.
func (r *Runner) streamEvents(ctx context.Context, log *slog.Logger, h harness.Harness, handle harness.Handle, task model.Task) bool {
	events, err := h.Events(handle)
	if err != nil {
		log.Error("events failed", "error", err)
		return false
	}

	deadline := time.NewTimer(r.TaskTimeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			ev.TaskID = task.ID
			ev.Attempt = task.Attempt
			if err := r.Store.AppendAgentEvent(ctx, ev); err != nil {
				log.Warn("append agent event failed", "error", err)
			}
			if ev.EventType == model.EventCompleted {
				return false
			}
		case <-deadline.C:
			log.Warn("task timed out, killing agent", "budget", r.TaskTimeout.String())
			if err := h.Kill(handle); err != nil {
				log.Warn("kill failed", "error", err)
			}
			return true
		case <-ctx.Done():
			return false
		}
	}
}
