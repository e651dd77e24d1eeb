// Package gate runs every invariant linked to a task and turns the results
// into a verdict, then evaluates that verdict against the task's gate
// policy and retry budget (SPEC_FULL.md §4.4, §4.5). The aggregate-report
// shape is grounded on the teacher's internal/runner/qa.go QAReport
// (total/passed/failed summary over a feature list), generalized from a
// whole-project feature list to one task's invariant set.
package gate

import (
	"context"
	"fmt"

	"gator/internal/gatorerr"
	"gator/internal/invariant"
	"gator/internal/model"
	"gator/internal/store"
)

const stderrSnippetLimit = 1024

// Failure is one failing invariant's summary for a Verdict.
type Failure struct {
	InvariantName string
	ExitCode      *int
	StderrSnippet string
}

// Verdict is the Gate Runner's aggregate outcome for one (task, attempt).
type Verdict struct {
	Passed   bool
	Failures []Failure
}

// Run executes run_gate(task_id): transition running->checking, load the
// task's linked invariants (erroring if none are linked), run each via
// internal/invariant, persist a GateResult row per invariant best-effort,
// and aggregate into a Verdict.
func Run(ctx context.Context, st store.Store, taskID string) (Verdict, error) {
	task, err := st.GetTask(ctx, taskID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load task: %w", err)
	}

	if err := st.TransitionTask(ctx, taskID, model.TaskRunning, model.TaskChecking, task.Attempt); err != nil {
		return Verdict{}, err
	}

	if task.WorkspacePath == "" {
		return Verdict{}, gatorerr.NewTaskError(gatorerr.KindValidation, task.PlanID, taskID, fmt.Errorf("task has no workspace_path"))
	}

	invariants, err := st.ListTaskInvariants(ctx, taskID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load invariants: %w", err)
	}
	if len(invariants) == 0 {
		return Verdict{}, gatorerr.NewTaskError(gatorerr.KindValidation, task.PlanID, taskID, gatorerr.ErrNoInvariantsLinked)
	}

	verdict := Verdict{Passed: true}
	for _, inv := range invariants {
		res, err := invariant.Run(ctx, inv, task.WorkspacePath)
		if err != nil {
			return Verdict{}, fmt.Errorf("run invariant %s: %w", inv.Name, err)
		}

		gr := model.GateResult{
			TaskID:        taskID,
			InvariantID:   inv.ID,
			InvariantName: inv.Name,
			Attempt:       task.Attempt,
			Passed:        res.Passed,
			ExitCode:      res.ExitCode,
			Stdout:        res.Stdout,
			Stderr:        res.Stderr,
			DurationMs:    res.DurationMs,
		}
		if saveErr := st.SaveGateResult(ctx, gr); saveErr != nil {
			// best-effort audit trail; a persistence failure does not
			// abort the gate run.
			_ = saveErr
		}

		if !res.Passed {
			verdict.Passed = false
			verdict.Failures = append(verdict.Failures, Failure{
				InvariantName: inv.Name,
				ExitCode:      res.ExitCode,
				StderrSnippet: TruncateUTF8(res.Stderr, stderrSnippetLimit),
			})
		}
	}

	return verdict, nil
}

// TruncateUTF8 cuts s to at most limit bytes without splitting a
// multi-byte rune, appending "…" when truncation occurred.
func TruncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
