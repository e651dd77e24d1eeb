package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"gator/internal/gate"
	"gator/internal/model"
	"gator/internal/store"
)

const feedbackSnippetLimit = 2048

// materializePrompt is the Runner-bound entry point used by Run; it just
// forwards to MaterializePrompt using the Runner's own store.
func (r *Runner) materializePrompt(ctx context.Context, task model.Task, invariants []model.Invariant) (string, error) {
	return MaterializePrompt(ctx, r.Store, task, invariants)
}

// MaterializePrompt assembles the markdown prompt handed to the agent: the
// task description, its current status, its dependencies with their
// current status, the invariant commands it must satisfy, and — for a
// retry — a "Previous Attempt Feedback" section built from the last
// attempt's failing gate results. Exported so cmd/gator-agent's "task"
// subcommand can render the identical prompt without needing a full
// Runner (isolation backend, token secret) of its own.
func MaterializePrompt(ctx context.Context, st store.Store, task model.Task, invariants []model.Invariant) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task: %s\n\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", task.Description)
	}
	fmt.Fprintf(&b, "Status: %s (attempt %d)\n\n", task.Status, task.Attempt)

	deps, err := st.ListTaskDependencies(ctx, task.PlanID)
	if err != nil {
		return "", fmt.Errorf("load dependencies: %w", err)
	}
	var own []model.TaskDependency
	for _, d := range deps {
		if d.TaskID == task.ID {
			own = append(own, d)
		}
	}
	if len(own) > 0 {
		b.WriteString("## Dependencies\n\n")
		for _, d := range own {
			dep, err := st.GetTask(ctx, d.DependsOnID)
			if err != nil {
				return "", fmt.Errorf("load dependency %s: %w", d.DependsOnID, err)
			}
			fmt.Fprintf(&b, "- %s: %s\n", dep.Name, dep.Status)
		}
		b.WriteString("\n")
	}

	if len(invariants) > 0 {
		b.WriteString("## Invariants to satisfy\n\n")
		for _, inv := range invariants {
			fmt.Fprintf(&b, "- `%s %s` (expect exit %d)\n", inv.Command, strings.Join(inv.Args, " "), inv.ExpectedExitCode)
		}
		b.WriteString("\n")
	}

	if task.Attempt > 0 {
		failing, err := st.LastFailingGateResults(ctx, task.ID, task.Attempt-1)
		if err != nil {
			return "", fmt.Errorf("load previous gate results: %w", err)
		}
		if len(failing) > 0 {
			b.WriteString("## Previous Attempt Feedback\n\n")
			for _, gr := range failing {
				exitCode := "unknown"
				if gr.ExitCode != nil {
					exitCode = fmt.Sprintf("%d", *gr.ExitCode)
				}
				fmt.Fprintf(&b, "- %s (exit %s):\n\n```\n%s\n```\n\n", gr.InvariantName, exitCode, gate.TruncateUTF8(gr.Stderr, feedbackSnippetLimit))
			}
		}
	}

	return b.String(), nil
}
