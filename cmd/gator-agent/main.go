// Command gator-agent is the process a Harness spawns for one task
// attempt. It is a small, separate cobra binary from cmd/gator-orchestrator
// (mirroring the teacher's relationship between cmd/agent and the main
// cmd/recac CLI): it shares internal/config/internal/telemetry conventions
// but none of the orchestrator's store/isolation/harness wiring concerns
// beyond opening the same store the orchestrator wrote to.
//
// Every subcommand requires GATOR_AGENT_TOKEN and GATOR_TOKEN_SECRET in
// its environment (SPEC_FULL.md §6): the token is validated before any
// subcommand body runs, and its embedded (task_id, attempt) scope is what
// every subcommand acts on — there is no task-id flag to spoof.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gator/internal/gatorerr"
	"gator/internal/invariant"
	"gator/internal/lifecycle"
	"gator/internal/model"
	"gator/internal/store"
	"gator/internal/telemetry"
	"gator/internal/token"
)

type agentContext struct {
	store store.Store
	scope token.Scope
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:   "gator-agent",
		Short: "Scoped CLI surface a running agent uses to talk back to its plan",
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	root.AddCommand(
		newTaskCmd(),
		newCheckCmd(),
		newProgressCmd(),
		newDoneCmd(),
	)

	cobra.OnInitialize(func() {
		telemetry.InitLogger(debug, "")
	})

	return root
}

// openAgentContext validates GATOR_AGENT_TOKEN against GATOR_TOKEN_SECRET
// and opens the store the orchestrator is using, per the agent environment
// SPEC_FULL.md §6 specifies. It refuses to run if GATOR_AGENT_TOKEN is
// unset, since every agent subcommand is agent-mode only.
func openAgentContext(ctx context.Context) (*agentContext, error) {
	tok := os.Getenv("GATOR_AGENT_TOKEN")
	if tok == "" {
		return nil, gatorerr.ErrMissingAgentToken
	}

	secretHex := os.Getenv("GATOR_TOKEN_SECRET")
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("decode GATOR_TOKEN_SECRET: %w", err)
	}

	scope, err := token.Validate(secret, tok)
	if err != nil {
		return nil, fmt.Errorf("validate agent token: %w", err)
	}

	dsn := os.Getenv("GATOR_DATABASE_URL")
	dbType := os.Getenv("GATOR_DB_TYPE")
	st, err := store.New(store.StoreConfig{Type: dbType, DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &agentContext{store: st, scope: scope}, nil
}

func newTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task",
		Short: "Print the materialized task prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ac, err := openAgentContext(ctx)
			if err != nil {
				return err
			}
			defer ac.store.Close()

			task, err := ac.store.GetTask(ctx, ac.scope.TaskID)
			if err != nil {
				return fmt.Errorf("load task: %w", err)
			}
			invariants, err := ac.store.ListTaskInvariants(ctx, task.ID)
			if err != nil {
				return fmt.Errorf("load invariants: %w", err)
			}
			prompt, err := lifecycle.MaterializePrompt(ctx, ac.store, task, invariants)
			if err != nil {
				return fmt.Errorf("materialize prompt: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), prompt)
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run every invariant linked to this task in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ac, err := openAgentContext(ctx)
			if err != nil {
				return err
			}
			defer ac.store.Close()

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getwd: %w", err)
			}

			invariants, err := ac.store.ListTaskInvariants(ctx, ac.scope.TaskID)
			if err != nil {
				return fmt.Errorf("load invariants: %w", err)
			}
			if len(invariants) == 0 {
				return gatorerr.ErrNoInvariantsLinked
			}

			allPassed := true
			results := make([]map[string]interface{}, 0, len(invariants))
			for _, inv := range invariants {
				res, err := invariant.Run(ctx, inv, cwd)
				if err != nil {
					return fmt.Errorf("run invariant %s: %w", inv.Name, err)
				}
				if !res.Passed {
					allPassed = false
				}
				results = append(results, map[string]interface{}{
					"invariant": inv.Name,
					"passed":    res.Passed,
					"exit_code": res.ExitCode,
				})
				status := "PASS"
				if !res.Passed {
					status = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", status, inv.Name)
			}

			// This is the agent's own self-check (SPEC_FULL.md §6): it
			// records what it saw but never transitions task status —
			// that happens only via the orchestrator's official gate run.
			if err := ac.store.AppendAgentEvent(ctx, model.AgentEvent{
				TaskID:    ac.scope.TaskID,
				Attempt:   ac.scope.Attempt,
				EventType: model.EventInvariantCheck,
				Payload:   map[string]interface{}{"passed": allPassed, "results": results},
			}); err != nil {
				slog.Warn("append invariant_check event failed", "error", err)
			}

			if !allPassed {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <message>",
		Short: "Record a progress note against the current task attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ac, err := openAgentContext(ctx)
			if err != nil {
				return err
			}
			defer ac.store.Close()

			return ac.store.AppendAgentEvent(ctx, model.AgentEvent{
				TaskID:    ac.scope.TaskID,
				Attempt:   ac.scope.Attempt,
				EventType: model.EventProgress,
				Payload:   map[string]interface{}{"message": args[0]},
			})
		},
	}
}

func newDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done",
		Short: "Signal that the agent considers its work finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ac, err := openAgentContext(ctx)
			if err != nil {
				return err
			}
			defer ac.store.Close()

			// does not mutate task status, per SPEC_FULL.md §6 — the
			// harness event stream's Completed event is what ends the
			// Lifecycle's wait; this is advisory.
			return ac.store.AppendAgentEvent(ctx, model.AgentEvent{
				TaskID:    ac.scope.TaskID,
				Attempt:   ac.scope.Attempt,
				EventType: model.EventDoneSignal,
			})
		},
	}
}
