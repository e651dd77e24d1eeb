// Command gator-orchestrator is the operator-facing CLI: it loads
// configuration, constructs the store/isolation/harness registry/token
// secret, and drives one plan to a terminal Result via
// internal/orchestrator.Dispatch. It owns process-level concerns only —
// flag parsing, signal handling, and translating the Result to an exit
// code (SPEC_FULL.md §6) — the same split the teacher's cmd/orchestrator
// draws between its main.go and internal/runner.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gator/internal/gatorerr"
	"gator/internal/harness"
	"gator/internal/isolation"
	"gator/internal/lifecycle"
	"gator/internal/notify"
	"gator/internal/orchestrator"
	"gator/internal/store"
	"gator/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile         string
		debug           bool
		planID          string
		maxAgents       int
		dbType          string
		dbDSN           string
		isolationMode   string
		projectPath     string
		workDir         string
		baseBranch      string
		containerImage  string
		stageRoot       string
		taskTimeout     time.Duration
		tokenSecret     string
		tokenSecretFile string
		harnessName     string
		harnessCommand  string
		harnessArgs     []string
		databaseURLOut  string
		notifySlack     bool
	)

	cmd := &cobra.Command{
		Use:   "gator-orchestrator",
		Short: "Drive a plan's DAG of tasks to completion",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			telemetry.InitLogger(debug, "")
			logger := slog.Default()

			if planID == "" {
				return fmt.Errorf("--plan-id is required")
			}

			secret, err := resolveTokenSecret(tokenSecret, tokenSecretFile)
			if err != nil {
				return err
			}

			st, err := store.New(store.StoreConfig{Type: dbType, DSN: dbDSN})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			iso, err := isolation.New(isolation.Config{
				Mode:        isolationMode,
				ProjectPath: projectPath,
				WorkDir:     workDir,
				BaseBranch:  baseBranch,
				Image:       containerImage,
				StageRoot:   stageRoot,
			})
			if err != nil {
				return fmt.Errorf("build isolation backend: %w", err)
			}

			harnesses, err := buildHarnesses(harnessName, harnessCommand, harnessArgs, logger)
			if err != nil {
				return err
			}

			lc := lifecycle.New(st, iso, secret, taskTimeout, logger)
			lc.DatabaseURL = databaseURLOut

			orch, err := orchestrator.New(st, lc, harnesses, maxAgents, logger)
			if err != nil {
				return fmt.Errorf("build orchestrator: %w", err)
			}
			if notifySlack {
				orch.Notifier = notify.NewManager(func(f string, a ...interface{}) { logger.Info(fmt.Sprintf(f, a...)) })
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := orch.Dispatch(ctx, planID)
			if err != nil {
				return fmt.Errorf("dispatch plan %s: %w", planID, err)
			}

			logger.Info("plan dispatch finished", "plan_id", planID, "result", result.Kind, "failed_tasks", result.FailedTasks, "awaiting_review", result.TasksAwaitingReview)
			os.Exit(result.ExitCode())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "path to a YAML config file")
	flags.BoolVar(&debug, "debug", false, "verbose logging")
	flags.StringVar(&planID, "plan-id", "", "id of the plan to dispatch (required)")
	flags.IntVar(&maxAgents, "max-agents", 4, "maximum concurrent Lifecycle attempts")
	flags.StringVar(&dbType, "db-type", "sqlite", "store backend: sqlite or postgres")
	flags.StringVar(&dbDSN, "db-dsn", ".gator.db", "store DSN (file path for sqlite, connection string for postgres)")
	flags.StringVar(&isolationMode, "isolation-mode", "worktree", "isolation backend: worktree or container")
	flags.StringVar(&projectPath, "project-path", ".", "path to the project repo (worktree mode)")
	flags.StringVar(&workDir, "work-dir", "", "parent directory for per-task worktrees")
	flags.StringVar(&baseBranch, "base-branch", "main", "base branch worktrees branch from")
	flags.StringVar(&containerImage, "image", "", "agent container image (container mode)")
	flags.StringVar(&stageRoot, "stage-root", "", "host staging directory for container workspaces")
	flags.DurationVar(&taskTimeout, "task-timeout", 30*time.Minute, "per-attempt wall-clock deadline")
	flags.StringVar(&tokenSecret, "token-secret", "", "hex-encoded HMAC secret for scoped tokens")
	flags.StringVar(&tokenSecretFile, "token-secret-file", "", "path to a file containing the hex-encoded token secret")
	flags.StringVar(&harnessName, "harness-name", "process", "name the harness registers under")
	flags.StringVar(&harnessCommand, "harness-command", "", "command the harness spawns per attempt")
	flags.StringSliceVar(&harnessArgs, "harness-args", nil, "arguments passed to harness-command")
	flags.StringVar(&databaseURLOut, "agent-database-url", "", "GATOR_DATABASE_URL passed through to spawned agents")
	flags.BoolVar(&notifySlack, "notify-slack", false, "post plan-lifecycle notifications to Slack (notifications.slack.* config)")

	_ = viper.BindPFlags(flags)

	return cmd
}

func loadConfig(cfgFile string) error {
	if err := godotenv.Load(); err != nil {
		// a missing .env is the common case, not an error.
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("gator")
	}
	viper.SetEnvPrefix("GATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// resolveTokenSecret prefers an explicit --token-secret, then a
// --token-secret-file, then the GATOR_TOKEN_SECRET env var (already bound
// into viper by loadConfig); it never defaults to a hardcoded value since
// an empty secret would mint forgeable tokens.
func resolveTokenSecret(flagValue, secretFile string) ([]byte, error) {
	hexSecret := flagValue
	if hexSecret == "" && secretFile != "" {
		data, err := os.ReadFile(secretFile)
		if err != nil {
			return nil, fmt.Errorf("read token secret file: %w", err)
		}
		hexSecret = strings.TrimSpace(string(data))
	}
	if hexSecret == "" {
		hexSecret = viper.GetString("token_secret")
	}
	if hexSecret == "" {
		return nil, gatorerr.ErrMissingSecret
	}
	return hex.DecodeString(hexSecret)
}

// buildHarnesses constructs the harness registry. A single named
// ProcessHarness is always registered when harnessCommand is set; the
// in-memory mock is also registered (under "mock") so a plan can request
// it explicitly for dry runs without standing up a real agent binary.
func buildHarnesses(name, command string, args []string, logger *slog.Logger) ([]harness.Harness, error) {
	var registry []harness.Harness
	if command != "" {
		registry = append(registry, harness.NewProcessHarness(name, command, args, logger))
	}
	registry = append(registry, harness.NewMockHarness())
	return registry, nil
}
