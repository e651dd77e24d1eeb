package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"gator/internal/gatorerr"
	"gator/internal/model"
	"gator/internal/statemachine"
)

// PostgresStore implements Store using PostgreSQL, grounded on the
// teacher's internal/db/postgres.go migration/CRUD idiom (best-effort
// CREATE TABLE IF NOT EXISTS followed by fine-grained ADD COLUMN IF NOT
// EXISTS fixups for older installations).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn and applies migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			project_path TEXT NOT NULL,
			base_branch TEXT NOT NULL,
			token_budget BIGINT,
			default_harness TEXT NOT NULL,
			isolation_mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			approved_at TIMESTAMP,
			completed_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL REFERENCES plans(id),
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'narrow',
			gate_policy TEXT NOT NULL DEFAULT 'auto',
			retry_max INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			assigned_harness TEXT,
			requested_harness TEXT,
			workspace_path TEXT,
			attempt INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			UNIQUE(plan_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id TEXT NOT NULL REFERENCES tasks(id),
			depends_on_id TEXT NOT NULL REFERENCES tasks(id),
			PRIMARY KEY (task_id, depends_on_id)
		);`,
		`CREATE TABLE IF NOT EXISTS invariants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL,
			args TEXT NOT NULL DEFAULT '[]',
			expected_exit_code INTEGER NOT NULL DEFAULT 0,
			timeout_secs INTEGER NOT NULL DEFAULT 30,
			scope TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			threshold DOUBLE PRECISION
		);`,
		`CREATE TABLE IF NOT EXISTS task_invariants (
			task_id TEXT NOT NULL REFERENCES tasks(id),
			invariant_id TEXT NOT NULL REFERENCES invariants(id),
			PRIMARY KEY (task_id, invariant_id)
		);`,
		`CREATE TABLE IF NOT EXISTS gate_results (
			id SERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			invariant_id TEXT NOT NULL,
			invariant_name TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			passed BOOLEAN NOT NULL,
			exit_code INTEGER,
			stdout TEXT,
			stderr TEXT,
			duration_ms BIGINT,
			checked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS agent_events (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_plan_status ON tasks(plan_id, status)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_gate_results_task_attempt ON gate_results(task_id, attempt)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agent_events_task_attempt ON agent_events(task_id, attempt)`)
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreatePlan(ctx context.Context, plan model.Plan, tasks []model.Task, deps []model.TaskDependency, taskInvariants []model.TaskInvariant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO plans (id, name, project_path, base_branch, token_budget, default_harness, isolation_mode, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`,
		plan.ID, plan.Name, plan.ProjectPath, plan.BaseBranch, plan.TokenBudget, plan.DefaultHarness, plan.IsolationMode, model.PlanDraft); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (id, plan_id, name, description, scope, gate_policy, retry_max, status, requested_harness, attempt, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,NOW())`,
			t.ID, plan.ID, t.Name, t.Description, t.Scope, t.GatePolicy, t.RetryMax, model.TaskPending, nullIfEmpty(t.RequestedHarness)); err != nil {
			return fmt.Errorf("insert task %s: %w", t.Name, err)
		}
	}
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_dependencies (task_id, depends_on_id) VALUES ($1,$2)`, d.TaskID, d.DependsOnID); err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
	}
	for _, ti := range taskInvariants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_invariants (task_id, invariant_id) VALUES ($1,$2)`, ti.TaskID, ti.InvariantID); err != nil {
			return fmt.Errorf("insert task invariant: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, project_path, base_branch, token_budget, default_harness, isolation_mode, status, created_at, approved_at, completed_at FROM plans WHERE id=$1`, planID)
	return scanPlan(row)
}

func (s *PostgresStore) ApprovePlan(ctx context.Context, planID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET status=$1, approved_at=NOW() WHERE id=$2 AND status=$3`, model.PlanApproved, planID, model.PlanDraft)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func (s *PostgresStore) SetPlanStatus(ctx context.Context, planID string, status model.PlanStatus) error {
	var err error
	switch status {
	case model.PlanRunning:
		_, err = s.db.ExecContext(ctx, `UPDATE plans SET status=$1 WHERE id=$2`, status, planID)
	case model.PlanCompleted, model.PlanFailed:
		_, err = s.db.ExecContext(ctx, `UPDATE plans SET status=$1, completed_at=NOW() WHERE id=$2 AND completed_at IS NULL`, status, planID)
	default:
		_, err = s.db.ExecContext(ctx, `UPDATE plans SET status=$1 WHERE id=$2`, status, planID)
	}
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, plan_id, name, description, scope, gate_policy, retry_max, status, assigned_harness, requested_harness, workspace_path, attempt, created_at, started_at, completed_at FROM tasks WHERE id=$1`, taskID)
	return scanTask(row)
}

func (s *PostgresStore) ListTasksByPlan(ctx context.Context, planID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, plan_id, name, description, scope, gate_policy, retry_max, status, assigned_harness, requested_harness, workspace_path, attempt, created_at, started_at, completed_at FROM tasks WHERE plan_id=$1`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) ListTaskDependencies(ctx context.Context, planID string) ([]model.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT td.task_id, td.depends_on_id FROM task_dependencies td JOIN tasks t ON t.id = td.task_id WHERE t.plan_id=$1`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeps(rows)
}

func (s *PostgresStore) ReadyTasks(ctx context.Context, planID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, plan_id, name, description, scope, gate_policy, retry_max, status, assigned_harness, requested_harness, workspace_path, attempt, created_at, started_at, completed_at
		FROM tasks t WHERE t.plan_id=$1 AND t.status=$2
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies td JOIN tasks dep ON dep.id = td.depends_on_id
			WHERE td.task_id = t.id AND dep.status <> $3
		)`, planID, model.TaskPending, model.TaskPassed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) TransitionTask(ctx context.Context, taskID string, from, to model.TaskStatus, observedAttempt int) error {
	return transitionTask(ctx, s.db, "$", taskID, from, to, observedAttempt)
}

func (s *PostgresStore) AssignTask(ctx context.Context, taskID, harness, workspacePath string, observedAttempt int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status=$1, assigned_harness=$2, workspace_path=$3 WHERE id=$4 AND status=$5 AND attempt=$6`,
		model.TaskAssigned, harness, workspacePath, taskID, model.TaskPending, observedAttempt)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func (s *PostgresStore) CreateInvariant(ctx context.Context, inv model.Invariant) error {
	argsJSON, err := json.Marshal(inv.Args)
	if err != nil {
		return fmt.Errorf("marshal invariant args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO invariants (id, name, kind, command, args, expected_exit_code, timeout_secs, scope, description, threshold)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		inv.ID, inv.Name, inv.Kind, inv.Command, string(argsJSON), inv.ExpectedExitCode, inv.TimeoutSecs, inv.Scope, inv.Description, inv.Threshold)
	return err
}

func (s *PostgresStore) LinkTaskInvariant(ctx context.Context, taskID, invariantID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_invariants (task_id, invariant_id) VALUES ($1,$2)`, taskID, invariantID)
	return err
}

func (s *PostgresStore) GetInvariant(ctx context.Context, invariantID string) (model.Invariant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, kind, command, args, expected_exit_code, timeout_secs, scope, description, threshold FROM invariants WHERE id=$1`, invariantID)
	return scanInvariant(row)
}

func (s *PostgresStore) ListTaskInvariants(ctx context.Context, taskID string) ([]model.Invariant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT i.id, i.name, i.kind, i.command, i.args, i.expected_exit_code, i.timeout_secs, i.scope, i.description, i.threshold
		FROM invariants i JOIN task_invariants ti ON ti.invariant_id = i.id WHERE ti.task_id=$1`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvariants(rows)
}

func (s *PostgresStore) SaveGateResult(ctx context.Context, r model.GateResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gate_results (task_id, invariant_id, invariant_name, attempt, passed, exit_code, stdout, stderr, duration_ms, checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())`,
		r.TaskID, r.InvariantID, r.InvariantName, r.Attempt, r.Passed, r.ExitCode, r.Stdout, r.Stderr, r.DurationMs)
	return err
}

func (s *PostgresStore) ListGateResults(ctx context.Context, taskID string, attempt int) ([]model.GateResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, invariant_id, invariant_name, attempt, passed, exit_code, stdout, stderr, duration_ms, checked_at FROM gate_results WHERE task_id=$1 AND attempt=$2 ORDER BY checked_at`, taskID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGateResults(rows)
}

func (s *PostgresStore) LastFailingGateResults(ctx context.Context, taskID string, attempt int) ([]model.GateResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, invariant_id, invariant_name, attempt, passed, exit_code, stdout, stderr, duration_ms, checked_at FROM gate_results WHERE task_id=$1 AND attempt=$2 AND passed=false ORDER BY checked_at`, taskID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGateResults(rows)
}

func (s *PostgresStore) AppendAgentEvent(ctx context.Context, e model.AgentEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agent_events (task_id, attempt, event_type, payload, recorded_at) VALUES ($1,$2,$3,$4,NOW())`,
		e.TaskID, e.Attempt, e.EventType, string(payload))
	return err
}

func (s *PostgresStore) SumTokenUsage(ctx context.Context, planID string) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ae.payload FROM agent_events ae JOIN tasks t ON t.id = ae.task_id WHERE t.plan_id=$1 AND ae.event_type=$2`, planID, model.EventTokenUsage)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	return sumTokenPayloads(rows)
}

// transitionTask implements the conditional UPDATE shared by both backends;
// placeholderPrefix is "$" for postgres (numbered) or "?" for sqlite.
func transitionTask(ctx context.Context, db *sql.DB, placeholderPrefix string, taskID string, from, to model.TaskStatus, observedAttempt int) error {
	eff, err := statemachine.Validate(from, to)
	if err != nil {
		return gatorerr.NewTaskError(gatorerr.KindValidation, "", taskID, err)
	}

	if statemachine.RequiresDependencyCheck(from, to) {
		satisfied, err := dependenciesSatisfied(ctx, db, placeholderPrefix, taskID)
		if err != nil {
			return err
		}
		if !satisfied {
			return gatorerr.NewTaskError(gatorerr.KindPolicy, "", taskID, gatorerr.ErrDependencyNotSatisfied)
		}
	}

	setParts := []string{"status = ?"}
	args := []interface{}{to}
	if eff.SetStartedAtNow {
		setParts = append(setParts, "started_at = ?")
		args = append(args, time.Now().UTC())
	}
	if eff.ClearStartedAt {
		setParts = append(setParts, "started_at = NULL")
	}
	if eff.SetCompletedAtNow {
		setParts = append(setParts, "completed_at = ?")
		args = append(args, time.Now().UTC())
	}
	if eff.ClearCompletedAt {
		setParts = append(setParts, "completed_at = NULL")
	}
	if eff.IncrementAttempt {
		setParts = append(setParts, "attempt = attempt + 1")
	}
	if eff.ClearAssignment {
		setParts = append(setParts, "assigned_harness = NULL", "workspace_path = NULL")
	}

	whereParts := []string{"id = ?", "status = ?"}
	args = append(args, taskID, from)
	if eff.RequiresAttemptLT {
		whereParts = append(whereParts, "attempt < retry_max", "attempt = ?")
		args = append(args, observedAttempt)
	} else if from == to || eff.IncrementAttempt {
		whereParts = append(whereParts, "attempt = ?")
		args = append(args, observedAttempt)
	}

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE %s", strings.Join(setParts, ", "), strings.Join(whereParts, " AND "))
	query = rebind(query, placeholderPrefix)

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func dependenciesSatisfied(ctx context.Context, db *sql.DB, placeholderPrefix, taskID string) (bool, error) {
	query := rebind(`SELECT COUNT(*) FROM task_dependencies td JOIN tasks dep ON dep.id = td.depends_on_id WHERE td.task_id = ? AND dep.status <> ?`, placeholderPrefix)
	var n int
	if err := db.QueryRowContext(ctx, query, taskID, model.TaskPassed).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// rebind rewrites "?" placeholders into "$1", "$2", ... when prefix is "$";
// sqlite keeps "?" as-is.
func rebind(query, prefix string) string {
	if prefix == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "%s%d", prefix, n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func checkOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return gatorerr.ErrOptimisticLockFailed
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
