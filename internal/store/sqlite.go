package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"gator/internal/model"
)

// SQLiteStore implements Store using SQLite, grounded on the teacher's
// internal/db/sqlite.go (same WAL + busy-timeout DSN tuning).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path and applies migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			project_path TEXT NOT NULL,
			base_branch TEXT NOT NULL,
			token_budget INTEGER,
			default_harness TEXT NOT NULL,
			isolation_mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			approved_at DATETIME,
			completed_at DATETIME
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
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			completed_at DATETIME,
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
			threshold REAL
		);`,
		`CREATE TABLE IF NOT EXISTS task_invariants (
			task_id TEXT NOT NULL REFERENCES tasks(id),
			invariant_id TEXT NOT NULL REFERENCES invariants(id),
			PRIMARY KEY (task_id, invariant_id)
		);`,
		`CREATE TABLE IF NOT EXISTS gate_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			invariant_id TEXT NOT NULL,
			invariant_name TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			passed INTEGER NOT NULL,
			exit_code INTEGER,
			stdout TEXT,
			stderr TEXT,
			duration_ms INTEGER,
			checked_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS agent_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_plan_status ON tasks(plan_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_gate_results_task_attempt ON gate_results(task_id, attempt);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_events_task_attempt ON agent_events(task_id, attempt);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreatePlan(ctx context.Context, plan model.Plan, tasks []model.Task, deps []model.TaskDependency, taskInvariants []model.TaskInvariant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO plans (id, name, project_path, base_branch, token_budget, default_harness, isolation_mode, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		plan.ID, plan.Name, plan.ProjectPath, plan.BaseBranch, plan.TokenBudget, plan.DefaultHarness, plan.IsolationMode, model.PlanDraft, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (id, plan_id, name, description, scope, gate_policy, retry_max, status, requested_harness, attempt, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,0,?)`,
			t.ID, plan.ID, t.Name, t.Description, t.Scope, t.GatePolicy, t.RetryMax, model.TaskPending, nullIfEmpty(t.RequestedHarness), time.Now().UTC()); err != nil {
			return fmt.Errorf("insert task %s: %w", t.Name, err)
		}
	}
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?,?)`, d.TaskID, d.DependsOnID); err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
	}
	for _, ti := range taskInvariants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_invariants (task_id, invariant_id) VALUES (?,?)`, ti.TaskID, ti.InvariantID); err != nil {
			return fmt.Errorf("insert task invariant: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetPlan(ctx context.Context, planID string) (model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, project_path, base_branch, token_budget, default_harness, isolation_mode, status, created_at, approved_at, completed_at FROM plans WHERE id=?`, planID)
	return scanPlan(row)
}

func (s *SQLiteStore) ApprovePlan(ctx context.Context, planID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET status=?, approved_at=? WHERE id=? AND status=?`, model.PlanApproved, time.Now().UTC(), planID, model.PlanDraft)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func (s *SQLiteStore) SetPlanStatus(ctx context.Context, planID string, status model.PlanStatus) error {
	var err error
	switch status {
	case model.PlanCompleted, model.PlanFailed:
		_, err = s.db.ExecContext(ctx, `UPDATE plans SET status=?, completed_at=? WHERE id=? AND completed_at IS NULL`, status, time.Now().UTC(), planID)
	default:
		_, err = s.db.ExecContext(ctx, `UPDATE plans SET status=? WHERE id=?`, status, planID)
	}
	return err
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, plan_id, name, description, scope, gate_policy, retry_max, status, assigned_harness, requested_harness, workspace_path, attempt, created_at, started_at, completed_at FROM tasks WHERE id=?`, taskID)
	return scanTask(row)
}

func (s *SQLiteStore) ListTasksByPlan(ctx context.Context, planID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, plan_id, name, description, scope, gate_policy, retry_max, status, assigned_harness, requested_harness, workspace_path, attempt, created_at, started_at, completed_at FROM tasks WHERE plan_id=?`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) ListTaskDependencies(ctx context.Context, planID string) ([]model.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT td.task_id, td.depends_on_id FROM task_dependencies td JOIN tasks t ON t.id = td.task_id WHERE t.plan_id=?`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeps(rows)
}

func (s *SQLiteStore) ReadyTasks(ctx context.Context, planID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, plan_id, name, description, scope, gate_policy, retry_max, status, assigned_harness, requested_harness, workspace_path, attempt, created_at, started_at, completed_at
		FROM tasks t WHERE t.plan_id=? AND t.status=?
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies td JOIN tasks dep ON dep.id = td.depends_on_id
			WHERE td.task_id = t.id AND dep.status <> ?
		)`, planID, model.TaskPending, model.TaskPassed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) TransitionTask(ctx context.Context, taskID string, from, to model.TaskStatus, observedAttempt int) error {
	return transitionTask(ctx, s.db, "?", taskID, from, to, observedAttempt)
}

func (s *SQLiteStore) AssignTask(ctx context.Context, taskID, harness, workspacePath string, observedAttempt int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status=?, assigned_harness=?, workspace_path=? WHERE id=? AND status=? AND attempt=?`,
		model.TaskAssigned, harness, workspacePath, taskID, model.TaskPending, observedAttempt)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func (s *SQLiteStore) CreateInvariant(ctx context.Context, inv model.Invariant) error {
	argsJSON, err := json.Marshal(inv.Args)
	if err != nil {
		return fmt.Errorf("marshal invariant args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO invariants (id, name, kind, command, args, expected_exit_code, timeout_secs, scope, description, threshold)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.Name, inv.Kind, inv.Command, string(argsJSON), inv.ExpectedExitCode, inv.TimeoutSecs, inv.Scope, inv.Description, inv.Threshold)
	return err
}

func (s *SQLiteStore) LinkTaskInvariant(ctx context.Context, taskID, invariantID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_invariants (task_id, invariant_id) VALUES (?,?)`, taskID, invariantID)
	return err
}

func (s *SQLiteStore) GetInvariant(ctx context.Context, invariantID string) (model.Invariant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, kind, command, args, expected_exit_code, timeout_secs, scope, description, threshold FROM invariants WHERE id=?`, invariantID)
	return scanInvariant(row)
}

func (s *SQLiteStore) ListTaskInvariants(ctx context.Context, taskID string) ([]model.Invariant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT i.id, i.name, i.kind, i.command, i.args, i.expected_exit_code, i.timeout_secs, i.scope, i.description, i.threshold
		FROM invariants i JOIN task_invariants ti ON ti.invariant_id = i.id WHERE ti.task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvariants(rows)
}

func (s *SQLiteStore) SaveGateResult(ctx context.Context, r model.GateResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO gate_results (task_id, invariant_id, invariant_name, attempt, passed, exit_code, stdout, stderr, duration_ms, checked_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.TaskID, r.InvariantID, r.InvariantName, r.Attempt, r.Passed, r.ExitCode, r.Stdout, r.Stderr, r.DurationMs, time.Now().UTC())
	return err
}

func (s *SQLiteStore) ListGateResults(ctx context.Context, taskID string, attempt int) ([]model.GateResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, invariant_id, invariant_name, attempt, passed, exit_code, stdout, stderr, duration_ms, checked_at FROM gate_results WHERE task_id=? AND attempt=? ORDER BY checked_at`, taskID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGateResults(rows)
}

func (s *SQLiteStore) LastFailingGateResults(ctx context.Context, taskID string, attempt int) ([]model.GateResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, invariant_id, invariant_name, attempt, passed, exit_code, stdout, stderr, duration_ms, checked_at FROM gate_results WHERE task_id=? AND attempt=? AND passed=0 ORDER BY checked_at`, taskID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGateResults(rows)
}

func (s *SQLiteStore) AppendAgentEvent(ctx context.Context, e model.AgentEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agent_events (task_id, attempt, event_type, payload, recorded_at) VALUES (?,?,?,?,?)`,
		e.TaskID, e.Attempt, e.EventType, string(payload), time.Now().UTC())
	return err
}

func (s *SQLiteStore) SumTokenUsage(ctx context.Context, planID string) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ae.payload FROM agent_events ae JOIN tasks t ON t.id = ae.task_id WHERE t.plan_id=? AND ae.event_type=?`, planID, model.EventTokenUsage)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	return sumTokenPayloads(rows)
}
