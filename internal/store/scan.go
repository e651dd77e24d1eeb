package store

import (
	"database/sql"
	"encoding/json"

	"gator/internal/model"
)

// row is the subset of *sql.Row / *sql.Rows this package's scan helpers
// need; letting both satisfy it avoids duplicating scan logic per backend.
type row interface {
	Scan(dest ...interface{}) error
}

func scanPlan(r row) (model.Plan, error) {
	var p model.Plan
	var tokenBudget sql.NullInt64
	var approvedAt, completedAt sql.NullTime
	err := r.Scan(&p.ID, &p.Name, &p.ProjectPath, &p.BaseBranch, &tokenBudget, &p.DefaultHarness, &p.IsolationMode, &p.Status, &p.CreatedAt, &approvedAt, &completedAt)
	if err != nil {
		return model.Plan{}, err
	}
	if tokenBudget.Valid {
		p.TokenBudget = &tokenBudget.Int64
	}
	if approvedAt.Valid {
		p.ApprovedAt = &approvedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return p, nil
}

func scanTask(r row) (model.Task, error) {
	var t model.Task
	var assignedHarness, requestedHarness, workspacePath sql.NullString
	var startedAt, completedAt sql.NullTime
	err := r.Scan(&t.ID, &t.PlanID, &t.Name, &t.Description, &t.Scope, &t.GatePolicy, &t.RetryMax, &t.Status,
		&assignedHarness, &requestedHarness, &workspacePath, &t.Attempt, &t.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return model.Task{}, err
	}
	t.AssignedHarness = assignedHarness.String
	t.RequestedHarness = requestedHarness.String
	t.WorkspacePath = workspacePath.String
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanDeps(rows *sql.Rows) ([]model.TaskDependency, error) {
	var out []model.TaskDependency
	for rows.Next() {
		var d model.TaskDependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanInvariant(r row) (model.Invariant, error) {
	var inv model.Invariant
	var argsJSON string
	var threshold sql.NullFloat64
	err := r.Scan(&inv.ID, &inv.Name, &inv.Kind, &inv.Command, &argsJSON, &inv.ExpectedExitCode, &inv.TimeoutSecs, &inv.Scope, &inv.Description, &threshold)
	if err != nil {
		return model.Invariant{}, err
	}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &inv.Args); err != nil {
			return model.Invariant{}, err
		}
	}
	if threshold.Valid {
		inv.Threshold = &threshold.Float64
	}
	return inv, nil
}

func scanInvariants(rows *sql.Rows) ([]model.Invariant, error) {
	var out []model.Invariant
	for rows.Next() {
		inv, err := scanInvariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanGateResults(rows *sql.Rows) ([]model.GateResult, error) {
	var out []model.GateResult
	for rows.Next() {
		var gr model.GateResult
		var exitCode sql.NullInt64
		if err := rows.Scan(&gr.TaskID, &gr.InvariantID, &gr.InvariantName, &gr.Attempt, &gr.Passed, &exitCode, &gr.Stdout, &gr.Stderr, &gr.DurationMs, &gr.CheckedAt); err != nil {
			return nil, err
		}
		if exitCode.Valid {
			ec := int(exitCode.Int64)
			gr.ExitCode = &ec
		}
		out = append(out, gr)
	}
	return out, rows.Err()
}

func sumTokenPayloads(rows *sql.Rows) (int64, error) {
	var total int64
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return 0, err
		}
		var p model.TokenUsagePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			continue
		}
		total += p.InputTokens + p.OutputTokens
	}
	return total, rows.Err()
}
