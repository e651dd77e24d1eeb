package gate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/gatorerr"
	"gator/internal/model"
	"gator/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRunningTask(t *testing.T, st store.Store, retryMax int, gatePolicy model.GatePolicy, invariants ...model.Invariant) model.Task {
	t.Helper()
	ctx := context.Background()
	plan := model.Plan{ID: uuid.New().String(), Name: "p", ProjectPath: "/tmp", BaseBranch: "main", DefaultHarness: "mock", IsolationMode: "worktree"}
	task := model.Task{ID: uuid.New().String(), PlanID: plan.ID, Name: "t", GatePolicy: gatePolicy, RetryMax: retryMax}
	require.NoError(t, st.CreatePlan(ctx, plan, []model.Task{task}, nil, nil))

	for _, inv := range invariants {
		require.NoError(t, st.CreateInvariant(ctx, inv))
		require.NoError(t, st.LinkTaskInvariant(ctx, task.ID, inv.ID))
	}

	require.NoError(t, st.AssignTask(ctx, task.ID, "mock", t.TempDir(), 0))
	require.NoError(t, st.TransitionTask(ctx, task.ID, model.TaskAssigned, model.TaskRunning, 0))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	return got
}

func TestRunGatePassed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedRunningTask(t, st, 3, model.GateAuto, model.Invariant{ID: uuid.New().String(), Name: "always-true", Command: "true", ExpectedExitCode: 0, TimeoutSecs: 5})

	verdict, err := Run(ctx, st, task.ID)
	require.NoError(t, err)
	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Failures)

	results, err := st.ListGateResults(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
}

func TestRunGateFailedReportsStderrSnippet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedRunningTask(t, st, 3, model.GateAuto, model.Invariant{
		ID: uuid.New().String(), Name: "always-false", Command: "sh",
		Args: []string{"-c", "echo failure-output 1>&2; exit 1"}, ExpectedExitCode: 0, TimeoutSecs: 5,
	})

	verdict, err := Run(ctx, st, task.ID)
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	require.Len(t, verdict.Failures, 1)
	assert.Equal(t, "always-false", verdict.Failures[0].InvariantName)
	assert.Contains(t, verdict.Failures[0].StderrSnippet, "failure-output")
}

func TestRunGateNoInvariantsLinkedErrors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedRunningTask(t, st, 3, model.GateAuto)

	_, err := Run(ctx, st, task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatorerr.ErrNoInvariantsLinked)
}

func TestEvaluateAutoPassed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedRunningTask(t, st, 3, model.GateAuto, model.Invariant{ID: uuid.New().String(), Name: "x", Command: "true", ExpectedExitCode: 0, TimeoutSecs: 5})
	verdict, err := Run(ctx, st, task.ID)
	require.NoError(t, err)

	action, err := Evaluate(ctx, st, task, verdict)
	require.NoError(t, err)
	assert.Equal(t, ActionAutoPassed, action.Kind)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPassed, got.Status)
}

func TestEvaluateAutoFailedRetryBudget(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedRunningTask(t, st, 0, model.GateAuto, model.Invariant{ID: uuid.New().String(), Name: "x", Command: "false", ExpectedExitCode: 0, TimeoutSecs: 5})
	verdict, err := Run(ctx, st, task.ID)
	require.NoError(t, err)

	action, err := Evaluate(ctx, st, task, verdict)
	require.NoError(t, err)
	assert.Equal(t, ActionAutoFailed, action.Kind)
	assert.False(t, action.CanRetry)
}

func TestEvaluateHumanRequiredLeavesTaskInChecking(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedRunningTask(t, st, 3, model.GateHumanReview, model.Invariant{ID: uuid.New().String(), Name: "x", Command: "true", ExpectedExitCode: 0, TimeoutSecs: 5})
	verdict, err := Run(ctx, st, task.ID)
	require.NoError(t, err)

	action, err := Evaluate(ctx, st, task, verdict)
	require.NoError(t, err)
	assert.Equal(t, ActionHumanRequired, action.Kind)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskChecking, got.Status)
}

