package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/gatorerr"
	"gator/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gator.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPlanWithTask(t *testing.T, s *SQLiteStore, retryMax int, gatePolicy model.GatePolicy) (model.Plan, model.Task) {
	t.Helper()
	ctx := context.Background()
	plan := model.Plan{ID: uuid.New().String(), Name: "p", ProjectPath: "/tmp/proj", BaseBranch: "main", DefaultHarness: "mock", IsolationMode: "worktree"}
	task := model.Task{ID: uuid.New().String(), PlanID: plan.ID, Name: "t1", Scope: model.ScopeNarrow, GatePolicy: gatePolicy, RetryMax: retryMax}
	require.NoError(t, s.CreatePlan(ctx, plan, []model.Task{task}, nil, nil))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	return plan, got
}

func TestCreatePlanAndReadyTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID := uuid.New().String()
	a := model.Task{ID: uuid.New().String(), PlanID: planID, Name: "a", GatePolicy: model.GateAuto}
	b := model.Task{ID: uuid.New().String(), PlanID: planID, Name: "b", GatePolicy: model.GateAuto}
	plan := model.Plan{ID: planID, Name: "diamond", ProjectPath: "/tmp", BaseBranch: "main", DefaultHarness: "mock", IsolationMode: "worktree"}
	deps := []model.TaskDependency{{TaskID: b.ID, DependsOnID: a.ID}}

	require.NoError(t, s.CreatePlan(ctx, plan, []model.Task{a, b}, deps, nil))

	ready, err := s.ReadyTasks(ctx, planID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].Name)

	require.NoError(t, s.TransitionTask(ctx, a.ID, model.TaskPending, model.TaskAssigned, 0))
	require.NoError(t, s.TransitionTask(ctx, a.ID, model.TaskAssigned, model.TaskRunning, 0))
	require.NoError(t, s.TransitionTask(ctx, a.ID, model.TaskRunning, model.TaskChecking, 0))
	require.NoError(t, s.TransitionTask(ctx, a.ID, model.TaskChecking, model.TaskPassed, 0))

	ready, err = s.ReadyTasks(ctx, planID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].Name)
}

func TestTransitionTaskDependencyNotSatisfied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	planID := uuid.New().String()
	a := model.Task{ID: uuid.New().String(), PlanID: planID, Name: "a", GatePolicy: model.GateAuto}
	b := model.Task{ID: uuid.New().String(), PlanID: planID, Name: "b", GatePolicy: model.GateAuto}
	plan := model.Plan{ID: planID, Name: "p", ProjectPath: "/tmp", BaseBranch: "main", DefaultHarness: "mock", IsolationMode: "worktree"}
	require.NoError(t, s.CreatePlan(ctx, plan, []model.Task{a, b}, []model.TaskDependency{{TaskID: b.ID, DependsOnID: a.ID}}, nil))

	err := s.TransitionTask(ctx, b.ID, model.TaskPending, model.TaskAssigned, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatorerr.ErrDependencyNotSatisfied)
}

func TestTransitionTaskOptimisticLockFailsOnSecondApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := seedPlanWithTask(t, s, 3, model.GateAuto)

	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskPending, model.TaskAssigned, task.Attempt))
	err := s.TransitionTask(ctx, task.ID, model.TaskPending, model.TaskAssigned, task.Attempt)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatorerr.ErrOptimisticLockFailed)
}

func TestTransitionTaskIllegalEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := seedPlanWithTask(t, s, 3, model.GateAuto)

	err := s.TransitionTask(ctx, task.ID, model.TaskPending, model.TaskPassed, task.Attempt)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatorerr.ErrInvalidTransition)
}

func TestRetryIncrementsAttemptAndClearsTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := seedPlanWithTask(t, s, 3, model.GateAuto)

	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskPending, model.TaskAssigned, 0))
	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskAssigned, model.TaskRunning, 0))
	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskRunning, model.TaskChecking, 0))
	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskChecking, model.TaskFailed, 0))
	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskFailed, model.TaskPending, 0))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempt)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.AssignedHarness)
	assert.Empty(t, got.WorkspacePath)
}

func TestRetryBeyondBudgetFailsOptimisticPredicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := seedPlanWithTask(t, s, 0, model.GateAuto)

	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskPending, model.TaskAssigned, 0))
	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskAssigned, model.TaskRunning, 0))
	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskRunning, model.TaskChecking, 0))
	require.NoError(t, s.TransitionTask(ctx, task.ID, model.TaskChecking, model.TaskFailed, 0))

	err := s.TransitionTask(ctx, task.ID, model.TaskFailed, model.TaskPending, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatorerr.ErrOptimisticLockFailed)
}

func TestAgentEventTokenUsageSum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := seedPlanWithTask(t, s, 3, model.GateAuto)

	require.NoError(t, s.AppendAgentEvent(ctx, model.AgentEvent{
		TaskID: task.ID, Attempt: 0, EventType: model.EventTokenUsage,
		Payload: map[string]interface{}{"input_tokens": float64(60), "output_tokens": float64(60)},
	}))
	require.NoError(t, s.AppendAgentEvent(ctx, model.AgentEvent{
		TaskID: task.ID, Attempt: 0, EventType: model.EventTokenUsage,
		Payload: map[string]interface{}{"input_tokens": float64(10), "output_tokens": float64(0)},
	}))

	total, err := s.SumTokenUsage(ctx, task.PlanID)
	require.NoError(t, err)
	assert.EqualValues(t, 130, total)
}

func TestCreateInvariantAndLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := seedPlanWithTask(t, s, 3, model.GateAuto)

	inv := model.Invariant{ID: uuid.New().String(), Name: "always-true", Command: "true", ExpectedExitCode: 0, TimeoutSecs: 5}
	require.NoError(t, s.CreateInvariant(ctx, inv))
	require.NoError(t, s.LinkTaskInvariant(ctx, task.ID, inv.ID))

	linked, err := s.ListTaskInvariants(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "always-true", linked[0].Name)
}

func TestApprovePlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan, _ := seedPlanWithTask(t, s, 3, model.GateAuto)

	require.NoError(t, s.ApprovePlan(ctx, plan.ID))
	got, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanApproved, got.Status)
	assert.NotNil(t, got.ApprovedAt)

	err = s.ApprovePlan(ctx, plan.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, gatorerr.ErrOptimisticLockFailed)
}
