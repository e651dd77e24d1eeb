package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/harness"
	"gator/internal/isolation"
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

func seedPendingTask(t *testing.T, st store.Store, gatePolicy model.GatePolicy, retryMax int, invariant model.Invariant) (model.Plan, model.Task) {
	t.Helper()
	ctx := context.Background()
	plan := model.Plan{ID: uuid.New().String(), Name: "demo-plan", ProjectPath: t.TempDir(), BaseBranch: "main", DefaultHarness: "mock", IsolationMode: "mock"}
	task := model.Task{ID: uuid.New().String(), PlanID: plan.ID, Name: "build-thing", Description: "do the thing", GatePolicy: gatePolicy, RetryMax: retryMax}
	require.NoError(t, st.CreatePlan(ctx, plan, []model.Task{task}, nil, nil))
	require.NoError(t, st.CreateInvariant(ctx, invariant))
	require.NoError(t, st.LinkTaskInvariant(ctx, task.ID, invariant.ID))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	return plan, got
}

func alwaysPassInvariant() model.Invariant {
	return model.Invariant{ID: uuid.New().String(), Name: "always-true", Command: "true", ExpectedExitCode: 0, TimeoutSecs: 5}
}

func alwaysFailInvariant() model.Invariant {
	return model.Invariant{ID: uuid.New().String(), Name: "always-false", Command: "false", ExpectedExitCode: 0, TimeoutSecs: 5}
}

func TestRunHappyPathPasses(t *testing.T) {
	st := newTestStore(t)
	plan, task := seedPendingTask(t, st, model.GateAuto, 3, alwaysPassInvariant())

	iso := isolation.NewMockBackend(t.TempDir())
	h := harness.NewMockHarness()

	r := New(st, iso, []byte("secret"), 0, nil)
	result := r.Run(context.Background(), plan, task, h)

	require.NoError(t, result.Err)
	assert.Equal(t, Passed, result.Outcome)
	assert.True(t, result.Verdict.Passed)

	final, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPassed, final.Status)
}

func TestRunFailingInvariantCanRetry(t *testing.T) {
	st := newTestStore(t)
	plan, task := seedPendingTask(t, st, model.GateAuto, 3, alwaysFailInvariant())

	iso := isolation.NewMockBackend(t.TempDir())
	h := harness.NewMockHarness()

	r := New(st, iso, []byte("secret"), 0, nil)
	result := r.Run(context.Background(), plan, task, h)

	require.NoError(t, result.Err)
	assert.Equal(t, FailedCanRetry, result.Outcome)
	assert.False(t, result.Verdict.Passed)

	final, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, final.Status)
}

func TestRunFailingInvariantNoRetryBudgetLeft(t *testing.T) {
	st := newTestStore(t)
	plan, task := seedPendingTask(t, st, model.GateAuto, 0, alwaysFailInvariant())

	iso := isolation.NewMockBackend(t.TempDir())
	h := harness.NewMockHarness()

	r := New(st, iso, []byte("secret"), 0, nil)
	result := r.Run(context.Background(), plan, task, h)

	require.NoError(t, result.Err)
	assert.Equal(t, FailedNoRetry, result.Outcome)
}

func TestRunHumanReviewPolicyNeverAutoPasses(t *testing.T) {
	st := newTestStore(t)
	plan, task := seedPendingTask(t, st, model.GateHumanReview, 3, alwaysPassInvariant())

	iso := isolation.NewMockBackend(t.TempDir())
	h := harness.NewMockHarness()

	r := New(st, iso, []byte("secret"), 0, nil)
	result := r.Run(context.Background(), plan, task, h)

	require.NoError(t, result.Err)
	assert.Equal(t, HumanRequired, result.Outcome)

	final, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskChecking, final.Status)
}

// blockingHarness never closes its event channel, so Lifecycle.Run must
// hit the task timeout deadline rather than hang forever.
type blockingHarness struct {
	killed chan struct{}
}

func newBlockingHarness() *blockingHarness { return &blockingHarness{killed: make(chan struct{}, 1)} }

func (h *blockingHarness) Name() string { return "blocking" }

func (h *blockingHarness) Spawn(ctx context.Context, task harness.MaterializedTask) (harness.Handle, error) {
	return harness.Handle("blocked"), nil
}

func (h *blockingHarness) Events(handle harness.Handle) (<-chan model.AgentEvent, error) {
	return make(chan model.AgentEvent), nil // never closed, never written to
}

func (h *blockingHarness) Send(handle harness.Handle, text string) error { return nil }

func (h *blockingHarness) Kill(handle harness.Handle) error {
	select {
	case h.killed <- struct{}{}:
	default:
	}
	return nil
}

func (h *blockingHarness) IsRunning(handle harness.Handle) bool { return true }

func TestRunTimesOutAndKillsAgent(t *testing.T) {
	st := newTestStore(t)
	plan, task := seedPendingTask(t, st, model.GateAuto, 3, alwaysPassInvariant())

	iso := isolation.NewMockBackend(t.TempDir())
	h := newBlockingHarness()

	r := New(st, iso, []byte("secret"), 20*time.Millisecond, nil)
	result := r.Run(context.Background(), plan, task, h)

	assert.Equal(t, TimedOut, result.Outcome)
	select {
	case <-h.killed:
	default:
		t.Fatal("expected Kill to have been called after timeout")
	}

	final, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, final.Status)
}

func TestRunCreateWorkspaceFailureIsNoRetry(t *testing.T) {
	st := newTestStore(t)
	plan, task := seedPendingTask(t, st, model.GateAuto, 3, alwaysPassInvariant())

	iso := isolation.NewMockBackend(t.TempDir())
	iso.FailOn = task.Name
	h := harness.NewMockHarness()

	r := New(st, iso, []byte("secret"), 0, nil)
	result := r.Run(context.Background(), plan, task, h)

	require.Error(t, result.Err)
	assert.Equal(t, FailedNoRetry, result.Outcome)
}
