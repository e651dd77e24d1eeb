package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/model"
)

func TestProcessHarnessSpawnReadsEventStream(t *testing.T) {
	script := `cat >/dev/null; echo '{"type":"progress","payload":{"msg":"hi"}}'; echo 'not json'; echo '{"type":"completed"}'`
	h := NewProcessHarness("sh-agent", "sh", []string{"-c", script}, nil)

	handle, err := h.Spawn(context.Background(), MaterializedTask{
		TaskID: "task-1", Attempt: 0, Name: "t1", Description: "do the thing", WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	ch, err := h.Events(handle)
	require.NoError(t, err)

	var got []model.AgentEventType
	for ev := range ch {
		got = append(got, ev.EventType)
	}
	assert.Equal(t, []model.AgentEventType{model.EventProgress, model.EventCompleted}, got)
}

func TestProcessHarnessIsRunningBecomesFalseAfterExit(t *testing.T) {
	h := NewProcessHarness("sh-agent", "sh", []string{"-c", `cat >/dev/null; echo '{"type":"completed"}'`}, nil)

	handle, err := h.Spawn(context.Background(), MaterializedTask{TaskID: "task-1", Name: "t1", WorkingDir: t.TempDir()})
	require.NoError(t, err)

	ch, err := h.Events(handle)
	require.NoError(t, err)
	for range ch {
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.IsRunning(handle) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, h.IsRunning(handle))
}

func TestProcessHarnessEventsUnknownHandle(t *testing.T) {
	h := NewProcessHarness("sh-agent", "sh", nil, nil)
	_, err := h.Events(Handle("nonexistent"))
	require.Error(t, err)
}

func TestProcessHarnessKillTerminatesLongRunningProcess(t *testing.T) {
	h := NewProcessHarness("sh-agent", "sh", []string{"-c", `cat >/dev/null; sleep 30`}, nil)

	handle, err := h.Spawn(context.Background(), MaterializedTask{TaskID: "task-1", Name: "t1", WorkingDir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, h.Kill(handle))
	assert.False(t, h.IsRunning(handle))
}
