package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/model"
)

func TestMockHarnessEmitsScriptThenCompletes(t *testing.T) {
	h := NewMockHarness()
	h.Script["t1"] = []model.AgentEvent{
		{EventType: model.EventProgress, Payload: map[string]interface{}{"msg": "working"}},
		{EventType: model.EventToolCall},
	}

	handle, err := h.Spawn(context.Background(), MaterializedTask{TaskID: "task-1", Name: "t1"})
	require.NoError(t, err)

	ch, err := h.Events(handle)
	require.NoError(t, err)

	var got []model.AgentEventType
	for ev := range ch {
		got = append(got, ev.EventType)
	}
	assert.Equal(t, []model.AgentEventType{model.EventProgress, model.EventToolCall, model.EventCompleted}, got)
}

func TestMockHarnessSpawnErr(t *testing.T) {
	h := NewMockHarness()
	h.SpawnErr["flaky"] = assert.AnError

	_, err := h.Spawn(context.Background(), MaterializedTask{TaskID: "task-1", Name: "flaky"})
	require.Error(t, err)
}

func TestMockHarnessKillStopsRunning(t *testing.T) {
	h := NewMockHarness()
	handle, err := h.Spawn(context.Background(), MaterializedTask{TaskID: "task-1", Name: "t1"})
	require.NoError(t, err)

	require.NoError(t, h.Kill(handle))
	assert.False(t, h.IsRunning(handle))
}

func TestMockHarnessSendRecordsMessage(t *testing.T) {
	h := NewMockHarness()
	handle, err := h.Spawn(context.Background(), MaterializedTask{TaskID: "task-1", Name: "t1"})
	require.NoError(t, err)

	require.NoError(t, h.Send(handle, "keep going"))
	assert.Contains(t, h.Sent, "keep going")
}
