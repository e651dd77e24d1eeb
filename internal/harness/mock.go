package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gator/internal/model"
)

// MockHarness deterministically emits a scripted event sequence per spawn,
// grounded on the teacher's MockSessionManager test-double shape. Script is
// keyed by task name so different tasks in the same test can be driven
// down different paths.
type MockHarness struct {
	// Script maps a task name to the events it emits, in order, ending
	// implicitly with an EventCompleted if the script doesn't supply one.
	Script map[string][]model.AgentEvent
	// SpawnErr, if set for a task name, makes Spawn fail for that task.
	SpawnErr map[string]error
	Sent     []string

	mu         sync.Mutex
	running    map[Handle]bool
	mockEvents sync.Map // Handle -> chan model.AgentEvent
}

func NewMockHarness() *MockHarness {
	return &MockHarness{
		Script:   make(map[string][]model.AgentEvent),
		SpawnErr: make(map[string]error),
		running:  make(map[Handle]bool),
	}
}

func (h *MockHarness) Name() string { return "mock" }

func (h *MockHarness) Spawn(ctx context.Context, task MaterializedTask) (Handle, error) {
	if err := h.SpawnErr[task.Name]; err != nil {
		return "", err
	}

	handle := Handle(fmt.Sprintf("mock-%s-%d", task.TaskID, task.Attempt))
	h.mu.Lock()
	h.running[handle] = true
	h.mu.Unlock()

	events := h.Script[task.Name]
	ch := make(chan model.AgentEvent, len(events)+1)
	for _, ev := range events {
		ev.TaskID = task.TaskID
		ev.RecordedAt = time.Now()
		ch <- ev
	}
	if len(events) == 0 || events[len(events)-1].EventType != model.EventCompleted {
		ch <- model.AgentEvent{TaskID: task.TaskID, EventType: model.EventCompleted, RecordedAt: time.Now()}
	}
	close(ch)

	h.mu.Lock()
	h.running[handle] = false
	h.mu.Unlock()

	h.mockEvents.Store(handle, ch)
	return handle, nil
}

func (h *MockHarness) Events(handle Handle) (<-chan model.AgentEvent, error) {
	v, ok := h.mockEvents.Load(handle)
	if !ok {
		return nil, fmt.Errorf("unknown handle: %s", handle)
	}
	return v.(chan model.AgentEvent), nil
}

func (h *MockHarness) Send(handle Handle, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Sent = append(h.Sent, text)
	return nil
}

func (h *MockHarness) Kill(handle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running[handle] = false
	return nil
}

func (h *MockHarness) IsRunning(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running[handle]
}
