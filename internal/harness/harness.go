// Package harness implements the Harness capability contract
// (SPEC_FULL.md §4.7): spawn an agent subprocess, expose its event stream,
// and permit sending input, killing it, and checking liveness.
package harness

import (
	"context"

	"gator/internal/model"
)

// MaterializedTask is everything a Harness needs to spawn one attempt.
type MaterializedTask struct {
	TaskID            string
	Attempt           int
	Name              string
	Description       string // rendered prompt markdown
	InvariantCommands []string
	WorkingDir        string
	Env               map[string]string
}

// Handle identifies a spawned agent process. It is opaque to callers —
// the harness implementation owns whatever state it indexes by.
type Handle string

// Harness is the capability contract every agent-CLI adapter implements.
type Harness interface {
	Name() string
	Spawn(ctx context.Context, task MaterializedTask) (Handle, error)
	Events(handle Handle) (<-chan model.AgentEvent, error)
	Send(handle Handle, text string) error
	Kill(handle Handle) error
	IsRunning(handle Handle) bool
}
