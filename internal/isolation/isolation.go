// Package isolation implements the Isolation capability contract
// (SPEC_FULL.md §4.6): create, extract from, and remove a per-(task,
// attempt) workspace. The core never inspects the file system directly —
// it only knows the paths a Backend hands back.
package isolation

import "context"

// WorkspaceInfo is everything the rest of the engine needs to know about
// a workspace a Backend created.
type WorkspaceInfo struct {
	AgentPath   string // path the agent process sees
	HostPath    string // path the gate runs invariants against
	Branch      string // git branch backing this workspace, if any
	ContainerID string // non-empty for the container backend
}

// Backend is the capability contract every isolation strategy implements.
type Backend interface {
	Name() string
	CreateWorkspace(ctx context.Context, planName, taskName string) (WorkspaceInfo, error)
	ExtractResults(ctx context.Context, info WorkspaceInfo) error
	RemoveWorkspace(ctx context.Context, info WorkspaceInfo) error
}
