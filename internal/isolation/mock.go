package isolation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// MockBackend is an in-memory Backend for tests: it materializes a real
// temp directory (so invariant commands have something to run against)
// but skips git and Docker entirely.
type MockBackend struct {
	Root      string
	Created   []WorkspaceInfo
	Extracted []WorkspaceInfo
	Removed   []WorkspaceInfo
	FailOn    string // if set, CreateWorkspace for this taskName fails
}

func NewMockBackend(root string) *MockBackend {
	return &MockBackend{Root: root}
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) CreateWorkspace(ctx context.Context, planName, taskName string) (WorkspaceInfo, error) {
	if taskName == b.FailOn {
		return WorkspaceInfo{}, fmt.Errorf("mock backend: forced failure for task %s", taskName)
	}
	path := filepath.Join(b.Root, planName, taskName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return WorkspaceInfo{}, err
	}
	info := WorkspaceInfo{AgentPath: path, HostPath: path, Branch: "mock/" + taskName}
	b.Created = append(b.Created, info)
	return info, nil
}

func (b *MockBackend) ExtractResults(ctx context.Context, info WorkspaceInfo) error {
	b.Extracted = append(b.Extracted, info)
	return nil
}

func (b *MockBackend) RemoveWorkspace(ctx context.Context, info WorkspaceInfo) error {
	b.Removed = append(b.Removed, info)
	return os.RemoveAll(info.HostPath)
}
