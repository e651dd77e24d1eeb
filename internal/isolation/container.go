package isolation

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// ContainerBackend isolates each task attempt inside a throwaway container
// built from a fixed agent image, with the workspace bind-mounted in from
// a host-side staging directory.
type ContainerBackend struct {
	api       client.APIClient
	image     string
	stageRoot string
}

// NewContainerBackend connects to the local Docker daemon using the
// environment's DOCKER_HOST conventions.
func NewContainerBackend(imageRef, stageRoot string) (*ContainerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &ContainerBackend{api: cli, image: imageRef, stageRoot: stageRoot}, nil
}

func (b *ContainerBackend) Name() string { return "container" }

func (b *ContainerBackend) CreateWorkspace(ctx context.Context, planName, taskName string) (WorkspaceInfo, error) {
	hostPath := filepath.Join(b.stageRoot, fmt.Sprintf("%s-%s-%d", planName, taskName, time.Now().UnixNano()))
	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return WorkspaceInfo{}, fmt.Errorf("create stage dir: %w", err)
	}

	reader, err := b.api.ImagePull(ctx, b.image, image.PullOptions{})
	if err == nil {
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	const agentPath = "/workspace"
	resp, err := b.api.ContainerCreate(ctx,
		&container.Config{
			Image:      b.image,
			Tty:        true,
			OpenStdin:  true,
			WorkingDir: agentPath,
			Cmd:        []string{"/bin/sh"},
		},
		&container.HostConfig{
			Binds: []string{fmt.Sprintf("%s:%s", hostPath, agentPath)},
		}, nil, nil, "")
	if err != nil {
		return WorkspaceInfo{}, fmt.Errorf("create container: %w", err)
	}

	if err := b.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return WorkspaceInfo{}, fmt.Errorf("start container: %w", err)
	}

	return WorkspaceInfo{AgentPath: agentPath, HostPath: hostPath, ContainerID: resp.ID}, nil
}

// ExtractResults reads the workspace tree out of the container as a tar
// stream and discards it; nothing is written to the host path. The bind
// mount already makes the agent's files visible on the host path the gate
// runs invariants against, so this only checks that the container is still
// present and its workspace readable.
func (b *ContainerBackend) ExtractResults(ctx context.Context, info WorkspaceInfo) error {
	if info.ContainerID == "" {
		return fmt.Errorf("extract results: no container id recorded")
	}
	reader, _, err := b.api.CopyFromContainer(ctx, info.ContainerID, info.AgentPath)
	if err != nil {
		return fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read result tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return fmt.Errorf("read result entry %s: %w", hdr.Name, err)
		}
	}
	return nil
}

func (b *ContainerBackend) RemoveWorkspace(ctx context.Context, info WorkspaceInfo) error {
	if info.ContainerID == "" {
		return nil
	}
	if err := b.api.ContainerStop(ctx, info.ContainerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	if err := b.api.ContainerRemove(ctx, info.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return os.RemoveAll(info.HostPath)
}
