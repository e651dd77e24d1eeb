package isolation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bitfield/script"
)

var (
	reGitHubPAT = regexp.MustCompile(`https://[^@:]+@github\.com`)
	reBasicAuth = regexp.MustCompile(`https://[^:/]+:[^@/]+@`)
)

// mask scrubs credentials embedded in remote URLs out of git's output
// before anything downstream (logs, event streams) retains it.
func mask(s string) string {
	s = reGitHubPAT.ReplaceAllString(s, "https://[REDACTED]@github.com")
	return reBasicAuth.ReplaceAllString(s, "https://[REDACTED]@")
}

// WorktreeBackend isolates each task attempt in its own git worktree,
// branched off the plan's base branch inside the plan's project repo.
type WorktreeBackend struct {
	ProjectPath string
	WorkDir     string // parent directory under which worktrees are created
	BaseBranch  string
}

// NewWorktreeBackend returns a Backend that shells out to git worktree.
func NewWorktreeBackend(projectPath, workDir, baseBranch string) *WorktreeBackend {
	return &WorktreeBackend{ProjectPath: projectPath, WorkDir: workDir, BaseBranch: baseBranch}
}

func (b *WorktreeBackend) Name() string { return "worktree" }

func (b *WorktreeBackend) CreateWorkspace(ctx context.Context, planName, taskName string) (WorkspaceInfo, error) {
	if err := os.MkdirAll(b.WorkDir, 0o755); err != nil {
		return WorkspaceInfo{}, fmt.Errorf("create worktree parent dir: %w", err)
	}

	branch := fmt.Sprintf("gator/%s/%s-%d", planName, taskName, time.Now().UnixNano())
	path := filepath.Join(b.WorkDir, fmt.Sprintf("%s-%s", taskName, time.Now().Format("20060102T150405")))

	base := b.BaseBranch
	if base == "" {
		base = "HEAD"
	}

	if _, err := b.run(ctx, b.ProjectPath, "worktree", "add", "-B", branch, path, base); err != nil {
		return WorkspaceInfo{}, fmt.Errorf("git worktree add: %w", err)
	}

	return WorkspaceInfo{AgentPath: path, HostPath: path, Branch: branch}, nil
}

// ExtractResults is a no-op for worktrees: the agent path and the host path
// are the same directory on the same filesystem, so nothing needs copying.
func (b *WorktreeBackend) ExtractResults(ctx context.Context, info WorkspaceInfo) error {
	return nil
}

func (b *WorktreeBackend) RemoveWorkspace(ctx context.Context, info WorkspaceInfo) error {
	if _, err := b.run(ctx, b.ProjectPath, "worktree", "remove", "--force", info.HostPath); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	if info.Branch != "" {
		if _, err := b.run(ctx, b.ProjectPath, "branch", "-D", info.Branch); err != nil {
			return fmt.Errorf("git branch -D %s: %w", info.Branch, err)
		}
	}
	return nil
}

// run shells out to git via bitfield/script, which runs a command line
// through sh and collects combined output without the exec.Cmd boilerplate.
// Credentials are never prompted for and anything git prints is masked
// before the caller sees it.
func (b *WorktreeBackend) run(ctx context.Context, dir string, args ...string) (string, error) {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	cmdLine := fmt.Sprintf("cd %s && GIT_TERMINAL_PROMPT=0 GIT_ASKPASS=/bin/true git %s", shellQuote(dir), strings.Join(quoted, " "))

	out, err := script.Exec(cmdLine).String()
	out = mask(out)
	if err != nil {
		return out, fmt.Errorf("git %v failed: %w\noutput: %s", args, err, out)
	}
	return out, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
