package isolation

import "fmt"

// Config selects and parameterizes an isolation Backend for a plan.
type Config struct {
	Mode        string // "worktree" or "container"
	ProjectPath string
	WorkDir     string
	BaseBranch  string
	Image       string
	StageRoot   string
}

func New(cfg Config) (Backend, error) {
	switch cfg.Mode {
	case "worktree", "":
		return NewWorktreeBackend(cfg.ProjectPath, cfg.WorkDir, cfg.BaseBranch), nil
	case "container":
		return NewContainerBackend(cfg.Image, cfg.StageRoot)
	default:
		return nil, fmt.Errorf("unsupported isolation mode: %s", cfg.Mode)
	}
}
