package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitfield/script"
)

// commitWorkspace stages every file the agent produced and commits it to
// the task's branch. Called only on an auto-pass verdict (SPEC_FULL.md
// §4.8 step 11); a commit failure is reported to the caller, who logs it
// as a warning and does not demote the verdict.
func commitWorkspace(ctx context.Context, workspaceDir, message string) error {
	addCmd := fmt.Sprintf("cd %s && git add -A", shellQuote(workspaceDir))
	if out, err := script.Exec(addCmd).String(); err != nil {
		return fmt.Errorf("git add -A: %w\noutput: %s", err, out)
	}

	// Nothing to commit is not an error: the agent may have only run
	// checks without changing files.
	statusCmd := fmt.Sprintf("cd %s && git status --porcelain", shellQuote(workspaceDir))
	out, err := script.Exec(statusCmd).String()
	if err != nil {
		return fmt.Errorf("git status: %w\noutput: %s", err, out)
	}
	if strings.TrimSpace(out) == "" {
		return nil
	}

	commitCmd := fmt.Sprintf("cd %s && git commit -m %s", shellQuote(workspaceDir), shellQuote(message))
	if out, err := script.Exec(commitCmd).String(); err != nil {
		return fmt.Errorf("git commit: %w\noutput: %s", err, out)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
