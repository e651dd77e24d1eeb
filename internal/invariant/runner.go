// Package invariant runs a single Invariant command and captures its
// outcome (SPEC_FULL.md §4.3). It is grounded on the teacher's gate/QA
// idiom of treating a subprocess exit code as a pass/fail signal, with the
// concurrent stdout/stderr draining pattern used throughout the teacher's
// internal/docker client (stdcopy.StdCopy demuxing two streams at once to
// avoid a blocked pipe).
package invariant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"gator/internal/model"
)

// Result is the outcome of running one Invariant.
type Result struct {
	Passed     bool
	ExitCode   *int
	Stdout     string
	Stderr     string
	DurationMs int64
}

// Run spawns inv.Command with inv.Args in dir, capturing stdout/stderr
// concurrently and enforcing inv.TimeoutSecs. A spawn failure (command not
// found, working directory missing) is returned as an error; everything
// else — including a timeout or a nonzero exit — is folded into Result.
func Run(ctx context.Context, inv model.Invariant, dir string) (Result, error) {
	timeout := time.Duration(inv.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, inv.Command, inv.Args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("spawn %s: %w", inv.Command, err)
	}

	wg.Add(2)
	go func() { defer wg.Done(); stdout.ReadFrom(stdoutPipe) }()
	go func() { defer wg.Done(); stderr.ReadFrom(stderrPipe) }()
	wg.Wait()

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Passed:     false,
			ExitCode:   nil,
			Stdout:     stdout.String(),
			Stderr:     fmt.Sprintf("timed out after %ds", inv.TimeoutSecs),
			DurationMs: duration.Milliseconds(),
		}, nil
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("run %s: %w", inv.Command, waitErr)
		}
	}

	return Result{
		Passed:     exitCode == inv.ExpectedExitCode,
		ExitCode:   &exitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}, nil
}
