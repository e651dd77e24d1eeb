package invariant

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/model"
)

func TestRunPassed(t *testing.T) {
	inv := model.Invariant{Command: "true", ExpectedExitCode: 0, TimeoutSecs: 5}
	res, err := Run(context.Background(), inv, os.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
}

func TestRunFailedExitCode(t *testing.T) {
	inv := model.Invariant{Command: "false", ExpectedExitCode: 0, TimeoutSecs: 5}
	res, err := Run(context.Background(), inv, os.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 1, *res.ExitCode)
}

func TestRunExpectedNonzeroExitCode(t *testing.T) {
	inv := model.Invariant{Command: "sh", Args: []string{"-c", "exit 7"}, ExpectedExitCode: 7, TimeoutSecs: 5}
	res, err := Run(context.Background(), inv, os.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestRunTimeout(t *testing.T) {
	inv := model.Invariant{Command: "sleep", Args: []string{"5"}, ExpectedExitCode: 0, TimeoutSecs: 1}
	res, err := Run(context.Background(), inv, os.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Nil(t, res.ExitCode)
	assert.Contains(t, res.Stderr, "timed out")
}

func TestRunSpawnFailureIsError(t *testing.T) {
	inv := model.Invariant{Command: "gator-nonexistent-command-xyz", ExpectedExitCode: 0, TimeoutSecs: 5}
	_, err := Run(context.Background(), inv, os.TempDir())
	assert.Error(t, err)
}
