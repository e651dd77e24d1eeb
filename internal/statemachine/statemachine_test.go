package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gator/internal/gatorerr"
	"gator/internal/model"
)

func TestLegalEdgesExactly(t *testing.T) {
	want := map[Edge]bool{
		{model.TaskPending, model.TaskAssigned}:  true,
		{model.TaskAssigned, model.TaskRunning}:  true,
		{model.TaskRunning, model.TaskChecking}:  true,
		{model.TaskChecking, model.TaskPassed}:   true,
		{model.TaskChecking, model.TaskFailed}:   true,
		{model.TaskFailed, model.TaskPending}:    true,
		{model.TaskFailed, model.TaskEscalated}:  true,
		{model.TaskEscalated, model.TaskPending}: true,
	}
	for edge := range want {
		assert.True(t, IsLegalEdge(edge.From, edge.To), "expected %v to be legal", edge)
	}
	assert.False(t, IsLegalEdge(model.TaskPending, model.TaskRunning))
	assert.False(t, IsLegalEdge(model.TaskPassed, model.TaskPending))
	assert.False(t, IsLegalEdge(model.TaskEscalated, model.TaskAssigned))
}

func TestValidateRejectsIllegalTransition(t *testing.T) {
	_, err := Validate(model.TaskPending, model.TaskPassed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatorerr.ErrInvalidTransition))
}

func TestValidateSideEffects(t *testing.T) {
	eff, err := Validate(model.TaskAssigned, model.TaskRunning)
	require.NoError(t, err)
	assert.True(t, eff.SetStartedAtNow)

	eff, err = Validate(model.TaskChecking, model.TaskPassed)
	require.NoError(t, err)
	assert.True(t, eff.SetCompletedAtNow)

	eff, err = Validate(model.TaskFailed, model.TaskPending)
	require.NoError(t, err)
	assert.True(t, eff.IncrementAttempt)
	assert.True(t, eff.ClearStartedAt)
	assert.True(t, eff.ClearCompletedAt)
	assert.True(t, eff.ClearAssignment)
	assert.True(t, eff.RequiresAttemptLT)

	eff, err = Validate(model.TaskEscalated, model.TaskPending)
	require.NoError(t, err)
	assert.True(t, eff.IncrementAttempt)
	assert.True(t, eff.ClearAssignment)
}

func TestRequiresDependencyCheck(t *testing.T) {
	assert.True(t, RequiresDependencyCheck(model.TaskPending, model.TaskAssigned))
	assert.False(t, RequiresDependencyCheck(model.TaskFailed, model.TaskAssigned))
}
