package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	droverr "github.com/kvasey/drover/internal/errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateTodo, StateInProgress, true},
		{StateTodo, StateCancelled, true},
		{StateInProgress, StateInReview, true},
		{StateInProgress, StateFailed, true},
		{StateInProgress, StateCancelled, true},
		{StateInProgress, StateTodo, true}, // requeue after acquire failure
		{StateInReview, StateDone, true},
		{StateInReview, StateInProgress, true},
		{StateTodo, StateDone, false},
		{StateTodo, StateInReview, false},
		{StateDone, StateInProgress, false},
		{StateCancelled, StateTodo, false},
		{StateFailed, StateDone, false},
		{StateInReview, StateFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StateDone))
	assert.True(t, IsTerminal(StateCancelled))
	assert.False(t, IsTerminal(StateFailed))
	assert.False(t, IsTerminal(StateTodo))
	assert.False(t, IsTerminal(StateInProgress))
	assert.False(t, IsTerminal(StateInReview))
}

func TestTaskTransition(t *testing.T) {
	tk := New("proj", "add feature", "claude")
	require.Equal(t, StateTodo, tk.State)

	require.NoError(t, tk.Transition(StateInProgress))
	require.NoError(t, tk.Transition(StateInReview))
	require.NoError(t, tk.Transition(StateDone))

	err := tk.Transition(StateInProgress)
	require.Error(t, err)
	assert.True(t, droverr.Is(err, droverr.CodeTaskInvalidState))
	assert.Equal(t, StateDone, tk.State, "state unchanged on illegal transition")
}

func TestNewTaskDefaults(t *testing.T) {
	tk := New("proj", "title", "claude")
	assert.NotEmpty(t, tk.ID)
	assert.Contains(t, tk.ID, "TASK-")
	assert.Equal(t, StateTodo, tk.State)
	assert.Zero(t, tk.Retries)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestAttemptFinish(t *testing.T) {
	a := NewAttempt("TASK-abc")
	assert.False(t, a.Terminal)

	a.Finish(OutcomeSucceeded, 0)
	assert.True(t, a.Terminal)
	assert.Equal(t, OutcomeSucceeded, a.Outcome)
	assert.False(t, a.EndedAt.IsZero())
}
