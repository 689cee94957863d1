package task

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	droverr "github.com/kvasey/drover/internal/errors"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "drover.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)

	tk := New("proj", "add feature", "claude")
	tk.Description = "details"
	require.NoError(t, s.SaveTask(tk))

	got, err := s.LoadTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, tk.Title, got.Title)
	assert.Equal(t, tk.Description, got.Description)
	assert.Equal(t, StateTodo, got.State)
	assert.Equal(t, tk.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
}

func TestLoadTaskNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadTask("TASK-nope")
	require.Error(t, err)
	assert.True(t, droverr.Is(err, droverr.CodeTaskNotFound))
}

func TestSaveTaskUpsert(t *testing.T) {
	s := openTestStore(t)

	tk := New("proj", "title", "claude")
	require.NoError(t, s.SaveTask(tk))

	require.NoError(t, tk.Transition(StateInProgress))
	tk.Retries = 2
	require.NoError(t, s.SaveTask(tk))

	got, err := s.LoadTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, got.State)
	assert.Equal(t, 2, got.Retries)
}

func TestListTasksOrder(t *testing.T) {
	s := openTestStore(t)

	a := New("proj", "first", "claude")
	b := New("proj", "second", "claude")
	b.CreatedAt = a.CreatedAt.Add(1) // deterministic ordering
	require.NoError(t, s.SaveTask(a))
	require.NoError(t, s.SaveTask(b))

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, a.ID, tasks[0].ID)
	assert.Equal(t, b.ID, tasks[1].ID)
}

func TestAttemptRoundTrip(t *testing.T) {
	s := openTestStore(t)

	tk := New("proj", "title", "claude")
	require.NoError(t, s.SaveTask(tk))

	a := NewAttempt(tk.ID)
	a.WorktreePath = "/tmp/wt"
	a.Branch = "drover/attempt-" + a.ID
	a.Command = "/usr/bin/claude"
	a.Tier = "local"
	require.NoError(t, s.SaveAttempt(a))

	got, err := s.LoadAttempt(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Branch, got.Branch)
	assert.Equal(t, a.Tier, got.Tier)
	assert.False(t, got.Terminal)
	assert.True(t, got.EndedAt.IsZero())

	a.Finish(OutcomeSucceeded, 0)
	require.NoError(t, s.SaveAttempt(a))

	got, err = s.LoadAttempt(a.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminal)
	assert.Equal(t, OutcomeSucceeded, got.Outcome)
	assert.False(t, got.EndedAt.IsZero())
}

func TestSecondActiveAttemptRejected(t *testing.T) {
	s := openTestStore(t)

	tk := New("proj", "title", "claude")
	require.NoError(t, s.SaveTask(tk))

	first := NewAttempt(tk.ID)
	require.NoError(t, s.SaveAttempt(first))

	second := NewAttempt(tk.ID)
	err := s.SaveAttempt(second)
	require.Error(t, err)
	assert.True(t, droverr.Is(err, droverr.CodeAttemptActive))

	// Once the first attempt is terminal, a new one is allowed.
	first.Finish(OutcomeFailed, 1)
	require.NoError(t, s.SaveAttempt(first))
	require.NoError(t, s.SaveAttempt(second))
}

func TestAttemptsForTask(t *testing.T) {
	s := openTestStore(t)

	tk := New("proj", "title", "claude")
	require.NoError(t, s.SaveTask(tk))

	a := NewAttempt(tk.ID)
	a.Finish(OutcomeFailed, 1)
	require.NoError(t, s.SaveAttempt(a))

	b := NewAttempt(tk.ID)
	b.StartedAt = a.StartedAt.Add(1)
	require.NoError(t, s.SaveAttempt(b))

	attempts, err := s.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, a.ID, attempts[0].ID)
	assert.Equal(t, b.ID, attempts[1].ID)
}

func TestFinishStaleAttempts(t *testing.T) {
	s := openTestStore(t)

	tk := New("proj", "title", "claude")
	require.NoError(t, s.SaveTask(tk))

	done := NewAttempt(tk.ID)
	done.Finish(OutcomeSucceeded, 0)
	require.NoError(t, s.SaveAttempt(done))

	stale := NewAttempt(tk.ID)
	require.NoError(t, s.SaveAttempt(stale))

	n, err := s.FinishStaleAttempts(OutcomeInterrupted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.LoadAttempt(stale.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminal)
	assert.Equal(t, OutcomeInterrupted, got.Outcome)
	assert.False(t, got.EndedAt.IsZero())
	assert.False(t, s.IsAttemptLive(stale.ID))

	// Terminal attempts keep their original outcome.
	got, err = s.LoadAttempt(done.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, got.Outcome)

	// The task is free for a fresh attempt again.
	require.NoError(t, s.SaveAttempt(NewAttempt(tk.ID)))
}

func TestIsAttemptLive(t *testing.T) {
	s := openTestStore(t)

	tk := New("proj", "title", "claude")
	require.NoError(t, s.SaveTask(tk))

	a := NewAttempt(tk.ID)
	require.NoError(t, s.SaveAttempt(a))
	assert.True(t, s.IsAttemptLive(a.ID))

	a.Finish(OutcomeCancelled, -1)
	require.NoError(t, s.SaveAttempt(a))
	assert.False(t, s.IsAttemptLive(a.ID))

	assert.False(t, s.IsAttemptLive("missing"))
}
