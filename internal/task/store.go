package task

// Store is the persistence boundary for tasks and attempts.
// All implementations must be safe for concurrent access.
type Store interface {
	// Task operations
	SaveTask(t *Task) error
	LoadTask(id string) (*Task, error)
	ListTasks() ([]*Task, error)

	// Attempt operations. SaveAttempt enforces the at-most-one-active-
	// attempt-per-task invariant as a storage-layer safety net: saving a
	// second non-terminal attempt for the same task fails with
	// ATTEMPT_ACTIVE.
	SaveAttempt(a *Attempt) error
	LoadAttempt(id string) (*Attempt, error)
	AttemptsForTask(taskID string) ([]*Attempt, error)

	// IsAttemptLive reports whether the attempt exists and is not
	// terminal. Used by the orphan sweep.
	IsAttemptLive(attemptID string) bool

	// FinishStaleAttempts marks every non-terminal attempt terminal with
	// the given outcome and returns how many were finished. Only valid
	// at startup, before any attempt of this process has begun:
	// non-terminal rows can then only be leftovers of a crashed process,
	// and finishing them frees their tasks and lets the orphan sweep
	// reclaim their worktrees.
	FinishStaleAttempts(outcome Outcome) (int, error)

	// Lifecycle
	Close() error
}
