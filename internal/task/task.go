package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	droverr "github.com/kvasey/drover/internal/errors"
)

// Outcome classifies how an attempt's process ended.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeFailed      Outcome = "failed"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeCancelled   Outcome = "cancelled"

	// OutcomeInterrupted marks attempts left non-terminal by a previous
	// process that exited without finishing them.
	OutcomeInterrupted Outcome = "interrupted"
)

// Task is one unit of work driven through the state machine.
// Its in-memory state is owned by exactly one orchestrator at a time;
// the store is the persistence boundary.
type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Variant     string    `json:"variant"`
	State       State     `json:"state"`
	Retries     int       `json:"retries"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Attempt is one execution run of a task. Immutable once its process
// has exited, except for the terminal outcome fields.
type Attempt struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	WorktreePath  string    `json:"worktree_path,omitempty"`
	Branch        string    `json:"branch,omitempty"`
	Command       string    `json:"command,omitempty"`
	Tier          string    `json:"tier,omitempty"`
	Outcome       Outcome   `json:"outcome,omitempty"`
	ExitCode      int       `json:"exit_code"`
	Log           string    `json:"log,omitempty"`
	FallbackCount int       `json:"fallback_count"`
	Terminal      bool      `json:"terminal"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
}

// New creates a task in the Todo state.
func New(projectID, title, variant string) *Task {
	now := time.Now()
	return &Task{
		ID:        "TASK-" + uuid.NewString()[:8],
		ProjectID: projectID,
		Title:     title,
		Variant:   variant,
		State:     StateTodo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewAttempt creates an attempt record for a task.
func NewAttempt(taskID string) *Attempt {
	return &Attempt{
		ID:        uuid.NewString()[:8],
		TaskID:    taskID,
		StartedAt: time.Now(),
	}
}

// Transition moves the task to a new state, validating legality.
func (t *Task) Transition(to State) error {
	if !CanTransition(t.State, to) {
		return droverr.New(droverr.CodeTaskInvalidState,
			fmt.Sprintf("illegal transition %s -> %s for task %s", t.State, to, t.ID))
	}
	t.State = to
	t.UpdatedAt = time.Now()
	return nil
}

// Finish marks the attempt terminal with the given outcome.
func (a *Attempt) Finish(outcome Outcome, exitCode int) {
	a.Outcome = outcome
	a.ExitCode = exitCode
	a.Terminal = true
	a.EndedAt = time.Now()
}
