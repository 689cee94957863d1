// Package task provides the task and attempt model for drover.
package task

// State represents the current state of a task.
type State string

const (
	StateTodo       State = "todo"
	StateInProgress State = "in_progress"
	StateInReview   State = "in_review"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// ValidStates returns all valid state values.
func ValidStates() []State {
	return []State{
		StateTodo, StateInProgress, StateInReview,
		StateDone, StateFailed, StateCancelled,
	}
}

// IsValidState returns true if s is a valid state value.
func IsValidState(s State) bool {
	switch s {
	case StateTodo, StateInProgress, StateInReview, StateDone, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition is possible.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateCancelled
}

// transitions holds the allowed task state transitions.
var transitions = map[State][]State{
	StateTodo:       {StateInProgress, StateFailed, StateCancelled},
	StateInProgress: {StateInReview, StateFailed, StateCancelled, StateTodo},
	StateInReview:   {StateDone, StateInProgress, StateCancelled},
	StateFailed:     {StateCancelled},
	StateDone:       {},
	StateCancelled:  {},
}

// CanTransition reports whether from -> to is a legal transition.
// InProgress -> Todo covers worktree acquisition failure (the task
// returns to the queue); InReview -> InProgress covers re-iteration.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
