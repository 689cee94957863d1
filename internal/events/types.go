// Package events provides event types and publishing infrastructure for drover.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventState indicates a task state transition.
	EventState EventType = "state"
	// EventAttemptStarted indicates an attempt's process began execution.
	EventAttemptStarted EventType = "attempt_started"
	// EventAttemptFinished indicates an attempt reached a terminal outcome.
	EventAttemptFinished EventType = "attempt_finished"
	// EventOutput indicates a captured output line from the assistant process.
	EventOutput EventType = "output"
	// EventFallback indicates a command resolution tier fallback occurred.
	EventFallback EventType = "fallback"
	// EventWarning indicates a non-fatal warning.
	EventWarning EventType = "warning"
	// EventError indicates an error occurred.
	EventError EventType = "error"
	// EventOrphanSwept indicates an orphaned worktree was reclaimed.
	EventOrphanSwept EventType = "orphan_swept"
	// EventReviewReady indicates a task entered review with a diff artifact.
	EventReviewReady EventType = "review_ready"
)

// Event represents a published event.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}

// StateChange describes a task state transition.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FallbackData describes a resolution tier fallback.
type FallbackData struct {
	Variant  string `json:"variant"`
	FromTier string `json:"from_tier"`
	ToTier   string `json:"to_tier"`
	Reason   string `json:"reason"`
}

// AttemptData describes an attempt lifecycle event.
type AttemptData struct {
	AttemptID string `json:"attempt_id"`
	Variant   string `json:"variant"`
	Worktree  string `json:"worktree,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
}

// WarningData represents a non-fatal warning.
type WarningData struct {
	Message string `json:"message"`
}

// ErrorData represents error information.
type ErrorData struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// ReviewData carries the diff artifact for the review surface.
type ReviewData struct {
	AttemptID string `json:"attempt_id"`
	Diff      string `json:"diff,omitempty"`
}

// OrphanData describes a reclaimed worktree.
type OrphanData struct {
	Path string        `json:"path"`
	Age  time.Duration `json:"age"`
}
