// Package errors provides structured error types for drover.
package errors

import (
	"encoding/json"
	"errors"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for drover.
const (
	// Resolution errors
	CodeResolutionExhausted Code = "RESOLUTION_EXHAUSTED"
	CodeProcessSpawnFailed  Code = "PROCESS_SPAWN_FAILED"
	CodeProcessTimedOut     Code = "PROCESS_TIMED_OUT"

	// Worktree errors
	CodeWorktreeAcquisitionFailed Code = "WORKTREE_ACQUISITION_FAILED"
	CodeGitDirty                  Code = "GIT_DIRTY"

	// Task errors
	CodeTaskNotFound     Code = "TASK_NOT_FOUND"
	CodeTaskInvalidState Code = "TASK_INVALID_STATE"
	CodeAttemptActive    Code = "ATTEMPT_ACTIVE"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// DroverError is the structured error type for drover.
type DroverError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *DroverError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *DroverError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *DroverError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler, including the cause message.
func (e *DroverError) MarshalJSON() ([]byte, error) {
	type alias DroverError
	return json.Marshal(&struct {
		*alias
		Cause string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
		Cause: causeString(e.Cause),
	})
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// New creates a DroverError with the given code and message.
func New(code Code, what string) *DroverError {
	return &DroverError{Code: code, What: what}
}

// Wrap creates a DroverError wrapping a cause.
func Wrap(code Code, what string, cause error) *DroverError {
	return &DroverError{Code: code, What: what, Cause: cause}
}

// WithWhy attaches an explanation.
func (e *DroverError) WithWhy(why string) *DroverError {
	e.Why = why
	return e
}

// WithFix attaches a suggested fix.
func (e *DroverError) WithFix(fix string) *DroverError {
	e.Fix = fix
	return e
}

// CodeOf returns the code of err if it is (or wraps) a DroverError.
func CodeOf(err error) (Code, bool) {
	var de *DroverError
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
