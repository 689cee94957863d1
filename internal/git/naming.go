package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxBranchNameLength is the maximum allowed length for branch names.
const MaxBranchNameLength = 256

// ErrInvalidBranchName indicates a branch name failed validation.
var ErrInvalidBranchName = errors.New("invalid branch name")

// branchNamePattern validates branch names: alphanumeric, slash, hyphen,
// underscore, dot. Must start with alphanumeric.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// ValidateBranchName validates a branch name for git compatibility and
// shell safety. Attempt IDs feed into branch names, so this guards the
// whole naming scheme.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidBranchName)
	}
	if len(name) > MaxBranchNameLength {
		return fmt.Errorf("%w: exceeds maximum length of %d characters", ErrInvalidBranchName, MaxBranchNameLength)
	}
	if strings.EqualFold(name, "head") || name == "@" {
		return fmt.Errorf("%w: '%s' is a reserved name", ErrInvalidBranchName, name)
	}
	if strings.Contains(name, "@{") {
		return fmt.Errorf("%w: cannot contain '@{' (git revision syntax)", ErrInvalidBranchName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidBranchName)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: cannot end with '.lock'", ErrInvalidBranchName)
	}
	if strings.HasSuffix(name, ".") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: cannot end with '.' or '/'", ErrInvalidBranchName)
	}
	if strings.Contains(name, "//") || strings.Contains(name, "/.") {
		return fmt.Errorf("%w: malformed path component", ErrInvalidBranchName)
	}
	if !branchNamePattern.MatchString(name) {
		return fmt.Errorf("%w: contains disallowed characters", ErrInvalidBranchName)
	}
	return nil
}

// BranchName returns the branch name for an attempt.
// Example: drover/attempt-5f3a21d0.
func BranchName(prefix, attemptID string) string {
	return fmt.Sprintf("%s/attempt-%s", prefix, attemptID)
}

// WorktreeDirName returns the directory name for an attempt's worktree.
// The name derives from the attempt ID, which is unique per attempt, so
// concurrently live attempts never collide.
func WorktreeDirName(prefix, attemptID string) string {
	return fmt.Sprintf("%s-%s", prefix, attemptID)
}

// WorktreePath returns the full path for an attempt's worktree.
func WorktreePath(worktreesDir, prefix, attemptID string) string {
	return filepath.Join(worktreesDir, WorktreeDirName(prefix, attemptID))
}

// AttemptIDFromDirName extracts the attempt ID from a worktree directory
// name, or "" when the name does not match the naming scheme.
func AttemptIDFromDirName(prefix, dirName string) string {
	want := prefix + "-"
	if !strings.HasPrefix(dirName, want) {
		return ""
	}
	return strings.TrimPrefix(dirName, want)
}
