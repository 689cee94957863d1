package git

import (
	"bytes"
	"os/exec"
	"strings"
)

// CommandRunner is the seam between the Context and the git binary.
// Tests inject implementations that script git behavior without a
// repository on disk.
type CommandRunner interface {
	// Git runs git with the given arguments in dir and returns trimmed
	// stdout. On failure the error carries git's own message.
	Git(dir string, args ...string) (string, error)
}

// cliRunner shells out to the installed git binary.
type cliRunner struct{}

func (cliRunner) Git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", &GitError{Args: args, Dir: dir, Message: msg, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// GitError is a failed git invocation. Message holds whatever git
// printed, which is usually the most useful part.
type GitError struct {
	Args    []string
	Dir     string
	Message string
	Err     error
}

func (e *GitError) Error() string {
	cmdline := "git " + strings.Join(e.Args, " ")
	if e.Message != "" {
		return cmdline + ": " + e.Message
	}
	return cmdline + ": " + e.Err.Error()
}

func (e *GitError) Unwrap() error {
	return e.Err
}
