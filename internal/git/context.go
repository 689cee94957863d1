// Package git provides the version-control backend for drover worktrees.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
)

// ErrNotGitRepo indicates the path is not inside a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// ErrBranchExists indicates the branch already exists.
var ErrBranchExists = errors.New("branch already exists")

// Context manages git operations for one repository.
type Context struct {
	repoPath string        // path to the main repository
	runner   CommandRunner // defaults to the git CLI
}

// ContextOption configures Context.
type ContextOption func(*Context)

// WithRunner sets a custom command runner for git operations.
// This is primarily used for testing to inject mock command execution.
func WithRunner(runner CommandRunner) ContextOption {
	return func(c *Context) {
		c.runner = runner
	}
}

// NewContext creates a git context for the repository at repoPath.
// It validates that the path is a git repository.
func NewContext(repoPath string, opts ...ContextOption) (*Context, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	c := &Context{
		repoPath: absPath,
		runner:   cliRunner{},
	}
	for _, opt := range opts {
		opt(c)
	}

	// Verify it's a git repository. Skipped for injected runners so
	// mock-backed tests do not need a real repo on disk.
	if _, isCLI := c.runner.(cliRunner); isCLI {
		cmd := exec.Command("git", "rev-parse", "--git-dir")
		cmd.Dir = absPath
		if err := cmd.Run(); err != nil {
			return nil, ErrNotGitRepo
		}
	}

	return c, nil
}

// RepoPath returns the path to the main repository.
func (c *Context) RepoPath() string {
	return c.repoPath
}

// RunGit runs a git command in the repository root.
func (c *Context) RunGit(args ...string) (string, error) {
	return c.runner.Git(c.repoPath, args...)
}

// RunGitIn runs a git command in the given working directory.
func (c *Context) RunGitIn(workDir string, args ...string) (string, error) {
	return c.runner.Git(workDir, args...)
}

// CurrentBranch returns the current branch name.
func (c *Context) CurrentBranch() (string, error) {
	branch, err := c.RunGit("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return branch, nil
}

// RefExists checks whether a ref (branch, tag, or commit) resolves.
func (c *Context) RefExists(ref string) bool {
	_, err := c.RunGit("rev-parse", "--verify", ref)
	return err == nil
}

// DeleteBranch deletes a branch, forcing when unmerged.
func (c *Context) DeleteBranch(name string) error {
	if _, err := c.RunGit("branch", "-D", name); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}

// DiffAgainstBase returns the diff between baseRef and the worktree's
// HEAD plus its uncommitted changes.
func (c *Context) DiffAgainstBase(worktreePath, baseRef string) (string, error) {
	out, err := c.RunGitIn(worktreePath, "diff", baseRef)
	if err != nil {
		return "", fmt.Errorf("diff against %s: %w", baseRef, err)
	}
	return out, nil
}
