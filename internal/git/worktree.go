package git

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	droverr "github.com/kvasey/drover/internal/errors"
)

// Worktree is an isolated, disposable working copy for one attempt.
type Worktree struct {
	Path      string
	Branch    string
	BaseRef   string
	AttemptID string // empty means orphaned
	CreatedAt time.Time
}

// Manager creates and destroys attempt worktrees.
type Manager struct {
	ctx          *Context
	worktreesDir string
	prefix       string
	cleanup      bool
	keepOnDone   bool
	logger       *slog.Logger

	// Serializes compound worktree operations (create with prune-retry,
	// remove) so concurrent attempts do not interleave pruning.
	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithWorktreesDir sets where worktrees are created. Default is
// .worktrees under the repository root.
func WithWorktreesDir(dir string) ManagerOption {
	return func(m *Manager) { m.worktreesDir = dir }
}

// WithPrefix sets the branch/directory prefix. Default "drover".
func WithPrefix(prefix string) ManagerOption {
	return func(m *Manager) { m.prefix = prefix }
}

// WithCleanup controls whether Release and SweepOrphans remove anything.
// Disabled cleanup keeps every worktree for post-mortem debugging.
func WithCleanup(enabled bool) ManagerOption {
	return func(m *Manager) { m.cleanup = enabled }
}

// WithKeepOnSuccess leaves successful worktrees in place after the diff
// artifact is produced, for post-hoc review.
func WithKeepOnSuccess(keep bool) ManagerOption {
	return func(m *Manager) { m.keepOnDone = keep }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a worktree manager over the given git context.
func NewManager(ctx *Context, opts ...ManagerOption) *Manager {
	m := &Manager{
		ctx:          ctx,
		worktreesDir: filepath.Join(ctx.RepoPath(), ".worktrees"),
		prefix:       "drover",
		cleanup:      true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BranchFor returns the branch name an attempt's worktree will use.
func (m *Manager) BranchFor(attemptID string) string {
	return BranchName(m.prefix, attemptID)
}

// PathFor returns the path an attempt's worktree will use.
func (m *Manager) PathFor(attemptID string) string {
	return WorktreePath(m.worktreesDir, m.prefix, attemptID)
}

// Acquire creates an isolated worktree for an attempt, branched from
// baseRef. The branch and path derive from the attempt ID, so paths are
// collision-free across concurrently live attempts. Acquire either
// fully succeeds or rolls back whatever it created.
func (m *Manager) Acquire(attemptID, baseRef string) (*Worktree, error) {
	branch := m.BranchFor(attemptID)
	if err := ValidateBranchName(branch); err != nil {
		return nil, droverr.Wrap(droverr.CodeWorktreeAcquisitionFailed, "invalid attempt branch name", err)
	}
	path := m.PathFor(attemptID)

	if err := os.MkdirAll(m.worktreesDir, 0o755); err != nil {
		return nil, droverr.Wrap(droverr.CodeWorktreeAcquisitionFailed, "create worktrees dir", err)
	}

	if err := m.tryCreateWorktree(branch, path, baseRef); err != nil {
		// Roll back any partial creation so a later Acquire for the same
		// attempt starts clean.
		m.removeQuietly(path, branch)
		return nil, droverr.Wrap(droverr.CodeWorktreeAcquisitionFailed, "create worktree", err).
			WithWhy(fmt.Sprintf("attempt %s at base %s", attemptID, baseRef))
	}

	m.logger.Info("worktree acquired", "attempt_id", attemptID, "path", path, "branch", branch)
	return &Worktree{
		Path:      path,
		Branch:    branch,
		BaseRef:   baseRef,
		AttemptID: attemptID,
		CreatedAt: time.Now(),
	}, nil
}

// tryCreateWorktree attempts to create a worktree, handling stale
// registrations. If the initial attempt fails, it prunes stale worktree
// entries and retries once. This covers the case where a worktree
// directory was deleted but git still tracks it.
func (m *Manager) tryCreateWorktree(branch, path, baseRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.ctx.RunGit("worktree", "add", "-b", branch, path, baseRef)
	if err == nil {
		return nil
	}

	_, _ = m.ctx.RunGit("worktree", "prune")

	_, err = m.ctx.RunGit("worktree", "add", "-b", branch, path, baseRef)
	return err
}

// Release tears down an attempt's worktree after a terminal outcome.
// On success it first produces the diff-vs-base artifact for the review
// surface. The worktree is left in place when cleanup is disabled, or
// when the outcome succeeded and the keep-on-success policy is set.
func (m *Manager) Release(wt *Worktree, success bool) (diff string, err error) {
	if wt == nil {
		return "", nil
	}

	if success {
		diff, err = m.Diff(wt)
		if err != nil {
			m.logger.Warn("diff artifact failed", "attempt_id", wt.AttemptID, "error", err)
			diff = ""
		}
	}

	if !m.cleanup || (success && m.keepOnDone) {
		m.logger.Info("worktree kept", "attempt_id", wt.AttemptID, "path", wt.Path)
		return diff, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ctx.RunGit("worktree", "remove", "--force", wt.Path); err != nil {
		return diff, fmt.Errorf("remove worktree %s: %w", wt.Path, err)
	}
	if err := m.ctx.DeleteBranch(wt.Branch); err != nil {
		// The copy is gone; a leftover branch is harmless but noted.
		m.logger.Warn("delete attempt branch failed", "branch", wt.Branch, "error", err)
	}

	m.logger.Info("worktree released", "attempt_id", wt.AttemptID, "path", wt.Path)
	return diff, nil
}

// Diff returns the diff between the worktree's state and its base ref.
func (m *Manager) Diff(wt *Worktree) (string, error) {
	return m.ctx.DiffAgainstBase(wt.Path, wt.BaseRef)
}

// removeQuietly removes a worktree and branch ignoring errors.
func (m *Manager) removeQuietly(path, branch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = m.ctx.RunGit("worktree", "remove", "--force", path)
	_, _ = m.ctx.RunGit("branch", "-D", branch)
	_, _ = m.ctx.RunGit("worktree", "prune")
}
