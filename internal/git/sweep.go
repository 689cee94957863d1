package git

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// LiveFunc reports whether the attempt that owns a worktree is still
// live (present and non-terminal) in the task store.
type LiveFunc func(attemptID string) bool

// SweptWorktree describes one reclaimed orphan.
type SweptWorktree struct {
	Path      string
	AttemptID string
	Age       time.Duration
}

// SweepOrphans reconciles the worktrees directory against attempt
// records. A worktree whose owning attempt is missing or terminal, and
// whose age exceeds maxAge, is removed and its branch deleted. Runs at
// startup and optionally on a timer; it is idempotent, and a no-op when
// cleanup is disabled so crashed attempts stay inspectable.
func (m *Manager) SweepOrphans(maxAge time.Duration, isLive LiveFunc) ([]SweptWorktree, error) {
	if !m.cleanup {
		m.logger.Info("orphan sweep skipped, cleanup disabled")
		return nil, nil
	}

	entries, err := os.ReadDir(m.worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktrees dir: %w", err)
	}

	now := time.Now()
	var swept []SweptWorktree
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		attemptID := AttemptIDFromDirName(m.prefix, entry.Name())
		if attemptID == "" {
			continue // not one of ours
		}
		if isLive != nil && isLive(attemptID) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age < maxAge {
			continue
		}

		path := m.PathFor(attemptID)
		branch := m.BranchFor(attemptID)
		m.removeQuietly(path, branch)
		m.logger.Warn("orphaned worktree reclaimed",
			slog.String("path", path),
			slog.String("attempt_id", attemptID),
			slog.Duration("age", age))
		swept = append(swept, SweptWorktree{Path: path, AttemptID: attemptID, Age: age})
	}

	return swept, nil
}
