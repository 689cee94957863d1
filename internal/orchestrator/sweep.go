package orchestrator

import (
	"time"

	"github.com/kvasey/drover/internal/events"
	"github.com/kvasey/drover/internal/git"
)

// SweepOrphans reconciles the worktree directory against the attempt
// store: worktrees whose owning attempt is missing or terminal, and
// which are older than the configured threshold, are removed. Runs at
// startup and, when configured, on a timer. A no-op when cleanup is
// disabled.
func (o *Orchestrator) SweepOrphans() ([]git.SweptWorktree, error) {
	if !o.cfg.CleanupWorktrees {
		return nil, nil
	}

	swept, err := o.worktrees.SweepOrphans(o.cfg.OrphanMaxAge, o.store.IsAttemptLive)
	if err != nil {
		return nil, err
	}
	for _, wt := range swept {
		o.logger.Info("orphaned worktree reclaimed", "path", wt.Path, "age", wt.Age)
		o.publisher.Publish(events.NewEvent(events.EventOrphanSwept, events.GlobalTaskID, events.OrphanData{
			Path: wt.Path,
			Age:  wt.Age,
		}))
	}
	return swept, nil
}

func (o *Orchestrator) sweepLoop(interval time.Duration) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.SweepOrphans(); err != nil {
				o.logger.Warn("periodic orphan sweep failed", "error", err)
			}
		}
	}
}
