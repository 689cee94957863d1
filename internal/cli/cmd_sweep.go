package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvasey/drover/internal/git"
)

// newSweepCmd creates the sweep command
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim orphaned worktrees",
		Long: `Remove worktrees left behind by crashed runs.

A worktree is orphaned when its attempt is missing or terminal in the
task store and the worktree is older than orphan_max_age. A no-op when
cleanup_worktrees is disabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := projectRoot()
			if err != nil {
				return err
			}
			if err := requireInit(projectDir); err != nil {
				return err
			}

			cfg, err := loadConfig(projectDir)
			if err != nil {
				return err
			}
			if !cfg.CleanupWorktrees {
				fmt.Println("Worktree cleanup is disabled, nothing swept.")
				return nil
			}

			store, err := openStore(projectDir)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := newLogger()
			gitCtx, err := git.NewContext(projectDir)
			if err != nil {
				return err
			}
			manager := git.NewManager(gitCtx,
				git.WithWorktreesDir(cfg.ResolveWorktreeDir(projectDir)),
				git.WithPrefix(cfg.BranchPrefix),
				git.WithManagerLogger(logger))

			swept, err := manager.SweepOrphans(cfg.OrphanMaxAge, store.IsAttemptLive)
			if err != nil {
				return err
			}

			if len(swept) == 0 {
				fmt.Println("No orphaned worktrees found.")
				return nil
			}
			for _, wt := range swept {
				fmt.Printf("Reclaimed %s (age %s)\n", wt.Path, wt.Age.Round(time.Second))
			}
			return nil
		},
	}
}
