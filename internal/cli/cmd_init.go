package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvasey/drover/internal/config"
	"github.com/kvasey/drover/internal/git"
)

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize drover in the current project",
		Long: `Initialize drover in the current git repository.

Creates the .drover directory with a default config.yaml and the task
store. The project must be a git repository, since every attempt runs
in a linked worktree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := projectRoot()
			if err != nil {
				return err
			}

			if _, err := git.NewContext(projectDir); err != nil {
				return fmt.Errorf("drover requires a git repository: %w", err)
			}

			dir := droverDir(projectDir)
			if _, err := os.Stat(dir); err == nil {
				fmt.Println("drover already initialized")
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}

			cfg := config.Default()
			if err := config.Save(cfg, projectDir); err != nil {
				return err
			}

			store, err := openStore(projectDir)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("Initialized drover in %s\n", dir)
			return nil
		},
	}
}
