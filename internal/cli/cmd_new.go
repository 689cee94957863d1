package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kvasey/drover/internal/executor"
	"github.com/kvasey/drover/internal/task"
)

// newNewCmd creates the new task command
func newNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <title>",
		Short: "Create a new task",
		Long: `Create a new task to be run by drover.

Pick the assistant with --variant (claude, claude-plan, gemini, codex).
claude-plan produces a plan for review instead of making changes.

Example:
  drover new "Fix authentication timeout bug"
  drover new "Design the billing refactor" --variant claude-plan
  drover new "Add dark mode" -d "toggle in settings, persist choice"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := projectRoot()
			if err != nil {
				return err
			}
			if err := requireInit(projectDir); err != nil {
				return err
			}

			variant, _ := cmd.Flags().GetString("variant")
			description, _ := cmd.Flags().GetString("description")

			if _, err := executor.Parse(variant); err != nil {
				return err
			}

			store, err := openStore(projectDir)
			if err != nil {
				return err
			}
			defer store.Close()

			t := task.New(filepath.Base(projectDir), args[0], variant)
			t.Description = description
			if err := store.SaveTask(t); err != nil {
				return err
			}

			fmt.Printf("Created %s (%s)\n", t.ID, t.Variant)
			return nil
		},
	}

	cmd.Flags().StringP("variant", "e", "claude", "assistant variant to run the task")
	cmd.Flags().StringP("description", "d", "", "task description passed to the assistant")
	return cmd
}
