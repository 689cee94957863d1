package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	droverr "github.com/kvasey/drover/internal/errors"
	"github.com/kvasey/drover/internal/task"
)

// newCancelCmd creates the cancel command
func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Long: `Cancel a task that is not currently running. Cancelled is terminal;
the task will never run again. A running attempt is cancelled with
Ctrl-C in the 'drover run' session that owns it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := projectRoot()
			if err != nil {
				return err
			}
			if err := requireInit(projectDir); err != nil {
				return err
			}

			store, err := openStore(projectDir)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.LoadTask(args[0])
			if err != nil {
				return err
			}
			if t.State == task.StateInProgress {
				return droverr.New(droverr.CodeTaskInvalidState,
					fmt.Sprintf("task %s has a running attempt", t.ID)).
					WithFix("interrupt the 'drover run' session that owns it")
			}

			if err := t.Transition(task.StateCancelled); err != nil {
				return err
			}
			if err := store.SaveTask(t); err != nil {
				return err
			}

			fmt.Printf("%s cancelled\n", t.ID)
			return nil
		},
	}
}
