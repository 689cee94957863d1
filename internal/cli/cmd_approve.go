package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	droverr "github.com/kvasey/drover/internal/errors"
	"github.com/kvasey/drover/internal/task"
)

// newApproveCmd creates the approve command
func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Accept a reviewed task as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transitionReviewed(args[0], task.StateDone, "approved")
		},
	}
}

// newRejectCmd creates the reject command
func newRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Send a reviewed task back for another attempt",
		Long: `Reject a reviewed task. The task returns to the todo queue and the
next 'drover run' starts a fresh attempt with the review still in its
history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transitionReviewed(args[0], task.StateTodo, "requeued")
		},
	}
}

func transitionReviewed(taskID string, to task.State, verb string) error {
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

	t, err := store.LoadTask(taskID)
	if err != nil {
		return err
	}
	if t.State != task.StateInReview {
		return droverr.New(droverr.CodeTaskInvalidState,
			fmt.Sprintf("task %s is %s, not in review", taskID, t.State))
	}

	if to == task.StateTodo {
		// Back through in_progress, the only edge out of review that
		// re-runs, then into the queue for the next run.
		if err := t.Transition(task.StateInProgress); err != nil {
			return err
		}
	}
	if err := t.Transition(to); err != nil {
		return err
	}
	if err := store.SaveTask(t); err != nil {
		return err
	}

	fmt.Printf("%s %s\n", t.ID, verb)
	return nil
}
