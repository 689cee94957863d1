package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kvasey/drover/internal/events"
	"github.com/kvasey/drover/internal/orchestrator"
	"github.com/kvasey/drover/internal/task"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [task-id...]",
		Short: "Execute queued tasks",
		Long: `Run tasks through their assistants, up to max_concurrent at a time.

With task IDs, only those tasks are queued. Without arguments every
task in the todo state is queued. The command blocks until all queued
tasks reach review or a terminal state; Ctrl-C cancels the running
attempts and exits once their processes confirm termination.`,
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
			store, err := openStore(projectDir)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := newLogger()
			publisher := events.NewMemoryPublisher()
			orch, err := buildOrchestrator(projectDir, cfg, store, logger,
				orchestrator.WithPublisher(publisher))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eventCh := publisher.Subscribe(events.GlobalTaskID)
			go printEvents(eventCh)

			if err := orch.Start(ctx); err != nil {
				return err
			}
			defer orch.Stop()

			if len(args) > 0 {
				for _, id := range args {
					t, err := store.LoadTask(id)
					if err != nil {
						return err
					}
					if t.State != task.StateTodo && t.State != task.StateInReview {
						return fmt.Errorf("task %s is %s, not runnable", id, t.State)
					}
					if err := orch.Admit(t); err != nil {
						return err
					}
				}
			} else if err := orch.Resume(); err != nil {
				return err
			}

			orch.Wait()

			snap := orch.Snapshot()
			fmt.Printf("Finished %d task(s)\n", snap.FinishedCount)
			return nil
		},
	}
	return cmd
}

// printEvents renders orchestrator events to the terminal.
func printEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Type {
		case events.EventState:
			if data, ok := ev.Data.(events.StateChange); ok {
				fmt.Printf("%s: %s -> %s\n", ev.TaskID, data.From, data.To)
			}
		case events.EventFallback:
			if data, ok := ev.Data.(events.FallbackData); ok {
				fmt.Printf("%s: %s fell back %s -> %s\n", ev.TaskID, data.Variant, data.FromTier, data.ToTier)
			}
		case events.EventError:
			if data, ok := ev.Data.(events.ErrorData); ok {
				fmt.Printf("%s: error: %s\n", ev.TaskID, data.Message)
			}
		case events.EventOutput:
			if verbose {
				if line, ok := ev.Data.(string); ok {
					fmt.Printf("%s | %s\n", ev.TaskID, line)
				}
			}
		case events.EventOrphanSwept:
			if data, ok := ev.Data.(events.OrphanData); ok {
				fmt.Printf("reclaimed orphaned worktree %s (age %s)\n", data.Path, data.Age)
			}
		}
	}
}
