package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task and its attempts",
		Args:  cobra.ExactArgs(1),
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
			attempts, err := store.AttemptsForTask(t.ID)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"task": t, "attempts": attempts})
			}

			fmt.Printf("%s  %s\n", t.ID, t.Title)
			fmt.Printf("  state:    %s\n", t.State)
			fmt.Printf("  variant:  %s\n", t.Variant)
			if t.Description != "" {
				fmt.Printf("  detail:   %s\n", t.Description)
			}
			fmt.Printf("  created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))

			if len(attempts) == 0 {
				fmt.Println("  no attempts yet")
				return nil
			}

			fmt.Printf("\nAttempts (%d):\n", len(attempts))
			for _, a := range attempts {
				status := string(a.Outcome)
				if !a.Terminal {
					status = "running"
				}
				fmt.Printf("  %s  %s  tier=%s exit=%d fallbacks=%d\n",
					a.ID, status, a.Tier, a.ExitCode, a.FallbackCount)
				if verbose && a.Log != "" {
					for _, line := range strings.Split(a.Log, "\n") {
						fmt.Printf("    | %s\n", line)
					}
				}
			}
			return nil
		},
	}
}
