package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newListCmd creates the list command
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Args:  cobra.NoArgs,
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

			tasks, err := store.ListTasks()
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(tasks)
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks. Create one with 'drover new'.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tVARIANT\tRETRIES\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.State, t.Variant, t.Retries, t.Title)
			}
			return w.Flush()
		},
	}
}
