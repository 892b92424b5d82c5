package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates `groupclaw history`, which lists past runs.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent batch runs",
		Long: `List recent batch runs, newest first. With a run ID, print the
per-group outcome of that run.

Examples:
  groupclaw history
  groupclaw history --limit 50
  groupclaw history 1f0e9c7a-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			hist, err := a.openHistory()
			if err != nil {
				return err
			}
			defer hist.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				items, err := hist.Items(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printItems(out, items)
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := hist.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, gray("no runs recorded yet"))
				return nil
			}

			table := newTable(out, "Run", "Task", "Started", "Duration", "Status", "Groups", "Failed", "Error")
			for _, r := range runs {
				table.Append([]string{
					r.ID,
					string(r.Task),
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Duration().Round(time.Second).String(),
					colorStatus(r.Status),
					strconv.Itoa(r.Items),
					strconv.Itoa(r.Failed),
					truncate(r.Error, 60),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	return cmd
}
