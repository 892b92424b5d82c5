package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/scheduler"
	"github.com/spf13/cobra"
)

// newJobsCmd creates `groupclaw jobs` to inspect and trigger the scheduled
// jobs outside `serve`.
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger the scheduled jobs",
		Long: `List the jobs under scheduler.jobs with their last-run state, or run
one now. A job run this way updates the same state as a scheduled run.

Examples:
  groupclaw jobs list
  groupclaw jobs run summarize`,
	}
	cmd.AddCommand(newJobsListCmd(), newJobsRunCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs and their last run",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			hist, err := a.openHistory()
			if err != nil {
				return err
			}
			defer hist.Close()

			sched, err := a.newScheduler(hist, nil, false)
			if err != nil {
				return err
			}
			sched.LoadState()
			printJobs(cmd, sched.List())
			return nil
		},
	}
}

func newJobsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run one job now",
		Args:  cobra.ExactArgs(1),
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

			withLLM := false
			for _, j := range a.cfg.Scheduler.Jobs {
				if j.ID == args[0] {
					withLLM = needsLLM(agent.Task(j.Task))
				}
			}
			sched, err := a.newScheduler(hist, nil, withLLM)
			if err != nil {
				return err
			}
			if _, ok := sched.Get(args[0]); !ok {
				return fmt.Errorf("job %q is not configured", args[0])
			}
			sched.LoadState()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				sched.Stop()
			}()

			runErr := sched.RunNow(args[0])
			if errors.Is(runErr, scheduler.ErrBusy) {
				return runErr
			}
			job, _ := sched.Get(args[0])
			printJobs(cmd, []scheduler.Job{job})
			return runErr
		},
	}
}

func printJobs(cmd *cobra.Command, jobs []scheduler.Job) {
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, gray("no jobs configured"))
		return
	}
	table := newTable(out, "Job", "Task", "Schedule", "Enabled", "Last Run", "Runs", "Duration", "Last Error")
	for _, j := range jobs {
		last := "never"
		if j.LastRunAt != nil {
			last = j.LastRunAt.Local().Format("2006-01-02 15:04:05")
		}
		enabled := gray("no")
		if j.Enabled {
			enabled = green("yes")
		}
		lastErr := ""
		if j.LastError != "" {
			lastErr = red(truncate(j.LastError, 60))
		}
		table.Append([]string{
			j.ID,
			j.Task,
			j.Schedule,
			enabled,
			last,
			strconv.Itoa(j.RunCount),
			j.LastRunDuration.Round(time.Second).String(),
			lastErr,
		})
	}
	table.Render()
}
