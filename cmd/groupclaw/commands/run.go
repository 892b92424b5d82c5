package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/browser"
	"github.com/spf13/cobra"
)

// newRunCmd creates `groupclaw run <task>`, which executes one batch now.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <sync|morning|evening|summarize>",
		Short: "Run one batch task now",
		Long: `Run one batch task in a single browser session and print the
per-group outcome.

Tasks:
  sync       refresh every group's conversation with today's messages
  morning    send the morning check-in message to every group
  evening    refresh, then ask each participant for an update
  summarize  refresh, then send a summary of each group to the admin

Examples:
  groupclaw run sync
  groupclaw run summarize --temp-profile`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sync", "morning", "evening", "summarize"},
		RunE:      runTask,
	}

	cmd.Flags().Bool("temp-profile", false, "use a throwaway browser profile instead of the logged-in one")
	cmd.Flags().Bool("show-browser", false, "show the browser window")
	return cmd
}

func runTask(cmd *cobra.Command, args []string) error {
	task, err := agent.ParseTask(args[0])
	if err != nil {
		return err
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if show, _ := cmd.Flags().GetBool("show-browser"); show {
		a.cfg.Browser.Headless = false
	}

	hist, err := a.openHistory()
	if err != nil {
		return err
	}
	defer hist.Close()

	mode := browser.ProfilePersistent
	if temp, _ := cmd.Flags().GetBool("temp-profile"); temp {
		mode = browser.ProfileTemporary
	}

	runner, err := a.newRunner(mode, hist, nil, needsLLM(task))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := runner.Run(ctx, task)
	printRun(cmd.OutOrStdout(), run)
	return err
}
