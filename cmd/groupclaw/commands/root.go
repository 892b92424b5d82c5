// Package commands implements the groupclaw CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "groupclaw",
		Short: "groupclaw - WhatsApp group check-ins and summaries",
		Long: `groupclaw drives WhatsApp Web in a browser to keep a local copy of
today's messages for a list of groups, send the morning check-in and the
evening follow-ups, and deliver a per-group summary to the admin.

Examples:
  groupclaw init
  groupclaw login
  groupclaw groups add "Ops"
  groupclaw run summarize
  groupclaw serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newInitCmd(),
		newLoginCmd(),
		newRunCmd(),
		newServeCmd(),
		newJobsCmd(),
		newGroupsCmd(),
		newAdminCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
