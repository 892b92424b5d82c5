package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newAdminCmd creates `groupclaw admin` to read and change the admin
// identity: the chat that receives summaries and the person left out of
// follow-ups.
func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Show or change the admin chat",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the admin chat name",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := loadApp(cmd)
				if err != nil {
					return err
				}
				name, err := a.admin.Load()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <name>",
			Short: "Change the admin chat name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := loadApp(cmd)
				if err != nil {
					return err
				}
				if err := a.admin.Save(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s admin set to %q\n", green("ok"), args[0])
				return nil
			},
		},
	)
	return cmd
}
