package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// newGroupsCmd creates `groupclaw groups` to manage the tracked groups.
func newGroupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage the tracked groups",
		Long: `List, add and remove the groups kept in the group store. Group names
must match the chat names shown in WhatsApp.

Examples:
  groupclaw groups list
  groupclaw groups add "Ops" "Dev Team"
  groupclaw groups remove "Dev Team"`,
	}

	cmd.AddCommand(
		newGroupsListCmd(),
		newGroupsAddCmd(),
		newGroupsRemoveCmd(),
	)
	return cmd
}

func newGroupsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tracked groups and their stored messages",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			groups, err := a.groups.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(out, gray("no groups tracked; add one with `groupclaw groups add <name>`"))
				return nil
			}

			verbose, _ := cmd.Flags().GetBool("messages")
			table := newTable(out, "Group", "Messages", "Last")
			for _, g := range groups {
				last := ""
				if n := len(g.Conversation); n > 0 {
					m := g.Conversation[n-1]
					last = m.Sender + ": " + truncate(m.Text, 60)
				}
				table.Append([]string{g.Name, strconv.Itoa(len(g.Conversation)), last})
			}
			table.Render()

			if verbose {
				for _, g := range groups {
					fmt.Fprintf(out, "\n%s\n", bold(g.Name))
					for _, m := range g.Conversation {
						fmt.Fprintf(out, "  %s: %s\n", m.Sender, m.Text)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("messages", false, "print every stored message")
	return cmd
}

func newGroupsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> [name...]",
		Short: "Track one or more groups",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := a.groups.Add(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("added"), strings.TrimSpace(name))
			}
			return nil
		},
	}
}

func newGroupsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Stop tracking a group",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			if err := a.groups.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", yellow("removed"), strings.TrimSpace(args[0]))
			return nil
		},
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
