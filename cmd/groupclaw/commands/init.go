package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/config"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/store"
	"github.com/spf13/cobra"
)

// newInitCmd creates `groupclaw init`, which writes a default config, an
// empty group store and the admin file when they do not exist.
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file, group store and admin file",
		Long: `Create groupclaw.yaml with the default settings, an empty group
store with only the header row, and the admin file. Existing files are
left untouched unless --force is given for the config.

Examples:
  groupclaw init
  groupclaw init --admin "Carol" --config ./ops/groupclaw.yaml`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}

	cmd.Flags().String("admin", store.DefaultAdmin, "admin chat name written to a new admin file")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FileName
	}
	force, _ := cmd.Flags().GetBool("force")

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil && !force:
		fmt.Fprintf(out, "%s config already exists: %s\n", gray("skip"), path)
	case statErr == nil || errors.Is(statErr, fs.ErrNotExist):
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s config: %s\n", green("created"), path)
	default:
		return fmt.Errorf("checking config file: %w", statErr)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	groups := store.NewCSVStore(cfg.Paths.Groups)
	existed := fileExists(groups.Path())
	if err := groups.Init(); err != nil {
		return err
	}
	report(cmd, existed, "group store", groups.Path())

	adminName, _ := cmd.Flags().GetString("admin")
	admin := store.NewAdminFile(cfg.Paths.Admin)
	existed = fileExists(admin.Path())
	if err := admin.Init(adminName); err != nil {
		return err
	}
	report(cmd, existed, "admin file", admin.Path())

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  groupclaw login                 link WhatsApp by scanning the QR code")
	fmt.Fprintln(out, "  groupclaw groups add \"<name>\"   track a group")
	fmt.Fprintln(out, "  groupclaw config set-key        store the LLM API key in the OS keyring")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func report(cmd *cobra.Command, existed bool, what, path string) {
	if existed {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s already exists: %s\n", gray("skip"), what, path)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", green("created"), what, path)
}
