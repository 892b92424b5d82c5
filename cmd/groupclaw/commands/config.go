package commands

import (
	"fmt"
	"os"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates `groupclaw config` for inspecting the configuration
// and managing the LLM API key in the OS keyring.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration and manage the API key",
	}
	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.LLM.APIKey != "" && !config.IsEnvReference(cfg.LLM.APIKey) {
				cfg.LLM.APIKey = "***"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintf(out, "%s no config file found, defaults are valid\n", yellow("!"))
			} else {
				fmt.Fprintf(out, "%s %s is valid\n", green("ok"), path)
			}

			table := newTable(out, "Setting", "Value")
			table.Append([]string{"groups", cfg.Paths.Groups})
			table.Append([]string{"admin", cfg.Paths.Admin})
			table.Append([]string{"database", cfg.Paths.Database})
			table.Append([]string{"browser profile", cfg.Browser.ProfileDir})
			tz := cfg.Timezone
			if tz == "" {
				tz = "local"
			}
			table.Append([]string{"timezone", tz})
			for _, j := range cfg.Scheduler.Jobs {
				state := "disabled"
				if j.Enabled {
					state = "enabled"
				}
				table.Append([]string{"job " + j.ID, fmt.Sprintf("%s  %s  (%s)", j.Schedule, j.Task, state)})
			}
			if source := config.ResolveAPIKey(cfg, nil); source != "" {
				table.Append([]string{"api key", "from " + source})
			} else {
				table.Append([]string{"api key", red("missing")})
			}
			table.Render()
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		Long: `Store the LLM API key in the OS keyring. The key is read from the
terminal without echo, or from stdin when piped:

  echo "$OPENAI_API_KEY" | groupclaw config set-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := config.ReadSecret(os.Stdin, cmd.ErrOrStderr(), "API key: ")
			if err != nil {
				return err
			}
			if err := config.StoreAPIKey(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s API key stored in the OS keyring\n", green("ok"))
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the LLM API key from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.DeleteAPIKey(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s API key removed\n", green("ok"))
			return nil
		},
	}
}
