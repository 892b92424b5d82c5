package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/browser"
	"github.com/jholhewres/groupclaw/pkg/groupclaw/whatsweb"
	"github.com/spf13/cobra"
)

// newLoginCmd creates `groupclaw login`, which opens a visible browser on
// the persistent profile so the QR code can be scanned once.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Link the browser profile to WhatsApp by scanning the QR code",
		Long: `Open WhatsApp Web in a visible browser window using the persistent
profile. Scan the QR code with your phone; the session is kept in the
profile directory and reused by later runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			a.cfg.Browser.Headless = false

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return browser.WithSession(ctx, a.cfg.Browser, browser.ProfileLogin, a.logger, func(s *browser.Session) error {
				fmt.Fprintf(out, "Browser profile: %s\n", s.ProfileDir())
				fmt.Fprintln(out, "Scan the QR code in the browser window to log in.")

				drv := whatsweb.New(s, a.cfg.WhatsApp, a.logger)
				if err := drv.AwaitLogin(ctx); err != nil {
					return fmt.Errorf("login not completed: %w", err)
				}
				fmt.Fprintln(out, green("Logged in. The session is saved in the profile."))
				return nil
			})
		},
	}
}
