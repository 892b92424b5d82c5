// Command groupclaw syncs WhatsApp group conversations through WhatsApp Web,
// sends the daily check-in messages and delivers summaries to the admin.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/groupclaw/cmd/groupclaw/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
