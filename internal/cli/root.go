// Package cli is the command-line front end for the ubervisor server
// binary itself: the flags here are the server's own startup options,
// not a client wrapper (the administrative CLI that issues SPWN/KILL/
// etc. against a running server is an external collaborator per the
// system's scope and is not implemented in this package).
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const banner = `
 _   _ _                      _
| | | | |_   _____ _ ____   _(_)___  ___
| | | | \ \ / / _ \ '__\ \ / / / __|/ _ \
| |_| | |\ V /  __/ |   \ V /| \__ \ (_) |
 \___/|_| \_/ \___|_|    \_/ |_|___/\___/
`

func printBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprint(os.Stderr, banner)
}

var rootCmd = &cobra.Command{
	Use:           "ubervisor",
	Short:         "Per-user process supervisor",
	Long:          "ubervisor keeps a catalog of named process groups alive, restarts them on unexpected exit, and exposes a JSON RPC control socket for administration.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ubervisor: %v\n", err)
		os.Exit(1)
	}
	return nil
}
