// Command ubervisor is the per-user process supervisor server.
package main

import (
	"os"

	"github.com/kil/ubervisor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
