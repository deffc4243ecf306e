// Command shopsync runs and inspects the offline-first sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/shopsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
