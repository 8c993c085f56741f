// Command laurels awards achievement badges and founder ranks.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/laurels/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
