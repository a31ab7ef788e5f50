// Command boardflow runs board automation rules and recurring cards.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/boardflow/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
