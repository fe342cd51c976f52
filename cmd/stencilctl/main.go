// Command stencilctl is the host CLI for running and inspecting compiled
// stencil solutions.
package main

import (
	"fmt"
	"os"

	"github.com/sbl8/stencilkit/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
