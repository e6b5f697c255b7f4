// Command zenddiff runs differential tests of the PHP opcache JIT against
// the interpreter.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/zenddiff/internal/cli"
)

func main() {
	if err := cli.Execute(cli.NewRootCommand()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
