// cmd/libractl/main.go
package main

import (
	"fmt"
	"os"

	"libracirc/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "libractl: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
