// Command bo is the back-office admin CLI.
package main

import (
	"fmt"
	"os"
)

// Set via -ldflags at build time
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd(version, buildDate).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
