// Command callshim runs programs with the pthread_create interposer
// preloaded, shows how the loader binds the symbol, and drives thread
// creation through whichever interception strategy the binary was built
// with (-tags callshim_interpose or -tags callshim_wrap).
package main

import (
	"fmt"
	"os"

	"github.com/sliverarmory/callshim/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
