package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Set at link time with -ldflags "-X github.com/sliverarmory/callshim/cli.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("callshim version %s\n", Version)
			cmd.Printf("Git commit: %s\n", GitCommit)
			cmd.Printf("Strategy: %s\n", linkedStrategy)
			cmd.Printf("Go version: %s\n", runtime.Version())
		},
	}
}
