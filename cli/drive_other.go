//go:build !linux || !cgo

package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func newDriveCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drive",
		Short: "Create threads through the intercepted pthread_create and report hook activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("drive: requires linux and cgo")
		},
	}
}
