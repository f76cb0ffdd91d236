// Package cli implements the callshim command.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/internal/config"
	"github.com/sliverarmory/callshim/internal/logging"
)

type app struct {
	v   *viper.Viper
	cfg config.Config
	log zerolog.Logger

	exec      execFunc
	target    func() (callshim.Target, error)
	configure func(notice bool, fd int)
}

func newApp() *app {
	return &app{
		v:         config.New(),
		cfg:       config.Default(),
		log:       zerolog.Nop(),
		exec:      execve,
		target:    linkedTarget,
		configure: linkedConfigure,
	}
}

// NewRootCmd builds the callshim command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "callshim",
		Short:         "Intercept pthread_create by symbol interposition or link-time wrapping",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	def := config.Default()
	flags := cmd.PersistentFlags()
	flags.String(config.KeyLogLevel, def.LogLevel, "Log level (trace, debug, info, warn, error, disabled)")
	flags.Bool(config.KeyLogPretty, def.LogPretty, "Human-readable log output")

	cmd.AddCommand(
		newRunCmd(a),
		newInspectCmd(a),
		newDriveCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// setup loads the configuration for the command being executed. Flags the
// user set win over CALLSHIM_* variables, which win over defaults.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Bind(a.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.NewWithComponent(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: cmd.ErrOrStderr(),
	}, "cli")
	a.log.Debug().
		Str("command", cmd.Name()).
		Str("strategy", linkedStrategy.String()).
		Msg("configuration loaded")
	return nil
}

func formatAddr(addr uintptr) string {
	if addr == 0 {
		return "-"
	}
	return fmt.Sprintf("%#x", addr)
}
