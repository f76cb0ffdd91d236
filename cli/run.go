package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/internal/config"
	"github.com/sliverarmory/callshim/symbol"
)

type execFunc func(argv0 string, argv []string, env []string) error

func execve(argv0 string, argv []string, env []string) error {
	return unix.Exec(argv0, argv, env)
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run --preload <object> -- <command> [args...]",
		Short: "Run a command with the interposer preloaded",
		Long: `Check that the object is a shared library for this architecture exporting
the interposer symbols, place it first in LD_PRELOAD and replace this
process with the command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(args)
		},
	}

	def := config.Default()
	flags := cmd.Flags()
	flags.String(config.KeyPreload, def.Preload, "Interposer shared object (env CALLSHIM_PRELOAD)")
	flags.Bool(config.KeyNotice, def.Notice, "Write a line for every intercepted call")
	flags.Int(config.KeyNoticeFD, def.NoticeFD, "File descriptor the notice is written to")
	return cmd
}

func (a *app) run(args []string) error {
	argv0, env, err := a.prepareRun(args, os.Environ())
	if err != nil {
		return err
	}
	a.log.Debug().
		Str("command", argv0).
		Strs("args", args[1:]).
		Str("preload", a.cfg.Preload).
		Msg("exec")
	if err := a.exec(argv0, args, env); err != nil {
		return fmt.Errorf("run: exec %s: %w", argv0, err)
	}
	return nil
}

// prepareRun validates the interposer and returns the resolved command path
// and the environment it will run with.
func (a *app) prepareRun(args []string, environ []string) (string, []string, error) {
	if a.cfg.Preload == "" {
		return "", nil, fmt.Errorf("run: no interposer given (--%s or %s)", config.KeyPreload, config.EnvName(config.KeyPreload))
	}
	object, err := filepath.Abs(a.cfg.Preload)
	if err != nil {
		return "", nil, fmt.Errorf("run: %w", err)
	}
	if strings.ContainsAny(object, " :") {
		return "", nil, fmt.Errorf("run: %q cannot be listed in LD_PRELOAD", object)
	}

	report, err := symbol.Inspect(object, callshim.Exports...)
	if err != nil {
		return "", nil, fmt.Errorf("run: %w", err)
	}
	if missing := report.Missing(); len(missing) > 0 {
		return "", nil, fmt.Errorf("run: %s is not a callshim interposer, missing %s", object, strings.Join(missing, ", "))
	}

	if a.cfg.Notice {
		if err := checkInheritable(a.cfg.NoticeFD); err != nil {
			return "", nil, fmt.Errorf("run: %s %d: %w", config.KeyNoticeFD, a.cfg.NoticeFD, err)
		}
	}

	argv0, err := exec.LookPath(args[0])
	if err != nil {
		return "", nil, fmt.Errorf("run: %w", err)
	}

	env := callshim.PreloadEnv(environ, object)
	env = callshim.SetEnv(env, config.EnvName(config.KeyNotice), strconv.FormatBool(a.cfg.Notice))
	env = callshim.SetEnv(env, config.EnvName(config.KeyNoticeFD), strconv.Itoa(a.cfg.NoticeFD))
	a.log.Info().
		Str("object", object).
		Str("machine", report.Machine.String()).
		Bool("notice", a.cfg.Notice).
		Msg("interposer checked")
	return argv0, env, nil
}

var errCloseOnExec = errors.New("descriptor is closed on exec")

// checkInheritable reports whether fd is open and survives exec.
func checkInheritable(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	if flags&unix.FD_CLOEXEC != 0 {
		return errCloseOnExec
	}
	return nil
}
