//go:build linux && cgo

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/driver"
	"github.com/sliverarmory/callshim/internal/config"
)

// driveReport is the outcome of the drive command.
type driveReport struct {
	Strategy   string            `json:"strategy"`
	Original   string            `json:"original"`
	Single     driveRun          `json:"single"`
	Concurrent driveRun          `json:"concurrent"`
	Delta      callshim.Counters `json:"delta"`
	Total      callshim.Counters `json:"total"`
}

type driveRun struct {
	Requested int `json:"requested"`
	Created   int `json:"created"`
	Ran       int `json:"ran"`
}

func newDriveCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Create threads through the intercepted pthread_create and report hook activity",
		Long: `Create --threads threads one after another, then --concurrency threads from
as many OS threads at once, and compare the hook counters of the active
target before and after. --notice and --notice-fd apply to hooks linked
into this binary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatTable && format != formatJSON {
				return fmt.Errorf("drive: unknown format %q", format)
			}
			report, err := a.drive()
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return writeDriveTable(cmd.OutOrStdout(), report)
		},
	}

	def := config.Default()
	cmd.Flags().Int(config.KeyThreads, def.Threads, "Threads created sequentially")
	cmd.Flags().Int(config.KeyConcurrency, def.Concurrency, "Threads created concurrently")
	cmd.Flags().Bool(config.KeyNotice, def.Notice, "Write a line for every intercepted call")
	cmd.Flags().Int(config.KeyNoticeFD, def.NoticeFD, "File descriptor the notice is written to")
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "Output format (table, json)")
	return cmd
}

func (a *app) drive() (driveReport, error) {
	a.configure(a.cfg.Notice, a.cfg.NoticeFD)

	target, err := a.target()
	switch {
	case errors.Is(err, callshim.ErrNoTarget):
		a.log.Warn().Msg("no interception active, driving the plain pthread_create")
	case err != nil:
		return driveReport{}, fmt.Errorf("drive: %w", err)
	}

	report := driveReport{Strategy: callshim.StrategyNone.String(), Original: formatAddr(0)}
	var before callshim.Stats
	if target != nil {
		before = target.Stats()
		report.Strategy = target.Strategy().String()
	}

	single, err := driver.Spawn(a.cfg.Threads)
	if err != nil {
		return driveReport{}, fmt.Errorf("drive: %w", err)
	}
	if err := single.Err(); err != nil {
		return driveReport{}, fmt.Errorf("drive: sequential run: %w", err)
	}
	concurrent, err := driver.SpawnConcurrent(a.cfg.Concurrency)
	if err != nil {
		return driveReport{}, fmt.Errorf("drive: %w", err)
	}
	if err := concurrent.Err(); err != nil {
		return driveReport{}, fmt.Errorf("drive: concurrent run: %w", err)
	}

	report.Single = driveRun{Requested: single.Requested, Created: single.Created, Ran: single.Ran}
	report.Concurrent = driveRun{Requested: concurrent.Requested, Created: concurrent.Created, Ran: concurrent.Ran}

	if target != nil {
		after := target.Stats()
		report.Original = formatAddr(after.Original)
		report.Total = after.Counters
		report.Delta = after.Counters.Sub(before.Counters)
	}

	a.log.Info().
		Str("strategy", report.Strategy).
		Uint64("calls", report.Delta.Calls).
		Uint64("completed", report.Delta.Completed).
		Uint64("resolutions", report.Total.Resolutions).
		Msg("drive finished")
	return report, nil
}

func writeDriveTable(w io.Writer, r driveReport) error {
	_, err := fmt.Fprintf(w,
		"strategy:    %s\noriginal:    %s\nsequential:  %d/%d created, %d ran\nconcurrent:  %d/%d created, %d ran\ncalls:       +%d (total %d)\ncompleted:   +%d (total %d)\nfailures:    +%d (total %d)\nnested:      +%d (total %d)\nresolutions: %d\n",
		r.Strategy, r.Original,
		r.Single.Created, r.Single.Requested, r.Single.Ran,
		r.Concurrent.Created, r.Concurrent.Requested, r.Concurrent.Ran,
		r.Delta.Calls, r.Total.Calls,
		r.Delta.Completed, r.Total.Completed,
		r.Delta.Failures, r.Total.Failures,
		r.Delta.Nested, r.Total.Nested,
		r.Total.Resolutions,
	)
	return err
}
