package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/callshim"
	"github.com/sliverarmory/callshim/symbol"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// definitionRow is one loaded definition of the inspected symbol.
type definitionRow struct {
	Order  int    `json:"order"`
	Addr   string `json:"addr"`
	Object string `json:"object"`
	Bound  bool   `json:"bound"`
	Next   bool   `json:"next"`
}

type exportRow struct {
	Symbol   string `json:"symbol"`
	Exported bool   `json:"exported"`
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		format string
		object string
		load   []string
	)

	cmd := &cobra.Command{
		Use:   "inspect [symbol]",
		Short: "Show where a symbol is defined in the loader search order",
		Long: `List every loaded module defining the symbol (pthread_create by default) in
the order the dynamic loader searches them. The definition references bind
to is marked "bound"; the one an interposer's next-definition lookup
returns is marked "next".

With --load, the objects are first opened with RTLD_GLOBAL so their
definitions take part in the search. Go shared objects cannot be loaded
this way.

With --object, report which interposer symbols a shared object on disk
exports instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatTable && format != formatJSON {
				return fmt.Errorf("inspect: unknown format %q", format)
			}
			if object != "" {
				return a.inspectObject(cmd.OutOrStdout(), object, args, format)
			}
			name := callshim.Symbol
			if len(args) == 1 {
				name = args[0]
			}
			for _, path := range load {
				module, err := symbol.Open(path, symbol.Global())
				if err != nil {
					return fmt.Errorf("inspect: %w", err)
				}
				defer module.Close()
				a.log.Debug().Str("object", path).Msg("loaded into global scope")
			}
			return a.inspectLoaded(cmd.OutOrStdout(), name, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "Output format (table, json)")
	cmd.Flags().StringVar(&object, "object", "", "Inspect the exports of a shared object on disk")
	cmd.Flags().StringSliceVar(&load, "load", nil, "Shared objects to load with RTLD_GLOBAL before inspecting")
	return cmd
}

func (a *app) inspectLoaded(w io.Writer, name string, format string) error {
	defs, err := symbol.Definitions(name)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	bound, err := symbol.Default(name)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", name).Msg("default lookup failed")
	}
	next, err := symbol.Next(name)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", name).Msg("next lookup failed")
	}

	rows := make([]definitionRow, 0, len(defs))
	for i, def := range defs {
		rows = append(rows, definitionRow{
			Order:  i,
			Addr:   formatAddr(def.Addr),
			Object: def.Object.Path,
			Bound:  def.Addr == bound,
			Next:   def.Addr == next,
		})
	}
	a.log.Debug().Str("symbol", name).Int("definitions", len(rows)).Msg("inspected loaded modules")

	if format == formatJSON {
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tADDRESS\tOBJECT\tBINDING")
	for _, row := range rows {
		var marks []string
		if row.Bound {
			marks = append(marks, "bound")
		}
		if row.Next {
			marks = append(marks, "next")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", row.Order, row.Addr, row.Object, strings.Join(marks, ","))
	}
	return tw.Flush()
}

func (a *app) inspectObject(w io.Writer, path string, names []string, format string) error {
	if len(names) == 0 {
		names = callshim.Exports
	}
	report, err := symbol.Inspect(path, names...)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	rows := make([]exportRow, 0, len(report.Exports))
	for name, ok := range report.Exports {
		rows = append(rows, exportRow{Symbol: name, Exported: ok})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })

	if format == formatJSON {
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "OBJECT\t%s\nMACHINE\t%s\n\n", report.Path, report.Machine)
	fmt.Fprintln(tw, "SYMBOL\tEXPORTED")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%t\n", row.Symbol, row.Exported)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
