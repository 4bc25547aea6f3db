package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/hotplate/history"
)

func newHistoryCommand(ctx *cliContext) *cobra.Command {
	var output string
	var limit int

	withStore := func(fn func(*history.Store) error) error {
		cfg, err := ctx.loadConfig()
		if err != nil {
			return err
		}
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(store)
	}

	list := func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *history.Store) error {
			runs, err := s.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), output, runs)
		})
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past recipe runs",
		Args:  cobra.NoArgs,
		RunE:  list,
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE:  list,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <run id>",
		Short: "Show a run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *history.Store) error {
				run, err := s.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				recs, err := s.Events(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printRun(cmd.OutOrStdout(), output, run, recs)
			})
		},
	})

	return cmd
}

func encode(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q", format)
}

func formatTime(t time.Time) string { return t.Local().Format("2006-01-02 15:04:05") }

func duration(run history.Run) string {
	if run.Finished == nil {
		return "-"
	}
	return run.Finished.Sub(run.Started).Round(time.Second).String()
}

func printRuns(w io.Writer, format string, runs []history.Run) error {
	if runs == nil {
		runs = []history.Run{}
	}
	if done, err := encode(w, format, runs); done {
		return err
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Recipe,
			strconv.Itoa(run.Steps),
			formatTime(run.Started),
			duration(run),
			run.Phase,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Recipe", "Steps", "Started", "Duration", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	))
	return nil
}

func printRun(w io.Writer, format string, run history.Run, recs []history.Record) error {
	if recs == nil {
		recs = []history.Record{}
	}
	if done, err := encode(w, format, runDetail{Run: run, Events: recs}); done {
		return err
	}
	fmt.Fprintf(w, "%s  %s  %s  %s\n", run.ID, run.Recipe, formatTime(run.Started), run.Phase)
	if run.Error != "" {
		fmt.Fprintln(w, "error:", run.Error)
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			strconv.Itoa(rec.Seq),
			rec.Time.Local().Format("15:04:05"),
			string(rec.Event.Type),
			rec.Event.String(),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Time", "Event", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	))
	return nil
}
