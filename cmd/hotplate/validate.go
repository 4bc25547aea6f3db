package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/hotplate/recipe"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <recipe file>",
		Short: "Parse a recipe and show its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := recipe.ParseFile(args[0])
			if err != nil {
				return err
			}
			printRecipe(cmd.OutOrStdout(), rec)
			return nil
		},
	}
}

func printRecipe(w io.Writer, rec *recipe.Recipe) {
	rows := make([][]string, 0, rec.Len())
	for i, st := range rec.Steps() {
		dwell := strconv.Itoa(st.DwellSeconds) + "s"
		if st.Manual() {
			dwell = "manual"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(st.TargetTemperature),
			strconv.Itoa(st.RampRate),
			strconv.Itoa(st.StirSpeed),
			dwell,
			st.Mode.String(),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Step", "Target °C", "Ramp °C/hr", "Stir RPM", "Dwell", "Mode"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
	fmt.Fprintf(w, "%s: %d steps\n", rec.Name(), rec.Len())
	for _, warn := range recipe.Validate(rec) {
		fmt.Fprintln(w, "warning:", warn)
	}
}
