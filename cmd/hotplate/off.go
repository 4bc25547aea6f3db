package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/hotplate/hotplate"
)

func newOffCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "off",
		Short: "Turn the heater and stirrer off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := ctx.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			if err := hotplate.Off(dev); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "heater and stirrer off")
			return nil
		},
	}
}
