package main

import (
	"github.com/spf13/cobra"

	"github.com/mastercactapus/hotplate/config"
	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/mastercactapus/hotplate/hotplate/rs232"
	"github.com/mastercactapus/hotplate/hotplate/sim"
)

// cliContext carries global flags and lazily loaded state to subcommands.
type cliContext struct {
	configPath string
	port       string
	sim        bool

	cfg *config.Config
}

func (c *cliContext) loadConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.port != "" {
		cfg.Serial.Port = c.port
	}
	c.cfg = cfg
	return cfg, nil
}

// device is a connected hotplate and the function that releases it.
type device struct {
	hotplate.StatusReader
	close func() error
}

// Exclusive forwards to the underlying transport's group lock, if it has one.
func (d *device) Exclusive(fn func() error) error {
	if ex, ok := d.StatusReader.(hotplate.Exclusive); ok {
		return ex.Exclusive(fn)
	}
	return fn()
}

func (d *device) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

func (c *cliContext) openDevice() (*device, error) {
	if c.sim {
		return &device{StatusReader: sim.New(20, 5)}, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	p, err := rs232.Open(cfg.SerialOptions())
	if err != nil {
		return nil, err
	}
	return &device{StatusReader: p, close: p.Close}, nil
}

func newRootCommand() *cobra.Command {
	ctx := &cliContext{}

	rootCmd := &cobra.Command{
		Use:           "hotplate",
		Short:         "Run temperature recipes on a serial hotplate stirrer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path (TOML or YAML)")
	rootCmd.PersistentFlags().StringVar(&ctx.port, "port", "", "Serial port, overrides the configuration file")
	rootCmd.PersistentFlags().BoolVar(&ctx.sim, "sim", false, "Use a simulated hotplate instead of the serial port")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newOffCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))

	return rootCmd
}
