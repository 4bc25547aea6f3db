package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mastercactapus/hotplate/engine"
	"github.com/mastercactapus/hotplate/history"
	"github.com/mastercactapus/hotplate/recipe"
	"github.com/mastercactapus/hotplate/runner"
)

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progressPrinter writes events as lines. On a terminal, repeated dwell and
// stabilizing updates overwrite each other in place.
type progressPrinter struct {
	w       io.Writer
	inPlace bool
	pending bool
}

func (p *progressPrinter) print(ev engine.Event) {
	transient := ev.Type == engine.EventDwellTick || ev.Type == engine.EventStabilizing
	if p.inPlace && transient {
		fmt.Fprintf(p.w, "\r\033[K%s", ev)
		p.pending = true
		return
	}
	if p.pending {
		fmt.Fprintln(p.w)
		p.pending = false
	}
	fmt.Fprintln(p.w, ev)
	if ev.Type == engine.EventAwaitContinue {
		fmt.Fprintln(p.w, "press Enter to continue")
	}
}

func newRunCommand(ctx *cliContext) *cobra.Command {
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "run <recipe file>",
		Short: "Run a recipe on the hotplate, Enter continues manual steps, Ctrl-C stops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := recipe.ParseFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range recipe.Validate(rec) {
				fmt.Fprintln(out, "warning:", w)
			}

			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			dev, err := ctx.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			opt := runner.Options{
				Engine:      engine.New(cfg.EngineConfig()),
				Transport:   dev,
				OffOnCancel: true,
			}
			if !noHistory {
				store, err := history.Open(cfg.History.Path)
				if err != nil {
					return err
				}
				defer store.Close()
				opt.History = store
			}
			run := runner.New(opt)
			defer run.Close()

			events, unsub := run.Subscribe()
			defer unsub()

			id, err := run.Start(rec)
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)
			go func() {
				for range sig {
					log.Println("stopping")
					run.Stop()
				}
			}()

			go func() {
				s := bufio.NewScanner(cmd.InOrStdin())
				for s.Scan() {
					run.Continue()
				}
			}()

			var res engine.Result
			done := make(chan error, 1)
			go func() {
				var err error
				res, err = run.Wait(context.Background(), id)
				done <- err
			}()

			p := &progressPrinter{w: out, inPlace: isTerminal(os.Stdout)}
			var waitErr error
		loop:
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						events = nil
						continue
					}
					p.print(ev)
				case waitErr = <-done:
					break loop
				}
			}
			for len(events) > 0 {
				p.print(<-events)
			}
			if waitErr != nil {
				return waitErr
			}
			switch res.Phase {
			case engine.PhaseCancelled:
				reportOff(out, run.Status())
				return context.Canceled
			case engine.PhaseFailed:
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run in the history database")
	return cmd
}

func reportOff(w io.Writer, st runner.Status) {
	switch {
	case st.OffError != "":
		fmt.Fprintln(w, "failed to turn heater and stirrer off:", st.OffError)
	case st.TurnedOff:
		fmt.Fprintln(w, "heater and stirrer turned off")
	}
}
