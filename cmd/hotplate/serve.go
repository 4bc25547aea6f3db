package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/hotplate/engine"
	"github.com/mastercactapus/hotplate/history"
	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/mastercactapus/hotplate/metrics"
	"github.com/mastercactapus/hotplate/runner"
)

func newServeCommand(ctx *cliContext) *cobra.Command {
	var addr, dir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if dir != "" {
				cfg.Server.DataDir = dir
			}

			dev, err := ctx.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			m := metrics.New()
			pollOpt := cfg.PollerOptions()
			pollOpt.OnStatus = m.ObserveStatus
			pollOpt.OnError = m.TransportError
			poller := hotplate.NewPoller(dev, pollOpt)

			run := runner.New(runner.Options{
				Engine:      engine.New(cfg.EngineConfig()),
				Transport:   dev,
				History:     store,
				Metrics:     m,
				OffOnCancel: true,
			})
			defer run.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				err := poller.Run(sigCtx)
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Println("ERROR: poller:", err)
				}
			}()

			api := newAPI(apiOptions{
				Transport: dev,
				Runner:    run,
				Poller:    poller,
				History:   store,
				Metrics:   m,
				DataDir:   cfg.Server.DataDir,
			})
			defer api.Close()

			srv := &http.Server{
				Addr: cfg.Server.Addr,
				Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					w.Header().Set("Access-Control-Allow-Origin", "*")
					w.Header().Set("Access-Control-Allow-Methods", "*")
					log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
					api.ServeHTTP(w, req)
				}),
			}
			go func() {
				<-sigCtx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutCtx)
			}()

			log.Println("listening on", cfg.Server.Addr)
			err = srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to bind the server to (default from config, :9091)")
	cmd.Flags().StringVar(&dir, "dir", "", "Data directory for recipe files (default from config, ./data)")
	return cmd
}
