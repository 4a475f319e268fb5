package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lexitrend-go/config"
	"lexitrend-go/logcolors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lexitrend",
		Short:         "LexiTrend - cultural and slang term insights backed by language models",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newAnalyzeCmd(),
		newCacheCmd(),
		newSettingsCmd(),
		newSearchCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.Get()
			if port != "" {
				conf.Configuration.Port = port
			}
			if closer := setupLogging(conf, true); closer != nil {
				defer closer.Close()
			}

			a, err := newApp(conf, appOptions{persistStats: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.statsStore != nil && conf.Configuration.StatsSaveSecs > 0 {
				a.statsStore.StartAutoSave(time.Duration(conf.Configuration.StatsSaveSecs) * time.Second)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, ":"+conf.Configuration.Port, a.handler())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on (overrides PORT)")
	return cmd
}

// serve runs the server until ctx is done, then drains in-flight requests
func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("%s Listening on %s", logcolors.LogServer, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Infof("%s Shutting down", logcolors.LogServer)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
