package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/freshstock/api"
	"github.com/warp/freshstock/config"
)

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Runs the HTTP API until SIGINT/SIGTERM.

On shutdown the server stops accepting connections, waits up to 30s for
in-flight requests, then closes the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(a)
		},
	}
	cmd.Flags().StringVar(&cfg.HTTP.Addr, "addr", cfg.HTTP.Addr, "HTTP listen address")
	cmd.Flags().DurationVar(&cfg.Schedule.Interval, "recompute-interval", cfg.Schedule.Interval, "Run a recompute of every chain on this interval (0 disables)")
	cmd.Flags().IntVar(&cfg.Schedule.LookbackDays, "recompute-lookback", cfg.Schedule.LookbackDays, "Days before today each scheduled recompute starts from")
	cmd.Flags().StringSliceVar(&cfg.HTTP.CORSOrigins, "cors-origins", cfg.HTTP.CORSOrigins, "Allowed CORS origins")
	return cmd
}

func serve(a *app) error {
	handler := api.NewHandler(a.engine, a.store, a.log)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: a.cfg.HTTP.CORSOrigins,
		Metrics:     a.metrics.Handler(),
	})

	scheduler := api.NewRecomputeScheduler(a.engine, a.log)
	scheduler.CheckInterval = a.cfg.Schedule.Interval
	scheduler.Lookback = a.cfg.Schedule.LookbackDays
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.HTTP.Addr).Str("driver", a.store.Driver()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}

	a.log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Info().Msg("server stopped")
	return nil
}
