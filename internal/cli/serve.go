package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/gravity-worker/internal/build"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/proxy"
	"github.com/rohmanhakim/gravity-worker/internal/telemetry"
	"github.com/rohmanhakim/gravity-worker/internal/worker"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the worker and serve the app through it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := InitConfigWithError()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())
		recorder := metadata.NewRecorder(logger, cfg.AppName()+"-"+cfg.Version())

		shutdownTracing, err := telemetry.Setup(ctx, "gravity-worker", build.FullVersion(), cfg.OtelEndpoint())
		if err != nil {
			return fmt.Errorf("set up tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn("tracing shutdown", "error", err)
			}
		}()

		rt, err := worker.Assemble(ctx, cfg, recorder, worker.Deps{})
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				logger.Warn("close worker", "error", err)
			}
		}()

		// A version that fails to install leaves pages uncontrolled; the
		// proxy keeps passing requests through.
		if err := rt.Start(ctx); err != nil {
			logger.Warn("worker not activated, passing requests through", "error", err)
		}

		handler := proxy.NewHandler(rt.Worker, rt.Fetcher, cfg.Scope(), recorder)
		srv := &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           handler.Instrumented(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		appOrigin := cfg.Origin()
		logger.Info("serving",
			"addr", cfg.ListenAddr(),
			"origin", appOrigin.String(),
			"version", cfg.Version(),
			"state", string(rt.Lifecycle.State()),
		)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
