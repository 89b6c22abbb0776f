package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slipbook/slipbook/internal/app"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/ops"
	"github.com/slipbook/slipbook/jobs"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				cmd.Println("test mode detected, skipping server startup")
				return nil
			}
			metrics := observability.NewMetrics()
			rt, err := opts.Open(cmd.Context(), metrics)
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.AppAddr
			}
			return serve(cmd.Context(), rt, metrics, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to APP_ADDR)")
	return cmd
}

func serve(ctx context.Context, rt *Runtime, metrics *observability.Metrics, addr string) error {
	logger := rt.Logger
	params := app.RouterParams{
		Logger:     logger,
		Config:     rt.Config,
		Metrics:    metrics,
		OpsHandler: ops.NewHandler(rt.Engine.Invoices, rt.Engine.Proformas, logger),
	}
	if rt.Pool != nil {
		params.Health = rt.Pool
	}
	if rt.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{
			Addr:     rt.Config.RedisAddr,
			Password: rt.Config.RedisPassword,
			DB:       rt.Config.RedisDB,
		})
		defer inspector.Close()
		params.JobsHandler = jobs.NewHandler(inspector, logger)
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      app.NewRouter(params),
		ReadTimeout:  rt.Config.AppReadTimeout,
		WriteTimeout: rt.Config.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
