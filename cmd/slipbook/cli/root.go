// Package cli implements the slipbook operator commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/slipbook/slipbook/internal/app"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/platform/cache"
	"github.com/slipbook/slipbook/internal/platform/db"
)

// RootOptions holds global flags and the runtime factory shared by commands.
type RootOptions struct {
	Format string
	// Open builds the runtime a command runs against.
	Open func(ctx context.Context, metrics *observability.Metrics) (*Runtime, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Runtime is an opened engine with its backing connections.
type Runtime struct {
	Config *app.Config
	Logger *slog.Logger
	Engine *app.Engine
	Pool   *pgxpool.Pool
	Redis  *redis.Client
}

// Close releases the connections.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// NewRootCommand creates the root command backed by Postgres and Redis.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{Open: openRuntime})
}

// NewRootCommandWith creates the root command using opts.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "slipbook",
		Short:         "Invoice numbering, proforma conversion and ledger balances",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSequenceCommand(opts))
	cmd.AddCommand(newProformaCommand(opts))
	cmd.AddCommand(newBalanceCommand(opts))
	cmd.AddCommand(newJobsCommand(opts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// openRuntime connects to Postgres and Redis. An unreachable Redis is logged
// and the engine runs without the balance cache and conversion markers.
func openRuntime(ctx context.Context, metrics *observability.Metrics) (*Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, Pool: pool}

	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, running without cache and markers", slog.Any("error", err))
	} else {
		rt.Redis = client
	}

	rt.Engine, err = app.NewEngine(app.EngineParams{
		Config:  cfg,
		Stores:  app.PostgresStores(pool),
		Redis:   rt.Redis,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (o *RootOptions) open(cmd *cobra.Command) (*Runtime, error) {
	return o.Open(cmd.Context(), nil)
}
