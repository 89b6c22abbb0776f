package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/masterdata/accounts"
	"github.com/slipbook/slipbook/internal/masterdata/products"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/sequence"
)

// Stores groups the repositories the engine runs on.
type Stores struct {
	Sequences sequence.Repository
	Ledger    ledger.Repository
	Invoices  invoice.Repository
	Proformas proforma.Repository
	Products  products.Catalog
	Accounts  accounts.Directory
}

// PostgresStores builds every repository over one pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Sequences: sequence.NewRepository(pool),
		Ledger:    ledger.NewRepository(pool),
		Invoices:  invoice.NewRepository(pool),
		Proformas: proforma.NewRepository(pool),
		Products:  products.NewRepository(pool),
		Accounts:  accounts.NewRepository(pool),
	}
}

// Engine holds the wired services.
type Engine struct {
	Sequences *sequence.Allocator
	Ledger    *ledger.Aggregator
	Invoices  *invoice.Service
	Proformas *proforma.Service
	Metrics   *observability.Metrics
}

// EngineParams groups dependencies for NewEngine. Redis and Metrics are optional.
type EngineParams struct {
	Config  *Config
	Stores  Stores
	Redis   *redis.Client
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewEngine wires the calculator, allocator, aggregator and document services.
func NewEngine(params EngineParams) (*Engine, error) {
	cfg := params.Config
	if cfg == nil {
		cfg = &Config{
			SequenceMaxRetries: db.DefaultRetryPolicy.MaxAttempts,
			SequenceRetryBase:  db.DefaultRetryPolicy.BaseDelay,
			SalesPrefix:        "S",
		}
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seeds, err := sequence.LoadSeeds(cfg.SequenceSeedsFile)
	if err != nil {
		return nil, err
	}
	em := params.Metrics.Engine()
	retry := cfg.RetryPolicy()

	ledgerOpts := []ledger.Option{ledger.WithMetrics(em), ledger.WithRetryPolicy(retry)}
	proformaOpts := []proforma.Option{
		proforma.WithMetrics(em),
		proforma.WithRetryPolicy(retry),
		proforma.WithSalesPrefix(cfg.SalesPrefix),
	}
	if params.Redis != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithCache(ledger.NewBalanceCache(params.Redis, cfg.BalanceCacheTTL)))
		proformaOpts = append(proformaOpts, proforma.WithMarker(proforma.NewRedisMarker(params.Redis), cfg.ConversionMarkerTTL))
	}

	calc := amount.NewCalculator(logger, amount.WithSaturationHook(em.Saturated))
	seq := sequence.NewAllocator(params.Stores.Sequences, seeds, logger,
		sequence.WithRetryPolicy(retry), sequence.WithMetrics(em))
	agg := ledger.NewAggregator(params.Stores.Ledger, logger, ledgerOpts...)

	invoiceOpts := []invoice.Option{
		invoice.WithCompanyGSTIN(cfg.CompanyGSTIN),
		invoice.WithRetryPolicy(retry),
		invoice.WithMetrics(em),
	}
	if params.Stores.Products != nil {
		invoiceOpts = append(invoiceOpts, invoice.WithCatalog(params.Stores.Products))
	}
	if params.Stores.Accounts != nil {
		invoiceOpts = append(invoiceOpts, invoice.WithAccounts(params.Stores.Accounts))
	}
	invoices := invoice.NewService(params.Stores.Invoices, calc, seq, agg, logger, invoiceOpts...)
	proformas := proforma.NewService(params.Stores.Proformas, invoices, logger, proformaOpts...)

	return &Engine{
		Sequences: seq,
		Ledger:    agg,
		Invoices:  invoices,
		Proformas: proformas,
		Metrics:   params.Metrics,
	}, nil
}
