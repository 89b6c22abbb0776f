package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/masterdata/products"
	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/ops"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/shared"
	"github.com/slipbook/slipbook/internal/testing/memstore"
)

func memStores(store *memstore.Store) Stores {
	return Stores{
		Sequences: store.Sequences(),
		Ledger:    store.Ledger(),
		Invoices:  store.Invoices(),
		Proformas: store.Proformas(),
		Products:  store.Products(),
		Accounts:  store.Accounts(),
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SEQUENCE_MAX_RETRIES", "7")
	t.Setenv("SEQUENCE_RETRY_BASE", "1s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*time.Second, cfg.ConversionMarkerTTL)
	require.Equal(t, "S", cfg.SalesPrefix)
	require.False(t, cfg.IsProduction())

	p := cfg.RetryPolicy()
	require.Equal(t, 7, p.MaxAttempts)
	require.Equal(t, time.Second, p.BaseDelay)
	require.Equal(t, 16*time.Second, p.MaxDelay)
}

func TestLoadConfigRejectsShortGSTIN(t *testing.T) {
	t.Setenv("COMPANY_GSTIN", "27AAPFU")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestNewEngineWiresSeedsAndRedis(t *testing.T) {
	dir := t.TempDir()
	seeds := filepath.Join(dir, "seeds.yaml")
	require.NoError(t, os.WriteFile(seeds, []byte("default_seed: 1\nsequences:\n  - kind: SalesInvoice\n    prefix: S\n    seed: 42\n"), 0o600))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	party := store.AddParty("Sharma Traders", money.MustParse("1000"))
	product := store.AddProduct(products.Product{Name: "Tiles 2x2", Unit: "pcs", GSTPercent: money.MustParse("18")})
	metrics := observability.NewMetrics()
	engine, err := NewEngine(EngineParams{
		Config:  &Config{SequenceSeedsFile: seeds, SequenceMaxRetries: 3, ConversionMarkerTTL: time.Second, BalanceCacheTTL: time.Minute, SalesPrefix: "S"},
		Stores:  memStores(store),
		Redis:   client,
		Metrics: metrics,
	})
	require.NoError(t, err)

	ctx := context.Background()
	next, err := engine.Invoices.PeekNumber(ctx, invoice.SalesInvoice, "S")
	require.NoError(t, err)
	require.EqualValues(t, 42, next.Sequence)

	doc, err := engine.Invoices.CreateProforma(ctx, invoice.SalesInput{
		Prefix:     "PI",
		BillDate:   time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC),
		AccountRef: party,
		Lines: []amount.LineItem{{
			ProductRef: product, Boxes: 1, UnitsPerBox: 10, Rate: money.MustParse("100"),
			IGSTPercent: amount.Percent("18"),
		}},
	})
	require.NoError(t, err)
	res, err := engine.Proformas.Convert(ctx, doc.ID, proforma.ConvertInput{ValidatedBy: "ops"})
	require.NoError(t, err)
	require.Equal(t, "S42", res.Sales.Number.String())
	require.False(t, mr.Exists(shared.ConversionMarkerKey(doc.ID)))
	require.Equal(t, "pcs", res.Sales.Lines[0].Unit)

	bal, err := engine.Ledger.Balance(ctx, party, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "2180.00", bal.Closing.StringFixed(2))
}

func TestNewEngineRejectsMissingSeedFile(t *testing.T) {
	_, err := NewEngine(EngineParams{
		Config: &Config{SequenceSeedsFile: filepath.Join(t.TempDir(), "missing.yaml")},
		Stores: memStores(memstore.New()),
	})
	require.Error(t, err)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRouterServesHealthMetricsAndOps(t *testing.T) {
	metrics := observability.NewMetrics()
	engine, err := NewEngine(EngineParams{Stores: memStores(memstore.New()), Metrics: metrics})
	require.NoError(t, err)

	healthy := true
	router := NewRouter(RouterParams{
		Config:     &Config{HTTPRateLimit: 100},
		Metrics:    metrics,
		OpsHandler: ops.NewHandler(engine.Invoices, engine.Proformas, nil),
		Health: pingFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("pg down")
		}),
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	require.Equal(t, http.StatusOK, get("/healthz").Code)
	require.Equal(t, "nosniff", get("/healthz").Header().Get("X-Content-Type-Options"))
	require.Equal(t, http.StatusOK, get("/ops/sequences").Code)

	rec := get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "slipbook_http_requests_total"))

	healthy = false
	require.Equal(t, http.StatusServiceUnavailable, get("/healthz").Code)
}
