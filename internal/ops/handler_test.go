package ops_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/ops"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/testing/memstore"
)

var billDate = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

type env struct {
	store    *memstore.Store
	invoices *invoice.Service
	router   chi.Router
	party    int64
}

func newEnv(t *testing.T) env {
	t.Helper()
	store := memstore.New()
	party := store.AddParty("Sharma Traders", money.MustParse("1000"))
	now := func() time.Time { return billDate.Add(9 * time.Hour) }
	seq := sequence.NewAllocator(store.Sequences(), sequence.NewSeeds(1, nil), nil)
	agg := ledger.NewAggregator(store.Ledger(), nil, ledger.WithNow(now))
	invoices := invoice.NewService(store.Invoices(), amount.NewCalculator(nil), seq, agg, nil, invoice.WithNow(now))
	proformas := proforma.NewService(store.Proformas(), invoices, nil, proforma.WithNow(now))

	r := chi.NewRouter()
	r.Route("/ops", ops.NewHandler(invoices, proformas, nil).MountRoutes)
	return env{store: store, invoices: invoices, router: r, party: party}
}

func (e env) draft(t *testing.T) *invoice.Document {
	t.Helper()
	doc, err := e.invoices.CreateProforma(context.Background(), invoice.SalesInput{
		Prefix:     "PI",
		BillDate:   billDate,
		AccountRef: e.party,
		Freight:    money.MustParse("250"),
		Lines: []amount.LineItem{{
			ProductRef:      3,
			Boxes:           10,
			UnitsPerBox:     12,
			Rate:            money.MustParse("50"),
			DiscountPercent: money.MustParse("5"),
			CGSTPercent:     amount.Percent("9"),
			SGSTPercent:     amount.Percent("9"),
		}},
	})
	require.NoError(t, err)
	return doc
}

func (e env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestConvertOverHTTPThenConflict(t *testing.T) {
	e := newEnv(t)
	doc := e.draft(t)
	path := "/ops/proformas/" + itoa(doc.ID)

	rec := e.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "DRAFT", decode(t, rec)["state"])

	rec = e.do(t, http.MethodPost, path+"/convert", `{"validated_by":"ops"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, path+"/convert", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict/AlreadyConverted", decode(t, rec)["type"])
	require.Empty(t, rec.Header().Get("Retry-After"))

	rec = e.do(t, http.MethodGet, path, "")
	body := decode(t, rec)
	require.Equal(t, "CONVERTED", body["state"])
	require.NotNil(t, body["sales_invoice_id"])
}

func TestProformaRoutesValidateIDs(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/ops/proformas/abc", "").Code)
	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/ops/proformas/99", "").Code)

	rec := e.do(t, http.MethodPost, "/ops/proformas/1/convert", `{"party_gstin":"short"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "party_gstin")
}

func TestReconcileReportsFindings(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/ops/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var clean ops.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clean))
	require.True(t, clean.Clean())

	doc := e.draft(t)
	rec = e.do(t, http.MethodPost, "/ops/proformas/"+itoa(doc.ID)+"/convert", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	e.store.DeleteRecord(doc.ID)
	e.store.SetTotal(doc.ID, money.MustParse("1.00"))

	rec = e.do(t, http.MethodPost, "/ops/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report ops.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Proformas, 1)
	require.Equal(t, "orphan_sales_invoice", string(report.Proformas[0].Kind))
	require.Len(t, report.Totals, 1)
	require.Equal(t, doc.ID, report.Totals[0].ProformaID)
}

func TestSequenceRoutes(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/ops/sequences/next?kind=SalesInvoice&prefix=S", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "S1", decode(t, rec)["number"])

	rec = e.do(t, http.MethodPost, "/ops/sequences/correct", `{"kind":"SalesInvoice","prefix":"S","next":100,"reason":"migrated ledger"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/ops/sequences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var counters []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counters))
	require.Len(t, counters, 1)
	require.EqualValues(t, 100, counters[0]["next_value"])

	rec = e.do(t, http.MethodPost, "/ops/sequences/correct", `{"kind":"SalesInvoice","prefix":"S","next":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalanceViews(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/ops/balances/"+itoa(e.party)+"?as_of=2024-06-30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "receivable", body["position"])
	require.Equal(t, "1000.00 Dr", body["label"])

	rec = e.do(t, http.MethodGet, "/ops/balances/receivable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["balances"], 1)

	rec = e.do(t, http.MethodGet, "/ops/balances/payable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode(t, rec)["balances"])

	require.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/ops/balances/1?as_of=june", "").Code)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
