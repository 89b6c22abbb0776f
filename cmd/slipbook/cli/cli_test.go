package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/app"
	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/masterdata/products"
	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/shared"
	"github.com/slipbook/slipbook/internal/testing/memstore"
)

type harness struct {
	store   *memstore.Store
	rt      *Runtime
	party   int64
	product int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	h := &harness{
		store:   store,
		party:   store.AddParty("Sharma Traders", money.MustParse("1000")),
		product: store.AddProduct(products.Product{Name: "Tiles 2x2", Unit: "pcs", GSTPercent: money.MustParse("18")}),
	}
	engine, err := app.NewEngine(app.EngineParams{Stores: app.Stores{
		Sequences: store.Sequences(),
		Ledger:    store.Ledger(),
		Invoices:  store.Invoices(),
		Proformas: store.Proformas(),
		Products:  store.Products(),
		Accounts:  store.Accounts(),
	}})
	require.NoError(t, err)
	h.rt = &Runtime{Config: &app.Config{}, Engine: engine}
	return h
}

func (h *harness) run(args ...string) (string, error) {
	opts := &RootOptions{Open: func(context.Context, *observability.Metrics) (*Runtime, error) {
		return h.rt, nil
	}}
	cmd := NewRootCommandWith(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) proforma(t *testing.T) int64 {
	t.Helper()
	doc, err := h.rt.Engine.Invoices.CreateProforma(context.Background(), invoice.SalesInput{
		Prefix:     "PI",
		BillDate:   time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC),
		AccountRef: h.party,
		Lines: []amount.LineItem{{
			ProductRef: h.product, Boxes: 1, UnitsPerBox: 10, Rate: money.MustParse("100"),
			IGSTPercent: amount.Percent("18"),
		}},
	})
	require.NoError(t, err)
	return doc.ID
}

func TestSequencePeekAndList(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("sequence", "peek", "--kind", "SalesInvoice", "--prefix", "S")
	require.NoError(t, err)
	require.Contains(t, out, "S1")

	_, err = h.run("sequence", "correct", "--prefix", "S", "--next", "500", "--reason", "carried over from paper books")
	require.NoError(t, err)

	out, err = h.run("--format", "json", "sequence", "list")
	require.NoError(t, err)
	var counters []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &counters))
	require.Len(t, counters, 1)
	require.EqualValues(t, 500, counters[0]["NextValue"])
}

func TestSequenceCorrectRequiresReason(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("sequence", "correct", "--next", "10")
	require.Error(t, err)
}

func TestProformaConvertStatusAndRepeat(t *testing.T) {
	h := newHarness(t)
	id := strconv.FormatInt(h.proforma(t), 10)

	out, err := h.run("proforma", "status", id)
	require.NoError(t, err)
	require.Contains(t, out, "DRAFT")

	out, err = h.run("proforma", "convert", id, "--prefix", "S", "--date", "2024-06-20", "--by", "ops")
	require.NoError(t, err)
	require.Contains(t, out, "S1")
	require.Contains(t, out, "1,180.00")

	out, err = h.run("proforma", "status", id)
	require.NoError(t, err)
	require.Contains(t, out, "CONVERTED")

	_, err = h.run("proforma", "convert", id)
	require.True(t, errors.Is(err, shared.ErrAlreadyConverted))

	_, err = h.run("proforma", "convert", "x")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.run("proforma", "convert", id, "--date", "20/06/2024")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestProformaReconcileFailsOnFindings(t *testing.T) {
	h := newHarness(t)
	id := h.proforma(t)

	out, err := h.run("proforma", "reconcile", "--totals")
	require.NoError(t, err)
	require.Contains(t, out, "no findings")

	_, err = h.run("proforma", "convert", strconv.FormatInt(id, 10))
	require.NoError(t, err)
	h.store.DeleteRecord(id)

	out, err = h.run("proforma", "reconcile")
	require.EqualError(t, err, "1 consistency finding(s)")
	require.Contains(t, out, "orphan_sales_invoice")

	_, err = h.run("proforma", "reconcile", strconv.FormatInt(id, 10))
	require.Error(t, err)
}

func TestBalanceCommands(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("balance", "show", strconv.FormatInt(h.party, 10), "--as-of", "2024-06-30")
	require.NoError(t, err)
	require.Contains(t, out, "1000.00 Dr")

	out, err = h.run("balance", "receivable")
	require.NoError(t, err)
	require.Contains(t, out, "Sharma Traders")

	out, err = h.run("balance", "payable")
	require.NoError(t, err)
	require.NotContains(t, out, "Sharma Traders")

	_, err = h.run("balance", "show", "1", "--as-of", "yesterday")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestBalanceEntryPostsQuickEntry(t *testing.T) {
	h := newHarness(t)
	account := strconv.FormatInt(h.party, 10)

	out, err := h.run("balance", "entry", account, "--type", "slip_book", "--book", "HDFC Current",
		"--amount", "400.50", "--date", "2024-06-20", "--voucher", "R-9")
	require.NoError(t, err)
	require.Contains(t, out, "1,000.00")
	require.Contains(t, out, "599.50")

	_, err = h.run("balance", "entry", account, "--type", "slip_book", "--book", "HDFC Current", "--amount", "12,50")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.run("balance", "entry", account, "--type", "barter", "--book", "HDFC Current", "--amount", "10")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--format", "xml", "sequence", "list")
	require.Error(t, err)
}

func TestMigratePrintsSchema(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("migrate", "--print")
	require.NoError(t, err)
	require.Contains(t, out, "proforma_validations")
}

func TestFormatAmountGroupsDigits(t *testing.T) {
	require.Equal(t, "1,000.00", formatAmount(money.MustParse("1000")))
	require.Equal(t, "0.50", formatAmount(money.MustParse("0.5")))
}
