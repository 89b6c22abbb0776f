package proforma_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipbook/slipbook/internal/amount"
	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/shared"
	"github.com/slipbook/slipbook/internal/testing/memstore"
)

var (
	billDate  = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	fastRetry = db.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
)

type fixture struct {
	store    *memstore.Store
	invoices *invoice.Service
	svc      *proforma.Service
	party    int64
}

func newFixture(t *testing.T, opts ...proforma.Option) fixture {
	t.Helper()
	store := memstore.New()
	party := store.AddParty("Sharma Traders", money.MustParse("1000"))
	now := func() time.Time { return billDate.Add(9 * time.Hour) }

	seq := sequence.NewAllocator(store.Sequences(), sequence.NewSeeds(1, nil), nil, sequence.WithRetryPolicy(fastRetry))
	agg := ledger.NewAggregator(store.Ledger(), nil, ledger.WithNow(now), ledger.WithRetryPolicy(fastRetry))
	invoices := invoice.NewService(store.Invoices(), amount.NewCalculator(nil), seq, agg, nil,
		invoice.WithRetryPolicy(fastRetry), invoice.WithNow(now))

	opts = append([]proforma.Option{
		proforma.WithRetryPolicy(fastRetry),
		proforma.WithWaitPolicy(db.RetryPolicy{MaxAttempts: 50, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
		proforma.WithNow(now),
	}, opts...)
	svc := proforma.NewService(store.Proformas(), invoices, nil, opts...)
	return fixture{store: store, invoices: invoices, svc: svc, party: party}
}

func (f fixture) draft(t *testing.T) *invoice.Document {
	t.Helper()
	doc, err := f.invoices.CreateProforma(context.Background(), invoice.SalesInput{
		Prefix:     "PI",
		BillDate:   billDate,
		AccountRef: f.party,
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

func salesDocs(store *memstore.Store) []invoice.Document {
	var out []invoice.Document
	for _, d := range store.Documents() {
		if d.Kind == invoice.SalesInvoice {
			out = append(out, d)
		}
	}
	return out
}

func TestConvertCreatesSalesInvoiceAndRecord(t *testing.T) {
	f := newFixture(t)
	pf := f.draft(t)

	state, err := f.svc.State(context.Background(), pf.ID)
	require.NoError(t, err)
	require.Equal(t, proforma.StateDraft, state)

	res, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S", ValidatedBy: "anil"})
	require.NoError(t, err)
	require.Equal(t, invoice.SalesInvoice, res.Sales.Kind)
	require.Equal(t, invoice.StatusCommitted, res.Sales.Status)
	require.Equal(t, "S1", res.Sales.Number.String())
	require.Equal(t, "6976.00", res.Sales.Total.StringFixed(2))
	require.Equal(t, pf.ID, *res.Sales.SourceProformaID)
	require.Equal(t, res.Sales.ID, res.Record.SalesInvoiceID)
	require.Equal(t, "anil", res.Record.ValidatedBy)
	require.True(t, res.Posting.NetBalance.Equal(money.MustParse("7976")))
	require.Equal(t, billDate, res.Sales.BillDate)

	state, err = f.svc.State(context.Background(), pf.ID)
	require.NoError(t, err)
	require.Equal(t, proforma.StateConverted, state)

	rec, err := f.svc.Record(context.Background(), pf.ID)
	require.NoError(t, err)
	require.Equal(t, res.Record.ID, rec.ID)

	listed, err := f.svc.ListValidated(context.Background(), proforma.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestConvertTwiceSequentially(t *testing.T) {
	f := newFixture(t)
	pf := f.draft(t)

	_, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{})
	require.NoError(t, err)

	_, err = f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{})
	require.ErrorIs(t, err, shared.ErrAlreadyConverted)
	var conflict *shared.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.False(t, conflict.Retryable())

	require.Len(t, salesDocs(f.store), 1)
	require.Len(t, f.store.Records(), 1)
	require.Len(t, f.store.Entries(), 1)
}

func TestConvertConcurrentlyCreatesExactlyOneSalesInvoice(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	for _, marker := range []proforma.Marker{proforma.NoopMarker{}, proforma.NewRedisMarker(client)} {
		f := newFixture(t, proforma.WithMarker(marker, time.Minute))
		pf := f.draft(t)

		const sessions = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			rejected  int
		)
		for i := 0; i < sessions; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, shared.ErrAlreadyConverted):
					rejected++
				default:
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, succeeded)
		require.Equal(t, sessions-1, rejected)
		require.Len(t, salesDocs(f.store), 1)
		require.Len(t, f.store.Records(), 1)
		require.Empty(t, mr.Keys(), "markers are released")
	}
}

func TestConvertRetriesTransientConflicts(t *testing.T) {
	f := newFixture(t)
	pf := f.draft(t)
	f.store.FailCommits(2)

	res, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Sales.Number.Sequence)
	require.Len(t, salesDocs(f.store), 1)
}

func TestConvertFailureLeavesProformaConvertible(t *testing.T) {
	f := newFixture(t)
	pf := f.draft(t)
	f.store.FailCommits(fastRetry.MaxAttempts)

	_, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	require.ErrorIs(t, err, shared.ErrRetryAllocation)
	require.Empty(t, salesDocs(f.store))
	require.Empty(t, f.store.Records())

	state, err := f.svc.State(context.Background(), pf.ID)
	require.NoError(t, err)
	require.Equal(t, proforma.StateDraft, state)

	res, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Sales.Number.Sequence)
}

func TestConvertRefusesOrphanedSalesInvoice(t *testing.T) {
	f := newFixture(t)
	pf := f.draft(t)
	res, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	require.NoError(t, err)

	f.store.DeleteRecord(pf.ID)

	_, err = f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	var cerr *shared.ConsistencyError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, shared.OrphanSalesInvoice, cerr.Kind)
	require.Equal(t, res.Sales.ID, cerr.SalesInvoiceID)
	require.Len(t, salesDocs(f.store), 1)

	findings, err := f.svc.CheckProforma(context.Background(), pf.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, shared.OrphanSalesInvoice, findings[0].Kind)
	require.Equal(t, pf.ID, findings[0].ProformaID)
}

func TestReconcileReportsOrphanRecordsAndMismatches(t *testing.T) {
	f := newFixture(t)
	first := f.draft(t)
	second := f.draft(t)
	clean := f.draft(t)

	a, err := f.svc.Convert(context.Background(), first.ID, proforma.ConvertInput{})
	require.NoError(t, err)
	b, err := f.svc.Convert(context.Background(), second.ID, proforma.ConvertInput{})
	require.NoError(t, err)
	_, err = f.svc.Convert(context.Background(), clean.ID, proforma.ConvertInput{})
	require.NoError(t, err)

	f.store.DeleteDocument(a.Sales.ID)

	findings, err := f.svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, shared.OrphanValidationRecord, findings[0].Kind)
	require.Equal(t, first.ID, findings[0].ProformaID)
	require.ErrorIs(t, findings[0], shared.ErrConsistency)

	findings, err = f.svc.CheckProforma(context.Background(), second.ID)
	require.NoError(t, err)
	require.Empty(t, findings)
	require.NotZero(t, b.Record.ID)
}

func TestClassifyMismatchedRecords(t *testing.T) {
	other := int64(77)
	findings := proforma.Classify([]proforma.Link{
		{HasRecord: true, RecordID: 1, ProformaID: 5, SalesInvoiceID: 9, HasInvoice: true, InvoiceID: 9,
			InvoiceKind: invoice.PurchaseInvoice, InvoiceStatus: invoice.StatusCommitted},
		{HasRecord: true, RecordID: 2, ProformaID: 6, SalesInvoiceID: 10, HasInvoice: true, InvoiceID: 10,
			InvoiceKind: invoice.SalesInvoice, InvoiceStatus: invoice.StatusCommitted, SourceProformaID: &other},
		{HasRecord: true, RecordID: 3, ProformaID: 7, SalesInvoiceID: 11, HasInvoice: true, InvoiceID: 11,
			InvoiceKind: invoice.SalesInvoice, InvoiceStatus: invoice.StatusVoided, SourceProformaID: ptr(7)},
		{HasRecord: true, RecordID: 4, ProformaID: 8, SalesInvoiceID: 12, HasInvoice: true, InvoiceID: 12,
			InvoiceKind: invoice.SalesInvoice, InvoiceStatus: invoice.StatusCommitted, SourceProformaID: ptr(8)},
	})
	require.Len(t, findings, 3)
	for _, f := range findings {
		require.Equal(t, shared.MismatchedValidationRecord, f.Kind)
	}
}

func ptr(v int64) *int64 { return &v }

func TestUpdateDraftAndRejectAfterConversion(t *testing.T) {
	f := newFixture(t)
	pf := f.draft(t)

	updated, err := f.svc.Update(context.Background(), pf.ID, invoice.SalesInput{
		BillDate:   billDate,
		AccountRef: f.party,
		Lines: []amount.LineItem{{
			ProductRef: 3, Boxes: 2, UnitsPerBox: 5, Rate: money.MustParse("100"), IGSTPercent: amount.Percent("12"),
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "1120.00", updated.Total.StringFixed(2))
	require.Equal(t, pf.Number, updated.Number)

	res, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	require.NoError(t, err)
	require.Equal(t, "1120.00", res.Sales.Total.StringFixed(2))

	_, err = f.svc.Update(context.Background(), pf.ID, invoice.SalesInput{
		BillDate: billDate, AccountRef: f.party, Lines: updated.Lines,
	})
	require.ErrorIs(t, err, shared.ErrAlreadyConverted)
}

func TestConvertRejectsNonProforma(t *testing.T) {
	f := newFixture(t)
	sale, err := f.invoices.CommitSales(context.Background(), invoice.SalesInput{
		BillDate: billDate, AccountRef: f.party,
		Lines: []amount.LineItem{{ProductRef: 1, Boxes: 1, UnitsPerBox: 1, Rate: money.MustParse("10"), IGSTPercent: amount.Percent("5")}},
	})
	require.NoError(t, err)

	_, err = f.svc.Convert(context.Background(), sale.Document.ID, proforma.ConvertInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Convert(context.Background(), 0, proforma.ConvertInput{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Convert(context.Background(), 404, proforma.ConvertInput{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConvertWaitsForMarkerHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	marker := proforma.NewRedisMarker(client)
	f := newFixture(t,
		proforma.WithMarker(marker, time.Minute),
		proforma.WithWaitPolicy(db.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}))
	pf := f.draft(t)

	token, ok, err := marker.Acquire(context.Background(), pf.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	state, err := f.svc.State(context.Background(), pf.ID)
	require.NoError(t, err)
	require.Equal(t, proforma.StateConverting, state)

	_, err = f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{})
	require.ErrorIs(t, err, shared.ErrRetryAllocation)
	require.Empty(t, salesDocs(f.store))

	require.NoError(t, marker.Release(context.Background(), pf.ID, "someone-else"))
	held, err := marker.Held(context.Background(), pf.ID)
	require.NoError(t, err)
	require.True(t, held, "release with a foreign token is a no-op")

	require.NoError(t, marker.Release(context.Background(), pf.ID, token))
	_, err = f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{})
	require.NoError(t, err)
}

func TestMarkerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	marker := proforma.NewRedisMarker(client)

	_, ok, err := marker.Acquire(context.Background(), 9, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = marker.Acquire(context.Background(), 9, time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = marker.Acquire(context.Background(), 9, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

type countingMarker struct {
	proforma.NoopMarker
	acquired int
}

func (m *countingMarker) Acquire(context.Context, int64, time.Duration) (string, bool, error) {
	m.acquired++
	return "token", true, nil
}

func TestConvertedProformaIsRejectedBeforeTakingMarker(t *testing.T) {
	marker := &countingMarker{}
	f := newFixture(t, proforma.WithMarker(marker, time.Minute))
	pf := f.draft(t)

	_, err := f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	require.NoError(t, err)
	require.Equal(t, 1, marker.acquired)

	_, err = f.svc.Convert(context.Background(), pf.ID, proforma.ConvertInput{Prefix: "S"})
	require.ErrorIs(t, err, shared.ErrAlreadyConverted)
	require.Equal(t, 1, marker.acquired)
}

func TestConvertUsesDefaultSalesPrefix(t *testing.T) {
	f := newFixture(t, proforma.WithSalesPrefix("INV"))
	first := f.draft(t)
	second := f.draft(t)

	res, err := f.svc.Convert(context.Background(), first.ID, proforma.ConvertInput{})
	require.NoError(t, err)
	require.Equal(t, "INV1", res.Sales.Number.String())

	res, err = f.svc.Convert(context.Background(), second.ID, proforma.ConvertInput{Prefix: "S"})
	require.NoError(t, err)
	require.Equal(t, "S1", res.Sales.Number.String())
}
